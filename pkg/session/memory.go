package session

import (
	"context"
	"time"

	"github.com/inngest/mcpedge/pkg/consts"
	"github.com/karlseguin/ccache/v3"
)

// MemoryStore keeps records in a bounded LRU. It's only authoritative within
// a single process.
type MemoryStore struct {
	cache *ccache.Cache[struct{}]
}

func NewMemoryStore(maxSize int64) *MemoryStore {
	if maxSize <= 0 {
		maxSize = consts.DefaultRegistrySize * 10
	}
	return &MemoryStore{
		cache: ccache.New(ccache.Configure[struct{}]().
			MaxSize(maxSize).
			ItemsToPrune(500)),
	}
}

func (m *MemoryStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	item := m.cache.Get(id)
	return item != nil && !item.Expired(), nil
}

func (m *MemoryStore) Create(ctx context.Context, id string, ttl time.Duration) error {
	if err := validate(id, ttl); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.cache.Set(id, struct{}{}, ttl)
	return nil
}

func (m *MemoryStore) Destroy(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.cache.Delete(id)
	return nil
}

func (m *MemoryStore) Close() error {
	m.cache.Stop()
	return nil
}
