package session

import (
	"context"
	"fmt"
	"time"

	"github.com/inngest/mcpedge/pkg/consts"
	"github.com/redis/rueidis"
)

// RedisStore keeps records as plain keys with a PX expiry, so any number of
// processes sharing the instance agree on which sessions exist.
type RedisStore struct {
	client rueidis.Client
	prefix string
}

func NewRedisStore(client rueidis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = consts.DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Key returns the redis key for the given session id.
func (r *RedisStore) Key(id string) string {
	return fmt.Sprintf("%s:session:{%s}", r.prefix, id)
}

func (r *RedisStore) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.client.Do(ctx, r.client.B().Exists().Key(r.Key(id)).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("error checking session: %w", err)
	}
	return n > 0, nil
}

func (r *RedisStore) Create(ctx context.Context, id string, ttl time.Duration) error {
	if err := validate(id, ttl); err != nil {
		return err
	}
	cmd := r.client.B().Set().Key(r.Key(id)).Value("1").Px(ttl).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("error creating session: %w", err)
	}
	return nil
}

func (r *RedisStore) Destroy(ctx context.Context, id string) error {
	if err := r.client.Do(ctx, r.client.B().Del().Key(r.Key(id)).Build()).Error(); err != nil {
		return fmt.Errorf("error destroying session: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	r.client.Close()
	return nil
}
