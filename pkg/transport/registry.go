package transport

import (
	"time"

	"github.com/inngest/mcpedge/pkg/consts"
	"github.com/karlseguin/ccache/v3"
	"golang.org/x/sync/singleflight"
)

// Registry holds the live adapters of this process, keyed by session id.
// Membership is advisory: a miss only means the adapter must be rebuilt from
// the session store.
type Registry struct {
	cache *ccache.Cache[*Adapter]
	ttl   time.Duration
	group singleflight.Group
}

type RegistryOpts struct {
	// MaxSize bounds the number of adapters; the least recently used are
	// evicted and closed.
	MaxSize int64
	// TTL is how long an adapter lives after it was last used.
	TTL time.Duration
}

func NewRegistry(opts RegistryOpts) *Registry {
	if opts.MaxSize <= 0 {
		opts.MaxSize = consts.DefaultRegistrySize
	}
	if opts.TTL <= 0 {
		opts.TTL = consts.DefaultSessionTTL
	}
	prune := opts.MaxSize / 20
	if prune < 1 {
		prune = 1
	}
	return &Registry{
		ttl: opts.TTL,
		cache: ccache.New(ccache.Configure[*Adapter]().
			MaxSize(opts.MaxSize).
			ItemsToPrune(uint32(prune)).
			OnDelete(func(item *ccache.Item[*Adapter]) {
				item.Value().evict()
			})),
	}
}

// Get returns the adapter for id and restarts its TTL. Closed adapters, and
// expired ones with no call in flight, are evicted and reported as a miss.
func (r *Registry) Get(id string) (*Adapter, bool) {
	item := r.cache.Get(id)
	if item == nil {
		return nil, false
	}
	a := item.Value()
	if a.Closed() || (item.Expired() && !a.Busy()) {
		r.evict(id, a)
		return nil, false
	}
	item.Extend(r.ttl)
	return a, true
}

// Put stores a under id, closing any different adapter it replaces.
func (r *Registry) Put(id string, a *Adapter) {
	if item := r.cache.Get(id); item != nil {
		if item.Value() == a {
			item.Extend(r.ttl)
			return
		}
		item.Value().evict()
	}
	r.cache.Set(id, a, r.ttl)
}

// Remove closes and forgets the adapter for id, returning whether one was
// present.
func (r *Registry) Remove(id string) bool {
	item := r.cache.Get(id)
	if item == nil {
		return false
	}
	_ = item.Value().Close()
	r.cache.Delete(id)
	return true
}

// evict closes a with ErrEvicted before forgetting it, so callers waiting on
// it can tell eviction from termination.
func (r *Registry) evict(id string, a *Adapter) {
	a.evict()
	if item := r.cache.Get(id); item != nil && item.Value() == a {
		r.cache.Delete(id)
	}
}

// GetOrCreate returns the adapter for id, calling build to make one on a miss.
// Concurrent callers for the same id share a single build. created is true
// when build ran.
func (r *Registry) GetOrCreate(id string, build func() (*Adapter, error)) (a *Adapter, created bool, err error) {
	if a, ok := r.Get(id); ok {
		return a, false, nil
	}

	type result struct {
		a       *Adapter
		created bool
	}
	v, err, _ := r.group.Do(id, func() (any, error) {
		// Another caller may have finished building since our miss.
		if a, ok := r.Get(id); ok {
			return result{a: a}, nil
		}
		a, err := build()
		if err != nil {
			return nil, err
		}
		r.Put(id, a)
		return result{a: a, created: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(result)
	return res.a, res.created, nil
}

// Sweep evicts adapters that have closed, or expired with no call in
// flight. Expired entries are otherwise only noticed on access or eviction.
func (r *Registry) Sweep() int {
	stale := map[string]*Adapter{}
	r.cache.ForEachFunc(func(key string, item *ccache.Item[*Adapter]) bool {
		a := item.Value()
		if a.Closed() || (item.Expired() && !a.Busy()) {
			stale[key] = a
		}
		return true
	})
	for id, a := range stale {
		r.evict(id, a)
	}
	return len(stale)
}

// Len returns the number of adapters held, including any not yet swept.
func (r *Registry) Len() int {
	return r.cache.ItemCount()
}

// Close closes every adapter and stops the cache.
func (r *Registry) Close() {
	var all []*Adapter
	r.cache.ForEachFunc(func(_ string, item *ccache.Item[*Adapter]) bool {
		all = append(all, item.Value())
		return true
	})
	for _, a := range all {
		_ = a.Close()
	}
	r.cache.Clear()
	r.cache.Stop()
}
