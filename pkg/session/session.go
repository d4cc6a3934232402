// Package session stores session records with a time-to-live. The store is
// the authority on whether a session exists; everything held in process
// memory is rebuilt from it.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

var (
	ErrUnknownBackend = errors.New("unknown session backend")
	ErrMissingURI     = errors.New("redis session backend requires a uri")
	ErrInvalidID      = errors.New("invalid session id")
	ErrInvalidTTL     = errors.New("session ttl must be positive")
)

// Store keeps session records until their TTL elapses or they're destroyed.
// There is no enumeration.
type Store interface {
	// Exists returns true iff a live, unexpired record is present.
	Exists(ctx context.Context, id string) (bool, error)
	// Create inserts or overwrites a record which expires ttl from now.
	Create(ctx context.Context, id string, ttl time.Duration) error
	// Destroy removes a record. Destroying a missing record is not an error.
	Destroy(ctx context.Context, id string) error
}

// Opts configures the store returned by New.
type Opts struct {
	Backend string
	// RedisURI is a redis:// or rediss:// URI, required for the redis
	// backend.
	RedisURI    string
	RedisPrefix string
	// MaxSize bounds the number of records held by the memory backend.
	MaxSize int64
}

// New returns the store selected by opts.Backend.
func New(ctx context.Context, opts Opts) (Store, error) {
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(opts.MaxSize), nil
	case BackendRedis:
		if opts.RedisURI == "" {
			return nil, ErrMissingURI
		}
		copts, err := rueidis.ParseURL(opts.RedisURI)
		if err != nil {
			return nil, fmt.Errorf("error parsing redis uri: %w", err)
		}
		copts.DisableCache = true
		client, err := rueidis.NewClient(copts)
		if err != nil {
			return nil, fmt.Errorf("error connecting to redis: %w", err)
		}
		return NewRedisStore(client, opts.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// Close releases resources held by s, if any.
func Close(s Store) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NewID returns a new, globally unique session id.
func NewID() string {
	return uuid.NewString()
}

// ValidID reports whether id is usable as a session id. Ids are opaque, but
// they travel in a header so must be visible ASCII.
func ValidID(id string) bool {
	if id == "" || len(id) > 256 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

func validate(id string, ttl time.Duration) error {
	if !ValidID(id) {
		return ErrInvalidID
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
