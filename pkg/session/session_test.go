package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	r := miniredis.RunT(t)
	rc, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{r.Addr()},
		DisableCache: true,
	})
	require.NoError(t, err)
	t.Cleanup(rc.Close)
	return NewRedisStore(rc, "test"), r
}

// storeLifecycle runs the behaviour every backend shares.
func storeLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	id := NewID()

	ok, err := s.Exists(ctx, id)
	require.NoError(t, err)
	require.False(t, ok, "record shouldn't exist before create")

	require.NoError(t, s.Create(ctx, id, time.Hour))
	ok, err = s.Exists(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Destroy(ctx, id))
	ok, err = s.Exists(ctx, id)
	require.NoError(t, err)
	require.False(t, ok, "destroy should remove the record before its ttl")

	// Destroying twice is fine.
	require.NoError(t, s.Destroy(ctx, id))

	require.ErrorIs(t, s.Create(ctx, "", time.Hour), ErrInvalidID)
	require.ErrorIs(t, s.Create(ctx, "has space", time.Hour), ErrInvalidID)
	require.ErrorIs(t, s.Create(ctx, id, 0), ErrInvalidTTL)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore(100)
	defer s.Close()
	storeLifecycle(t, s)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(100)
	defer s.Close()

	require.NoError(t, s.Create(ctx, "short", 50*time.Millisecond))
	ok, err := s.Exists(ctx, "short")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		ok, _ := s.Exists(ctx, "short")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStoreRecreateExtendsTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(100)
	defer s.Close()

	require.NoError(t, s.Create(ctx, "sess", 50*time.Millisecond))
	require.NoError(t, s.Create(ctx, "sess", time.Hour))

	<-time.After(100 * time.Millisecond)
	ok, err := s.Exists(ctx, "sess")
	require.NoError(t, err)
	require.True(t, ok, "the last create should win")
}

func TestMemoryStoreCancelledContext(t *testing.T) {
	s := NewMemoryStore(100)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Exists(ctx, "sess")
	require.ErrorIs(t, err, context.Canceled)
}

func TestRedisStore(t *testing.T) {
	s, _ := newRedisStore(t)
	storeLifecycle(t, s)
}

func TestRedisStoreKeys(t *testing.T) {
	ctx := context.Background()
	s, r := newRedisStore(t)

	require.NoError(t, s.Create(ctx, "abc", time.Minute))
	require.True(t, r.Exists("test:session:{abc}"))
	require.Equal(t, time.Minute, r.TTL("test:session:{abc}"))

	require.NoError(t, s.Destroy(ctx, "abc"))
	require.False(t, r.Exists("test:session:{abc}"))
}

func TestRedisStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s, r := newRedisStore(t)

	require.NoError(t, s.Create(ctx, "sess", 10*time.Second))

	r.FastForward(9 * time.Second)
	ok, err := s.Exists(ctx, "sess")
	require.NoError(t, err)
	require.True(t, ok)

	r.FastForward(2 * time.Second)
	ok, err = s.Exists(ctx, "sess")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStoreErrors(t *testing.T) {
	ctx := context.Background()
	s, r := newRedisStore(t)
	r.SetError("server unavailable")

	_, err := s.Exists(ctx, "sess")
	require.Error(t, err)
	require.Error(t, s.Create(ctx, "sess", time.Minute))
	require.Error(t, s.Destroy(ctx, "sess"))
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, Opts{})
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, s)
	require.NoError(t, Close(s))

	_, err = New(ctx, Opts{Backend: "kv"})
	require.ErrorIs(t, err, ErrUnknownBackend)

	_, err = New(ctx, Opts{Backend: BackendRedis})
	require.ErrorIs(t, err, ErrMissingURI)

	r := miniredis.RunT(t)
	s, err = New(ctx, Opts{Backend: BackendRedis, RedisURI: "redis://" + r.Addr()})
	require.NoError(t, err)
	require.IsType(t, &RedisStore{}, s)
	storeLifecycle(t, s)
	require.NoError(t, Close(s))
}

func TestValidID(t *testing.T) {
	require.True(t, ValidID(NewID()))
	require.False(t, ValidID(""))
	require.False(t, ValidID("a\nb"))
	require.NotEqual(t, NewID(), NewID())
}
