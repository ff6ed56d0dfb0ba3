package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JFenderson/BandHub-sub005/pkg/config"
	"github.com/JFenderson/BandHub-sub005/pkg/observability"
)

func setupStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	store, err := NewRedisStore(context.Background(), config.CacheConfig{
		Address:      mr.Addr(),
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}, observability.NewNoopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store, mr
}

func TestNewRedisStoreConnectFailure(t *testing.T) {
	_, err := NewRedisStore(context.Background(), config.CacheConfig{
		Address:     "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
	}, observability.NewNoopLogger())
	assert.Error(t, err)
}

func TestStoreGetSetDelete(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))

	val, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	exists, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, "k"))
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreSetOperations(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetAdd(ctx, "s", "a", "b", "c"))

	members, err := store.SetMembers(ctx, "s")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, members)

	count, err := store.SetCardinality(ctx, "s")
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	require.NoError(t, store.SetRemove(ctx, "s", "b"))
	count, err = store.SetCardinality(ctx, "s")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestStoreTTLAndExpire(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	ttl, err := store.TTL(ctx, "absent")
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, time.Duration(0))

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, store.Expire(ctx, "k", time.Hour))

	ttl, err = store.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)
}

func TestStoreDeleteByPattern(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "band:1", "a", 0))
	require.NoError(t, store.Set(ctx, "band:2", "b", 0))
	require.NoError(t, store.Set(ctx, "video:1", "c", 0))

	deleted, err := store.DeleteByPattern(ctx, "band:*")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	exists, err := store.Exists(ctx, "video:1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStorePipelineDeletes(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "a", "1", 0))
	require.NoError(t, store.Set(ctx, "b", "2", 0))

	pipe := store.Pipeline()
	pipe.Delete("a", "b")
	pipe.Delete("no-such-key")
	require.NoError(t, pipe.Exec(ctx))

	for _, key := range []string{"a", "b"} {
		exists, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists)
	}
}

func TestStoreCircuitBreakerOpens(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	// Kill the backend; consecutive failures must trip the breaker so
	// later calls fail fast without touching the network.
	mr.Close()

	for i := 0; i < 5; i++ {
		err := store.Set(ctx, "k", "v", 0)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}

	err := store.Set(ctx, "k", "v", 0)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
