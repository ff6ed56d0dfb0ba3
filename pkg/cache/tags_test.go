package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JFenderson/BandHub-sub005/pkg/config"
	"github.com/JFenderson/BandHub-sub005/pkg/observability"
)

func setupTagCache(t *testing.T) (*TagCache, *RedisStore, *miniredis.Miniredis) {
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

	return NewTagCache(store, observability.NewNoopLogger(), observability.NewNoopMetricsClient()), store, mr
}

type testPayload struct {
	Views int `json:"views"`
}

func TestSetWithTagsBidirectionalIndex(t *testing.T) {
	tc, _, _ := setupTagCache(t)
	ctx := context.Background()

	err := tc.SetWithTags(ctx, "video:42", testPayload{Views: 100}, time.Hour, []string{"band:7", "trending"})
	require.NoError(t, err)

	tags, err := tc.GetTagsForKey(ctx, "video:42")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"band:7", "trending"}, tags)

	for _, tag := range []string{"band:7", "trending"} {
		keys, err := tc.GetKeysByTag(ctx, tag)
		require.NoError(t, err)
		assert.Contains(t, keys, "video:42")
	}

	var got testPayload
	require.NoError(t, tc.Get(ctx, "video:42", &got))
	assert.Equal(t, 100, got.Views)
}

func TestSetWithTagsExtendsTagSetExpiry(t *testing.T) {
	tc, _, mr := setupTagCache(t)
	ctx := context.Background()

	require.NoError(t, tc.SetWithTags(ctx, "video:1", testPayload{Views: 1}, time.Hour, []string{"videos"}))

	// The tag set must outlive the entry so cleanup can still see it.
	assert.Equal(t, time.Hour, mr.TTL("video:1"))
	assert.Equal(t, 2*time.Hour, mr.TTL("tag:videos"))
	assert.Equal(t, time.Hour, mr.TTL("tag:key:video:1"))
}

func TestSetWithTagsCompressesLargePayloads(t *testing.T) {
	tc, store, _ := setupTagCache(t)
	ctx := context.Background()

	large := map[string]string{"blob": strings.Repeat("riff ", 2000)}
	require.NoError(t, tc.SetWithTags(ctx, "video:big", large, time.Hour, []string{"videos"}))

	raw, err := store.Get(ctx, "video:big")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, compressedPrefix))

	var got map[string]string
	require.NoError(t, tc.Get(ctx, "video:big", &got))
	assert.Equal(t, large, got)
}

func TestGetMissing(t *testing.T) {
	tc, _, _ := setupTagCache(t)

	var out testPayload
	err := tc.Get(context.Background(), "nope", &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidateByTag(t *testing.T) {
	tc, store, _ := setupTagCache(t)
	ctx := context.Background()

	require.NoError(t, tc.SetWithTags(ctx, "video:1", testPayload{Views: 1}, time.Hour, []string{"band:7", "videos"}))
	require.NoError(t, tc.SetWithTags(ctx, "video:2", testPayload{Views: 2}, time.Hour, []string{"band:7"}))
	require.NoError(t, tc.SetWithTags(ctx, "video:3", testPayload{Views: 3}, time.Hour, []string{"videos"}))

	count, err := tc.InvalidateByTag(ctx, "band:7")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, key := range []string{"video:1", "video:2"} {
		exists, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists, "expected %s to be invalidated", key)

		exists, err = store.Exists(ctx, tagsOfKeyPrefix+key)
		require.NoError(t, err)
		assert.False(t, exists, "expected tag record for %s to be invalidated", key)
	}

	keys, err := tc.GetKeysByTag(ctx, "band:7")
	require.NoError(t, err)
	assert.Empty(t, keys)

	// The untagged entry survives.
	exists, err := store.Exists(ctx, "video:3")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestInvalidateByTagEmpty(t *testing.T) {
	tc, _, _ := setupTagCache(t)

	count, err := tc.InvalidateByTag(context.Background(), "no-such-tag")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestInvalidateByTagsSumsCounts(t *testing.T) {
	tc, store, _ := setupTagCache(t)
	ctx := context.Background()

	require.NoError(t, tc.SetWithTags(ctx, "video:42", testPayload{Views: 100}, time.Hour, []string{"band:7", "trending"}))
	require.NoError(t, tc.SetWithTags(ctx, "video:43", testPayload{Views: 5}, time.Hour, []string{"trending"}))

	count, err := tc.InvalidateByTags(ctx, []string{"band:7", "trending"})
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = store.Get(ctx, "video:42")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddTagToKey(t *testing.T) {
	tc, _, mr := setupTagCache(t)
	ctx := context.Background()

	require.NoError(t, tc.SetWithTags(ctx, "video:1", testPayload{Views: 1}, time.Hour, []string{"videos"}))
	require.NoError(t, tc.AddTagToKey(ctx, "video:1", []string{"featured", "videos"}))

	tags, err := tc.GetTagsForKey(ctx, "video:1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"videos", "featured"}, tags)

	keys, err := tc.GetKeysByTag(ctx, "featured")
	require.NoError(t, err)
	assert.Contains(t, keys, "video:1")

	// The reverse mapping keeps the key's original TTL.
	assert.Equal(t, time.Hour, mr.TTL("tag:key:video:1"))
}

func TestAddTagToKeyExpiredKeyIsNoop(t *testing.T) {
	tc, store, _ := setupTagCache(t)
	ctx := context.Background()

	require.NoError(t, tc.AddTagToKey(ctx, "gone", []string{"videos"}))

	exists, err := store.Exists(ctx, "tag:key:gone")
	require.NoError(t, err)
	assert.False(t, exists)

	keys, err := tc.GetKeysByTag(ctx, "videos")
	require.NoError(t, err)
	assert.NotContains(t, keys, "gone")
}

func TestGetAllTags(t *testing.T) {
	tc, _, _ := setupTagCache(t)
	ctx := context.Background()

	require.NoError(t, tc.SetWithTags(ctx, "video:1", testPayload{Views: 1}, time.Hour, []string{"videos", "trending"}))
	require.NoError(t, tc.SetWithTags(ctx, "band:7", testPayload{Views: 0}, time.Hour, []string{"bands"}))

	tags, err := tc.GetAllTags(ctx)
	require.NoError(t, err)
	// Reverse-mapping records must not leak in as tag names.
	assert.ElementsMatch(t, []string{"videos", "trending", "bands"}, tags)
}

func TestGetTagStats(t *testing.T) {
	tc, _, _ := setupTagCache(t)
	ctx := context.Background()

	require.NoError(t, tc.SetWithTags(ctx, "video:1", testPayload{Views: 1}, time.Hour, []string{"videos"}))
	require.NoError(t, tc.SetWithTags(ctx, "video:2", testPayload{Views: 2}, time.Hour, []string{"videos"}))
	require.NoError(t, tc.SetWithTags(ctx, "band:7", testPayload{Views: 0}, time.Hour, []string{"bands"}))

	stats, err := tc.GetTagStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, TagStat{Tag: "videos", KeyCount: 2}, stats[0])
	assert.Equal(t, TagStat{Tag: "bands", KeyCount: 1}, stats[1])
}

func TestCleanupOrphanedTags(t *testing.T) {
	tc, store, _ := setupTagCache(t)
	ctx := context.Background()

	require.NoError(t, tc.SetWithTags(ctx, "video:1", testPayload{Views: 1}, time.Hour, []string{"videos"}))
	require.NoError(t, tc.SetWithTags(ctx, "video:2", testPayload{Views: 2}, time.Hour, []string{"videos"}))
	require.NoError(t, tc.SetWithTags(ctx, "video:3", testPayload{Views: 3}, time.Hour, []string{"stale"}))

	// Simulate TTL-driven drift: the values vanish, the index survives.
	require.NoError(t, store.Delete(ctx, "video:2", "video:3"))

	removed, err := tc.CleanupOrphanedTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// Live mappings are untouched.
	keys, err := tc.GetKeysByTag(ctx, "videos")
	require.NoError(t, err)
	assert.Equal(t, []string{"video:1"}, keys)

	// A tag set emptied by cleanup is deleted outright.
	exists, err := store.Exists(ctx, "tag:stale")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCleanupOrphanedTagsNothingToDo(t *testing.T) {
	tc, _, _ := setupTagCache(t)
	ctx := context.Background()

	require.NoError(t, tc.SetWithTags(ctx, "video:1", testPayload{Views: 1}, time.Hour, []string{"videos"}))

	removed, err := tc.CleanupOrphanedTags(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
