package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JFenderson/BandHub-sub005/pkg/observability"
)

const (
	tagSetPrefix    = "tag:"
	tagsOfKeyPrefix = "tag:key:"

	// compressedPrefix marks payloads that went through the gzip codec so
	// reads know to decompress.
	compressedPrefix = "gz:"

	// compressThreshold is the payload size above which values are
	// compressed before storage.
	compressThreshold = 1024

	// tagSetTTLExtension keeps tag sets alive past the entries they index,
	// so reverse lookups stay answerable during cleanup windows.
	tagSetTTLExtension = time.Hour

	scanBatchSize = 100
)

// TagStat reports how many keys a tag currently indexes.
type TagStat struct {
	Tag      string `json:"tag"`
	KeyCount int64  `json:"keyCount"`
}

// TagCache stores JSON values with named tags so a single invalidation call
// removes every key sharing a tag. The value write, the key-to-tags record,
// and the per-tag set writes are independent store operations: a crash
// between them leaves a partially consistent index, which
// CleanupOrphanedTags repairs. Callers must not assume linearizability
// between SetWithTags and a concurrent invalidation of the same key.
type TagCache struct {
	store   Store
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewTagCache creates a tag-indexed cache on top of store.
func NewTagCache(store Store, logger observability.Logger, metrics observability.MetricsClient) *TagCache {
	return &TagCache{
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
}

// SetWithTags writes value at key with ttl and records the key under each
// tag. Tag sets get an extended expiry so the index outlives individual
// entries.
func (c *TagCache) SetWithTags(ctx context.Context, key string, value interface{}, ttl time.Duration, tags []string) error {
	start := time.Now()

	payload, err := json.Marshal(value)
	if err != nil {
		c.metrics.RecordCacheOperation("set_with_tags", false, time.Since(start).Seconds())
		return fmt.Errorf("failed to marshal value for %q: %w", key, err)
	}

	body := string(payload)
	if len(body) >= compressThreshold {
		compressed := Compress(body)
		c.logger.Debug("Compressed cache payload", map[string]interface{}{
			"key":   key,
			"ratio": CompressionRatio(len(body), len(compressed)),
		})
		body = compressedPrefix + compressed
	}

	if err := c.store.Set(ctx, key, body, ttl); err != nil {
		c.metrics.RecordCacheOperation("set_with_tags", false, time.Since(start).Seconds())
		return err
	}

	if len(tags) > 0 {
		tagsJSON, err := json.Marshal(dedupe(tags))
		if err != nil {
			c.metrics.RecordCacheOperation("set_with_tags", false, time.Since(start).Seconds())
			return fmt.Errorf("failed to marshal tags for %q: %w", key, err)
		}
		if err := c.store.Set(ctx, tagsOfKeyPrefix+key, string(tagsJSON), ttl); err != nil {
			c.metrics.RecordCacheOperation("set_with_tags", false, time.Since(start).Seconds())
			return err
		}
		for _, tag := range dedupe(tags) {
			setKey := tagSetPrefix + tag
			if err := c.store.SetAdd(ctx, setKey, key); err != nil {
				c.metrics.RecordCacheOperation("set_with_tags", false, time.Since(start).Seconds())
				return err
			}
			if err := c.store.Expire(ctx, setKey, ttl+tagSetTTLExtension); err != nil {
				c.metrics.RecordCacheOperation("set_with_tags", false, time.Since(start).Seconds())
				return err
			}
		}
	}

	c.metrics.RecordCacheOperation("set_with_tags", true, time.Since(start).Seconds())
	return nil
}

// Get reads the value at key into out, decompressing when necessary.
// A miss returns ErrNotFound.
func (c *TagCache) Get(ctx context.Context, key string, out interface{}) error {
	start := time.Now()

	raw, err := c.store.Get(ctx, key)
	if err != nil {
		c.metrics.RecordCacheOperation("get", errors.Is(err, ErrNotFound), time.Since(start).Seconds())
		return err
	}
	if strings.HasPrefix(raw, compressedPrefix) {
		raw = Decompress(strings.TrimPrefix(raw, compressedPrefix))
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		c.metrics.RecordCacheOperation("get", false, time.Since(start).Seconds())
		return fmt.Errorf("failed to unmarshal cache value for %q: %w", key, err)
	}

	c.metrics.RecordCacheOperation("get", true, time.Since(start).Seconds())
	return nil
}

// AddTagToKey unions tags into an existing key's tag list, preserving the
// key's remaining TTL. Adding tags to an absent or expired key is a no-op.
func (c *TagCache) AddTagToKey(ctx context.Context, key string, tags []string) error {
	ttl, err := c.store.TTL(ctx, key)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		c.logger.Warn("Skipping tag add for absent or expired key", map[string]interface{}{
			"key":  key,
			"tags": tags,
		})
		return nil
	}

	existing, err := c.GetTagsForKey(ctx, key)
	if err != nil {
		return err
	}

	merged := dedupe(append(existing, tags...))
	tagsJSON, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to marshal tags for %q: %w", key, err)
	}
	if err := c.store.Set(ctx, tagsOfKeyPrefix+key, string(tagsJSON), ttl); err != nil {
		return err
	}

	for _, tag := range dedupe(tags) {
		setKey := tagSetPrefix + tag
		if err := c.store.SetAdd(ctx, setKey, key); err != nil {
			return err
		}
		if err := c.store.Expire(ctx, setKey, ttl+tagSetTTLExtension); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateByTag deletes every key tagged with tag, their key-to-tags
// records, and the tag set itself, in one pipelined batch. Returns the
// number of keys invalidated. The batch is not transactional.
func (c *TagCache) InvalidateByTag(ctx context.Context, tag string) (int, error) {
	start := time.Now()

	setKey := tagSetPrefix + tag
	keys, err := c.store.SetMembers(ctx, setKey)
	if err != nil {
		c.metrics.RecordCacheOperation("invalidate_by_tag", false, time.Since(start).Seconds())
		return 0, err
	}
	if len(keys) == 0 {
		c.metrics.RecordCacheOperation("invalidate_by_tag", true, time.Since(start).Seconds())
		return 0, nil
	}

	pipe := c.store.Pipeline()
	for _, key := range keys {
		pipe.Delete(key, tagsOfKeyPrefix+key)
	}
	pipe.Delete(setKey)
	if err := pipe.Exec(ctx); err != nil {
		c.metrics.RecordCacheOperation("invalidate_by_tag", false, time.Since(start).Seconds())
		return 0, err
	}

	c.logger.Info("Invalidated cache entries by tag", map[string]interface{}{
		"tag":   tag,
		"count": len(keys),
	})
	c.metrics.RecordCacheOperation("invalidate_by_tag", true, time.Since(start).Seconds())
	return len(keys), nil
}

// InvalidateByTags invalidates each tag in order and sums the counts. The
// first failure stops the sequence; the partial count is returned with the
// error so callers can decide whether to retry the remainder.
func (c *TagCache) InvalidateByTags(ctx context.Context, tags []string) (int, error) {
	total := 0
	for _, tag := range tags {
		n, err := c.InvalidateByTag(ctx, tag)
		total += n
		if err != nil {
			return total, fmt.Errorf("failed to invalidate tag %q: %w", tag, err)
		}
	}
	return total, nil
}

// GetKeysByTag returns the keys currently indexed under tag.
func (c *TagCache) GetKeysByTag(ctx context.Context, tag string) ([]string, error) {
	return c.store.SetMembers(ctx, tagSetPrefix+tag)
}

// GetTagsForKey returns the tags recorded for key. An absent record yields
// an empty list.
func (c *TagCache) GetTagsForKey(ctx context.Context, key string) ([]string, error) {
	raw, err := c.store.Get(ctx, tagsOfKeyPrefix+key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tag list for %q: %w", key, err)
	}
	return tags, nil
}

// GetAllTags returns every known tag name via an incremental scan.
func (c *TagCache) GetAllTags(ctx context.Context) ([]string, error) {
	var tags []string
	var cursor uint64
	for {
		keys, next, err := c.store.Scan(ctx, cursor, tagSetPrefix+"*", scanBatchSize)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			// Skip the reverse-mapping records.
			if strings.HasPrefix(key, tagsOfKeyPrefix) {
				continue
			}
			tags = append(tags, strings.TrimPrefix(key, tagSetPrefix))
		}
		cursor = next
		if cursor == 0 {
			return dedupe(tags), nil
		}
	}
}

// GetTagStats reports the key count per tag, largest first. Used for
// operational visibility into invalidation fan-out.
func (c *TagCache) GetTagStats(ctx context.Context) ([]TagStat, error) {
	tags, err := c.GetAllTags(ctx)
	if err != nil {
		return nil, err
	}

	stats := make([]TagStat, 0, len(tags))
	for _, tag := range tags {
		count, err := c.store.SetCardinality(ctx, tagSetPrefix+tag)
		if err != nil {
			return nil, err
		}
		stats = append(stats, TagStat{Tag: tag, KeyCount: count})
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].KeyCount != stats[j].KeyCount {
			return stats[i].KeyCount > stats[j].KeyCount
		}
		return stats[i].Tag < stats[j].Tag
	})
	return stats, nil
}

// CleanupOrphanedTags removes tag-set members whose value keys no longer
// exist and deletes tag sets that end up empty. This is the reconciliation
// pass that restores the key/tag invariant after TTL expiry or partial
// pipeline failures. Returns the number of memberships removed.
func (c *TagCache) CleanupOrphanedTags(ctx context.Context) (int, error) {
	start := time.Now()

	tags, err := c.GetAllTags(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, tag := range tags {
		setKey := tagSetPrefix + tag
		members, err := c.store.SetMembers(ctx, setKey)
		if err != nil {
			return removed, err
		}

		var orphaned []string
		for _, member := range members {
			exists, err := c.store.Exists(ctx, member)
			if err != nil {
				return removed, err
			}
			if !exists {
				orphaned = append(orphaned, member)
			}
		}
		if len(orphaned) > 0 {
			if err := c.store.SetRemove(ctx, setKey, orphaned...); err != nil {
				return removed, err
			}
			removed += len(orphaned)
		}

		count, err := c.store.SetCardinality(ctx, setKey)
		if err != nil {
			return removed, err
		}
		if count == 0 {
			if err := c.store.Delete(ctx, setKey); err != nil {
				return removed, err
			}
		}
	}

	if removed > 0 {
		c.logger.Info("Cleaned up orphaned tag memberships", map[string]interface{}{
			"removed":  removed,
			"duration": time.Since(start).String(),
		})
	}
	return removed, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
