// Package warming proactively populates hot cache entries so request-time
// consumers rarely see a cold cache. It reads through the database router
// and writes through the tag cache.
package warming

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/JFenderson/BandHub-sub005/pkg/cache"
	"github.com/JFenderson/BandHub-sub005/pkg/config"
	"github.com/JFenderson/BandHub-sub005/pkg/database"
	"github.com/JFenderson/BandHub-sub005/pkg/models"
	"github.com/JFenderson/BandHub-sub005/pkg/observability"
)

// Cache keys and tags
const (
	keyPopularBands   = "bands:popular"
	keyFeaturedVideos = "videos:featured"
	keyAllCategories  = "categories:all"
	keyRecentVideos   = "videos:recent"
	keyTrendingVideos = "videos:trending"

	tagBands      = "bands"
	tagVideos     = "videos"
	tagCategories = "categories"
	tagFeatured   = "featured"
	tagTrending   = "trending"
)

// Entry TTLs per content class: categories barely change, trending churns.
const (
	bandTTL     = time.Hour
	videoTTL    = time.Hour
	categoryTTL = 24 * time.Hour
	trendingTTL = 30 * time.Minute
)

const (
	popularBandLimit   = 20
	featuredVideoLimit = 12
	recentVideoLimit   = 20
	trendingVideoLimit = 50
	trendingWindowDays = 30
	bandTopVideoLimit  = 10
	scheduledBandCount = 10
)

const (
	bandColumns     = "id, name, slug, genre, country, video_count, view_count, created_at, updated_at"
	videoColumns    = "id, band_id, title, youtube_id, category, view_count, featured, published_at"
	categoryColumns = "id, name, slug, video_count"
)

func bandKey(id int64) string       { return fmt.Sprintf("band:%d", id) }
func bandVideosKey(id int64) string { return fmt.Sprintf("band:%d:videos:popular", id) }
func bandTag(id int64) string       { return fmt.Sprintf("band:%d", id) }

// Warmer populates hot cache entries at startup, on a schedule, and on
// demand after mutations.
type Warmer struct {
	router  *database.Router
	cache   *cache.TagCache
	cfg     config.WarmingConfig
	logger  observability.Logger
	metrics observability.MetricsClient

	stop     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

// NewWarmer creates a cache warmer.
func NewWarmer(router *database.Router, tagCache *cache.TagCache, cfg config.WarmingConfig, logger observability.Logger, metrics observability.MetricsClient) *Warmer {
	return &Warmer{
		router:  router,
		cache:   tagCache,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		stop:    make(chan struct{}),
	}
}

// WarmOnStartup concurrently populates the startup set: popular bands,
// featured videos, categories, recent videos, and the trending window.
// Warmers are independent: each logs its own failure and never aborts a
// sibling, and readiness never blocks on warming success. Always returns
// nil.
func (w *Warmer) WarmOnStartup(ctx context.Context) error {
	if !w.cfg.Enabled {
		w.logger.Info("Cache warming disabled, skipping startup warm", nil)
		return nil
	}

	start := time.Now()
	w.runIndependent(ctx, map[string]func(context.Context) (int, error){
		"popular_bands":   w.warmPopularBands,
		"featured_videos": w.warmFeaturedVideos,
		"categories":      w.warmCategories,
		"recent_videos":   w.warmRecentVideos,
		"trending_videos": w.warmTrendingVideos,
	})
	w.logger.Info("Startup cache warming finished", map[string]interface{}{
		"duration": time.Since(start).String(),
	})
	return nil
}

// StartScheduler begins the periodic re-warm cycle. It is a no-op when
// warming is disabled.
func (w *Warmer) StartScheduler() {
	if !w.cfg.Enabled {
		w.logger.Info("Cache warming disabled, scheduler not started", nil)
		return
	}

	w.done.Add(1)
	go func() {
		defer w.done.Done()
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.runScheduled(context.Background())
			case <-w.stop:
				return
			}
		}
	}()
	w.logger.Info("Cache warming scheduler started", map[string]interface{}{
		"interval": w.cfg.Interval.String(),
	})
}

// Stop halts the scheduler and waits for an in-progress cycle to finish.
func (w *Warmer) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.done.Wait()
}

// runScheduled re-warms the staleness-sensitive subset: popular bands,
// featured videos, trending, and per-band popular video lists for the top
// bands.
func (w *Warmer) runScheduled(ctx context.Context) {
	start := time.Now()
	w.runIndependent(ctx, map[string]func(context.Context) (int, error){
		"popular_bands":   w.warmPopularBands,
		"featured_videos": w.warmFeaturedVideos,
		"trending_videos": w.warmTrendingVideos,
		"top_band_videos": w.warmTopBandVideos,
	})
	w.logger.Info("Scheduled cache warming finished", map[string]interface{}{
		"duration": time.Since(start).String(),
	})
}

// runIndependent runs every warm function concurrently. Failures are logged
// at each function's own boundary; one failure never cancels the others.
func (w *Warmer) runIndependent(ctx context.Context, warmers map[string]func(context.Context) (int, error)) {
	g, ctx := errgroup.WithContext(ctx)
	for name, fn := range warmers {
		name, fn := name, fn
		g.Go(func() error {
			w.runOne(ctx, name, fn)
			return nil
		})
	}
	_ = g.Wait()
}

// runOne executes a single warm function and logs its duration, item count,
// and outcome.
func (w *Warmer) runOne(ctx context.Context, name string, fn func(context.Context) (int, error)) {
	start := time.Now()
	count, err := fn(ctx)
	elapsed := time.Since(start)
	if err != nil {
		w.logger.Error("Cache warm failed", map[string]interface{}{
			"warmer":   name,
			"duration": elapsed.String(),
			"error":    err.Error(),
		})
		w.metrics.RecordCacheOperation("warm_"+name, false, elapsed.Seconds())
		return
	}
	w.logger.Info("Cache warm complete", map[string]interface{}{
		"warmer":   name,
		"items":    count,
		"duration": elapsed.String(),
	})
	w.metrics.RecordCacheOperation("warm_"+name, true, elapsed.Seconds())
}

// WarmBand re-populates a single band's profile and top videos, typically
// after an edit or sync completion. A band that no longer exists is logged
// and ignored.
func (w *Warmer) WarmBand(ctx context.Context, bandID int64) error {
	start := time.Now()

	var band models.Band
	err := w.router.ExecuteRead(ctx, func(ctx context.Context, db *sqlx.DB) error {
		return db.GetContext(ctx, &band,
			"SELECT "+bandColumns+" FROM bands WHERE id = $1", bandID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		w.logger.Info("Band no longer exists, skipping warm", map[string]interface{}{
			"band_id": bandID,
		})
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load band %d: %w", bandID, err)
	}

	var videos []models.Video
	err = w.router.ExecuteRead(ctx, func(ctx context.Context, db *sqlx.DB) error {
		return db.SelectContext(ctx, &videos,
			"SELECT "+videoColumns+" FROM videos WHERE band_id = $1 ORDER BY view_count DESC LIMIT $2",
			bandID, bandTopVideoLimit)
	})
	if err != nil {
		return fmt.Errorf("failed to load videos for band %d: %w", bandID, err)
	}

	profile := models.BandProfile{Band: band, Videos: videos}
	if err := w.cache.SetWithTags(ctx, bandKey(bandID), profile, bandTTL, []string{tagBands, bandTag(bandID)}); err != nil {
		return err
	}
	if err := w.cache.SetWithTags(ctx, bandVideosKey(bandID), videos, videoTTL, []string{tagVideos, bandTag(bandID)}); err != nil {
		return err
	}

	w.logger.Info("Warmed band", map[string]interface{}{
		"band_id":  bandID,
		"videos":   len(videos),
		"duration": time.Since(start).String(),
	})
	return nil
}

// WarmAll re-populates every band plus the full startup set. Expensive;
// intended for off-peak or post-bulk-import use, never the regular
// schedule.
func (w *Warmer) WarmAll(ctx context.Context) error {
	start := time.Now()

	var bandIDs []int64
	err := w.router.ExecuteRead(ctx, func(ctx context.Context, db *sqlx.DB) error {
		return db.SelectContext(ctx, &bandIDs, "SELECT id FROM bands ORDER BY id")
	})
	if err != nil {
		return fmt.Errorf("failed to list bands: %w", err)
	}

	warmed := 0
	for _, id := range bandIDs {
		if err := w.WarmBand(ctx, id); err != nil {
			w.logger.Error("Failed to warm band during full warm", map[string]interface{}{
				"band_id": id,
				"error":   err.Error(),
			})
			continue
		}
		warmed++
	}

	w.runIndependent(ctx, map[string]func(context.Context) (int, error){
		"popular_bands":   w.warmPopularBands,
		"featured_videos": w.warmFeaturedVideos,
		"categories":      w.warmCategories,
		"recent_videos":   w.warmRecentVideos,
		"trending_videos": w.warmTrendingVideos,
	})

	w.logger.Info("Full cache warm finished", map[string]interface{}{
		"bands":    warmed,
		"duration": time.Since(start).String(),
	})
	return nil
}

func (w *Warmer) warmPopularBands(ctx context.Context) (int, error) {
	var bands []models.Band
	err := w.router.ExecuteRead(ctx, func(ctx context.Context, db *sqlx.DB) error {
		return db.SelectContext(ctx, &bands,
			"SELECT "+bandColumns+" FROM bands ORDER BY video_count DESC LIMIT $1",
			popularBandLimit)
	})
	if err != nil {
		return 0, err
	}
	if err := w.cache.SetWithTags(ctx, keyPopularBands, bands, bandTTL, []string{tagBands}); err != nil {
		return 0, err
	}
	return len(bands), nil
}

func (w *Warmer) warmFeaturedVideos(ctx context.Context) (int, error) {
	var videos []models.Video
	err := w.router.ExecuteRead(ctx, func(ctx context.Context, db *sqlx.DB) error {
		return db.SelectContext(ctx, &videos,
			"SELECT "+videoColumns+" FROM videos WHERE featured = TRUE ORDER BY published_at DESC LIMIT $1",
			featuredVideoLimit)
	})
	if err != nil {
		return 0, err
	}
	if err := w.cache.SetWithTags(ctx, keyFeaturedVideos, videos, videoTTL, []string{tagVideos, tagFeatured}); err != nil {
		return 0, err
	}
	return len(videos), nil
}

func (w *Warmer) warmCategories(ctx context.Context) (int, error) {
	var categories []models.Category
	err := w.router.ExecuteRead(ctx, func(ctx context.Context, db *sqlx.DB) error {
		return db.SelectContext(ctx, &categories,
			"SELECT "+categoryColumns+" FROM categories ORDER BY name")
	})
	if err != nil {
		return 0, err
	}
	if err := w.cache.SetWithTags(ctx, keyAllCategories, categories, categoryTTL, []string{tagCategories}); err != nil {
		return 0, err
	}
	return len(categories), nil
}

func (w *Warmer) warmRecentVideos(ctx context.Context) (int, error) {
	var videos []models.Video
	err := w.router.ExecuteRead(ctx, func(ctx context.Context, db *sqlx.DB) error {
		return db.SelectContext(ctx, &videos,
			"SELECT "+videoColumns+" FROM videos ORDER BY published_at DESC LIMIT $1",
			recentVideoLimit)
	})
	if err != nil {
		return 0, err
	}
	if err := w.cache.SetWithTags(ctx, keyRecentVideos, videos, videoTTL, []string{tagVideos}); err != nil {
		return 0, err
	}
	return len(videos), nil
}

func (w *Warmer) warmTrendingVideos(ctx context.Context) (int, error) {
	var videos []models.Video
	err := w.router.ExecuteRead(ctx, func(ctx context.Context, db *sqlx.DB) error {
		return db.SelectContext(ctx, &videos,
			fmt.Sprintf("SELECT %s FROM videos WHERE published_at >= NOW() - INTERVAL '%d days' ORDER BY view_count DESC LIMIT $1",
				videoColumns, trendingWindowDays),
			trendingVideoLimit)
	})
	if err != nil {
		return 0, err
	}
	if err := w.cache.SetWithTags(ctx, keyTrendingVideos, videos, trendingTTL, []string{tagVideos, tagTrending}); err != nil {
		return 0, err
	}
	return len(videos), nil
}

// warmTopBandVideos refreshes the per-band popular video lists for the most
// active bands.
func (w *Warmer) warmTopBandVideos(ctx context.Context) (int, error) {
	var bandIDs []int64
	err := w.router.ExecuteRead(ctx, func(ctx context.Context, db *sqlx.DB) error {
		return db.SelectContext(ctx, &bandIDs,
			"SELECT id FROM bands ORDER BY video_count DESC LIMIT $1",
			scheduledBandCount)
	})
	if err != nil {
		return 0, err
	}

	warmed := 0
	for _, id := range bandIDs {
		var videos []models.Video
		err := w.router.ExecuteRead(ctx, func(ctx context.Context, db *sqlx.DB) error {
			return db.SelectContext(ctx, &videos,
				"SELECT "+videoColumns+" FROM videos WHERE band_id = $1 ORDER BY view_count DESC LIMIT $2",
				id, bandTopVideoLimit)
		})
		if err != nil {
			w.logger.Warn("Failed to load top videos for band", map[string]interface{}{
				"band_id": id,
				"error":   err.Error(),
			})
			continue
		}
		if err := w.cache.SetWithTags(ctx, bandVideosKey(id), videos, videoTTL, []string{tagVideos, bandTag(id)}); err != nil {
			w.logger.Warn("Failed to cache top videos for band", map[string]interface{}{
				"band_id": id,
				"error":   err.Error(),
			})
			continue
		}
		warmed++
	}
	return warmed, nil
}
