package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JFenderson/BandHub-sub005/pkg/cache"
	"github.com/JFenderson/BandHub-sub005/pkg/config"
	"github.com/JFenderson/BandHub-sub005/pkg/database"
	"github.com/JFenderson/BandHub-sub005/pkg/observability"
	"github.com/JFenderson/BandHub-sub005/pkg/warming"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewStandardLoggerWithLevel("server", observability.ParseLogLevel(cfg.Logging.Level))
	metrics := observability.NewMetricsClient()
	defer func() {
		if err := metrics.Close(); err != nil {
			logger.Warn("Failed to close metrics client", map[string]interface{}{"error": err.Error()})
		}
	}()

	router, err := database.Connect(ctx, cfg.Database, logger.WithPrefix("database"), metrics)
	if err != nil {
		logger.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}

	store, err := cache.NewRedisStore(ctx, cfg.Cache, logger.WithPrefix("cache"))
	if err != nil {
		logger.Fatal("Failed to connect to cache store", map[string]interface{}{"error": err.Error()})
	}

	tagCache := cache.NewTagCache(store, logger.WithPrefix("cache"), metrics)
	warmer := warming.NewWarmer(router, tagCache, cfg.Warming, logger.WithPrefix("warming"), metrics)

	// Startup warming runs in the background; readiness never waits on it.
	go func() {
		_ = warmer.WarmOnStartup(ctx)
	}()
	warmer.StartScheduler()

	logger.Info("BandHub data layer started", map[string]interface{}{
		"replica_configured": cfg.Database.ReplicaURL != "",
		"warming_enabled":    cfg.Warming.Enabled,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	warmer.Stop()
	if err := store.Close(); err != nil {
		logger.Warn("Failed to close cache store", map[string]interface{}{"error": err.Error()})
	}
	if err := router.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Database shutdown reported errors", map[string]interface{}{"error": err.Error()})
	}

	logger.Info("Shutdown complete", nil)
}
