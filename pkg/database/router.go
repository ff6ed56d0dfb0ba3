// Package database provides the replica-aware query router: pooled primary
// and optional replica connections, replica health probing, and read/write
// routing with retry and fallback.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/JFenderson/BandHub-sub005/pkg/config"
	"github.com/JFenderson/BandHub-sub005/pkg/observability"
)

// Common errors
var (
	// ErrShuttingDown is returned for operations issued after Shutdown began.
	ErrShuttingDown = errors.New("database: router is shutting down")
)

const (
	probeQuery       = "SELECT 1"
	drainWaitDefault = 10 * time.Second
	replicaRoleName  = "replica"
	primaryRoleName  = "primary"
)

// QueryFn is a unit of database work executed against whichever connection
// the router selects.
type QueryFn func(ctx context.Context, db *sqlx.DB) error

// ReplicaHealth is the router's view of the replica, mutated only by the
// health loop and by read-failure handling.
type ReplicaHealth struct {
	Healthy             bool      `json:"healthy"`
	LatencyMS           int64     `json:"latencyMs"`
	LastCheck           time.Time `json:"lastCheck"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	Message             string    `json:"message,omitempty"`
}

// Metrics is the router's operational snapshot.
type Metrics struct {
	ReplicaConfigured bool          `json:"replicaConfigured"`
	Replica           ReplicaHealth `json:"replica"`
	UptimeSeconds     float64       `json:"uptimeSeconds"`
}

// Router owns the primary and optional replica connections and routes reads
// and writes between them.
type Router struct {
	cfg     config.DatabaseConfig
	logger  observability.Logger
	metrics observability.MetricsClient

	primary *sqlx.DB

	// mu guards replica and health.
	mu      sync.RWMutex
	replica *sqlx.DB
	health  ReplicaHealth

	// probeMu serializes health probes; a tick that fires while a probe is
	// still running is skipped.
	probeMu sync.Mutex

	connectedAt  time.Time
	shuttingDown atomic.Bool
	stopHealth   chan struct{}
	healthDone   sync.WaitGroup
	inflight     sync.WaitGroup
}

// Connect establishes the primary connection (failure is fatal) and, when a
// replica URL is configured, the replica connection (failure is logged and
// leaves the router in primary-only mode). The replica health loop starts
// only when a replica is configured.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger observability.Logger, metrics observability.MetricsClient) (*Router, error) {
	r := &Router{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		stopHealth: make(chan struct{}),
	}

	primary, err := r.open(ctx, cfg.URL, cfg.ConnectTimeout(), cfg.PoolSize, primaryRoleName)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to primary database: %w", err)
	}
	r.primary = primary
	r.connectedAt = time.Now()
	logger.Info("Connected to primary database", map[string]interface{}{
		"dsn":       sanitizeDSN(cfg.URL),
		"pool_size": cfg.PoolSize,
	})

	if cfg.ReplicaURL != "" {
		replica, err := r.open(ctx, cfg.ReplicaURL, cfg.ReplicaConnectTimeout(), cfg.ReplicaPoolSize, replicaRoleName)
		if err != nil {
			logger.Warn("Replica connection failed, serving reads from primary", map[string]interface{}{
				"dsn":   sanitizeDSN(cfg.ReplicaURL),
				"error": err.Error(),
			})
			r.health = ReplicaHealth{
				Healthy:   false,
				LastCheck: time.Now(),
				Message:   err.Error(),
			}
		} else {
			r.replica = replica
			r.health = ReplicaHealth{Healthy: true, LastCheck: time.Now()}
			logger.Info("Connected to replica database", map[string]interface{}{
				"dsn":       sanitizeDSN(cfg.ReplicaURL),
				"pool_size": cfg.ReplicaPoolSize,
			})
		}

		r.healthDone.Add(1)
		go r.healthLoop()
	}

	return r, nil
}

// NewRouterWithConnections creates a Router around existing connections,
// bypassing Connect. Intended for tests and tooling.
func NewRouterWithConnections(primary, replica *sqlx.DB, cfg config.DatabaseConfig, logger observability.Logger, metrics observability.MetricsClient) *Router {
	r := &Router{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		primary:     primary,
		connectedAt: time.Now(),
		stopHealth:  make(chan struct{}),
	}
	if replica != nil {
		r.replica = replica
		r.health = ReplicaHealth{Healthy: true, LastCheck: time.Now()}
	}
	return r
}

func (r *Router) open(ctx context.Context, dsn string, timeout time.Duration, poolSize int, role string) (*sqlx.DB, error) {
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid %s DSN: %w", role, err)
	}

	// Forward server notices through the structured logger instead of
	// leaving them on the driver's default stderr path.
	noticing := pq.ConnectorWithNoticeHandler(connector, func(notice *pq.Error) {
		r.logger.Warn("Postgres notice", map[string]interface{}{
			"role":    role,
			"message": notice.Message,
		})
	})

	db := sqlx.NewDb(sql.OpenDB(noticing), "postgres")
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(r.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(r.cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// healthLoop probes the replica on a fixed interval until Shutdown.
func (r *Router) healthLoop() {
	defer r.healthDone.Done()

	ticker := time.NewTicker(r.cfg.HealthCheckInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if r.shuttingDown.Load() {
				continue
			}
			if !r.probeMu.TryLock() {
				r.logger.Debug("Skipping replica probe, previous probe still running", nil)
				continue
			}
			r.probeReplica()
			r.probeMu.Unlock()
		case <-r.stopHealth:
			return
		}
	}
}

// probeReplica issues a trivial round-trip query and records the outcome.
// Once consecutive failures reach the configured retry ceiling, it attempts
// a disconnect+reconnect cycle before the next probe.
func (r *Router) probeReplica() {
	r.mu.RLock()
	replica := r.replica
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ReplicaConnectTimeout())
	defer cancel()

	if replica == nil {
		r.recordReplicaFailure("replica not connected")
		return
	}

	start := time.Now()
	var one int
	err := replica.GetContext(ctx, &one, probeQuery)
	latency := time.Since(start)

	if err != nil {
		r.recordReplicaFailure(err.Error())
		return
	}

	r.mu.Lock()
	r.health = ReplicaHealth{
		Healthy:   true,
		LatencyMS: latency.Milliseconds(),
		LastCheck: time.Now(),
	}
	r.mu.Unlock()

	r.metrics.RecordGauge("replica_probe_latency_ms", float64(latency.Milliseconds()), nil)
}

// recordReplicaFailure marks the replica unhealthy and triggers a reconnect
// cycle when failures reach the retry ceiling.
func (r *Router) recordReplicaFailure(message string) {
	r.mu.Lock()
	r.health.Healthy = false
	r.health.ConsecutiveFailures++
	r.health.LastCheck = time.Now()
	r.health.Message = message
	failures := r.health.ConsecutiveFailures
	r.mu.Unlock()

	r.logger.Warn("Replica health check failed", map[string]interface{}{
		"consecutive_failures": failures,
		"error":                message,
	})
	r.metrics.IncrementCounter("replica_probe_failures", 1)

	if failures >= r.cfg.MaxRetries {
		r.reconnectReplica()
	}
}

// reconnectReplica closes the current replica connection (if any) and
// attempts a fresh one. On success the failure counter resets and reads
// route to the replica again.
func (r *Router) reconnectReplica() {
	r.mu.Lock()
	old := r.replica
	r.replica = nil
	r.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			r.logger.Warn("Failed to close stale replica connection", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	ctx := context.Background()
	replica, err := r.open(ctx, r.cfg.ReplicaURL, r.cfg.ReplicaConnectTimeout(), r.cfg.ReplicaPoolSize, replicaRoleName)
	if err != nil {
		r.logger.Error("Replica reconnect failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	r.mu.Lock()
	r.replica = replica
	r.health = ReplicaHealth{Healthy: true, LastCheck: time.Now()}
	r.mu.Unlock()

	r.logger.Info("Replica reconnected", nil)
}

// ExecuteRead runs fn against the replica when one is configured and
// healthy, retrying with a fixed delay up to the configured attempt count
// before falling back to the primary. A primary failure after fallback is
// the only error callers see.
func (r *Router) ExecuteRead(ctx context.Context, fn QueryFn) error {
	if r.shuttingDown.Load() {
		return ErrShuttingDown
	}
	r.inflight.Add(1)
	defer r.inflight.Done()

	start := time.Now()

	r.mu.RLock()
	replica := r.replica
	healthy := r.health.Healthy
	r.mu.RUnlock()

	if replica != nil && healthy {
		policy := backoff.WithContext(
			backoff.WithMaxRetries(
				backoff.NewConstantBackOff(r.cfg.RetryDelay()),
				uint64(r.cfg.MaxRetries-1),
			),
			ctx,
		)
		err := backoff.Retry(func() error {
			err := fn(ctx, replica)
			if err == nil {
				return nil
			}
			// An empty result is an answer, not a replica fault.
			if errors.Is(err, sql.ErrNoRows) {
				return backoff.Permanent(err)
			}
			r.noteReadFailure(err)
			return err
		}, policy)
		if err == nil || errors.Is(err, sql.ErrNoRows) {
			r.metrics.RecordDatabaseOperation("read_replica", err == nil, time.Since(start).Seconds())
			return err
		}

		r.logger.Warn("Replica read exhausted retries, falling back to primary", map[string]interface{}{
			"attempts": r.cfg.MaxRetries,
			"error":    err.Error(),
		})
		r.metrics.RecordDatabaseOperation("read_replica", false, time.Since(start).Seconds())
	}

	err := fn(ctx, r.primary)
	r.metrics.RecordDatabaseOperation("read_primary", err == nil, time.Since(start).Seconds())
	return err
}

// noteReadFailure feeds replica-side read errors into the health record so
// routing reacts without waiting for the next probe.
func (r *Router) noteReadFailure(err error) {
	r.mu.Lock()
	r.health.ConsecutiveFailures++
	r.health.LastCheck = time.Now()
	r.health.Message = err.Error()
	if r.health.ConsecutiveFailures >= r.cfg.MaxRetries {
		r.health.Healthy = false
	}
	r.mu.Unlock()
}

// ExecuteWrite runs fn against the primary. There is no replica write path.
func (r *Router) ExecuteWrite(ctx context.Context, fn QueryFn) error {
	if r.shuttingDown.Load() {
		return ErrShuttingDown
	}
	r.inflight.Add(1)
	defer r.inflight.Done()

	start := time.Now()
	err := fn(ctx, r.primary)
	r.metrics.RecordDatabaseOperation("write", err == nil, time.Since(start).Seconds())
	return err
}

// Transaction executes fn inside a primary-side transaction with panic-safe
// rollback.
func (r *Router) Transaction(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if r.shuttingDown.Load() {
		return ErrShuttingDown
	}
	r.inflight.Add(1)
	defer r.inflight.Done()

	tx, err := r.primary.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error("Failed to rollback transaction", map[string]interface{}{
				"rollback_error": rbErr.Error(),
				"cause":          err.Error(),
			})
		}
		return err
	}
	return tx.Commit()
}

// IsReplicaAvailable reports whether reads currently route to the replica.
func (r *Router) IsReplicaAvailable() bool {
	if r.shuttingDown.Load() {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.replica != nil && r.health.Healthy
}

// Metrics returns the router's operational snapshot.
func (r *Router) Metrics() Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Metrics{
		ReplicaConfigured: r.cfg.ReplicaURL != "",
		Replica:           r.health,
		UptimeSeconds:     time.Since(r.connectedAt).Seconds(),
	}
}

// Ping verifies the primary connection.
func (r *Router) Ping(ctx context.Context) error {
	return r.primary.PingContext(ctx)
}

// Shutdown stops the health loop, waits a bounded time for in-flight work to
// drain, then closes both connections. The drain is best effort: work still
// running at the deadline loses its connection.
func (r *Router) Shutdown(ctx context.Context) error {
	if !r.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}
	close(r.stopHealth)
	r.healthDone.Wait()

	drained := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		r.logger.Warn("Drain deadline reached with work still in flight", nil)
	case <-time.After(drainWaitDefault):
		r.logger.Warn("Drain timeout reached with work still in flight", nil)
	}

	var errs []error
	r.mu.Lock()
	if r.replica != nil {
		if err := r.replica.Close(); err != nil {
			errs = append(errs, fmt.Errorf("replica close: %w", err))
		}
		r.replica = nil
	}
	r.mu.Unlock()

	if err := r.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary close: %w", err))
	}

	r.logger.Info("Database router shut down", nil)
	return errors.Join(errs...)
}

// sanitizeDSN removes credentials from a DSN for safe logging.
func sanitizeDSN(dsn string) string {
	if strings.Contains(dsn, "password=") {
		parts := strings.Split(dsn, " ")
		sanitized := make([]string, 0, len(parts))
		for _, part := range parts {
			if strings.HasPrefix(part, "password=") {
				sanitized = append(sanitized, "password=***")
			} else {
				sanitized = append(sanitized, part)
			}
		}
		return strings.Join(sanitized, " ")
	}
	if idx := strings.Index(dsn, "://"); idx != -1 {
		if atIdx := strings.Index(dsn[idx:], "@"); atIdx != -1 {
			return dsn[:idx+3] + "***:***" + dsn[idx+atIdx:]
		}
	}
	return dsn
}
