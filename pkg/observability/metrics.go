package observability

import (
	"sync"
	"time"
)

// metricsClient is the default in-process metrics implementation. It keeps
// last-written values so operational endpoints can snapshot them; exporting
// to an external system is a deployment concern, not this package's.
type metricsClient struct {
	enabled bool

	mu       sync.Mutex
	counters map[string]float64
	gauges   map[string]float64
}

// MetricsOptions contains configuration options for creating a metrics client
type MetricsOptions struct {
	Enabled bool
}

// NewMetricsClient creates a new metrics client with default options
func NewMetricsClient() MetricsClient {
	return NewMetricsClientWithOptions(MetricsOptions{Enabled: true})
}

// NewMetricsClientWithOptions creates a new metrics client with specific options
func NewMetricsClientWithOptions(options MetricsOptions) MetricsClient {
	return &metricsClient{
		enabled:  options.Enabled,
		counters: make(map[string]float64),
		gauges:   make(map[string]float64),
	}
}

// RecordCacheOperation records the outcome and latency of a cache operation
func (m *metricsClient) RecordCacheOperation(operation string, success bool, durationSeconds float64) {
	if !m.enabled {
		return
	}
	name := "cache_operation_" + operation
	if !success {
		name += "_failed"
	}
	m.add(name, 1)
	m.set("cache_operation_"+operation+"_seconds", durationSeconds)
}

// RecordDatabaseOperation records the outcome and latency of a database operation
func (m *metricsClient) RecordDatabaseOperation(operation string, success bool, durationSeconds float64) {
	if !m.enabled {
		return
	}
	name := "db_operation_" + operation
	if !success {
		name += "_failed"
	}
	m.add(name, 1)
	m.set("db_operation_"+operation+"_seconds", durationSeconds)
}

// RecordGauge records a gauge value
func (m *metricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	if !m.enabled {
		return
	}
	m.set(name, value)
}

// IncrementCounter increments a counter metric by a given value
func (m *metricsClient) IncrementCounter(name string, value float64) {
	if !m.enabled {
		return
	}
	m.add(name, value)
}

// RecordDuration records a duration metric
func (m *metricsClient) RecordDuration(name string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.set(name+"_seconds", duration.Seconds())
}

// Close releases any resources held by the client
func (m *metricsClient) Close() error {
	return nil
}

func (m *metricsClient) add(name string, value float64) {
	m.mu.Lock()
	m.counters[name] += value
	m.mu.Unlock()
}

func (m *metricsClient) set(name string, value float64) {
	m.mu.Lock()
	m.gauges[name] = value
	m.mu.Unlock()
}

// noopMetricsClient discards all metrics
type noopMetricsClient struct{}

// NewNoopMetricsClient creates a metrics client that discards everything
func NewNoopMetricsClient() MetricsClient {
	return &noopMetricsClient{}
}

func (n *noopMetricsClient) RecordCacheOperation(operation string, success bool, durationSeconds float64) {
}
func (n *noopMetricsClient) RecordDatabaseOperation(operation string, success bool, durationSeconds float64) {
}
func (n *noopMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {}
func (n *noopMetricsClient) IncrementCounter(name string, value float64)                      {}
func (n *noopMetricsClient) RecordDuration(name string, duration time.Duration)               {}
func (n *noopMetricsClient) Close() error                                                     { return nil }
