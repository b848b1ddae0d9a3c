package probe

import (
	"log/slog"

	"github.com/BigKAA/svcpulse/metrics"
)

// Metric names written by MetricsObserver.
const (
	MetricConnections   = "database_connections"
	MetricCheckDuration = "dependency_check_duration_seconds"
)

// Observer is notified with the new Handle after every connect and check.
type Observer interface {
	ObserveCheck(h Handle)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(h Handle)

// ObserveCheck calls f(h).
func (f ObserverFunc) ObserveCheck(h Handle) { f(h) }

// MetricsObserver records dependency state into a metrics.Registry:
// database_connections{database} is 1 when up and 0 otherwise, and the check
// latency goes to dependency_check_duration_seconds{dependency}.
type MetricsObserver struct {
	metrics *metrics.Registry
	logger  *slog.Logger
}

// NewMetricsObserver creates a MetricsObserver.
func NewMetricsObserver(m *metrics.Registry, logger *slog.Logger) *MetricsObserver {
	if logger == nil {
		logger = slog.Default()
	}
	m.Describe(MetricConnections, "Database connection status")
	m.Describe(MetricCheckDuration, "Latency of dependency checks in seconds")
	return &MetricsObserver{metrics: m, logger: logger}
}

// ObserveCheck implements Observer.
func (o *MetricsObserver) ObserveCheck(h Handle) {
	v := 0.0
	if h.State == StateUp {
		v = 1
	}
	if err := o.metrics.SetGauge(MetricConnections, metrics.Labels{"database": h.Name}, v); err != nil {
		o.logger.Warn("dependency: metric write failed", "metric", MetricConnections, "error", err)
	}
	if err := o.metrics.ObserveHistogramWith(MetricCheckDuration, metrics.Labels{"dependency": h.Name}, h.Latency); err != nil {
		o.logger.Warn("dependency: metric write failed", "metric", MetricCheckDuration, "error", err)
	}
}
