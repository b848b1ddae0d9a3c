// Package tracker accounts for inbound requests: active count, request
// totals, durations and distinct clients.
package tracker

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/BigKAA/svcpulse/metrics"
)

// Metric names written by Tracker.
const (
	MetricActive         = "active_connections"
	MetricRequests       = "http_requests_total"
	MetricDuration       = "http_request_duration_seconds"
	MetricUniqueClients  = "unique_clients"
	MetricClientEviction = "client_set_evictions_total"
)

// UnknownEndpoint labels requests that did not match a route.
const UnknownEndpoint = "unknown"

// RequestContext describes one in-flight request. It is owned by that
// request and must be finished exactly once; later Finish calls are ignored.
type RequestContext struct {
	ClientID  string
	Path      string
	Method    string
	StartTime time.Time

	finished atomic.Bool
}

// Tracker records request metrics into a metrics.Registry.
type Tracker struct {
	metrics *metrics.Registry
	clock   clockwork.Clock
	logger  *slog.Logger

	// clientsMu orders set updates with their unique_clients gauge writes.
	clientsMu sync.Mutex
	clients   *ClientSet

	total atomic.Int64
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock used to time requests.
func WithClock(c clockwork.Clock) Option {
	return func(t *Tracker) {
		t.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// WithClientSet replaces the default client set.
func WithClientSet(s *ClientSet) Option {
	return func(t *Tracker) {
		t.clients = s
	}
}

// New creates a Tracker and initializes its gauges at zero.
func New(m *metrics.Registry, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		metrics: m,
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	if t.clients == nil {
		t.clients = NewClientSet(DefaultClientCapacity)
	}

	m.Describe(MetricActive, "Active HTTP connections")
	m.Describe(MetricRequests, "Total HTTP requests")
	m.Describe(MetricDuration, "HTTP request duration in seconds")
	m.Describe(MetricUniqueClients, "Distinct clients currently remembered")
	m.Describe(MetricClientEviction, "Client identities evicted from the bounded client set")

	if err := m.SetGauge(MetricActive, nil, 0); err != nil {
		return nil, err
	}
	if err := m.SetGauge(MetricUniqueClients, nil, 0); err != nil {
		return nil, err
	}
	if err := m.AddCounter(MetricClientEviction, nil, 0); err != nil {
		return nil, err
	}
	return t, nil
}

// Start marks a request as active and records its client.
func (t *Tracker) Start(clientID, path, method string) *RequestContext {
	rc := &RequestContext{
		ClientID:  clientID,
		Path:      path,
		Method:    method,
		StartTime: t.clock.Now(),
	}
	t.write(MetricActive, t.metrics.AddGauge(MetricActive, nil, 1))

	if clientID != "" {
		t.recordClient(clientID)
	}
	return rc
}

func (t *Tracker) recordClient(id string) {
	t.clientsMu.Lock()
	defer t.clientsMu.Unlock()

	size, evicted := t.clients.Add(id)
	if evicted > 0 {
		t.write(MetricClientEviction, t.metrics.AddCounter(MetricClientEviction, nil, float64(evicted)))
	}
	t.write(MetricUniqueClients, t.metrics.SetGauge(MetricUniqueClients, nil, float64(size)))
}

// Finish records the outcome of rc. Only the first call per RequestContext
// has an effect.
func (t *Tracker) Finish(rc *RequestContext, status int) {
	if rc == nil || !rc.finished.CompareAndSwap(false, true) {
		return
	}
	elapsed := t.clock.Since(rc.StartTime)
	endpoint := rc.Path
	if endpoint == "" {
		endpoint = UnknownEndpoint
	}

	t.total.Add(1)
	t.write(MetricActive, t.metrics.AddGauge(MetricActive, nil, -1))
	t.write(MetricRequests, t.metrics.IncCounter(MetricRequests, metrics.Labels{
		"method":   rc.Method,
		"endpoint": endpoint,
		"status":   strconv.Itoa(status),
	}))
	t.write(MetricDuration, t.metrics.ObserveHistogram(MetricDuration, elapsed))

	t.logger.LogAttrs(context.Background(), slog.LevelDebug, "request",
		slog.String("client", rc.ClientID),
		slog.String("method", rc.Method),
		slog.String("path", endpoint),
		slog.Int("status", status),
		slog.Duration("duration", elapsed),
	)
}

// Do runs fn between Start and Finish. fn returns the status code. If fn
// panics the request is finished with status 500 before the panic continues.
func (t *Tracker) Do(clientID, path, method string, fn func() int) int {
	rc := t.Start(clientID, path, method)
	status := 500
	defer func() { t.Finish(rc, status) }()
	status = fn()
	return status
}

// TotalRequests returns the number of finished requests.
func (t *Tracker) TotalRequests() int64 { return t.total.Load() }

// UniqueClients returns the number of remembered client identities.
func (t *Tracker) UniqueClients() int { return t.clients.Len() }

func (t *Tracker) write(metric string, err error) {
	if err != nil {
		t.logger.Warn("tracker: metric write failed", "metric", metric, "error", err)
	}
}
