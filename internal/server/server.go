// Package server exposes health, metrics and diagnostics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/BigKAA/svcpulse/health"
	"github.com/BigKAA/svcpulse/metrics"
	"github.com/BigKAA/svcpulse/probe"
	"github.com/BigKAA/svcpulse/probe/tcpprobe"
	"github.com/BigKAA/svcpulse/tasks"
	"github.com/BigKAA/svcpulse/tracker"
)

const diagnosticsTimeout = 5 * time.Second

// Submitter accepts background jobs. *tasks.Runner implements it.
type Submitter interface {
	Submit(job tasks.Job) error
}

// ReachFunc checks raw reachability of an address.
type ReachFunc func(ctx context.Context, addr string, timeout time.Duration) tcpprobe.Result

// Info is the service identity shown in documents.
type Info struct {
	Service   string
	Version   string
	Port      string
	StartTime time.Time
	// Environment is echoed by /network-info. Secrets must be redacted by the caller.
	Environment map[string]string
}

// Server holds the HTTP handlers.
type Server struct {
	info    Info
	health  *health.Registry
	metrics *metrics.Registry
	tracker *tracker.Tracker
	probes  []*probe.Probe

	tasks          Submitter
	taskTTL        time.Duration
	loadIterations int

	degradedStatus  int
	externalAddr    string
	externalTimeout time.Duration
	reach           ReachFunc

	clock  clockwork.Clock
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithProbes sets the probes whose live connections /api/network-test inspects.
func WithProbes(ps ...*probe.Probe) Option {
	return func(s *Server) {
		s.probes = ps
	}
}

// WithTasks sets the runner behind /api/simulate-load and the result TTL.
func WithTasks(t Submitter, ttl time.Duration) Option {
	return func(s *Server) {
		s.tasks = t
		s.taskTTL = ttl
	}
}

// WithLoadIterations sets the size of the simulated load.
func WithLoadIterations(n int) Option {
	return func(s *Server) {
		s.loadIterations = n
	}
}

// WithDegradedStatus sets the /health status code while degraded. Default 200.
func WithDegradedStatus(code int) Option {
	return func(s *Server) {
		s.degradedStatus = code
	}
}

// WithExternalCheck sets the target of the external connectivity probe.
func WithExternalCheck(addr string, timeout time.Duration) Option {
	return func(s *Server) {
		s.externalAddr = addr
		s.externalTimeout = timeout
	}
}

// WithReach replaces tcpprobe.Reach.
func WithReach(fn ReachFunc) Option {
	return func(s *Server) {
		s.reach = fn
	}
}

// WithClock sets the clock for timestamps and uptime.
func WithClock(c clockwork.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a Server.
func New(info Info, h *health.Registry, m *metrics.Registry, t *tracker.Tracker, opts ...Option) *Server {
	s := &Server{
		info:            info,
		health:          h,
		metrics:         m,
		tracker:         t,
		taskTTL:         tasks.DefaultTTL,
		loadIterations:  tasks.DefaultLoadIterations,
		degradedStatus:  http.StatusOK,
		externalAddr:    "8.8.8.8:53",
		externalTimeout: 3 * time.Second,
		reach:           tcpprobe.Reach,
		clock:           clockwork.NewRealClock(),
		logger:          slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.info.StartTime.IsZero() {
		s.info.StartTime = s.clock.Now()
	}
	return s
}

// Handler returns the routed handler wrapped in request tracking.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/dependencies", s.handleDependencies)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /api/metrics", s.handleAPIMetrics)
	mux.HandleFunc("GET /network-info", s.handleNetworkInfo)
	mux.HandleFunc("GET /api/network-test", s.handleNetworkTest)
	mux.HandleFunc("GET /api/external-check", s.handleExternalCheck)
	mux.HandleFunc("GET /api/simulate-load", s.handleSimulateLoad)
	mux.HandleFunc("POST /api/simulate-load", s.handleSimulateLoad)
	return s.tracker.Middleware(mux)
}

func (s *Server) uptime() float64 {
	return s.clock.Since(s.info.StartTime).Seconds()
}

func (s *Server) now() string {
	return s.clock.Now().UTC().Format(time.RFC3339Nano)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("http: encode response", "error", err)
	}
}
