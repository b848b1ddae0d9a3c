// Package grpchealth publishes health snapshots through the standard gRPC
// health service (grpc.health.v1.Health).
//
// Service "" reports SERVING while the process is healthy and NOT_SERVING
// while degraded; every dependency is published as its own service name.
package grpchealth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/grpc"
	ghealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/BigKAA/svcpulse/health"
	"github.com/BigKAA/svcpulse/probe"
)

// Bridge copies snapshots from a health.Registry into a gRPC health server.
type Bridge struct {
	registry *health.Registry
	server   *ghealth.Server
	clock    clockwork.Clock
	logger   *slog.Logger

	mu   sync.Mutex
	last map[string]healthpb.HealthCheckResponse_ServingStatus
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithClock sets the clock driving Run.
func WithClock(c clockwork.Clock) Option {
	return func(b *Bridge) {
		b.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = l
	}
}

// New creates a Bridge and performs an initial Sync.
func New(reg *health.Registry, opts ...Option) *Bridge {
	b := &Bridge{
		registry: reg,
		server:   ghealth.NewServer(),
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
		last:     make(map[string]healthpb.HealthCheckResponse_ServingStatus),
	}
	for _, o := range opts {
		o(b)
	}
	b.Sync()
	return b
}

// Server returns the gRPC health server.
func (b *Bridge) Server() healthpb.HealthServer { return b.server }

// Register registers the health service on s.
func (b *Bridge) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, b.server)
}

// Sync publishes the current snapshot.
func (b *Bridge) Sync() {
	snap := b.registry.Snapshot()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.set("", servingStatus(snap.Healthy()))
	for name, st := range snap.Dependencies {
		b.set(name, servingStatus(st == probe.StateUp))
	}
}

// Run calls Sync every interval until ctx is done.
func (b *Bridge) Run(ctx context.Context, interval time.Duration) {
	ticker := b.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			b.Sync()
		}
	}
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (b *Bridge) Shutdown() {
	b.server.Shutdown()
}

func (b *Bridge) set(service string, st healthpb.HealthCheckResponse_ServingStatus) {
	if prev, ok := b.last[service]; ok && prev == st {
		return
	}
	b.last[service] = st
	b.server.SetServingStatus(service, st)
	if service != "" {
		b.logger.Debug("grpc health: status changed", "service", service, "status", st.String())
	}
}

func servingStatus(up bool) healthpb.HealthCheckResponse_ServingStatus {
	if up {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
