// Package app wires configuration, probes, health, metrics, request
// tracking and background tasks into a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/BigKAA/svcpulse/health"
	"github.com/BigKAA/svcpulse/health/grpchealth"
	"github.com/BigKAA/svcpulse/internal/config"
	"github.com/BigKAA/svcpulse/internal/server"
	"github.com/BigKAA/svcpulse/metrics"
	"github.com/BigKAA/svcpulse/probe"
	"github.com/BigKAA/svcpulse/tasks"
	"github.com/BigKAA/svcpulse/tracker"
)

// dependencyOrder is the registration order of monitored dependencies.
var dependencyOrder = []string{config.DepDatabase, config.DepCache, config.DepBroker, config.DepStream}

// App is the assembled service.
type App struct {
	cfg    *config.Config
	clock  clockwork.Clock
	logger *slog.Logger

	metrics   *metrics.Registry
	health    *health.Registry
	scheduler *probe.Scheduler
	probes    []*probe.Probe
	tracker   *tracker.Tracker
	runner    *tasks.Runner
	handler   http.Handler

	httpServer *http.Server
	grpcServer *grpc.Server
	bridge     *grpchealth.Bridge

	bgCancel     context.CancelFunc
	bridgeDone   chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures an App.
type Option func(*options)

type options struct {
	connectors map[string]probe.Connector
	clock      clockwork.Clock
	logger     *slog.Logger
}

// WithConnector replaces the connector built from configuration for one
// dependency. The dependency is monitored even when it is not configured.
func WithConnector(name string, c probe.Connector) Option {
	return func(o *options) {
		o.connectors[name] = c
	}
}

// WithClock sets the clock shared by every component.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New assembles the service from cfg. It does not touch the network.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	o := options{
		connectors: make(map[string]probe.Connector),
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:    cfg,
		clock:  o.clock,
		logger: o.logger,
		health: health.NewRegistry(health.WithClock(o.clock)),
	}

	m, err := metrics.NewRegistry(metrics.WithRuntimeCollectors())
	if err != nil {
		return nil, err
	}
	a.metrics = m

	a.scheduler = probe.NewScheduler(
		probe.WithInterval(cfg.CheckInterval),
		probe.WithBackoff(a.backoff()),
		probe.WithSchedulerClock(o.clock),
		probe.WithSchedulerLogger(o.logger),
	)

	observer := probe.NewMetricsObserver(m, o.logger)
	var cacheProbe *probe.Probe
	for _, name := range dependencyOrder {
		c, ok := o.connectors[name]
		if !ok {
			if !cfg.Monitored(name) {
				continue
			}
			c = buildConnector(cfg, name)
		}
		p, err := probe.New(name, c,
			probe.WithRequired(cfg.IsRequired(name)),
			probe.WithTimeout(cfg.CheckTimeout),
			probe.WithClock(o.clock),
			probe.WithLogger(o.logger),
			probe.WithObserver(observer),
		)
		if err != nil {
			return nil, err
		}
		if err := a.scheduler.Add(p); err != nil {
			return nil, err
		}
		if err := a.health.Register(p); err != nil {
			return nil, err
		}
		a.probes = append(a.probes, p)
		if name == config.DepCache {
			cacheProbe = p
		}
	}

	a.tracker, err = tracker.New(m,
		tracker.WithClientSet(tracker.NewClientSet(cfg.ClientSetCapacity)),
		tracker.WithClock(o.clock),
		tracker.WithLogger(o.logger),
	)
	if err != nil {
		return nil, err
	}

	var sink tasks.Cache
	if cacheProbe != nil {
		sink = resultCache(cacheProbe)
	}
	a.runner, err = tasks.New(sink, m,
		tasks.WithWorkers(cfg.TaskWorkers),
		tasks.WithQueueSize(cfg.TaskQueueSize),
		tasks.WithClock(o.clock),
		tasks.WithLogger(o.logger),
	)
	if err != nil {
		return nil, err
	}

	srv := server.New(a.info(), a.health, m, a.tracker,
		server.WithProbes(a.probes...),
		server.WithTasks(a.runner, cfg.TaskResultTTL),
		server.WithDegradedStatus(cfg.HealthDegradedStatus),
		server.WithExternalCheck(cfg.ExternalCheckAddr, cfg.ExternalCheckTimeout),
		server.WithClock(o.clock),
		server.WithLogger(o.logger),
	)
	a.handler = srv.Handler()

	a.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.GRPCPort != "" {
		a.bridge = grpchealth.New(a.health, grpchealth.WithClock(o.clock), grpchealth.WithLogger(o.logger))
		a.grpcServer = grpc.NewServer()
		a.bridge.Register(a.grpcServer)
	}
	return a, nil
}

func (a *App) backoff() probe.Backoff {
	return probe.Backoff{
		Initial:    a.cfg.ReconnectInitialDelay,
		Max:        a.cfg.CheckInterval,
		Multiplier: probe.DefaultBackoffMultiplier,
		Jitter:     true,
	}
}

func (a *App) info() server.Info {
	dbURL := a.cfg.RedactedDatabaseURL()
	if dbURL == "" {
		dbURL = "Not set"
	}
	return server.Info{
		Service:   a.cfg.ServiceName,
		Version:   a.cfg.ServiceVersion,
		Port:      a.cfg.Port,
		StartTime: a.clock.Now(),
		Environment: map[string]string{
			"DATABASE_URL":  dbURL,
			"REDIS_HOST":    a.cfg.Cache.Host,
			"POSTGRES_HOST": a.cfg.Database.Host,
		},
	}
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Health returns the current health snapshot.
func (a *App) Health() health.Snapshot { return a.health.Snapshot() }

// Probes returns the registered probes.
func (a *App) Probes() []*probe.Probe { return a.scheduler.Probes() }

// Start connects to every dependency and starts the background components.
// A mandatory dependency that cannot be reached within the configured number
// of attempts aborts startup; optional ones get a single attempt.
func (a *App) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range a.probes {
		g.Go(func() error {
			if p.Required() {
				if err := p.ConnectRetry(gctx, a.cfg.StartupConnectAttempts, a.backoff()); err != nil {
					return fmt.Errorf("mandatory dependency %q: %w", p.Name(), err)
				}
				return nil
			}
			if err := p.Connect(gctx); err != nil {
				a.logger.Warn("app: optional dependency unavailable, continuing degraded",
					"dependency", p.Name(), "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.closeProbes()
		return err
	}

	// Background components outlive the caller's cancellation; Shutdown
	// stops them in order.
	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.bgCancel = cancel

	if err := a.scheduler.Start(bg); err != nil {
		cancel()
		return err
	}
	if err := a.runner.Start(bg); err != nil {
		cancel()
		a.scheduler.Stop()
		return err
	}
	if a.bridge != nil {
		a.bridge.Sync()
		a.bridgeDone = make(chan struct{})
		go func() {
			defer close(a.bridgeDone)
			a.bridge.Run(bg, a.cfg.CheckInterval)
		}()
	}

	a.logger.Info("app: started",
		"service", a.cfg.ServiceName,
		"version", a.cfg.ServiceVersion,
		"dependencies", len(a.probes),
		"overall", a.health.Snapshot().Overall.String(),
	)
	return nil
}

// Run starts the service, serves until ctx is done and shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		a.logger.Info("app: http server listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if a.grpcServer != nil {
		lis, err := net.Listen("tcp", ":"+a.cfg.GRPCPort)
		if err != nil {
			return errors.Join(fmt.Errorf("grpc listen: %w", err), a.Shutdown(context.Background()))
		}
		go func() {
			a.logger.Info("app: grpc server listening", "addr", lis.Addr().String())
			if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("app: shutdown requested")
	case runErr = <-errCh:
		a.logger.Error("app: server failed", "error", runErr)
	}
	return errors.Join(runErr, a.Shutdown(context.Background()))
}

// Shutdown stops the service within the configured grace period: HTTP is
// drained first, then background tasks, probes, gRPC and finally the
// dependency connections. Repeated calls return the first result.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.shutdownErr = a.shutdown(ctx)
	})
	return a.shutdownErr
}

func (a *App) shutdown(ctx context.Context) error {
	sctx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownGrace)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(sctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	a.logger.Info("app: http server stopped")

	if err := a.runner.Stop(sctx); err != nil {
		a.logger.Warn("app: background tasks abandoned", "pending", a.runner.Pending(), "error", err)
	}

	a.scheduler.Stop()

	if a.bridge != nil {
		a.bridge.Shutdown()
	}
	if a.bgCancel != nil {
		a.bgCancel()
	}
	if a.bridgeDone != nil {
		<-a.bridgeDone
	}
	if a.grpcServer != nil {
		stopGRPC(sctx, a.grpcServer)
	}

	a.closeProbes()
	a.logFinalMetrics(sctx)
	a.logger.Info("app: stopped")
	return errors.Join(errs...)
}

// logFinalMetrics writes the last exposition at debug level.
func (a *App) logFinalMetrics(ctx context.Context) {
	if !a.logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	var b strings.Builder
	if err := a.metrics.WriteText(&b); err != nil {
		a.logger.Warn("app: final metrics", "error", err)
		return
	}
	a.logger.LogAttrs(ctx, slog.LevelDebug, "app: final metrics", slog.String("exposition", b.String()))
}

// stopGRPC stops gracefully, or forcibly once ctx is done.
func stopGRPC(ctx context.Context, s *grpc.Server) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.Stop()
		<-done
	}
}

func (a *App) closeProbes() {
	for _, p := range a.probes {
		if err := p.Close(); err != nil {
			a.logger.Warn("app: close dependency", "dependency", p.Name(), "error", err)
		}
	}
}
