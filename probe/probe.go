// Package probe connects to downstream dependencies and tracks their liveness.
//
// A Probe owns one dependency: its connection, its reconnect policy and its
// Handle. The Handle is only changed by the probe's own Connect and Check
// calls; everything else reads copies of it.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Kind is the type of a dependency.
type Kind string

const (
	KindPostgres Kind = "postgres"
	KindMySQL    Kind = "mysql"
	KindRedis    Kind = "redis"
	KindAMQP     Kind = "amqp"
	KindKafka    Kind = "kafka"
	KindTCP      Kind = "tcp"
)

// Timeout bounds for connect and check.
const (
	DefaultTimeout = 5 * time.Second
	MinTimeout     = 100 * time.Millisecond
	MaxTimeout     = 30 * time.Second
)

// Conn is an open connection to a dependency.
type Conn interface {
	// Ping issues a minimal round-trip. The context carries the deadline.
	Ping(ctx context.Context) error
	Close() error
}

// Connector opens connections to one dependency.
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
	Kind() Kind
}

// Describer is implemented by connections that can report live diagnostics.
type Describer interface {
	Describe(ctx context.Context) (map[string]any, error)
}

// namePattern validates dependency names: lowercase letters, digits, hyphens.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

const maxNameLen = 63

// ValidateName checks that a dependency name follows the naming rules.
func ValidateName(name string) error {
	if len(name) < 1 || len(name) > maxNameLen {
		return fmt.Errorf("invalid dependency name %q: length must be 1-%d", name, maxNameLen)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid dependency name %q: must match [a-z][a-z0-9-]*", name)
	}
	return nil
}

// Probe connects to and checks a single dependency.
type Probe struct {
	name      string
	connector Connector
	required  bool
	timeout   time.Duration
	clock     clockwork.Clock
	logger    *slog.Logger
	observer  Observer

	// cycle serializes connect/check cycles.
	cycle sync.Mutex

	mu     sync.RWMutex
	conn   Conn
	handle Handle
}

// Option is a functional option for New.
type Option func(*Probe)

// WithTimeout bounds every connect and check. Default DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Probe) {
		p.timeout = d
	}
}

// WithRequired marks the dependency as mandatory for the caller.
func WithRequired(v bool) Option {
	return func(p *Probe) {
		p.required = v
	}
}

// WithClock sets the clock used for timestamps and latency.
func WithClock(c clockwork.Clock) Option {
	return func(p *Probe) {
		p.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Probe) {
		p.logger = l
	}
}

// WithObserver registers an observer notified after every connect and check.
func WithObserver(o Observer) Option {
	return func(p *Probe) {
		p.observer = o
	}
}

// New creates a Probe for the named dependency. The probe starts in
// StateUnknown and does not connect until Connect or Check is called.
func New(name string, connector Connector, opts ...Option) (*Probe, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if connector == nil {
		return nil, fmt.Errorf("dependency %q: missing connector", name)
	}

	p := &Probe{
		name:      name,
		connector: connector,
		timeout:   DefaultTimeout,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.timeout < MinTimeout || p.timeout > MaxTimeout {
		return nil, fmt.Errorf("dependency %q: timeout %s out of range [%s, %s]", name, p.timeout, MinTimeout, MaxTimeout)
	}

	p.handle = Handle{
		Name:     name,
		Kind:     connector.Kind(),
		Required: p.required,
		State:    StateUnknown,
		Status:   StatusUnknown,
	}
	return p, nil
}

// Name returns the dependency name.
func (p *Probe) Name() string { return p.name }

// Kind returns the dependency type.
func (p *Probe) Kind() Kind { return p.connector.Kind() }

// Required reports whether the dependency is mandatory.
func (p *Probe) Required() bool { return p.required }

// Handle returns a copy of the current probe state.
func (p *Probe) Handle() Handle {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handle
}

// Conn returns the live connection, or nil when there is none.
func (p *Probe) Conn() Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.conn
}

// Connect opens a connection. On failure the state becomes StateDown and a
// *ConnectError is returned; the caller decides whether to retry, continue
// degraded or abort.
func (p *Probe) Connect(ctx context.Context) error {
	p.cycle.Lock()
	defer p.cycle.Unlock()

	start := p.clock.Now()
	err := p.connectLocked(ctx)
	p.record(ctx, start, err)
	return err
}

// ConnectRetry calls Connect up to attempts times, waiting between attempts
// according to b. It returns the last error.
func (p *Probe) ConnectRetry(ctx context.Context, attempts int, b Backoff) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = p.Connect(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		delay := b.Delay(attempt)
		p.logger.LogAttrs(ctx, slog.LevelInfo, "dependency: retrying connect",
			slog.String("dependency", p.name),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-p.clock.After(delay):
		}
	}
	return err
}

// Check pings the open connection. If there is no connection or the ping
// fails, one reconnect is attempted before the dependency is declared down.
func (p *Probe) Check(ctx context.Context) State {
	p.cycle.Lock()
	defer p.cycle.Unlock()

	start := p.clock.Now()
	var probeErr error
	if conn := p.Conn(); conn != nil {
		probeErr = p.ping(ctx, conn)
		if probeErr == nil {
			p.record(ctx, start, nil)
			return StateUp
		}
		p.logger.LogAttrs(ctx, slog.LevelWarn, "dependency: check failed, reconnecting",
			p.logAttrs(slog.String("error", probeErr.Error()))...)
		p.drop(conn)
	}

	err := p.connectLocked(ctx)
	if err != nil && probeErr != nil {
		err = errors.Join(probeErr, err)
	}
	p.record(ctx, start, err)
	if err != nil {
		return StateDown
	}
	return StateUp
}

// Close closes the live connection, if any.
func (p *Probe) Close() error {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// connectLocked must be called with p.cycle held.
func (p *Probe) connectLocked(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.safeConnect(cctx)
	if err != nil {
		return &ConnectError{Dependency: p.name, Category: Classify(err), Cause: err}
	}

	p.mu.Lock()
	old := p.conn
	p.conn = conn
	p.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (p *Probe) ping(ctx context.Context, conn Conn) (err error) {
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = &ProbeError{Dependency: p.name, Category: StatusError, Cause: fmt.Errorf("panic in ping: %v", r)}
		}
	}()
	if err := conn.Ping(pctx); err != nil {
		return &ProbeError{Dependency: p.name, Category: Classify(err), Cause: err}
	}
	return nil
}

// safeConnect calls the connector with panic recovery.
func (p *Probe) safeConnect(ctx context.Context) (conn Conn, err error) {
	defer func() {
		if r := recover(); r != nil {
			conn = nil
			err = fmt.Errorf("panic in connector: %v", r)
			p.logger.Error("dependency: panic in connector", "dependency", p.name, "panic", r)
		}
	}()
	return p.connector.Connect(ctx)
}

// drop forgets conn and closes it if it is still the live connection.
func (p *Probe) drop(conn Conn) {
	p.mu.Lock()
	if p.conn == conn {
		p.conn = nil
	}
	p.mu.Unlock()
	_ = conn.Close()
}

// record stores the outcome of one cycle and logs state transitions.
func (p *Probe) record(ctx context.Context, start time.Time, err error) {
	now := p.clock.Now()

	p.mu.Lock()
	prev := p.handle.State
	p.handle.LastChecked = now
	p.handle.Latency = now.Sub(start)
	if err == nil {
		p.handle.State = StateUp
		p.handle.Status = StatusOK
		p.handle.LastError = ""
	} else {
		p.handle.State = StateDown
		p.handle.Status = categoryOf(err)
		p.handle.LastError = err.Error()
	}
	h := p.handle
	p.mu.Unlock()

	switch {
	case prev != StateDown && h.State == StateDown:
		p.logger.LogAttrs(ctx, slog.LevelError, "dependency: unhealthy",
			p.logAttrs(slog.String("status", string(h.Status)), slog.String("error", h.LastError))...)
	case prev == StateDown && h.State == StateUp:
		p.logger.LogAttrs(ctx, slog.LevelInfo, "dependency: recovered", p.logAttrs()...)
	case prev == StateUnknown && h.State == StateUp:
		p.logger.LogAttrs(ctx, slog.LevelInfo, "dependency: connected", p.logAttrs()...)
	}

	if p.observer != nil {
		p.observer.ObserveCheck(h)
	}
}

func (p *Probe) logAttrs(extra ...slog.Attr) []slog.Attr {
	return append([]slog.Attr{
		slog.String("dependency", p.name),
		slog.String("type", string(p.connector.Kind())),
	}, extra...)
}

// categoryOf extracts the status category carried by ConnectError / ProbeError.
// For a joined probe+connect error the connect category wins.
func categoryOf(err error) StatusCategory {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Category
	}
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return Classify(err)
}
