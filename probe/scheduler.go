package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Sentinel errors for the scheduler.
var (
	ErrAlreadyStarted      = errors.New("scheduler already started")
	ErrDuplicateDependency = errors.New("duplicate dependency")
)

// DefaultCheckInterval is the default probe cadence.
const DefaultCheckInterval = 10 * time.Second

// Scheduler runs the check cadence of every registered probe, each in its own
// goroutine. A probe that is down is retried sooner, with delays growing by
// the backoff policy up to the check interval, so a snapshot is never staler
// than one interval.
type Scheduler struct {
	probes   []*Probe
	interval time.Duration
	backoff  Backoff
	clock    clockwork.Clock
	logger   *slog.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
	mu      sync.Mutex
}

// SchedulerOption is a functional option for Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the check interval. Default DefaultCheckInterval.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.interval = d
	}
}

// WithBackoff sets the reconnect backoff for down dependencies.
func WithBackoff(b Backoff) SchedulerOption {
	return func(s *Scheduler) {
		s.backoff = b
	}
}

// WithSchedulerClock sets the clock driving the cadence.
func WithSchedulerClock(c clockwork.Clock) SchedulerOption {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithSchedulerLogger sets the logger for the scheduler.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// NewScheduler creates a new scheduler.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		interval: DefaultCheckInterval,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.backoff.Max <= 0 || s.backoff.Max > s.interval {
		s.backoff.Max = s.interval
	}
	return s
}

// Add registers a probe. Must be called before Start.
func (s *Scheduler) Add(p *Probe) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	for _, existing := range s.probes {
		if existing.Name() == p.Name() {
			return fmt.Errorf("%w: %q", ErrDuplicateDependency, p.Name())
		}
	}
	s.probes = append(s.probes, p)
	return nil
}

// Probes returns the registered probes in registration order.
func (s *Scheduler) Probes() []*Probe {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Probe, len(s.probes))
	copy(out, s.probes)
	return out
}

// Start launches the check loops. Calling Start more than once returns an error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, p := range s.probes {
		s.wg.Add(1)
		go s.runLoop(ctx, p)
	}
	s.logger.Info("dependency: scheduler started",
		"dependencies", len(s.probes),
		"interval", s.interval,
	)
	return nil
}

// Stop cancels all check loops and waits for them to finish.
// Repeated calls are no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped || !s.started {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// runLoop is the main check loop for a single probe.
func (s *Scheduler) runLoop(ctx context.Context, p *Probe) {
	defer s.wg.Done()

	state := p.Check(ctx)
	failures := 0

	for {
		delay := s.interval
		if state == StateDown {
			failures++
			delay = s.backoff.Delay(failures)
			if delay > s.interval {
				delay = s.interval
			}
		} else {
			failures = 0
		}

		timer := s.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		if ctx.Err() != nil {
			return
		}
		state = p.Check(ctx)
	}
}
