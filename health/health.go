// Package health aggregates dependency state into a single process verdict.
//
// A Registry holds no state of its own: every Snapshot is derived from the
// registered sources at the time of the call and never triggers a check.
package health

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/BigKAA/svcpulse/probe"
)

// Source is a read-only view of one dependency. *probe.Probe implements it.
type Source interface {
	Name() string
	Handle() probe.Handle
}

// Overall is the aggregated process health.
type Overall int

const (
	Healthy Overall = iota
	Degraded
)

func (o Overall) String() string {
	if o == Healthy {
		return "healthy"
	}
	return "degraded"
}

// MarshalText implements encoding.TextMarshaler.
func (o Overall) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Snapshot is a point-in-time view of all registered dependencies.
type Snapshot struct {
	Overall Overall
	// Dependencies maps each name to Up or Down. A dependency that has not
	// completed a check yet is reported as Down.
	Dependencies map[string]probe.State
	// Details holds the raw handle of each dependency.
	Details map[string]probe.Handle
	TakenAt time.Time
}

// Healthy reports whether every dependency is up.
func (s Snapshot) Healthy() bool { return s.Overall == Healthy }

// Names returns the dependency names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.Dependencies))
	for name := range s.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Down returns the sorted names of dependencies that are not up.
func (s Snapshot) Down() []string {
	var down []string
	for _, name := range s.Names() {
		if s.Dependencies[name] != probe.StateUp {
			down = append(down, name)
		}
	}
	return down
}

// MarshalJSON writes {"overall":..., "dependencies":{name:"up"|"down"}, "taken_at":...}.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Overall      Overall                `json:"overall"`
		Dependencies map[string]probe.State `json:"dependencies"`
		TakenAt      time.Time              `json:"taken_at"`
	}{s.Overall, s.Dependencies, s.TakenAt.UTC()})
}

// Registry aggregates registered sources.
type Registry struct {
	clock clockwork.Clock

	mu      sync.RWMutex
	sources []Source
	names   map[string]struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the clock stamping snapshots.
func WithClock(c clockwork.Clock) Option {
	return func(r *Registry) {
		r.clock = c
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		clock: clockwork.NewRealClock(),
		names: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a source. Names must be unique.
func (r *Registry) Register(s Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if _, ok := r.names[name]; ok {
		return fmt.Errorf("%w: %q", probe.ErrDuplicateDependency, name)
	}
	r.names[name] = struct{}{}
	r.sources = append(r.sources, s)
	return nil
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// Snapshot derives the current health. It is safe to call concurrently with
// probes updating their state, and never fails.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	sources := make([]Source, len(r.sources))
	copy(sources, r.sources)
	r.mu.RUnlock()

	snap := Snapshot{
		Overall:      Healthy,
		Dependencies: make(map[string]probe.State, len(sources)),
		Details:      make(map[string]probe.Handle, len(sources)),
		TakenAt:      r.clock.Now(),
	}
	for _, s := range sources {
		h := s.Handle()
		state := h.State
		if state != probe.StateUp {
			state = probe.StateDown
			snap.Overall = Degraded
		}
		snap.Dependencies[s.Name()] = state
		snap.Details[s.Name()] = h
	}
	return snap
}
