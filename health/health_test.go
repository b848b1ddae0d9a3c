package health

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/BigKAA/svcpulse/probe"
)

type fakeSource struct {
	name string
	mu   sync.Mutex
	st   probe.State
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Handle() probe.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return probe.Handle{Name: f.name, State: f.st}
}

func (f *fakeSource) set(s probe.State) {
	f.mu.Lock()
	f.st = s
	f.mu.Unlock()
}

func TestRegistry_Empty(t *testing.T) {
	snap := NewRegistry().Snapshot()
	if !snap.Healthy() {
		t.Errorf("empty registry should be healthy, got %s", snap.Overall)
	}
	if len(snap.Dependencies) != 0 {
		t.Errorf("expected no dependencies, got %v", snap.Dependencies)
	}
}

func TestRegistry_Aggregation(t *testing.T) {
	tests := []struct {
		name   string
		states map[string]probe.State
		want   Overall
	}{
		{"all up", map[string]probe.State{"database": probe.StateUp, "cache": probe.StateUp}, Healthy},
		{"one down", map[string]probe.State{"database": probe.StateUp, "cache": probe.StateDown}, Degraded},
		{"unknown counts as down", map[string]probe.State{"database": probe.StateUp, "cache": probe.StateUnknown}, Degraded},
		{"all down", map[string]probe.State{"database": probe.StateDown, "cache": probe.StateDown}, Degraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			for name, st := range tt.states {
				if err := r.Register(&fakeSource{name: name, st: st}); err != nil {
					t.Fatalf("Register: %v", err)
				}
			}
			snap := r.Snapshot()
			if snap.Overall != tt.want {
				t.Errorf("overall = %s, expected %s", snap.Overall, tt.want)
			}
			for name, st := range tt.states {
				want := st
				if want == probe.StateUnknown {
					want = probe.StateDown
				}
				if got := snap.Dependencies[name]; got != want {
					t.Errorf("%s = %s, expected %s", name, got, want)
				}
				if got := snap.Details[name].State; got != st {
					t.Errorf("%s detail = %s, expected raw state %s", name, got, st)
				}
			}
		})
	}
}

func TestRegistry_FlipFlop(t *testing.T) {
	db := &fakeSource{name: "database", st: probe.StateUp}
	cache := &fakeSource{name: "cache", st: probe.StateUp}
	r := NewRegistry()
	_ = r.Register(db)
	_ = r.Register(cache)

	if !r.Snapshot().Healthy() {
		t.Fatal("expected healthy")
	}
	cache.set(probe.StateDown)
	snap := r.Snapshot()
	if snap.Healthy() {
		t.Fatal("expected degraded after cache went down")
	}
	if down := snap.Down(); len(down) != 1 || down[0] != "cache" {
		t.Errorf("down = %v, expected [cache]", down)
	}
	cache.set(probe.StateUp)
	if !r.Snapshot().Healthy() {
		t.Error("expected healthy after recovery")
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&fakeSource{name: "cache"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := r.Register(&fakeSource{name: "cache"})
	if !errors.Is(err, probe.ErrDuplicateDependency) {
		t.Errorf("expected ErrDuplicateDependency, got %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("len = %d, expected 1", r.Len())
	}
}

func TestRegistry_ConcurrentSnapshot(t *testing.T) {
	src := &fakeSource{name: "cache", st: probe.StateUp}
	r := NewRegistry()
	_ = r.Register(src)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				src.set(probe.StateDown)
			} else {
				src.set(probe.StateUp)
			}
		}(i)
		go func() {
			defer wg.Done()
			_ = r.Snapshot()
		}()
	}
	wg.Wait()
}

func TestSnapshot_MarshalJSON(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC))
	r := NewRegistry(WithClock(clock))
	_ = r.Register(&fakeSource{name: "database", st: probe.StateUp})
	_ = r.Register(&fakeSource{name: "cache", st: probe.StateDown})

	data, err := json.Marshal(r.Snapshot())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"overall":"degraded","dependencies":{"cache":"down","database":"up"},"taken_at":"2024-05-06T07:08:09Z"}`
	if strings.TrimSpace(string(data)) != want {
		t.Errorf("JSON = %s\nexpected %s", data, want)
	}
}
