package grpchealth

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/BigKAA/svcpulse/health"
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

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func check(t *testing.T, b *Bridge, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := b.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		t.Fatalf("Check(%q): %v", service, err)
	}
	return resp.GetStatus()
}

func TestBridge_Sync(t *testing.T) {
	db := &fakeSource{name: "database", st: probe.StateUp}
	cache := &fakeSource{name: "cache", st: probe.StateUp}
	reg := health.NewRegistry()
	_ = reg.Register(db)
	_ = reg.Register(cache)

	b := New(reg, WithLogger(discardLogger))
	if got := check(t, b, ""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("overall = %s, expected SERVING", got)
	}

	cache.set(probe.StateDown)
	b.Sync()
	if got := check(t, b, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("overall = %s, expected NOT_SERVING", got)
	}
	if got := check(t, b, "cache"); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("cache = %s, expected NOT_SERVING", got)
	}
	if got := check(t, b, "database"); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("database = %s, expected SERVING", got)
	}
}

func TestBridge_UnknownService(t *testing.T) {
	b := New(health.NewRegistry(), WithLogger(discardLogger))
	_, err := b.Server().Check(context.Background(), &healthpb.HealthCheckRequest{Service: "nope"})
	if status.Code(err) != codes.NotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestBridge_Run(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cache := &fakeSource{name: "cache", st: probe.StateUp}
	reg := health.NewRegistry()
	_ = reg.Register(cache)

	clock := clockwork.NewFakeClock()
	b := New(reg, WithClock(clock), WithLogger(discardLogger))

	done := make(chan struct{})
	go func() {
		b.Run(ctx, time.Second)
		close(done)
	}()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}

	cache.set(probe.StateDown)
	clock.Advance(time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for check(t, b, "cache") != healthpb.HealthCheckResponse_NOT_SERVING {
		if time.Now().After(deadline) {
			t.Fatal("cache was not marked NOT_SERVING after a tick")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestBridge_Shutdown(t *testing.T) {
	cache := &fakeSource{name: "cache", st: probe.StateUp}
	reg := health.NewRegistry()
	_ = reg.Register(cache)

	b := New(reg, WithLogger(discardLogger))
	b.Shutdown()

	for _, svc := range []string{"", "cache"} {
		if got := check(t, b, svc); got != healthpb.HealthCheckResponse_NOT_SERVING {
			t.Errorf("%q = %s after shutdown, expected NOT_SERVING", svc, got)
		}
	}
	b.Sync()
	if got := check(t, b, ""); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("Sync after shutdown must not resurrect SERVING, got %s", got)
	}
}
