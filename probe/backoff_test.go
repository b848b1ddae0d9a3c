package probe

import (
	"testing"
	"time"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{100, time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %s, expected %s", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoff_Defaults(t *testing.T) {
	var b Backoff
	if got := b.Delay(1); got != DefaultBackoffInitial {
		t.Errorf("Delay(1) = %s, expected %s", got, DefaultBackoffInitial)
	}
	if got := b.Delay(50); got != DefaultBackoffMax {
		t.Errorf("Delay(50) = %s, expected %s", got, DefaultBackoffMax)
	}
}

func TestBackoff_Jitter(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 10 * time.Second, Jitter: true}
	for i := 0; i < 50; i++ {
		got := b.Delay(1)
		if got < time.Second || got >= time.Second+250*time.Millisecond {
			t.Fatalf("Delay(1) with jitter = %s, expected [1s, 1.25s)", got)
		}
	}
}
