package probe

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestHandle_MarshalJSON(t *testing.T) {
	h := Handle{
		Name:        "database",
		Kind:        KindPostgres,
		Required:    true,
		State:       StateDown,
		Status:      StatusTimeout,
		Latency:     1500 * time.Microsecond,
		LastChecked: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		LastError:   "connect database: context deadline exceeded",
	}
	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(data)
	for _, want := range []string{
		`"name":"database"`,
		`"type":"postgres"`,
		`"required":true`,
		`"state":"down"`,
		`"status":"timeout"`,
		`"latency_ms":1.5`,
		`"last_checked":"2024-01-02T03:04:05Z"`,
		`"last_error":"connect database: context deadline exceeded"`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("JSON %s missing %s", s, want)
		}
	}

	var back Handle
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != h {
		t.Errorf("round trip = %+v, expected %+v", back, h)
	}
}

func TestHandle_MarshalJSON_Unchecked(t *testing.T) {
	data, err := json.Marshal(Handle{Name: "cache", Kind: KindRedis})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"last_checked":null`) || !strings.Contains(s, `"last_error":null`) {
		t.Errorf("expected null fields for unchecked handle: %s", s)
	}
	if !strings.Contains(s, `"state":"unknown"`) {
		t.Errorf("expected unknown state: %s", s)
	}
}

func TestState_UnmarshalText(t *testing.T) {
	var s State
	if err := s.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("expected error for unknown state")
	}
	if err := s.UnmarshalText([]byte("up")); err != nil || s != StateUp {
		t.Errorf("UnmarshalText(up) = %s, %v", s, err)
	}
}
