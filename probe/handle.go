package probe

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the liveness of a dependency as seen by its own last check.
type State int

const (
	StateUnknown State = iota
	StateUp
	StateDown
)

func (s State) String() string {
	switch s {
	case StateUp:
		return "up"
	case StateDown:
		return "down"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "up":
		*s = StateUp
	case "down":
		*s = StateDown
	case "unknown":
		*s = StateUnknown
	default:
		return fmt.Errorf("unknown state %q", b)
	}
	return nil
}

// Handle is a read-only copy of one dependency's probe state.
type Handle struct {
	Name        string
	Kind        Kind
	Required    bool
	State       State
	Status      StatusCategory
	Latency     time.Duration
	LastChecked time.Time
	LastError   string
}

// handleJSON is the JSON representation of Handle.
type handleJSON struct {
	Name        string         `json:"name"`
	Kind        Kind           `json:"type"`
	Required    bool           `json:"required"`
	State       State          `json:"state"`
	Status      StatusCategory `json:"status"`
	LatencyMs   float64        `json:"latency_ms"`
	LastChecked *time.Time     `json:"last_checked"`
	LastError   *string        `json:"last_error"`
}

// MarshalJSON writes latency as latency_ms, and last_checked / last_error as
// null when absent.
func (h Handle) MarshalJSON() ([]byte, error) {
	j := handleJSON{
		Name:      h.Name,
		Kind:      h.Kind,
		Required:  h.Required,
		State:     h.State,
		Status:    h.Status,
		LatencyMs: float64(h.Latency.Nanoseconds()) / 1e6,
	}
	if !h.LastChecked.IsZero() {
		t := h.LastChecked.UTC()
		j.LastChecked = &t
	}
	if h.LastError != "" {
		e := h.LastError
		j.LastError = &e
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *Handle) UnmarshalJSON(data []byte) error {
	var j handleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*h = Handle{
		Name:     j.Name,
		Kind:     j.Kind,
		Required: j.Required,
		State:    j.State,
		Status:   j.Status,
		Latency:  time.Duration(j.LatencyMs * 1e6),
	}
	if j.LastChecked != nil {
		h.LastChecked = *j.LastChecked
	}
	if j.LastError != nil {
		h.LastError = *j.LastError
	}
	return nil
}
