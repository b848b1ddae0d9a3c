// Package tcpprobe checks raw TCP reachability of an address.
package tcpprobe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/BigKAA/svcpulse/probe"
)

// Reachability outcomes.
const (
	StatusConnected = "connected"
	StatusFailed    = "failed"
)

// Result is the outcome of one reachability check.
type Result struct {
	Status    string               `json:"status"`
	Target    string               `json:"target"`
	LatencyMs float64              `json:"latency_ms"`
	Category  probe.StatusCategory `json:"category"`
	Error     string               `json:"error,omitempty"`
}

// Connected reports whether the dial succeeded.
func (r Result) Connected() bool { return r.Status == StatusConnected }

// Reach dials addr and immediately closes the connection. No data is sent
// or received.
func Reach(ctx context.Context, addr string, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	r := Result{
		Target:    addr,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
		Category:  probe.Classify(err),
	}
	if err != nil {
		r.Status = StatusFailed
		r.Error = fmt.Sprintf("tcp dial %s: %v", addr, err)
		return r
	}
	_ = conn.Close()
	r.Status = StatusConnected
	return r
}
