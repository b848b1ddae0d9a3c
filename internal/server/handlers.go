package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"runtime"

	"github.com/BigKAA/svcpulse/probe"
	"github.com/BigKAA/svcpulse/tasks"
)

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service":   s.info.Service,
		"version":   s.info.Version,
		"status":    "running",
		"timestamp": s.now(),
		"endpoints": []string{
			"/health",
			"/health/dependencies",
			"/metrics",
			"/api/metrics",
			"/network-info",
			"/api/network-test",
			"/api/external-check",
			"/api/simulate-load",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.health.Snapshot()

	services := make(map[string]string, len(snap.Dependencies))
	for name, st := range snap.Dependencies {
		services[name] = st.String()
	}

	code := http.StatusOK
	if !snap.Healthy() {
		code = s.degradedStatus
	}
	s.writeJSON(w, code, map[string]any{
		"status":         snap.Overall.String(),
		"timestamp":      s.now(),
		"start_time":     s.info.StartTime.UTC(),
		"uptime_seconds": s.uptime(),
		"service":        s.info.Service,
		"version":        s.info.Version,
		"go_version":     runtime.Version(),
		"services":       services,
		"dependencies":   snap.Details,
	})
}

func (s *Server) handleDependencies(w http.ResponseWriter, _ *http.Request) {
	snap := s.health.Snapshot()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"timestamp":    s.now(),
		"dependencies": snap.Details,
	})
}

func (s *Server) handleAPIMetrics(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	snap := s.health.Snapshot()
	deps := make(map[string]bool, len(snap.Dependencies))
	for name, st := range snap.Dependencies {
		deps[name+"_connected"] = st == probe.StateUp
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"application": map[string]any{
			"name":           s.info.Service,
			"version":        s.info.Version,
			"uptime_seconds": s.uptime(),
			"total_requests": s.tracker.TotalRequests(),
			"unique_clients": s.tracker.UniqueClients(),
		},
		"infrastructure": map[string]any{
			"hostname":        hostname(),
			"go_version":      runtime.Version(),
			"memory_usage_mb": float64(mem.Alloc) / (1 << 20),
			"goroutines":      runtime.NumGoroutine(),
		},
		"dependencies": deps,
		"timestamp":    s.now(),
	})
}

func (s *Server) handleNetworkInfo(w http.ResponseWriter, r *http.Request) {
	host := hostname()
	snap := s.health.Snapshot()

	services := make(map[string]string, len(snap.Dependencies))
	for name, st := range snap.Dependencies {
		services[name] = st.String()
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"container": map[string]any{
			"hostname":       host,
			"container_ip":   resolveIP(r.Context(), host),
			"listening_port": s.info.Port,
			"protocol":       "HTTP/1.1",
		},
		"stats": map[string]any{
			"requests_served": s.tracker.TotalRequests(),
			"unique_clients":  s.tracker.UniqueClients(),
			"uptime_seconds":  s.uptime(),
			"services":        services,
		},
		"environment": s.info.Environment,
		"timestamp":   s.now(),
	})
}

func (s *Server) handleNetworkTest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), diagnosticsTimeout)
	defer cancel()

	results := make(map[string]any, len(s.probes)+1)
	for _, p := range s.probes {
		results[p.Name()] = s.diagnose(ctx, p)
	}
	results["external"] = s.reach(ctx, s.externalAddr, s.externalTimeout)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"timestamp": s.now(),
		"tests":     results,
	})
}

// diagnose runs live diagnostics on the probe's current connection.
func (s *Server) diagnose(ctx context.Context, p *probe.Probe) map[string]any {
	conn := p.Conn()
	if conn == nil {
		return map[string]any{"status": "not_connected"}
	}
	d, ok := conn.(probe.Describer)
	if !ok {
		return map[string]any{"status": "connected"}
	}
	details, err := d.Describe(ctx)
	if err != nil {
		s.logger.Warn("http: diagnostics failed", "dependency", p.Name(), "error", err)
		return map[string]any{
			"status":   "error",
			"category": probe.Classify(err),
			"error":    err.Error(),
		}
	}
	out := map[string]any{"status": "connected"}
	for k, v := range details {
		if k == "status" {
			continue
		}
		out[k] = v
	}
	return out
}

func (s *Server) handleExternalCheck(w http.ResponseWriter, r *http.Request) {
	res := s.reach(r.Context(), s.externalAddr, s.externalTimeout)
	code := http.StatusOK
	if !res.Connected() {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, res)
}

func (s *Server) handleSimulateLoad(w http.ResponseWriter, _ *http.Request) {
	if s.tasks == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"message":   "Background tasks disabled",
			"timestamp": s.now(),
			"accepted":  false,
		})
		return
	}

	job := tasks.SimulateLoad(s.loadIterations, s.taskTTL)
	err := s.tasks.Submit(job)

	resp := map[string]any{
		"message":   "Load simulation started",
		"timestamp": s.now(),
		"task_key":  job.Key,
		"accepted":  err == nil,
		"note":      "Result is written to the cache when the task completes",
	}
	switch {
	case err == nil:
	case errors.Is(err, tasks.ErrQueueFull):
		resp["message"] = "Task queue full"
	case errors.Is(err, tasks.ErrRunnerStopped):
		resp["message"] = "Task runner stopped"
	default:
		resp["message"] = "Task rejected"
	}
	if err != nil {
		delete(resp, "note")
		s.logger.Warn("http: simulate-load rejected", "task", job.Key, "error", err)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// resolveIP returns the first address of host, or "unknown".
func resolveIP(ctx context.Context, host string) string {
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		return "unknown"
	}
	return addrs[0]
}
