package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/BigKAA/svcpulse/probe"
)

// dependenciesDoc is the body of GET /health/dependencies.
type dependenciesDoc struct {
	Dependencies map[string]probe.Handle `json:"dependencies"`
}

// runCheck queries a running instance, prints one line per dependency and
// reports whether every dependency is up. It backs container health checks.
func runCheck(ctx context.Context, client *http.Client, baseURL string, w io.Writer) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health/dependencies", nil)
	if err != nil {
		return false, fmt.Errorf("check: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("check: unexpected status %d", resp.StatusCode)
	}
	var doc dependenciesDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return false, fmt.Errorf("check: decode: %w", err)
	}

	names := make([]string, 0, len(doc.Dependencies))
	for name := range doc.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	healthy := true
	for _, name := range names {
		h := doc.Dependencies[name]
		if h.State != probe.StateUp {
			healthy = false
		}
		line := fmt.Sprintf("%-10s %-8s %-5s %-16s %.1fms", name, h.Kind, h.State, h.Status, float64(h.Latency.Microseconds())/1000)
		if h.LastError != "" {
			line += " " + h.LastError
		}
		fmt.Fprintln(w, line)
	}
	return healthy, nil
}
