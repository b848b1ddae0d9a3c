package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// defaultPorts per URL scheme.
var defaultPorts = map[string]string{
	"postgres":   "5432",
	"postgresql": "5432",
	"mysql":      "3306",
	"redis":      "6379",
	"rediss":     "6379",
	"amqp":       "5672",
	"amqps":      "5671",
	"kafka":      "9092",
}

// Endpoint is one host:port target.
type Endpoint struct {
	Host string
	Port string
}

// Addr returns host:port.
func (e Endpoint) Addr() string { return net.JoinHostPort(e.Host, e.Port) }

// parseURL parses a connection URL restricted to the given schemes and
// returns its endpoints. The host part may list several comma separated
// hosts (kafka://broker-0:9092,broker-1:9092).
func parseURL(rawURL string, schemes ...string) ([]Endpoint, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("empty URL")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		return nil, fmt.Errorf("missing scheme")
	}
	allowed := false
	for _, s := range schemes {
		if s == scheme {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("unsupported URL scheme %q, expected one of %s", scheme, strings.Join(schemes, ", "))
	}

	if strings.Contains(u.Host, ",") {
		return parseHostList(u.Host, defaultPorts[scheme])
	}
	host, port, err := extractHostPort(u.Host, defaultPorts[scheme])
	if err != nil {
		return nil, err
	}
	return []Endpoint{{Host: host, Port: port}}, nil
}

// parseHostList handles comma-separated host:port pairs.
func parseHostList(list, defaultPort string) ([]Endpoint, error) {
	parts := strings.Split(list, ",")
	out := make([]Endpoint, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		host, port, err := extractHostPort(part, defaultPort)
		if err != nil {
			return nil, fmt.Errorf("invalid host %q: %w", part, err)
		}
		out = append(out, Endpoint{Host: host, Port: port})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no hosts found in %q", list)
	}
	return out, nil
}

// extractHostPort splits a host:port string, applying default port if missing.
// Handles IPv6 addresses in brackets: [::1]:5432 gives host=::1, port=5432.
func extractHostPort(hostPort, defaultPort string) (string, string, error) {
	host, port, err := net.SplitHostPort(hostPort)
	if err != nil {
		host = hostPort
		port = defaultPort
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
	}
	if host == "" {
		return "", "", fmt.Errorf("empty host")
	}
	if port == "" {
		port = defaultPort
	}
	if err := validatePort(port); err != nil {
		return "", "", err
	}
	return host, port, nil
}

// validatePort checks that port is a valid number in 1-65535.
func validatePort(port string) error {
	p, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port %q: not a number", port)
	}
	if p < 1 || p > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", p)
	}
	return nil
}

// redactURL hides the password of a URL. Unparseable input is hidden entirely.
func redactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return "***"
	}
	return u.Redacted()
}
