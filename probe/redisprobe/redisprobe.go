// Package redisprobe provides the cache store connector for probe, and a
// Cache that writes through whatever connection the probe currently holds.
package redisprobe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BigKAA/svcpulse/probe"
)

// ErrCacheUnavailable is returned by Cache when the probe has no live connection.
var ErrCacheUnavailable = errors.New("cache unavailable")

const (
	clientTimeout    = 3 * time.Second
	networkTestTTL   = 60 * time.Second
	networkTestValue = "test_value"
)

// Connector opens go-redis clients.
type Connector struct {
	opts redis.Options
}

// New creates a connector for host:port.
func New(addr, password string, db int) *Connector {
	return &Connector{opts: redis.Options{Addr: addr, Password: password, DB: db}}
}

// FromURL creates a connector from a redis:// or rediss:// URL.
func FromURL(rawURL string) (*Connector, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Connector{opts: *opts}, nil
}

// Addr returns the configured address.
func (c *Connector) Addr() string { return c.opts.Addr }

// Kind implements probe.Connector.
func (c *Connector) Kind() probe.Kind { return probe.KindRedis }

// Connect creates a client and issues PING.
func (c *Connector) Connect(ctx context.Context) (probe.Conn, error) {
	opts := c.opts
	opts.MaxRetries = -1 // single attempt; the probe owns reconnects
	opts.DialTimeout = clientTimeout
	opts.ReadTimeout = clientTimeout
	opts.WriteTimeout = clientTimeout

	client := redis.NewClient(&opts)
	conn := &Conn{client: client}
	if err := conn.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return conn, nil
}

// Conn is a live cache client.
type Conn struct {
	client *redis.Client
}

// Client returns the underlying client.
func (c *Conn) Client() *redis.Client { return c.client }

// Ping issues PING.
func (c *Conn) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return classifyError(err, c.client.Options().Addr)
	}
	return nil
}

// Close closes the client.
func (c *Conn) Close() error { return c.client.Close() }

// Set writes key with an expiry.
func (c *Conn) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Describe writes a short-lived test key, reads it back and reports the
// server version when INFO is available.
func (c *Conn) Describe(ctx context.Context) (map[string]any, error) {
	key := "network_test_" + strconv.FormatInt(time.Now().Unix(), 10)
	if err := c.client.Set(ctx, key, networkTestValue, networkTestTTL).Err(); err != nil {
		return nil, classifyError(err, c.client.Options().Addr)
	}
	got, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return nil, classifyError(err, c.client.Options().Addr)
	}

	info := map[string]any{
		"status":          "connected",
		"test_successful": got == networkTestValue,
	}
	if raw, err := c.client.Info(ctx, "server").Result(); err == nil {
		if v := infoField(raw, "redis_version"); v != "" {
			info["version"] = v
		}
	}
	return info, nil
}

// infoField extracts one "key:value" line from an INFO reply.
func infoField(raw, field string) string {
	for _, line := range strings.Split(raw, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), ":")
		if ok && k == field {
			return v
		}
	}
	return ""
}

// classifyError marks NOAUTH/WRONGPASS replies as auth errors. Network
// failures are left to probe.Classify.
func classifyError(err error, addr string) error {
	msg := err.Error()
	if strings.Contains(msg, "NOAUTH") || strings.Contains(msg, "WRONGPASS") {
		return &probe.ClassifiedCheckError{
			Category: probe.StatusAuthError,
			Cause:    fmt.Errorf("redis %s: %w", addr, err),
		}
	}
	return fmt.Errorf("redis ping %s: %w", addr, err)
}

// Cache writes results through the connection held by a cache probe. It
// never opens connections itself.
type Cache struct {
	probe *probe.Probe
}

// NewCache creates a Cache over p.
func NewCache(p *probe.Probe) *Cache {
	return &Cache{probe: p}
}

// Set writes key with an expiry, or returns ErrCacheUnavailable when the
// probe is down.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	conn, ok := c.probe.Conn().(*Conn)
	if !ok || c.probe.Handle().State != probe.StateUp {
		return ErrCacheUnavailable
	}
	if err := conn.Set(ctx, key, value, ttl); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
	}
	return nil
}
