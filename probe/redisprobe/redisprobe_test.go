package redisprobe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/BigKAA/svcpulse/probe"
)

func TestConnector_Connect(t *testing.T) {
	mr := miniredis.RunT(t)

	c := New(mr.Addr(), "", 0)
	conn, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestConnector_FromURL(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := FromURL("redis://" + mr.Addr() + "/2")
	if err != nil {
		t.Fatalf("FromURL: %v", err)
	}
	if c.opts.DB != 2 || c.Addr() != mr.Addr() {
		t.Errorf("unexpected options: addr=%s db=%d", c.Addr(), c.opts.DB)
	}
	if _, err := FromURL("http://nope"); err == nil {
		t.Error("expected error for non-redis scheme")
	}
}

func TestConnector_Auth(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("secret")

	for _, password := range []string{"", "wrong"} {
		_, err := New(mr.Addr(), password, 0).Connect(context.Background())
		if got := probe.Classify(err); got != probe.StatusAuthError {
			t.Errorf("password %q: category = %s, expected auth_error (err=%v)", password, got, err)
		}
	}

	conn, err := New(mr.Addr(), "secret", 0).Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect with password: %v", err)
	}
	_ = conn.Close()
}

func TestConnector_ConnectionRefused(t *testing.T) {
	_, err := New("127.0.0.1:1", "", 0).Connect(context.Background())
	if err == nil {
		t.Fatal("expected error for closed port, got nil")
	}
	if got := probe.Classify(err); got != probe.StatusConnectionError {
		t.Errorf("category = %s, expected connection_error", got)
	}
}

func TestConn_Describe(t *testing.T) {
	mr := miniredis.RunT(t)

	conn, err := New(mr.Addr(), "", 0).Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = conn.Close() }()

	info, err := conn.(*Conn).Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if info["status"] != "connected" || info["test_successful"] != true {
		t.Errorf("unexpected diagnostics: %v", info)
	}

	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("keys = %v, expected one network test key", keys)
	}
	if ttl := mr.TTL(keys[0]); ttl != networkTestTTL {
		t.Errorf("ttl = %s, expected %s", ttl, networkTestTTL)
	}
}

func TestInfoField(t *testing.T) {
	raw := "# Server\r\nredis_version:7.2.4\r\nredis_mode:standalone\r\n"
	if got := infoField(raw, "redis_version"); got != "7.2.4" {
		t.Errorf("infoField = %q, expected 7.2.4", got)
	}
	if got := infoField(raw, "missing"); got != "" {
		t.Errorf("infoField = %q, expected empty", got)
	}
}

func TestCache_Set(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p, err := probe.New("cache", New(mr.Addr(), "", 0), probe.WithLogger(logger))
	if err != nil {
		t.Fatalf("probe.New: %v", err)
	}
	defer func() { _ = p.Close() }()
	cache := NewCache(p)

	if err := cache.Set(context.Background(), "k", "v", time.Minute); !errors.Is(err, ErrCacheUnavailable) {
		t.Fatalf("Set before connect: expected ErrCacheUnavailable, got %v", err)
	}

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := cache.Set(context.Background(), "load_test_1", "42", 5*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := mr.Get("load_test_1"); got != "42" {
		t.Errorf("stored value = %q, expected 42", got)
	}
	if ttl := mr.TTL("load_test_1"); ttl != 5*time.Minute {
		t.Errorf("ttl = %s, expected 5m", ttl)
	}
}
