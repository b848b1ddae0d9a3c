package tcpprobe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/BigKAA/svcpulse/probe"
)

func TestReach_Success(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to start listener: %v", err)
	}
	defer func() { _ = ln.Close() }()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	r := Reach(context.Background(), ln.Addr().String(), time.Second)
	if !r.Connected() {
		t.Fatalf("expected connected, got %+v", r)
	}
	if r.Category != probe.StatusOK || r.Error != "" {
		t.Errorf("unexpected result: %+v", r)
	}
}

func TestReach_ConnectionRefused(t *testing.T) {
	r := Reach(context.Background(), "127.0.0.1:1", time.Second)
	if r.Connected() {
		t.Fatal("expected failure for closed port")
	}
	if r.Category != probe.StatusConnectionError {
		t.Errorf("category = %s, expected connection_error", r.Category)
	}
	if r.Target != "127.0.0.1:1" || r.Error == "" {
		t.Errorf("unexpected result: %+v", r)
	}
}

func TestReach_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if r := Reach(ctx, "127.0.0.1:1", time.Second); r.Connected() {
		t.Error("expected failure for canceled context")
	}
}
