package kafkaprobe

import (
	"context"
	"testing"
	"time"

	"github.com/BigKAA/svcpulse/probe"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error for empty broker list")
	}
	if _, err := New([]string{"localhost"}); err == nil {
		t.Error("expected error for broker without port")
	}
	c, err := New([]string{"localhost:9092", "localhost:9093"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Kind() != probe.KindKafka || len(c.Brokers()) != 2 {
		t.Errorf("unexpected connector: %+v", c)
	}
}

func TestConnector_ConnectionRefused(t *testing.T) {
	c, err := New([]string{"127.0.0.1:1", "127.0.0.1:2"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err = c.Connect(ctx)
	if err == nil {
		t.Fatal("expected error for closed ports, got nil")
	}
	if got := probe.Classify(err); got != probe.StatusConnectionError {
		t.Errorf("category = %s, expected connection_error (err=%v)", got, err)
	}
}
