package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	_, configErr := Unavailable(KindRedis, errors.New("bad port")).Connect(context.Background())

	tests := []struct {
		name string
		err  error
		want StatusCategory
	}{
		{"nil", nil, StatusOK},
		{"classified", &ClassifiedCheckError{Category: StatusAuthError, Cause: errors.New("WRONGPASS")}, StatusAuthError},
		{"wrapped classified", fmt.Errorf("check: %w", &ClassifiedCheckError{Category: StatusUnhealthy}), StatusUnhealthy},
		{"classified beats deadline", &ClassifiedCheckError{Category: StatusAuthError, Cause: context.DeadlineExceeded}, StatusAuthError},
		{"sentinel timeout", ErrTimeout, StatusTimeout},
		{"sentinel refused", fmt.Errorf("postgres: %w", ErrConnectionRefused), StatusConnectionError},
		{"sentinel unhealthy", ErrUnhealthy, StatusUnhealthy},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), StatusTimeout},
		{"dns", &net.DNSError{Err: "no such host", Name: "cache.svc"}, StatusDNSError},
		{"op refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, StatusConnectionError},
		{"tls message", errors.New("tls: failed to verify certificate"), StatusTLSError},
		{"x509 message", errors.New("x509: certificate signed by unknown authority"), StatusTLSError},
		{"refused message", errors.New("dial tcp 127.0.0.1:1: connection refused"), StatusConnectionError},
		{"config", configErr, StatusConfigError},
		{"fallback", errors.New("something odd"), StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, expected %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestConnectError_Unwrap(t *testing.T) {
	cause := &net.DNSError{Err: "no such host", Name: "db"}
	err := fmt.Errorf("startup: %w", &ConnectError{Dependency: "database", Category: StatusDNSError, Cause: cause})

	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatal("expected ConnectError in chain")
	}
	if ce.Dependency != "database" {
		t.Errorf("dependency = %q", ce.Dependency)
	}
	var dnsErr *net.DNSError
	if !errors.As(err, &dnsErr) {
		t.Error("expected the cause to be reachable through Unwrap")
	}
}
