package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"
	"syscall"
)

// Classify determines the status category of a connect or check outcome.
// The chain is: ClassifiedError, sentinel errors, platform errors, fallback.
func Classify(err error) StatusCategory {
	if err == nil {
		return StatusOK
	}

	var ce ClassifiedError
	if errors.As(err, &ce) {
		return ce.StatusCategory()
	}

	switch {
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrConnectionRefused):
		return StatusConnectionError
	case errors.Is(err, ErrUnhealthy):
		return StatusUnhealthy
	case errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return StatusDNSError
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return StatusConnectionError
		}
		if opErr.Timeout() {
			return StatusTimeout
		}
		return StatusConnectionError
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) || isTLSError(err) {
		return StatusTLSError
	}

	if strings.Contains(err.Error(), "connection refused") {
		return StatusConnectionError
	}

	return StatusError
}

// isTLSError checks if the error message indicates a TLS error.
func isTLSError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "tls:") ||
		strings.Contains(msg, "x509:") ||
		strings.Contains(msg, "certificate")
}
