package probe

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates that a connect or check exceeded its deadline.
	ErrTimeout = errors.New("probe timeout")
	// ErrConnectionRefused indicates that the dependency refused the connection.
	ErrConnectionRefused = errors.New("connection refused")
	// ErrUnhealthy indicates that the dependency answered but reported itself unusable.
	ErrUnhealthy = errors.New("dependency unhealthy")
	// ErrNotConnected is returned by operations that need a live connection.
	ErrNotConnected = errors.New("not connected")
)

// StatusCategory classifies the outcome of a connect or check.
type StatusCategory string

const (
	StatusOK              StatusCategory = "ok"
	StatusTimeout         StatusCategory = "timeout"
	StatusConnectionError StatusCategory = "connection_error"
	StatusDNSError        StatusCategory = "dns_error"
	StatusAuthError       StatusCategory = "auth_error"
	StatusTLSError        StatusCategory = "tls_error"
	StatusUnhealthy       StatusCategory = "unhealthy"
	StatusConfigError     StatusCategory = "config_error"
	StatusError           StatusCategory = "error"
	// StatusUnknown is reported before the first check completes.
	StatusUnknown StatusCategory = "unknown"
)

// ClassifiedError is implemented by errors that know their own status category.
// Connectors return them to override the generic classification.
type ClassifiedError interface {
	error
	StatusCategory() StatusCategory
}

// ClassifiedCheckError is a concrete ClassifiedError.
type ClassifiedCheckError struct {
	Category StatusCategory
	Cause    error
}

func (e *ClassifiedCheckError) Error() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return string(e.Category)
}

func (e *ClassifiedCheckError) Unwrap() error { return e.Cause }

// StatusCategory returns the category of this error.
func (e *ClassifiedCheckError) StatusCategory() StatusCategory { return e.Category }

// ConnectError reports that a connection to a dependency could not be opened.
type ConnectError struct {
	Dependency string
	Category   StatusCategory
	Cause      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Dependency, e.Cause)
}

func (e *ConnectError) Unwrap() error { return e.Cause }

// ProbeError reports that a liveness check failed on an established connection.
type ProbeError struct {
	Dependency string
	Category   StatusCategory
	Cause      error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Dependency, e.Cause)
}

func (e *ProbeError) Unwrap() error { return e.Cause }
