package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// ErrorKind separates errors worth retrying from permanent ones.
type ErrorKind string

const (
	ErrorTransient ErrorKind = "transient"
	ErrorFatal     ErrorKind = "fatal"
)

// GatewayError is returned by every Gateway implementation.
type GatewayError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s gateway error (%s, status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s gateway error (%s): %v", e.Provider, e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Transient reports whether the call may succeed if retried.
func (e *GatewayError) Transient() bool {
	return e.Kind == ErrorTransient
}

// IsTransient reports whether err is a transient GatewayError.
func IsTransient(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Transient()
}

// Fatal wraps err as a non-retryable GatewayError.
func Fatal(provider string, err error) *GatewayError {
	return &GatewayError{Kind: ErrorFatal, Provider: provider, Err: err}
}

// Transient wraps err as a retryable GatewayError.
func Transient(provider string, err error) *GatewayError {
	return &GatewayError{Kind: ErrorTransient, Provider: provider, Err: err}
}

// Classify converts a provider error into a GatewayError. statusCode is the
// HTTP status extracted by the provider, or 0 when there was no response.
func Classify(provider string, statusCode int, err error) *GatewayError {
	if err == nil {
		return nil
	}

	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}

	kind := ErrorFatal
	switch {
	case statusCode != 0:
		if retryableStatus(statusCode) {
			kind = ErrorTransient
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// the caller's budget is gone; retrying cannot help
	case isNetworkError(err):
		kind = ErrorTransient
	}

	return &GatewayError{Kind: kind, Provider: provider, StatusCode: statusCode, Err: err}
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	}
	// 529 is Anthropic's "overloaded"
	return code >= 500
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection reset", "connection refused", "broken pipe", "rate limit", "timeout"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
