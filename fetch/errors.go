package fetch

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNetwork matches every transport-level failure and non-2xx status
	ErrNetwork = errors.New("network error")
	// ErrTimeout matches failures caused by a deadline. It is a subtype of
	// ErrNetwork: anything matching ErrTimeout also matches ErrNetwork.
	ErrTimeout = errors.New("request timed out")

	ErrTooManyRedirects = errors.New("too many redirects")
)

// Error wraps a failed request
type Error struct {
	Method  string
	URL     string
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	kind := "failed"
	if e.Timeout {
		kind = "timed out"
	}
	return fmt.Sprintf("%s %s %s: %v", e.Method, e.URL, kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes every *Error match ErrNetwork, and timeouts match ErrTimeout
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return true
	case ErrTimeout:
		return e.Timeout
	}
	return false
}

// StatusError is returned by callers that require a 2xx response
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrNetwork
}

// isTimeoutError checks if an error is a timeout error
func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return false
}
