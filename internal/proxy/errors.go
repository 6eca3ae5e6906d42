package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/kelmah/apigateway/internal/apierr"
)

// Sentinel errors for proxy operations.
var (
	// ErrNoTarget indicates a target without a base URL.
	ErrNoTarget = errors.New("no upstream target")

	// ErrCircuitOpen indicates the service breaker rejected the call.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Error records where a proxied request failed.
type Error struct {
	Service string
	Target  string
	State   State
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("proxy %s to %s (%s): %v", e.Service, e.Target, e.State, e.Cause)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Classify maps a transport error to its terminal state and the error
// reported to the caller. Client cancellation yields a nil *apierr.Error
// since nobody is left to answer.
func Classify(err error) (State, *apierr.Error) {
	switch {
	case err == nil:
		return StateResponded, nil
	case errors.Is(err, ErrCircuitOpen):
		return StateCircuitOpen, apierr.ServiceUnavailable(err)
	case isConnRefused(err):
		return StateConnRefused, apierr.ServiceUnavailable(err)
	case isTimeout(err):
		return StateTimedOut, apierr.UpstreamTimeout(err)
	case errors.Is(err, context.Canceled):
		return StateCanceled, nil
	default:
		return StateFailed, apierr.UpstreamFailure(err)
	}
}

func isConnRefused(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
