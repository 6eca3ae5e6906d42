package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kelmah/apigateway/internal/apierr"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()

	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	notFound := &net.OpError{Op: "dial", Net: "tcp", Err: &net.DNSError{Name: "job-service", IsNotFound: true}}

	tests := []struct {
		name       string
		err        error
		wantState  State
		wantStatus int
		wantCode   apierr.Code
		wantMsg    string
	}{
		{name: "connection refused", err: refused, wantState: StateConnRefused, wantStatus: http.StatusServiceUnavailable, wantCode: apierr.CodeServiceUnavailable, wantMsg: "Service unavailable"},
		{name: "host not found", err: fmt.Errorf("dial: %w", notFound), wantState: StateConnRefused, wantStatus: http.StatusServiceUnavailable, wantCode: apierr.CodeServiceUnavailable, wantMsg: "Service unavailable"},
		{name: "circuit open", err: fmt.Errorf("%w: job", ErrCircuitOpen), wantState: StateCircuitOpen, wantStatus: http.StatusServiceUnavailable, wantCode: apierr.CodeServiceUnavailable, wantMsg: "Service unavailable"},
		{name: "deadline", err: context.DeadlineExceeded, wantState: StateTimedOut, wantStatus: http.StatusInternalServerError, wantCode: apierr.CodeUpstreamTimeout},
		{name: "net timeout", err: &net.OpError{Op: "read", Err: timeoutErr{}}, wantState: StateTimedOut, wantStatus: http.StatusInternalServerError, wantCode: apierr.CodeUpstreamTimeout},
		{name: "other", err: errors.New("connection reset by peer"), wantState: StateFailed, wantStatus: http.StatusInternalServerError, wantCode: apierr.CodeInternalError, wantMsg: "Internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			state, e := Classify(tt.err)
			assert.Equal(t, tt.wantState, state)
			if assert.NotNil(t, e) {
				assert.Equal(t, tt.wantStatus, e.Status)
				assert.Equal(t, tt.wantCode, e.Code)
				assert.Equal(t, apierr.KindUpstream, e.Kind)
				if tt.wantMsg != "" {
					assert.Equal(t, tt.wantMsg, e.Message)
				}
				assert.ErrorIs(t, e, tt.err)
			}
		})
	}
}

func TestClassify_Canceled(t *testing.T) {
	t.Parallel()

	state, e := Classify(context.Canceled)
	assert.Equal(t, StateCanceled, state)
	assert.Nil(t, e)

	state, e = Classify(nil)
	assert.Equal(t, StateResponded, state)
	assert.Nil(t, e)
}

func TestError(t *testing.T) {
	t.Parallel()

	err := &Error{Service: "job", Target: "localhost:5003", State: StateConnRefused, Cause: syscall.ECONNREFUSED}
	assert.Contains(t, err.Error(), "job")
	assert.Contains(t, err.Error(), "CONN_REFUSED")
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "RECEIVED", StateReceived.String())
	assert.Equal(t, "TIMED_OUT", StateTimedOut.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
	assert.False(t, StateDispatched.Terminal())
	assert.True(t, StateResponded.Terminal())
	assert.True(t, StateFailed.Terminal())
}
