package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/kelmah/apigateway/internal/config"
	"github.com/kelmah/apigateway/internal/observability"
)

const readHeaderTimeout = 10 * time.Second

// Listener serves the gateway handler on one TCP address.
type Listener struct {
	config  config.ServerConfig
	server  *http.Server
	handler http.Handler
	logger  observability.Logger
	addr    atomic.Value
	running atomic.Bool
	done    chan struct{}
}

// ListenerOption is a functional option for configuring a listener.
type ListenerOption func(*Listener)

// WithListenerLogger sets the logger for the listener.
func WithListenerLogger(logger observability.Logger) ListenerOption {
	return func(l *Listener) {
		l.logger = logger
	}
}

// NewListener creates a new listener.
func NewListener(cfg config.ServerConfig, handler http.Handler, opts ...ListenerOption) *Listener {
	l := &Listener{
		config:  cfg,
		handler: handler,
		logger:  observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Address returns the bound address once started, the configured one
// before that.
func (l *Listener) Address() string {
	if a, ok := l.addr.Load().(string); ok {
		return a
	}
	return l.config.Address
}

// Start binds the address and serves in the background.
func (l *Listener) Start(ctx context.Context) error {
	if l.running.Load() {
		return fmt.Errorf("listener %s is already running", l.config.Address)
	}

	l.server = &http.Server{
		Handler:           l.handler,
		ReadTimeout:       l.config.ReadTimeout.Duration(),
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      l.config.WriteTimeout.Duration(),
		IdleTimeout:       l.config.IdleTimeout.Duration(),
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.config.Address, err)
	}

	l.addr.Store(ln.Addr().String())
	l.done = make(chan struct{})
	l.running.Store(true)

	l.logger.Info("listener started",
		observability.String("address", l.Address()),
	)

	go l.serve(ln)

	return nil
}

func (l *Listener) serve(ln net.Listener) {
	defer close(l.done)

	if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		l.logger.Error("listener error",
			observability.String("address", l.Address()),
			observability.Error(err),
		)
	}
	l.running.Store(false)
}

// Stop stops the listener gracefully, closing it hard when ctx expires
// first.
func (l *Listener) Stop(ctx context.Context) error {
	if l.server == nil || !l.running.Load() {
		return nil
	}

	l.logger.Info("stopping listener",
		observability.String("address", l.Address()),
	)

	if err := l.server.Shutdown(ctx); err != nil {
		if closeErr := l.server.Close(); closeErr != nil {
			return fmt.Errorf("failed to close listener: %w", closeErr)
		}
		return fmt.Errorf("failed to shutdown listener gracefully: %w", err)
	}
	<-l.done

	l.logger.Info("listener stopped",
		observability.String("address", l.Address()),
	)

	return nil
}

// IsRunning returns true if the listener is running.
func (l *Listener) IsRunning() bool {
	return l.running.Load()
}
