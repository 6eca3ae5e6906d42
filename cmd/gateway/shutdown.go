package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelmah/apigateway/internal/gateway"
	"github.com/kelmah/apigateway/internal/observability"
)

// drainDelay gives load balancers time to see the failing readiness probe
// before the listener closes.
const drainDelay = 2 * time.Second

// runGateway runs the gateway until SIGINT or SIGTERM.
func runGateway(gw *gateway.Gateway, logger observability.Logger) {
	ctx := context.Background()

	if err := gw.Start(ctx); err != nil {
		gw.Close(ctx)
		fatalWithSync(logger, "failed to start gateway", observability.Error(err))
		return
	}

	waitForShutdown(gw, logger)
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown.
func waitForShutdown(gw *gateway.Gateway, logger observability.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	timeout := gw.Config().Server.ShutdownTimeout.Duration()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout+drainDelay)
	defer cancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("failed to stop gateway gracefully", observability.Error(err))
	}

	logger.Info("gateway stopped")
}
