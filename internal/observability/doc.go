// Package observability provides logging, metrics, and tracing for the
// gateway.
//
// Logging is structured JSON via zap behind the Logger interface so that
// packages never import zap directly for their call sites:
//
//	logger, err := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = logger.Sync() }()
//
//	logger.Info("proxied request",
//	    observability.String("method", "GET"),
//	    observability.Int("status", 200),
//	)
//
// Metrics are registered on a registry owned by the Metrics value and
// exposed through Metrics.Handler. Tracing uses OpenTelemetry with an
// optional OTLP/gRPC exporter.
package observability
