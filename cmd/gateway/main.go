// Package main is the entry point for the API Gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/kelmah/apigateway/internal/config"
	"github.com/kelmah/apigateway/internal/gateway"
	"github.com/kelmah/apigateway/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	addr        string
	watch       bool
	showVersion bool
}

func main() {
	flags := parseFlags(flag.CommandLine, os.Args[1:])

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(flags, logger)
	if err != nil {
		fatalWithSync(logger, "failed to load configuration", observability.Error(err))
	}

	gin.SetMode(gin.ReleaseMode)

	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithVersion(version),
		gateway.WithDrainDelay(drainDelay),
	}
	if flags.watch && flags.configPath != "" {
		opts = append(opts, gateway.WithConfigPath(flags.configPath))
	}

	gw, err := gateway.New(context.Background(), cfg, opts...)
	if err != nil {
		fatalWithSync(logger, "failed to create gateway", observability.Error(err))
	}

	runGateway(gw, logger)
}

// parseFlags parses command line flags. Every flag defaults to a
// GATEWAY_* environment variable.
func parseFlags(fs *flag.FlagSet, args []string) cliFlags {
	var f cliFlags
	fs.StringVar(&f.configPath, "config", getEnvOrDefault("GATEWAY_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to configuration file (empty for defaults and environment only)")
	fs.StringVar(&f.logLevel, "log-level", getEnvOrDefault("GATEWAY_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", getEnvOrDefault("GATEWAY_LOG_FORMAT", "json"),
		"Log format (json, console)")
	fs.StringVar(&f.addr, "addr", getEnvOrDefault("GATEWAY_ADDR", portAddr()),
		"Listen address, overrides server.address")
	fs.BoolVar(&f.watch, "watch", getEnvBool("GATEWAY_WATCH_CONFIG", true),
		"Reload routes and service URLs when the configuration file changes")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")
	_ = fs.Parse(args)
	return f
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("kelmah api gateway version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// loadConfig loads the file, applies flag overrides and validates.
func loadConfig(flags cliFlags, logger observability.Logger) (*config.GatewayConfig, error) {
	logger.Info("starting kelmah api gateway",
		observability.String("version", version),
		observability.String("config", flags.configPath),
	)

	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.addr != "" {
		cfg.Server.Address = flags.addr
	}

	v := config.NewValidator()
	if err := v.Validate(cfg); err != nil {
		return nil, err
	}
	for _, w := range v.Warnings() {
		logger.Warn("configuration warning", observability.String("warning", w))
	}

	logger.Info("configuration loaded",
		observability.String("address", cfg.Server.Address),
		observability.String("mode", cfg.Discovery.Mode),
		observability.Int("services", len(cfg.Discovery.Services)),
		observability.Int("routes", len(cfg.Routes)),
	)
	return cfg, nil
}

// fatalWithSync logs at error level, flushes and exits.
func fatalWithSync(logger observability.Logger, msg string, fields ...observability.Field) {
	logger.Error(msg, fields...)
	_ = logger.Sync()
	os.Exit(1)
}
