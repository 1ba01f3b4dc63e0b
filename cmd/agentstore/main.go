package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/localrivet/agentstore"
	"github.com/localrivet/agentstore/internal/config"
	"github.com/localrivet/agentstore/internal/errortypes"
	"github.com/localrivet/agentstore/internal/logger"
)

func main() {
	// Initialize logging first thing
	appLogger := setupLogging()

	appLogger.Info("AgentStore MCP Server - Starting...")

	// Load configuration
	cfg, err := config.LoadConfigWithPath(config.DefaultConfigFilename)
	if err != nil {
		errortypes.LogError(nil, err)
		appLogger.Fatal("Failed to load configuration")
	}

	// Configure logging based on config
	if cfg.Logging.Level != "" {
		appLogger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
		appLogger.Info("Log level set to %s", cfg.Logging.Level)
	}

	if cfg.Logging.Format == "json" {
		appLogger.SetFormat(logger.JSON)
		appLogger.Info("Log format set to JSON")
	}

	// Build the store and MCP server
	srv, err := agentstore.NewServer(agentstore.ServerOptions{Config: cfg})
	if err != nil {
		errortypes.LogError(nil, err)
		appLogger.Fatal("Failed to initialize AgentStore server")
	}
	appLogger.WithContext("server").Info("AgentStore server initialized")

	// Run the server until stdin closes or a shutdown signal arrives.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.WithContext("server").Info("Starting MCP server...")
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		appLogger.Info("Received shutdown signal, terminating gracefully...")
		return srv.Stop()
	})

	if err := g.Wait(); err != nil {
		err = errortypes.APIError(err, "MCP server failed")
		errortypes.LogError(nil, err)
		appLogger.Fatal("AgentStore server exited with error")
	}

	appLogger.Info("Shutdown complete")
}

// setupLogging configures and returns the application logger
func setupLogging() *logger.Logger {
	// Create default configuration
	cfg := logger.DefaultConfig()

	// Try to get log level from environment variable
	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		cfg.Level = logger.ParseLevel(levelStr)
	}

	// Create and return logger
	appLogger := logger.New(cfg)
	logger.SetDefaultLogger(appLogger)

	return appLogger
}
