package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/e7canasta/orion-bridge/internal/config"
	"github.com/e7canasta/orion-bridge/internal/core"
)

const defaultConfigPath = "config/orion-bridge.yaml"

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"usage: %s [-config path] [-debug] [sourceTopic] [publishAddress] [outputTopicName]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Setup structured logger
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "config", *configPath, "error", err)
		os.Exit(1)
	}

	// Positional overrides: sourceTopic publishAddress outputTopicName
	if err := cfg.ApplyArgs(flag.Args()); err != nil {
		slog.Error("invalid arguments", "error", err)
		flag.Usage()
		os.Exit(2)
	}
	if err := config.Validate(cfg); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting orion bridge",
		"config", *configPath,
		"debug", *debug,
		"source_topic", cfg.Sessions[0].SourceTopic,
		"address", cfg.Publish.Address,
		"output_topic", cfg.Sessions[0].OutputTopic,
	)

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	svc, err := core.NewService(cfg)
	if err != nil {
		slog.Error("failed to create orion bridge", "error", err)
		os.Exit(1)
	}

	// Start health check HTTP server (non-blocking)
	if !cfg.Health.Disabled {
		if err := svc.StartHealthServer(cfg.Health.Port); err != nil {
			slog.Error("failed to start health check server", "error", err)
			os.Exit(1)
		}
	}

	// Run service in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.Run(ctx) // Always send, even if nil
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	case runErr := <-errChan:
		if runErr != nil {
			slog.Error("service error", "error", runErr)
		} else {
			slog.Info("service stopped (via MQTT shutdown command)")
		}
	}

	// Graceful shutdown
	shutdownTimeout := svc.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		os.Exit(1)
	}

	slog.Info("orion bridge stopped successfully")
}

// loadConfig reads path; a missing default config file falls back to
// built-in defaults so the bridge runs with positional arguments only.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}

	if path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		slog.Info("no config file found, using defaults", "config", path)
		return config.Load("")
	}
	return nil, err
}
