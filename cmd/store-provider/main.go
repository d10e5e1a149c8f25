package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/dikkadev/store-provider/pkg/config"
	"github.com/dikkadev/store-provider/pkg/logging"
	"github.com/dikkadev/store-provider/pkg/manager"
)

func main() {
	if err := run(); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	logger, err := logging.New(*verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to ensure directories: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := manager.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start manager: %w", err)
	}
	defer m.Close()

	logger.Info("store provider running",
		zap.Strings("stores", m.AvailableStores()),
		zap.Duration("idle_timeout", cfg.IdleTimeout))

	return m.Run(ctx)
}
