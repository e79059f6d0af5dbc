package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"octbench/internal/cli"
	"octbench/internal/config"
	"octbench/internal/logging"
	"octbench/internal/pipeline"
	"octbench/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		logger.Warn("configuration has problems", "error", err)
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		logger.Warn("run store unavailable, continuing without persistence", "path", cfg.Paths.DatabasePath, "error", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipe := pipeline.New(ctx, cfg.Processing.ParallelJobs, logger, store, cfg)
	defer pipe.Stop()

	return cli.NewRootCmd(cfg, logger, store, pipe).ExecuteContext(ctx)
}
