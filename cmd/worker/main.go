package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/iago/pdf-processor-back/internal/bootstrap"
	"github.com/iago/pdf-processor-back/internal/config"
	"github.com/iago/pdf-processor-back/internal/observability"
	"golang.org/x/sync/errgroup"
)

func main() {
	dotenvErr := config.LoadDotEnv(".env", ".env.local")
	cfg := config.Load()

	logger := observability.NewLogger(observability.LogConfig{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: "pdf-worker",
	})
	if dotenvErr != nil {
		logger.Warn().Err(dotenvErr).Msg("failed loading .env files")
	}
	if cfg.QueueBackend != config.BackendRedis {
		logger.Warn().Msg("standalone worker with a local queue never sees jobs submitted to the api")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("startup failed")
		os.Exit(1)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn().Err(err).Msg("close resources")
		}
	}()

	group, groupCtx := errgroup.WithContext(ctx)
	for i := 1; i <= cfg.WorkerConcurrency; i++ {
		processor := app.NewProcessor(i)
		group.Go(func() error {
			processor.Start(groupCtx)
			return nil
		})
	}
	group.Go(func() error {
		app.RunPurger(groupCtx)
		return nil
	})

	logger.Info().
		Int("concurrency", cfg.WorkerConcurrency).
		Str("pipeline_mode", cfg.PipelineMode).
		Msg("worker pool started")

	if err := group.Wait(); err != nil {
		logger.Error().Err(err).Msg("worker pool stopped with error")
		os.Exit(1)
	}
}
