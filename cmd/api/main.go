package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

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
		Service: "pdf-api",
	})
	if dotenvErr != nil {
		logger.Warn().Err(dotenvErr).Msg("failed loading .env files")
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

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.Router(),
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.WorkerEnabled {
		for i := 1; i <= cfg.WorkerConcurrency; i++ {
			processor := app.NewProcessor(i)
			group.Go(func() error {
				processor.Start(groupCtx)
				return nil
			})
		}
		logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("embedded worker enabled")
	} else {
		logger.Info().Msg("embedded worker disabled by configuration")
	}

	group.Go(func() error {
		app.RunPurger(groupCtx)
		return nil
	})

	group.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
}
