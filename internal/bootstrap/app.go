// Package bootstrap assembles the process-wide dependencies from config.Config.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/iago/pdf-processor-back/internal/ai"
	"github.com/iago/pdf-processor-back/internal/blob"
	"github.com/iago/pdf-processor-back/internal/cache"
	"github.com/iago/pdf-processor-back/internal/config"
	"github.com/iago/pdf-processor-back/internal/domain"
	httpserver "github.com/iago/pdf-processor-back/internal/http"
	"github.com/iago/pdf-processor-back/internal/http/handlers"
	"github.com/iago/pdf-processor-back/internal/parser"
	"github.com/iago/pdf-processor-back/internal/pipeline"
	"github.com/iago/pdf-processor-back/internal/queue"
	"github.com/iago/pdf-processor-back/internal/repository"
	"github.com/iago/pdf-processor-back/internal/service"
	"github.com/iago/pdf-processor-back/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// App is built once at startup and handed to whichever process needs it.
type App struct {
	Config   config.Config
	Logger   zerolog.Logger
	Repo     repository.JobsRepository
	Blobs    blob.Store
	Producer queue.Producer
	Pipeline *pipeline.Pipeline
	Jobs     *service.JobsService

	redis   *redis.Client
	streams *queue.StreamsQueue
	local   *queue.LocalQueue
	purger  purger
	closers []func() error
}

func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &App{Config: cfg, Logger: logger}
	if err := app.setup(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) setup(ctx context.Context) error {
	cfg := a.Config

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, a.redis.Close)
	}

	if err := a.setupRepository(ctx); err != nil {
		return err
	}
	if err := a.setupBlobs(ctx); err != nil {
		return err
	}
	monitor, err := a.setupQueue(ctx)
	if err != nil {
		return err
	}
	if err := a.setupPipeline(); err != nil {
		return err
	}

	a.Jobs = service.NewJobsService(service.JobsServiceConfig{
		Repo:     a.Repo,
		Producer: a.Producer,
		Blobs:    a.Blobs,
		Monitor:  monitor,
		JobTTL:   cfg.JobTTL(),
		Logger:   a.Logger,
	})
	return nil
}

func (a *App) setupRepository(ctx context.Context) error {
	switch a.Config.StoreBackend {
	case config.BackendPostgres:
		db, err := repository.OpenPostgres(ctx, a.Config.DatabaseURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		if err := repository.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		repo := repository.NewPostgresJobsRepository(db)
		a.Repo = repo
		a.purger = repo
		a.Logger.Info().Msg("postgres repository initialized")
	case config.BackendRedis:
		a.Repo = repository.NewRedisJobsRepository(a.redis, "")
		a.Logger.Info().Msg("redis repository initialized")
	default:
		a.Repo = repository.NewMemoryJobsRepository()
		a.Logger.Warn().Msg("using in-memory repository, records do not survive restarts")
	}
	return nil
}

func (a *App) setupBlobs(ctx context.Context) error {
	switch a.Config.BlobBackend {
	case config.BackendS3:
		store, err := blob.NewS3Store(ctx, a.Config.S3Region, a.Config.S3Bucket, a.Config.S3Prefix)
		if err != nil {
			return fmt.Errorf("s3 blob store: %w", err)
		}
		a.Blobs = store
	case config.BackendRedis:
		a.Blobs = blob.NewRedisStore(a.redis)
	default:
		a.Blobs = blob.NewMemoryStore()
	}
	return nil
}

func (a *App) setupQueue(ctx context.Context) (service.QueueMonitor, error) {
	cfg := a.Config

	var (
		base    queue.Producer
		monitor service.QueueMonitor
	)
	if cfg.QueueBackend == config.BackendRedis {
		streams, err := queue.NewStreamsQueue(ctx, a.redis, queue.StreamsConfig{
			Stream:       cfg.RedisStream,
			DLQStream:    cfg.RedisDLQ,
			Group:        cfg.RedisGroup,
			Consumer:     cfg.RedisConsumer,
			ClaimTimeout: cfg.ClaimTimeout(),
			ReadBlock:    cfg.ReadBlock(),
		})
		if err != nil {
			return nil, fmt.Errorf("redis streams queue: %w", err)
		}
		a.streams = streams
		base = streams
		monitor = streams
		a.Logger.Info().Str("stream", cfg.RedisStream).Str("group", cfg.RedisGroup).Msg("redis streams queue initialized")
	} else {
		a.local = queue.NewLocalQueue(cfg.LocalQueueSize, cfg.ClaimTimeout(), a.Logger)
		base = a.local
		monitor = a.local
		a.Logger.Warn().Msg("using local queue, only an embedded worker will see submitted jobs")
	}

	a.Producer = base
	if cfg.QueueBatchingEnabled {
		batching := queue.NewBatchingProducer(ctx, base, queue.BatchingConfig{
			MaxBatchSize:       cfg.QueueBatchSize,
			FlushInterval:      time.Duration(cfg.QueueBatchFlushMS) * time.Millisecond,
			FlushTimeout:       time.Duration(cfg.QueueBatchFlushTimeoutMS) * time.Millisecond,
			QueueCapacity:      cfg.QueueBatchQueueCapacity,
			MaxInFlightBatches: cfg.QueueBatchMaxInFlight,
			Logger:             a.Logger,
		})
		a.Producer = batching
		a.closers = append(a.closers, func() error {
			batching.Close()
			return nil
		})
		a.Logger.Info().
			Int("batch_size", cfg.QueueBatchSize).
			Int("flush_ms", cfg.QueueBatchFlushMS).
			Int("queue_capacity", cfg.QueueBatchQueueCapacity).
			Msg("queue batching enabled")
	}
	return monitor, nil
}

func (a *App) setupPipeline() error {
	cfg := a.Config

	geminiClient := ai.NewGeminiClient(ai.GeminiClientConfig{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		Timeout:    time.Duration(cfg.AITimeoutMS) * time.Millisecond,
		MaxRetries: cfg.AIMaxRetries,
	})
	geminiRouter := ai.NewModelRouter(ai.ModelRouterConfig{
		ExtractionPrimary:  cfg.GeminiExtractionModel,
		ExtractionFallback: cfg.GeminiModelFallback,
		AnalysisPrimary:    cfg.GeminiModelPrimary,
		AnalysisFallback:   cfg.GeminiModelFallback,
	})

	registry := parser.NewRegistry()
	registry.Register(parser.NewTextBackend())
	registry.Register(parser.NewGeminiBackend(geminiClient, geminiRouter))
	registry.RegisterFallback(domain.ParserMistral, domain.ParserPyPDF)

	analyzer, err := a.buildAnalyzer(geminiClient, geminiRouter)
	if err != nil {
		return err
	}

	mode, err := pipeline.ParseMode(cfg.PipelineMode)
	if err != nil {
		return err
	}
	p, err := pipeline.New(pipeline.Config{
		Registry:        registry,
		Analyzer:        analyzer,
		Mode:            mode,
		AnalysisTimeout: cfg.AnalysisTimeout(),
		Logger:          a.Logger,
	})
	if err != nil {
		return err
	}
	a.Pipeline = p
	return nil
}

// buildAnalyzer returns nil when analysis is switched off so the pipeline
// reports it as skipped.
func (a *App) buildAnalyzer(geminiClient *ai.GeminiClient, geminiRouter *ai.ModelRouter) (pipeline.Analyzer, error) {
	cfg := a.Config

	var (
		generator ai.TextGenerator
		router    *ai.ModelRouter
	)
	switch cfg.AnalysisProvider {
	case config.ProviderNone:
		a.Logger.Info().Msg("analysis disabled by configuration")
		return nil, nil
	case config.ProviderOpenRouter:
		generator = ai.NewOpenRouterClient(ai.OpenRouterClientConfig{
			APIKey:     cfg.OpenRouterAPIKey,
			BaseURL:    cfg.OpenRouterBaseURL,
			Timeout:    time.Duration(cfg.AITimeoutMS) * time.Millisecond,
			MaxRetries: cfg.AIMaxRetries,
		})
		router = ai.NewModelRouter(ai.ModelRouterConfig{
			AnalysisPrimary:  cfg.OpenRouterModelPrimary,
			AnalysisFallback: cfg.OpenRouterModelFallback,
		})
	default:
		generator = geminiClient
		router = geminiRouter
	}

	if !generator.Available() {
		a.Logger.Warn().Str("provider", cfg.AnalysisProvider).Msg("analysis provider has no api key, analysis will be skipped")
	}

	analyzer, err := ai.NewAnalyzer(ai.AnalyzerConfig{
		Generator: generator,
		Router:    router,
		Cache: cache.NewAnalysisCache(cache.Config{
			TTL:        time.Duration(cfg.AnalysisCacheTTLSec) * time.Second,
			MaxEntries: cfg.AnalysisCacheEntries,
		}),
		Logger: a.Logger,
	})
	if err != nil {
		return nil, err
	}
	return analyzer, nil
}

func (a *App) Router() http.Handler {
	return httpserver.NewRouter(httpserver.RouterDependencies{
		API:            handlers.NewAPI(a.Jobs, a.Config.MaxUploadBytes, a.Logger),
		Logger:         a.Logger,
		CORSOrigins:    splitOrigins(a.Config.CORSAllowedOrigins),
		RateLimitRPS:   a.Config.RateLimitRPS,
		RateLimitBurst: a.Config.RateLimitBurst,
		MaxBodyBytes:   a.Config.MaxUploadBytes,
	})
}

// NewProcessor builds the index-th worker. Redis workers read as distinct
// group members so the group spreads entries across them.
func (a *App) NewProcessor(index int) *worker.Processor {
	name := fmt.Sprintf("%s-%d", a.Config.RedisConsumer, index)

	var consumer queue.Consumer = a.local
	if a.streams != nil {
		consumer = a.streams.WithConsumer(name)
	}

	return worker.NewProcessor(worker.ProcessorConfig{
		Name:          name,
		Consumer:      consumer,
		Repo:          a.Repo,
		Blobs:         a.Blobs,
		Pipeline:      a.Pipeline,
		MaxDeliveries: a.Config.WorkerMaxDeliveries,
		JobTimeout:    a.Config.WorkerJobTimeout(),
		Logger:        a.Logger,
	})
}

// RunPurger deletes expired rows on an interval until ctx is done. Stores with
// native expiry need nothing and return immediately.
func (a *App) RunPurger(ctx context.Context) {
	if a.purger == nil {
		return
	}
	interval := time.Duration(a.Config.PurgeEverySec) * time.Second
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := a.purger.PurgeExpired(ctx)
			if err != nil {
				a.Logger.Error().Err(err).Msg("purge expired jobs")
				continue
			}
			if removed > 0 {
				a.Logger.Info().Int64("removed", removed).Msg("purged expired jobs")
			}
		}
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && !errors.Is(err, sql.ErrConnDone) && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func splitOrigins(value string) []string {
	parts := strings.Split(value, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
