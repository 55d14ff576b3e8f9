package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendS3       = "s3"

	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
	ProviderNone       = "none"
)

// Config centralizes runtime settings for the API, workers and CLI.
type Config struct {
	Port       string
	APIBaseURL string

	LogLevel  string
	LogFormat string

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisStream    string
	RedisDLQ       string
	RedisGroup     string
	RedisConsumer  string
	QueueBackend   string
	QueueClaimMS   int
	QueueReadMS    int
	LocalQueueSize int

	StoreBackend  string
	DatabaseURL   string
	JobTTLSeconds int
	PurgeEverySec int

	BlobBackend string
	S3Bucket    string
	S3Region    string
	S3Prefix    string

	AnalysisProvider     string
	AnalysisTimeoutMS    int
	AnalysisCacheTTLSec  int
	AnalysisCacheEntries int
	AIMaxRetries         int
	AITimeoutMS          int

	GeminiAPIKey          string
	GeminiBaseURL         string
	GeminiModelPrimary    string
	GeminiModelFallback   string
	GeminiExtractionModel string

	OpenRouterAPIKey        string
	OpenRouterBaseURL       string
	OpenRouterModelPrimary  string
	OpenRouterModelFallback string

	PipelineMode string

	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins string
	MaxUploadBytes     int64

	QueueBatchingEnabled     bool
	QueueBatchSize           int
	QueueBatchFlushMS        int
	QueueBatchFlushTimeoutMS int
	QueueBatchQueueCapacity  int
	QueueBatchMaxInFlight    int

	WorkerEnabled       bool
	WorkerConcurrency   int
	WorkerMaxDeliveries int
	WorkerJobTimeoutMS  int
}

func Load() Config {
	redisAddr := getEnv("REDIS_ADDR", "")
	if redisAddr == "" {
		if host := getEnv("REDIS_HOST", ""); host != "" {
			redisAddr = net.JoinHostPort(host, getEnv("REDIS_PORT", "6379"))
		}
	}

	defaultBackend := BackendMemory
	if redisAddr != "" {
		defaultBackend = BackendRedis
	}
	queueBackend := strings.ToLower(getEnv("QUEUE_BACKEND", defaultBackend))

	return Config{
		Port:       getEnv("PORT", "8000"),
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8000"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		RedisAddr:      redisAddr,
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisStream:    getEnv("REDIS_STREAM", "pdf_processing_stream"),
		RedisDLQ:       getEnv("REDIS_DLQ_STREAM", "pdf_processing_dlq"),
		RedisGroup:     getEnv("REDIS_GROUP", "pdf_consumers"),
		RedisConsumer:  getEnv("REDIS_CONSUMER", defaultConsumerName()),
		QueueBackend:   queueBackend,
		QueueClaimMS:   getEnvInt("QUEUE_CLAIM_TIMEOUT_MS", 360000),
		QueueReadMS:    getEnvInt("QUEUE_READ_BLOCK_MS", 1000),
		LocalQueueSize: getEnvInt("LOCAL_QUEUE_SIZE", 512),

		StoreBackend:  strings.ToLower(getEnv("STORE_BACKEND", defaultBackend)),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		JobTTLSeconds: getEnvInt("JOB_TTL_SECONDS", 86400),
		PurgeEverySec: getEnvInt("STORE_PURGE_INTERVAL_SECONDS", 600),

		BlobBackend: strings.ToLower(getEnv("BLOB_BACKEND", defaultBackend)),
		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3Region:    getEnv("S3_REGION", ""),
		S3Prefix:    getEnv("S3_PREFIX", "documents"),

		AnalysisProvider:     strings.ToLower(getEnv("ANALYSIS_PROVIDER", ProviderGemini)),
		AnalysisTimeoutMS:    getEnvInt("ANALYSIS_TIMEOUT_MS", 60000),
		AnalysisCacheTTLSec:  getEnvInt("ANALYSIS_CACHE_TTL_SECONDS", 900),
		AnalysisCacheEntries: getEnvInt("ANALYSIS_CACHE_MAX_ENTRIES", 500),
		AIMaxRetries:         getEnvInt("AI_MAX_RETRIES", 2),
		AITimeoutMS:          getEnvInt("AI_REQUEST_TIMEOUT_MS", 45000),

		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL:         getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiModelPrimary:    getEnv("GEMINI_MODEL_PRIMARY", "gemini-2.0-flash"),
		GeminiModelFallback:   getEnv("GEMINI_MODEL_FALLBACK", "gemini-1.5-flash"),
		GeminiExtractionModel: getEnv("GEMINI_EXTRACTION_MODEL", "gemini-2.0-flash"),

		OpenRouterAPIKey:        getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterBaseURL:       getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterModelPrimary:  getEnv("OPENROUTER_MODEL_PRIMARY", "google/gemini-2.0-flash-001"),
		OpenRouterModelFallback: getEnv("OPENROUTER_MODEL_FALLBACK", "openai/gpt-4.1-mini"),

		PipelineMode: strings.ToLower(getEnv("PIPELINE_MODE", "extraction_only")),

		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 40),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_BYTES", 20<<20)),

		QueueBatchingEnabled:     getEnvBool("QUEUE_BATCHING_ENABLED", false),
		QueueBatchSize:           getEnvInt("QUEUE_BATCH_SIZE", 32),
		QueueBatchFlushMS:        getEnvInt("QUEUE_BATCH_FLUSH_MS", 25),
		QueueBatchFlushTimeoutMS: getEnvInt("QUEUE_BATCH_FLUSH_TIMEOUT_MS", 3000),
		QueueBatchQueueCapacity:  getEnvInt("QUEUE_BATCH_QUEUE_CAPACITY", 2048),
		QueueBatchMaxInFlight:    getEnvInt("QUEUE_BATCH_MAX_IN_FLIGHT", 4),

		WorkerEnabled:       getEnvBool("WORKER_ENABLED", queueBackend == BackendMemory),
		WorkerConcurrency:   getEnvInt("WORKER_CONCURRENCY", 1),
		WorkerMaxDeliveries: getEnvInt("WORKER_MAX_DELIVERIES", 5),
		WorkerJobTimeoutMS:  getEnvInt("WORKER_JOB_TIMEOUT_MS", 300000),
	}
}

// Validate rejects settings that cannot produce a working process.
func (c Config) Validate() error {
	var errs []error

	if !oneOf(c.StoreBackend, BackendMemory, BackendRedis, BackendPostgres) {
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q is not supported", c.StoreBackend))
	}
	if !oneOf(c.QueueBackend, BackendMemory, BackendRedis) {
		errs = append(errs, fmt.Errorf("QUEUE_BACKEND %q is not supported", c.QueueBackend))
	}
	if !oneOf(c.BlobBackend, BackendMemory, BackendRedis, BackendS3) {
		errs = append(errs, fmt.Errorf("BLOB_BACKEND %q is not supported", c.BlobBackend))
	}
	if !oneOf(c.AnalysisProvider, ProviderGemini, ProviderOpenRouter, ProviderNone) {
		errs = append(errs, fmt.Errorf("ANALYSIS_PROVIDER %q is not supported", c.AnalysisProvider))
	}
	if !oneOf(c.PipelineMode, "extraction_only", "strict") {
		errs = append(errs, fmt.Errorf("PIPELINE_MODE %q is not supported", c.PipelineMode))
	}
	if c.RedisAddr == "" && (c.StoreBackend == BackendRedis || c.QueueBackend == BackendRedis || c.BlobBackend == BackendRedis) {
		errs = append(errs, errors.New("REDIS_ADDR or REDIS_HOST is required for redis backends"))
	}
	if c.StoreBackend == BackendPostgres && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
	}
	if c.BlobBackend == BackendS3 && c.S3Bucket == "" {
		errs = append(errs, errors.New("S3_BUCKET is required for the s3 blob backend"))
	}
	if c.JobTTLSeconds <= 0 {
		errs = append(errs, errors.New("JOB_TTL_SECONDS must be positive"))
	}
	if c.WorkerConcurrency <= 0 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be positive"))
	}
	if c.QueueBackend == BackendMemory && !c.WorkerEnabled {
		errs = append(errs, errors.New("WORKER_ENABLED must be true with the memory queue, nothing else consumes it"))
	}
	if c.QueueBackend == BackendRedis {
		if c.StoreBackend == BackendMemory {
			errs = append(errs, errors.New("STORE_BACKEND memory cannot be shared with workers of a redis queue"))
		}
		if c.BlobBackend == BackendMemory {
			errs = append(errs, errors.New("BLOB_BACKEND memory cannot be shared with workers of a redis queue"))
		}
	}
	// A claim must outlive the job, or a second consumer can take it over mid-run.
	if c.ClaimTimeout() <= c.WorkerJobTimeout() {
		errs = append(errs, fmt.Errorf("QUEUE_CLAIM_TIMEOUT_MS (%d) must exceed WORKER_JOB_TIMEOUT_MS (%d)", c.QueueClaimMS, c.WorkerJobTimeoutMS))
	}
	return errors.Join(errs...)
}

func (c Config) JobTTL() time.Duration {
	return time.Duration(c.JobTTLSeconds) * time.Second
}

func (c Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.AnalysisTimeoutMS) * time.Millisecond
}

func (c Config) ClaimTimeout() time.Duration {
	return time.Duration(c.QueueClaimMS) * time.Millisecond
}

func (c Config) ReadBlock() time.Duration {
	return time.Duration(c.QueueReadMS) * time.Millisecond
}

func (c Config) WorkerJobTimeout() time.Duration {
	return time.Duration(c.WorkerJobTimeoutMS) * time.Millisecond
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker"
	}
	return host
}

func oneOf(value string, options ...string) bool {
	for _, option := range options {
		if value == option {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
