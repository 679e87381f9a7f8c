package config

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvConfig holds all environment-based configuration.
// Nested structs use underscore delimiter (e.g., EMBEDDING_ENDPOINT_BASE_URL).
type EnvConfig struct {
	// DBURL is the database connection URL.
	// Env: DB_URL (default: sqlite:///vecmatch.db)
	DBURL string `envconfig:"DB_URL"`

	// LogLevel is the log verbosity level.
	// Env: LOG_LEVEL (default: INFO)
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	// LogFormat is the log output format (pretty, text or json).
	// Env: LOG_FORMAT (default: pretty)
	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// EmbeddingEndpoint configures the embedding service.
	EmbeddingEndpoint EndpointEnv `envconfig:"EMBEDDING_ENDPOINT"`

	// Provider holds the older PROVIDER_* variables, used when the
	// EMBEDDING_ENDPOINT_* equivalents are unset.
	Provider ProviderEnv `envconfig:"PROVIDER"`

	// EmbeddingDimension is the vector dimension.
	// Env: EMBEDDING_DIMENSION (default: 1024)
	EmbeddingDimension int `envconfig:"EMBEDDING_DIMENSION" default:"1024"`

	// SourcesFiles is a comma-separated list of source CSV paths or globs.
	// Env: SOURCES_FILES (default: sources.csv)
	SourcesFiles []string `envconfig:"SOURCES_FILES" default:"sources.csv"`

	// TargetsFiles is a comma-separated list of target CSV paths or globs.
	// Env: TARGETS_FILES (default: targets.csv)
	TargetsFiles []string `envconfig:"TARGETS_FILES" default:"targets.csv"`

	// Env: SOURCE_COLUMN
	SourceColumn string `envconfig:"SOURCE_COLUMN"`

	// Env: TARGET_COLUMN
	TargetColumn string `envconfig:"TARGET_COLUMN"`

	// Env: NAMESPACE_COLUMN
	NamespaceColumn string `envconfig:"NAMESPACE_COLUMN"`

	// SkipRows is the number of leading records skipped before the header.
	// Env: SKIP_ROWS (default: 0)
	SkipRows int `envconfig:"SKIP_ROWS" default:"0"`

	// ChunkSize is the number of valid rows per ingestion batch.
	// Env: CHUNK_SIZE (default: 1000)
	ChunkSize int `envconfig:"CHUNK_SIZE" default:"1000"`

	// MatchBatchSize is the number of targets resolved per match round.
	// Env: MATCH_BATCH_SIZE (default: 10000)
	MatchBatchSize int `envconfig:"MATCH_BATCH_SIZE" default:"10000"`

	// Env: QUARANTINE_DIR (default: quarantine)
	QuarantineDir string `envconfig:"QUARANTINE_DIR" default:"quarantine"`

	// HTTPCacheDir is the directory for caching HTTP responses to disk.
	// Env: HTTP_CACHE_DIR
	HTTPCacheDir string `envconfig:"HTTP_CACHE_DIR"`

	// StoreTimeout is the per-call store timeout in seconds.
	// Env: STORE_TIMEOUT (default: 300)
	StoreTimeout float64 `envconfig:"STORE_TIMEOUT" default:"300"`

	// StoreMaxRetries is how many times a failed store call is retried.
	// Env: STORE_MAX_RETRIES (default: 1)
	StoreMaxRetries int `envconfig:"STORE_MAX_RETRIES" default:"1"`

	// MatchTuning configures per-round PostgreSQL session settings.
	MatchTuning MatchTuningEnv `envconfig:"MATCH_TUNING"`

	// MetricsAddr enables the metrics endpoint when set.
	// Env: METRICS_ADDR
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	// Reporting configures progress reporting.
	Reporting ReportingEnv `envconfig:"REPORTING"`
}

// EndpointEnv holds environment configuration for the embedding endpoint.
type EndpointEnv struct {
	// Env: *_BASE_URL
	BaseURL string `envconfig:"BASE_URL"`

	// Env: *_MODEL
	Model string `envconfig:"MODEL"`

	// Env: *_API_KEY
	APIKey string `envconfig:"API_KEY"`

	// NumParallelTasks is the number of sub-requests in flight.
	// Env: *_NUM_PARALLEL_TASKS (default: 1)
	NumParallelTasks int `envconfig:"NUM_PARALLEL_TASKS" default:"1"`

	// Timeout is the request timeout in seconds.
	// Env: *_TIMEOUT (default: 60)
	Timeout float64 `envconfig:"TIMEOUT" default:"60"`

	// Env: *_MAX_RETRIES (default: 5)
	MaxRetries int `envconfig:"MAX_RETRIES" default:"5"`

	// InitialDelay is the initial retry delay in seconds.
	// Env: *_INITIAL_DELAY (default: 2.0)
	InitialDelay float64 `envconfig:"INITIAL_DELAY" default:"2.0"`

	// Env: *_BACKOFF_FACTOR (default: 2.0)
	BackoffFactor float64 `envconfig:"BACKOFF_FACTOR" default:"2.0"`

	// MaxBatchSize is the maximum number of texts per sub-request.
	// Env: *_MAX_BATCH_SIZE (default: 256)
	MaxBatchSize int `envconfig:"MAX_BATCH_SIZE" default:"256"`
}

// ProviderEnv holds the PROVIDER_* variables.
type ProviderEnv struct {
	BaseURL        string `envconfig:"BASE_URL"`
	APIKey         string `envconfig:"API_KEY"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL"`
}

// MatchTuningEnv holds environment configuration for match session tuning.
type MatchTuningEnv struct {
	// Env: MATCH_TUNING_ENABLED (default: true)
	Enabled bool `envconfig:"ENABLED" default:"true"`

	// Env: MATCH_TUNING_WORK_MEM (default: 1GB)
	WorkMem string `envconfig:"WORK_MEM" default:"1GB"`

	// Env: MATCH_TUNING_MAINTENANCE_WORK_MEM (default: 2GB)
	MaintenanceWorkMem string `envconfig:"MAINTENANCE_WORK_MEM" default:"2GB"`

	// Env: MATCH_TUNING_EFFECTIVE_CACHE_SIZE (default: 12GB)
	EffectiveCacheSize string `envconfig:"EFFECTIVE_CACHE_SIZE" default:"12GB"`

	// Env: MATCH_TUNING_MAX_PARALLEL_WORKERS_PER_GATHER (default: 4)
	MaxParallelWorkersPerGather int `envconfig:"MAX_PARALLEL_WORKERS_PER_GATHER" default:"4"`

	// Env: MATCH_TUNING_RANDOM_PAGE_COST (default: 1.1)
	RandomPageCost float64 `envconfig:"RANDOM_PAGE_COST" default:"1.1"`
}

// ReportingEnv holds environment configuration for reporting.
type ReportingEnv struct {
	// LogTimeInterval is the logging interval in seconds.
	// Zero logs every update.
	// Env: REPORTING_LOG_TIME_INTERVAL (default: 0)
	LogTimeInterval float64 `envconfig:"LOG_TIME_INTERVAL" default:"0"`
}

// LoadFromEnv loads configuration from environment variables without a prefix.
func LoadFromEnv() (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return EnvConfig{}, err
	}
	return cfg, nil
}

// ToAppConfig converts EnvConfig to AppConfig.
func (e EnvConfig) ToAppConfig() AppConfig {
	opts := []AppConfigOption{
		WithLogFormat(parseLogFormat(e.LogFormat)),
		WithEmbeddingDimension(e.EmbeddingDimension),
		WithIngestConfig(e.ToIngestConfig()),
		WithMatchConfig(NewMatchConfig().
			WithBatchSize(e.MatchBatchSize).
			WithTuning(e.MatchTuning.ToMatchTuning())),
		WithStoreConfig(NewStoreConfig().
			WithTimeout(seconds(e.StoreTimeout)).
			WithMaxRetries(e.StoreMaxRetries)),
		WithReportingConfig(NewReportingConfig().
			WithLogTimeInterval(seconds(e.Reporting.LogTimeInterval))),
		WithHTTPCacheDir(e.HTTPCacheDir),
		WithMetricsAddr(e.MetricsAddr),
	}
	if e.DBURL != "" {
		opts = append(opts, WithDBURL(e.DBURL))
	}
	if e.LogLevel != "" {
		opts = append(opts, WithLogLevel(e.LogLevel))
	}
	if e.EmbeddingEndpoint.IsConfigured() {
		opts = append(opts, WithEmbeddingEndpoint(e.EmbeddingEndpoint.ToEndpoint()))
	}
	return NewAppConfigWithOptions(opts...)
}

// ToIngestConfig converts the ingestion variables.
func (e EnvConfig) ToIngestConfig() IngestConfig {
	cfg := NewIngestConfig().
		WithSourceColumn(strings.TrimSpace(e.SourceColumn)).
		WithTargetColumn(strings.TrimSpace(e.TargetColumn)).
		WithNamespaceColumn(strings.TrimSpace(e.NamespaceColumn)).
		WithSkipRows(e.SkipRows).
		WithChunkSize(e.ChunkSize)
	if files := splitFiles(e.SourcesFiles); len(files) > 0 {
		cfg = cfg.WithSourcesFiles(files...)
	}
	if files := splitFiles(e.TargetsFiles); len(files) > 0 {
		cfg = cfg.WithTargetsFiles(files...)
	}
	if e.QuarantineDir != "" {
		cfg = cfg.WithQuarantineDir(e.QuarantineDir)
	}
	return cfg
}

// IsConfigured returns true if the endpoint has a model configured.
func (e EndpointEnv) IsConfigured() bool {
	return e.Model != ""
}

// ToEndpoint converts EndpointEnv to Endpoint.
func (e EndpointEnv) ToEndpoint() Endpoint {
	opts := []EndpointOption{
		WithModel(e.Model),
		WithNumParallelTasks(e.NumParallelTasks),
		WithTimeout(seconds(e.Timeout)),
		WithMaxRetries(e.MaxRetries),
		WithInitialDelay(seconds(e.InitialDelay)),
		WithBackoffFactor(e.BackoffFactor),
		WithMaxBatchSize(e.MaxBatchSize),
	}
	if e.BaseURL != "" {
		opts = append(opts, WithBaseURL(e.BaseURL))
	}
	if e.APIKey != "" {
		opts = append(opts, WithAPIKey(e.APIKey))
	}
	return NewEndpointWithOptions(opts...)
}

// ToMatchTuning converts MatchTuningEnv to MatchTuning.
func (m MatchTuningEnv) ToMatchTuning() MatchTuning {
	return MatchTuning{
		enabled:                     m.Enabled,
		workMem:                     strings.TrimSpace(m.WorkMem),
		maintenanceWorkMem:          strings.TrimSpace(m.MaintenanceWorkMem),
		effectiveCacheSize:          strings.TrimSpace(m.EffectiveCacheSize),
		maxParallelWorkersPerGather: m.MaxParallelWorkersPerGather,
		randomPageCost:              m.RandomPageCost,
	}
}

func parseLogFormat(s string) LogFormat {
	switch strings.ToLower(s) {
	case "json":
		return LogFormatJSON
	case "text", "plain":
		return LogFormatText
	default:
		return LogFormatPretty
	}
}

func splitFiles(files []string) []string {
	var out []string
	for _, f := range files {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
