// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultDBURL                 = "sqlite:///vecmatch.db"
	DefaultLogLevel              = "INFO"
	DefaultEmbeddingDimension    = 1024
	DefaultSourcesFiles          = "sources.csv"
	DefaultTargetsFiles          = "targets.csv"
	DefaultChunkSize             = 1000
	DefaultMatchBatchSize        = 10000
	DefaultQuarantineDir         = "quarantine"
	DefaultStoreTimeout          = 300 * time.Second
	DefaultStoreMaxRetries       = 1
	DefaultEndpointParallelTasks = 1
	DefaultEndpointTimeout       = 60 * time.Second
	DefaultEndpointMaxRetries    = 5
	DefaultEndpointInitialDelay  = 2 * time.Second
	DefaultEndpointBackoffFactor = 2.0
	DefaultEndpointMaxBatchSize  = 256
	DefaultReportingInterval     = 0
)

// Configuration errors.
var (
	ErrMissingValueColumn = errors.New("value column not configured")
	ErrMissingEndpoint    = errors.New("embedding endpoint not configured")
)

// LogFormat represents the log output format.
type LogFormat string

// LogFormat values.
const (
	LogFormatPretty LogFormat = "pretty"
	LogFormatText   LogFormat = "text"
	LogFormatJSON   LogFormat = "json"
)

// Endpoint configures the embedding service.
type Endpoint struct {
	baseURL          string
	model            string
	apiKey           string
	numParallelTasks int
	timeout          time.Duration
	maxRetries       int
	initialDelay     time.Duration
	backoffFactor    float64
	maxBatchSize     int
}

// NewEndpoint creates a new Endpoint with defaults.
func NewEndpoint() Endpoint {
	return Endpoint{
		numParallelTasks: DefaultEndpointParallelTasks,
		timeout:          DefaultEndpointTimeout,
		maxRetries:       DefaultEndpointMaxRetries,
		initialDelay:     DefaultEndpointInitialDelay,
		backoffFactor:    DefaultEndpointBackoffFactor,
		maxBatchSize:     DefaultEndpointMaxBatchSize,
	}
}

// BaseURL returns the base URL for the endpoint.
func (e Endpoint) BaseURL() string { return e.baseURL }

// Model returns the model identifier.
func (e Endpoint) Model() string { return e.model }

// APIKey returns the API key.
func (e Endpoint) APIKey() string { return e.apiKey }

// NumParallelTasks returns how many sub-requests may be in flight at once.
func (e Endpoint) NumParallelTasks() int { return e.numParallelTasks }

// Timeout returns the per-request timeout.
func (e Endpoint) Timeout() time.Duration { return e.timeout }

// MaxRetries returns the maximum retry count.
func (e Endpoint) MaxRetries() int { return e.maxRetries }

// InitialDelay returns the initial retry delay.
func (e Endpoint) InitialDelay() time.Duration { return e.initialDelay }

// BackoffFactor returns the retry backoff multiplier.
func (e Endpoint) BackoffFactor() float64 { return e.backoffFactor }

// MaxBatchSize returns the maximum number of texts per sub-request.
func (e Endpoint) MaxBatchSize() int { return e.maxBatchSize }

// IsConfigured returns true if the endpoint has a model.
func (e Endpoint) IsConfigured() bool {
	return e.model != ""
}

// EndpointOption is a functional option for Endpoint.
type EndpointOption func(*Endpoint)

// WithBaseURL sets the base URL.
func WithBaseURL(url string) EndpointOption {
	return func(e *Endpoint) { e.baseURL = url }
}

// WithModel sets the model.
func WithModel(model string) EndpointOption {
	return func(e *Endpoint) { e.model = model }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) EndpointOption {
	return func(e *Endpoint) { e.apiKey = key }
}

// WithNumParallelTasks sets the parallel task count.
func WithNumParallelTasks(n int) EndpointOption {
	return func(e *Endpoint) {
		if n > 0 {
			e.numParallelTasks = n
		}
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) EndpointOption {
	return func(e *Endpoint) { e.timeout = d }
}

// WithMaxRetries sets the maximum retry count.
func WithMaxRetries(n int) EndpointOption {
	return func(e *Endpoint) { e.maxRetries = n }
}

// WithInitialDelay sets the initial retry delay.
func WithInitialDelay(d time.Duration) EndpointOption {
	return func(e *Endpoint) { e.initialDelay = d }
}

// WithBackoffFactor sets the backoff multiplier.
func WithBackoffFactor(f float64) EndpointOption {
	return func(e *Endpoint) { e.backoffFactor = f }
}

// WithMaxBatchSize sets the maximum texts per sub-request.
func WithMaxBatchSize(n int) EndpointOption {
	return func(e *Endpoint) {
		if n > 0 {
			e.maxBatchSize = n
		}
	}
}

// NewEndpointWithOptions creates an Endpoint with options applied over defaults.
func NewEndpointWithOptions(opts ...EndpointOption) Endpoint {
	e := NewEndpoint()
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// IngestConfig configures CSV ingestion.
type IngestConfig struct {
	sourcesFiles    []string
	targetsFiles    []string
	sourceColumn    string
	targetColumn    string
	namespaceColumn string
	skipRows        int
	chunkSize       int
	quarantineDir   string
}

// NewIngestConfig creates an IngestConfig with defaults.
func NewIngestConfig() IngestConfig {
	return IngestConfig{
		sourcesFiles:  []string{DefaultSourcesFiles},
		targetsFiles:  []string{DefaultTargetsFiles},
		chunkSize:     DefaultChunkSize,
		quarantineDir: DefaultQuarantineDir,
	}
}

// SourcesFiles returns the source file paths or globs.
func (c IngestConfig) SourcesFiles() []string { return append([]string(nil), c.sourcesFiles...) }

// TargetsFiles returns the target file paths or globs.
func (c IngestConfig) TargetsFiles() []string { return append([]string(nil), c.targetsFiles...) }

// SourceColumn returns the value column for sources.
func (c IngestConfig) SourceColumn() string { return c.sourceColumn }

// TargetColumn returns the value column for targets.
func (c IngestConfig) TargetColumn() string { return c.targetColumn }

// NamespaceColumn returns the namespace column. Empty means every row is
// in the default namespace.
func (c IngestConfig) NamespaceColumn() string { return c.namespaceColumn }

// SkipRows returns the number of leading records skipped before the header.
func (c IngestConfig) SkipRows() int { return c.skipRows }

// ChunkSize returns the number of valid rows per batch.
func (c IngestConfig) ChunkSize() int { return c.chunkSize }

// QuarantineDir returns where failed batches are written.
func (c IngestConfig) QuarantineDir() string { return c.quarantineDir }

// WithSourcesFiles returns a copy with the given source files.
func (c IngestConfig) WithSourcesFiles(files ...string) IngestConfig {
	c.sourcesFiles = append([]string(nil), files...)
	return c
}

// WithTargetsFiles returns a copy with the given target files.
func (c IngestConfig) WithTargetsFiles(files ...string) IngestConfig {
	c.targetsFiles = append([]string(nil), files...)
	return c
}

// WithSourceColumn returns a copy with the given source value column.
func (c IngestConfig) WithSourceColumn(col string) IngestConfig {
	c.sourceColumn = col
	return c
}

// WithTargetColumn returns a copy with the given target value column.
func (c IngestConfig) WithTargetColumn(col string) IngestConfig {
	c.targetColumn = col
	return c
}

// WithNamespaceColumn returns a copy with the given namespace column.
func (c IngestConfig) WithNamespaceColumn(col string) IngestConfig {
	c.namespaceColumn = col
	return c
}

// WithSkipRows returns a copy with the given skip count.
func (c IngestConfig) WithSkipRows(n int) IngestConfig {
	if n >= 0 {
		c.skipRows = n
	}
	return c
}

// WithChunkSize returns a copy with the given batch size.
func (c IngestConfig) WithChunkSize(n int) IngestConfig {
	if n > 0 {
		c.chunkSize = n
	}
	return c
}

// WithQuarantineDir returns a copy with the given quarantine directory.
func (c IngestConfig) WithQuarantineDir(dir string) IngestConfig {
	c.quarantineDir = dir
	return c
}

// MatchTuning holds the session settings applied for each match round on
// PostgreSQL. Empty values are left at the server default.
type MatchTuning struct {
	enabled                     bool
	workMem                     string
	maintenanceWorkMem          string
	effectiveCacheSize          string
	maxParallelWorkersPerGather int
	randomPageCost              float64
}

// NewMatchTuning returns the settings used by the batch matcher by default.
func NewMatchTuning() MatchTuning {
	return MatchTuning{
		enabled:                     true,
		workMem:                     "1GB",
		maintenanceWorkMem:          "2GB",
		effectiveCacheSize:          "12GB",
		maxParallelWorkersPerGather: 4,
		randomPageCost:              1.1,
	}
}

// Enabled reports whether tuning is applied.
func (m MatchTuning) Enabled() bool { return m.enabled }

// WorkMem returns the work_mem setting.
func (m MatchTuning) WorkMem() string { return m.workMem }

// MaintenanceWorkMem returns the maintenance_work_mem setting.
func (m MatchTuning) MaintenanceWorkMem() string { return m.maintenanceWorkMem }

// EffectiveCacheSize returns the effective_cache_size setting.
func (m MatchTuning) EffectiveCacheSize() string { return m.effectiveCacheSize }

// MaxParallelWorkersPerGather returns the max_parallel_workers_per_gather setting.
func (m MatchTuning) MaxParallelWorkersPerGather() int { return m.maxParallelWorkersPerGather }

// RandomPageCost returns the random_page_cost setting.
func (m MatchTuning) RandomPageCost() float64 { return m.randomPageCost }

// Settings returns the non-empty settings as name/value pairs in a stable order.
func (m MatchTuning) Settings() [][2]string {
	if !m.enabled {
		return nil
	}
	var out [][2]string
	add := func(name, value string) {
		if value != "" {
			out = append(out, [2]string{name, value})
		}
	}
	add("work_mem", m.workMem)
	add("maintenance_work_mem", m.maintenanceWorkMem)
	add("effective_cache_size", m.effectiveCacheSize)
	if m.maxParallelWorkersPerGather > 0 {
		add("max_parallel_workers_per_gather", fmt.Sprintf("%d", m.maxParallelWorkersPerGather))
	}
	if m.randomPageCost > 0 {
		add("random_page_cost", fmt.Sprintf("%g", m.randomPageCost))
	}
	return out
}

// MatchConfig configures the matcher.
type MatchConfig struct {
	batchSize int
	tuning    MatchTuning
}

// NewMatchConfig creates a MatchConfig with defaults.
func NewMatchConfig() MatchConfig {
	return MatchConfig{batchSize: DefaultMatchBatchSize, tuning: NewMatchTuning()}
}

// BatchSize returns the number of targets resolved per round.
func (m MatchConfig) BatchSize() int { return m.batchSize }

// Tuning returns the session tuning.
func (m MatchConfig) Tuning() MatchTuning { return m.tuning }

// WithBatchSize returns a copy with the given batch size.
func (m MatchConfig) WithBatchSize(n int) MatchConfig {
	if n > 0 {
		m.batchSize = n
	}
	return m
}

// WithTuning returns a copy with the given tuning.
func (m MatchConfig) WithTuning(t MatchTuning) MatchConfig {
	m.tuning = t
	return m
}

// StoreConfig configures store call timeouts and retries.
type StoreConfig struct {
	timeout    time.Duration
	maxRetries int
}

// NewStoreConfig creates a StoreConfig with defaults.
func NewStoreConfig() StoreConfig {
	return StoreConfig{timeout: DefaultStoreTimeout, maxRetries: DefaultStoreMaxRetries}
}

// Timeout returns the per-call timeout. Zero disables it.
func (s StoreConfig) Timeout() time.Duration { return s.timeout }

// MaxRetries returns how many times a failed call is retried.
func (s StoreConfig) MaxRetries() int { return s.maxRetries }

// WithTimeout returns a copy with the given timeout.
func (s StoreConfig) WithTimeout(d time.Duration) StoreConfig {
	s.timeout = d
	return s
}

// WithMaxRetries returns a copy with the given retry count.
func (s StoreConfig) WithMaxRetries(n int) StoreConfig {
	if n >= 0 {
		s.maxRetries = n
	}
	return s
}

// ReportingConfig configures progress reporting.
type ReportingConfig struct {
	logTimeInterval time.Duration
}

// NewReportingConfig creates a new ReportingConfig with defaults.
func NewReportingConfig() ReportingConfig {
	return ReportingConfig{logTimeInterval: DefaultReportingInterval}
}

// LogTimeInterval returns the minimum time between progress log lines.
func (r ReportingConfig) LogTimeInterval() time.Duration {
	return r.logTimeInterval
}

// WithLogTimeInterval returns a new config with the specified interval.
func (r ReportingConfig) WithLogTimeInterval(d time.Duration) ReportingConfig {
	r.logTimeInterval = d
	return r
}

// AppConfig holds the main application configuration.
type AppConfig struct {
	dbURL              string
	logLevel           string
	logFormat          LogFormat
	embeddingEndpoint  Endpoint
	embeddingDimension int
	httpCacheDir       string
	metricsAddr        string
	ingest             IngestConfig
	match              MatchConfig
	store              StoreConfig
	reporting          ReportingConfig
}

// DefaultLogger returns the default slog logger.
func DefaultLogger() *slog.Logger {
	return slog.Default()
}

// NewAppConfig creates a new AppConfig with defaults.
func NewAppConfig() AppConfig {
	return AppConfig{
		dbURL:              DefaultDBURL,
		logLevel:           DefaultLogLevel,
		logFormat:          LogFormatPretty,
		embeddingEndpoint:  NewEndpoint(),
		embeddingDimension: DefaultEmbeddingDimension,
		ingest:             NewIngestConfig(),
		match:              NewMatchConfig(),
		store:              NewStoreConfig(),
		reporting:          NewReportingConfig(),
	}
}

// DBURL returns the database connection URL.
func (c AppConfig) DBURL() string { return c.dbURL }

// LogLevel returns the log level.
func (c AppConfig) LogLevel() string { return c.logLevel }

// LogFormat returns the log format.
func (c AppConfig) LogFormat() LogFormat { return c.logFormat }

// EmbeddingEndpoint returns the embedding endpoint config.
func (c AppConfig) EmbeddingEndpoint() Endpoint { return c.embeddingEndpoint }

// EmbeddingDimension returns the vector dimension of the schema and provider.
func (c AppConfig) EmbeddingDimension() int { return c.embeddingDimension }

// HTTPCacheDir returns the directory for caching HTTP responses to disk.
// Empty means caching is disabled.
func (c AppConfig) HTTPCacheDir() string { return c.httpCacheDir }

// MetricsAddr returns the listen address of the metrics endpoint. Empty
// means the endpoint is disabled.
func (c AppConfig) MetricsAddr() string { return c.metricsAddr }

// Ingest returns the ingestion config.
func (c AppConfig) Ingest() IngestConfig { return c.ingest }

// Match returns the matcher config.
func (c AppConfig) Match() MatchConfig { return c.match }

// Store returns the store call policy.
func (c AppConfig) Store() StoreConfig { return c.store }

// Reporting returns the reporting config.
func (c AppConfig) Reporting() ReportingConfig { return c.reporting }

// ValidateIngest checks what loading requires.
func (c AppConfig) ValidateIngest() error {
	if !c.embeddingEndpoint.IsConfigured() {
		return ErrMissingEndpoint
	}
	if c.ingest.sourceColumn == "" {
		return fmt.Errorf("%w: SOURCE_COLUMN", ErrMissingValueColumn)
	}
	if c.ingest.targetColumn == "" {
		return fmt.Errorf("%w: TARGET_COLUMN", ErrMissingValueColumn)
	}
	return nil
}

// AppConfigOption is a functional option for AppConfig.
type AppConfigOption func(*AppConfig)

// WithDBURL sets the database URL.
func WithDBURL(url string) AppConfigOption {
	return func(c *AppConfig) { c.dbURL = url }
}

// WithLogLevel sets the log level.
func WithLogLevel(level string) AppConfigOption {
	return func(c *AppConfig) { c.logLevel = level }
}

// WithLogFormat sets the log format.
func WithLogFormat(format LogFormat) AppConfigOption {
	return func(c *AppConfig) { c.logFormat = format }
}

// WithEmbeddingEndpoint sets the embedding endpoint.
func WithEmbeddingEndpoint(e Endpoint) AppConfigOption {
	return func(c *AppConfig) { c.embeddingEndpoint = e }
}

// WithEmbeddingDimension sets the vector dimension.
func WithEmbeddingDimension(n int) AppConfigOption {
	return func(c *AppConfig) {
		if n > 0 {
			c.embeddingDimension = n
		}
	}
}

// WithHTTPCacheDir sets the HTTP response cache directory.
func WithHTTPCacheDir(dir string) AppConfigOption {
	return func(c *AppConfig) { c.httpCacheDir = dir }
}

// WithMetricsAddr sets the metrics listen address.
func WithMetricsAddr(addr string) AppConfigOption {
	return func(c *AppConfig) { c.metricsAddr = addr }
}

// WithIngestConfig sets the ingestion config.
func WithIngestConfig(i IngestConfig) AppConfigOption {
	return func(c *AppConfig) { c.ingest = i }
}

// WithMatchConfig sets the matcher config.
func WithMatchConfig(m MatchConfig) AppConfigOption {
	return func(c *AppConfig) { c.match = m }
}

// WithStoreConfig sets the store call policy.
func WithStoreConfig(s StoreConfig) AppConfigOption {
	return func(c *AppConfig) { c.store = s }
}

// WithReportingConfig sets the reporting config.
func WithReportingConfig(r ReportingConfig) AppConfigOption {
	return func(c *AppConfig) { c.reporting = r }
}

// NewAppConfigWithOptions creates an AppConfig with options applied over defaults.
func NewAppConfigWithOptions(opts ...AppConfigOption) AppConfig {
	c := NewAppConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Apply returns a copy of c with opts applied.
func (c AppConfig) Apply(opts ...AppConfigOption) AppConfig {
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
