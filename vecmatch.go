// Package vecmatch links rows of a targets dataset to their most similar
// rows of a sources dataset.
//
// Both datasets are read from CSV files, a text column of every row is
// embedded through an OpenAI-compatible endpoint, and the rows are stored
// with their embeddings in PostgreSQL (pgvector) or SQLite. Matching then
// assigns every target the nearest source of the same namespace by cosine
// similarity.
//
// Basic usage:
//
//	cfg, err := config.LoadConfig(".env")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := vecmatch.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	report, err := client.Run(ctx)
package vecmatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/helixml/vecmatch/application/service"
	"github.com/helixml/vecmatch/domain/dataset"
	"github.com/helixml/vecmatch/domain/search"
	"github.com/helixml/vecmatch/domain/task"
	"github.com/helixml/vecmatch/infrastructure/persistence"
	"github.com/helixml/vecmatch/infrastructure/provider"
	"github.com/helixml/vecmatch/infrastructure/quarantine"
	"github.com/helixml/vecmatch/infrastructure/tracking"
	"github.com/helixml/vecmatch/internal/config"
	"github.com/helixml/vecmatch/internal/database"
	"github.com/helixml/vecmatch/internal/log"
	"github.com/helixml/vecmatch/internal/metrics"
)

// Client is the main entry point for the vecmatch library.
type Client struct {
	cfg        config.AppConfig
	db         database.Database
	store      dataset.Store
	embedder   search.Embedder
	quarantine *quarantine.Writer
	metrics    *metrics.Metrics
	board      *tracking.Board
	reporters  []tracking.Reporter
	caches     map[dataset.Kind]*service.EmbeddingCache
	closers    []io.Closer
	runID      string
	logger     *slog.Logger
	closed     atomic.Bool
	mu         sync.Mutex
}

// RunReport summarises a full pipeline run.
type RunReport struct {
	Sources service.Report
	Targets service.Report
	Match   service.MatchReport
}

// New opens the database and wires the stores, embedder, and reporters
// described by cfg. It does not touch the schema; call Init for that.
func New(cfg config.AppConfig, opts ...Option) (*Client, error) {
	cc := &clientConfig{}
	for _, opt := range opts {
		opt(cc)
	}

	logger := cc.logger
	if logger == nil {
		logger = config.DefaultLogger()
	}
	runID := cc.runID
	if runID == "" {
		runID = log.NewCorrelationID()
	}
	m := cc.metrics
	if m == nil {
		m = metrics.New()
	}

	ctx := context.Background()
	db, err := database.NewDatabaseWithLogger(ctx, cfg.DBURL(), logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	embedder := cc.embedder
	closers := cc.closers
	if embedder == nil && cfg.EmbeddingEndpoint().IsConfigured() {
		p, err := newProvider(cfg, logger)
		if err != nil {
			errClose := db.Close()
			return nil, errors.Join(fmt.Errorf("create embedding provider: %w", err), errClose)
		}
		embedder = p
		closers = append(closers, p)
	}

	inner := persistence.NewStore(db, persistence.StoreOptions{
		Dimension:       cfg.EmbeddingDimension(),
		SessionSettings: cfg.Match().Tuning().Settings(),
	}, logger)
	store := persistence.NewRetryingStore(inner,
		persistence.WithCallTimeout(cfg.Store().Timeout()),
		persistence.WithMaxRetries(cfg.Store().MaxRetries()),
		persistence.WithRetryLogger(logger),
	)

	// Progress lines are throttled per operation; metrics and the board
	// see every change.
	logCooldown := tracking.NewCooldown(tracking.NewLoggingReporter(logger), cfg.Reporting().LogTimeInterval())
	board := tracking.NewBoard()
	reporters := append([]tracking.Reporter{logCooldown, m, board}, cc.reporters...)
	closers = append(closers, logCooldown)

	return &Client{
		cfg:        cfg,
		db:         db,
		store:      store,
		embedder:   embedder,
		quarantine: quarantine.NewWriter(cfg.Ingest().QuarantineDir(), quarantine.WithRunID(runID)),
		metrics:    m,
		board:      board,
		reporters:  reporters,
		caches:     make(map[dataset.Kind]*service.EmbeddingCache),
		closers:    closers,
		runID:      runID,
		logger:     logger,
	}, nil
}

func newProvider(cfg config.AppConfig, logger *slog.Logger) (*provider.OpenAIProvider, error) {
	e := cfg.EmbeddingEndpoint()
	return provider.NewOpenAIProviderFromConfig(provider.OpenAIConfig{
		APIKey:           e.APIKey(),
		BaseURL:          e.BaseURL(),
		Model:            e.Model(),
		Dimension:        cfg.EmbeddingDimension(),
		Timeout:          e.Timeout(),
		MaxRetries:       e.MaxRetries(),
		InitialDelay:     e.InitialDelay(),
		BackoffFactor:    e.BackoffFactor(),
		MaxBatchSize:     e.MaxBatchSize(),
		NumParallelTasks: e.NumParallelTasks(),
		HTTPCacheDir:     cfg.HTTPCacheDir(),
		Logger:           logger,
	})
}

// Init creates the schema if needed and verifies the stored embedding
// dimension matches the configured one. It is safe to call repeatedly.
func (c *Client) Init(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	tracker := tracking.NewTracker(task.OperationMigrate, "", c.logger, c.reporters...)
	if err := persistence.Migrate(ctx, c.db, c.cfg.EmbeddingDimension(), c.logger); err != nil {
		tracker.Fail(ctx, err.Error())
		return fmt.Errorf("initialize schema: %w", err)
	}
	tracker.Complete(ctx, "database initialized")
	return nil
}

// Load ingests every configured file of one dataset. Batch failures are
// quarantined and reported, not returned; the error is non-nil only for
// misconfiguration or cancellation.
func (c *Client) Load(ctx context.Context, kind dataset.Kind) (service.Report, error) {
	files := c.cfg.Ingest().SourcesFiles()
	if kind == dataset.KindTargets {
		files = c.cfg.Ingest().TargetsFiles()
	}
	return c.LoadFiles(ctx, kind, files...)
}

// LoadFiles ingests the given files (or globs) into one dataset.
func (c *Client) LoadFiles(ctx context.Context, kind dataset.Kind, files ...string) (service.Report, error) {
	if c.closed.Load() {
		return service.Report{Kind: kind}, ErrClientClosed
	}
	if c.embedder == nil {
		return service.Report{Kind: kind}, ErrNoEmbedder
	}

	ingestion, err := service.NewIngestion(kind, c.cfg.Ingest(), c.store, c.embedder, c.quarantine,
		service.WithIngestionLogger(c.logger),
		service.WithIngestionMetrics(c.metrics),
		service.WithIngestionReporters(c.reporters...),
		service.WithCache(c.cache(kind)),
	)
	if err != nil {
		return service.Report{Kind: kind}, err
	}
	return ingestion.Run(ctx, files)
}

// cache returns the embedding cache of kind, shared by every load of that
// kind through this client.
func (c *Client) cache(kind dataset.Kind) *service.EmbeddingCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	cache, ok := c.caches[kind]
	if !ok {
		cache = service.NewEmbeddingCache()
		c.caches[kind] = cache
	}
	return cache
}

// Match links unmatched targets to their nearest sources.
func (c *Client) Match(ctx context.Context) (service.MatchReport, error) {
	if c.closed.Load() {
		return service.MatchReport{}, ErrClientClosed
	}
	matcher := service.NewMatcher(c.store, c.cfg.Match(),
		service.WithMatcherLogger(c.logger),
		service.WithMatcherMetrics(c.metrics),
		service.WithMatcherReporters(c.reporters...),
	)
	return matcher.Run(ctx)
}

// Run initializes the schema, loads sources then targets, and matches.
func (c *Client) Run(ctx context.Context) (RunReport, error) {
	var report RunReport
	if err := c.Init(ctx); err != nil {
		return report, err
	}

	var err error
	if report.Sources, err = c.Load(ctx, dataset.KindSources); err != nil {
		return report, fmt.Errorf("load sources: %w", err)
	}
	if report.Targets, err = c.Load(ctx, dataset.KindTargets); err != nil {
		return report, fmt.Errorf("load targets: %w", err)
	}
	if report.Match, err = c.Match(ctx); err != nil {
		return report, fmt.Errorf("match: %w", err)
	}
	return report, nil
}

// Stats returns row and match counts.
func (c *Client) Stats(ctx context.Context) (dataset.Stats, error) {
	if c.closed.Load() {
		return dataset.Stats{}, ErrClientClosed
	}
	return c.store.Stats(ctx)
}

// Store returns the record store.
func (c *Client) Store() dataset.Store {
	return c.store
}

// Health checks the database connection.
func (c *Client) Health(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return c.db.Ping(ctx)
}

// Metrics returns the client's metrics.
func (c *Client) Metrics() *metrics.Metrics {
	return c.metrics
}

// Progress returns the latest status of every operation run so far.
func (c *Client) Progress() *tracking.Board {
	return c.board
}

// Quarantine returns the writer of failed batches.
func (c *Client) Quarantine() *quarantine.Writer {
	return c.quarantine
}

// RunID returns the identifier stamped on quarantine entries.
func (c *Client) RunID() string {
	return c.runID
}

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// Close flushes pending progress and releases the database.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClientClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			c.logger.Error("failed to close resource", slog.Any("error", err))
		}
	}

	if err := c.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
