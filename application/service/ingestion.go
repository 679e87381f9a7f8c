// Package service implements the ingestion pipeline and the matcher.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/helixml/vecmatch/domain/dataset"
	"github.com/helixml/vecmatch/domain/search"
	"github.com/helixml/vecmatch/domain/task"
	"github.com/helixml/vecmatch/infrastructure/csvsource"
	"github.com/helixml/vecmatch/infrastructure/tracking"
	"github.com/helixml/vecmatch/internal/config"
	"github.com/helixml/vecmatch/internal/metrics"
)

// Quarantine records batches that failed to persist.
type Quarantine interface {
	Write(inputFile string, batchNumber int, header []string, rows []dataset.Row, cause error) error
}

// FileReport summarises the ingestion of one input file.
type FileReport struct {
	File          string
	Skipped       bool
	Rows          int
	Valid         int
	Invalid       int
	Inserted      int
	Quarantined   int
	Batches       int
	FailedBatches int
	CacheHits     int
	StoreHits     int
	Embedded      int
	Err           error
}

// Report summarises one ingestion run.
type Report struct {
	Kind  dataset.Kind
	Files []FileReport
}

// Inserted returns the number of persisted rows across files.
func (r Report) Inserted() int { return r.sum(func(f FileReport) int { return f.Inserted }) }

// Quarantined returns the number of quarantined rows across files.
func (r Report) Quarantined() int { return r.sum(func(f FileReport) int { return f.Quarantined }) }

// Invalid returns the number of dropped rows across files.
func (r Report) Invalid() int { return r.sum(func(f FileReport) int { return f.Invalid }) }

// Embedded returns the number of values sent to the embedder across files.
func (r Report) Embedded() int { return r.sum(func(f FileReport) int { return f.Embedded }) }

// FailedBatches returns the number of quarantined batches across files.
func (r Report) FailedBatches() int { return r.sum(func(f FileReport) int { return f.FailedBatches }) }

func (r Report) sum(fn func(FileReport) int) int {
	n := 0
	for _, f := range r.Files {
		n += fn(f)
	}
	return n
}

// Ingestion loads the CSV files of one dataset kind into the store.
type Ingestion struct {
	kind            dataset.Kind
	store           dataset.IngestStore
	embedder        search.Embedder
	quarantine      Quarantine
	cache           *EmbeddingCache
	valueColumn     string
	namespaceColumn string
	skipRows        int
	chunkSize       int
	metrics         *metrics.Metrics
	reporters       []tracking.Reporter
	logger          *slog.Logger
}

// IngestionOption configures an Ingestion.
type IngestionOption func(*Ingestion)

// WithIngestionLogger sets the logger.
func WithIngestionLogger(l *slog.Logger) IngestionOption {
	return func(i *Ingestion) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithIngestionMetrics sets the metrics sink.
func WithIngestionMetrics(m *metrics.Metrics) IngestionOption {
	return func(i *Ingestion) { i.metrics = m }
}

// WithIngestionReporters adds progress reporters.
func WithIngestionReporters(reporters ...tracking.Reporter) IngestionOption {
	return func(i *Ingestion) { i.reporters = append(i.reporters, reporters...) }
}

// WithCache replaces the run's embedding cache.
func WithCache(c *EmbeddingCache) IngestionOption {
	return func(i *Ingestion) {
		if c != nil {
			i.cache = c
		}
	}
}

// NewIngestion creates an ingestion run for kind. The run gets a fresh
// embedding cache unless WithCache supplies one.
func NewIngestion(
	kind dataset.Kind,
	cfg config.IngestConfig,
	store dataset.IngestStore,
	embedder search.Embedder,
	quarantine Quarantine,
	opts ...IngestionOption,
) (*Ingestion, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", dataset.ErrUnknownKind, kind)
	}
	valueColumn := cfg.SourceColumn()
	if kind == dataset.KindTargets {
		valueColumn = cfg.TargetColumn()
	}
	if strings.TrimSpace(valueColumn) == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingValueColumn, kind)
	}
	chunkSize := cfg.ChunkSize()
	if chunkSize <= 0 {
		chunkSize = config.DefaultChunkSize
	}

	i := &Ingestion{
		kind:            kind,
		store:           store,
		embedder:        embedder,
		quarantine:      quarantine,
		cache:           NewEmbeddingCache(),
		valueColumn:     valueColumn,
		namespaceColumn: cfg.NamespaceColumn(),
		skipRows:        cfg.SkipRows(),
		chunkSize:       chunkSize,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With(slog.String("kind", kind.Label()))
	return i, nil
}

// Cache returns the run's embedding cache.
func (i *Ingestion) Cache() *EmbeddingCache { return i.cache }

// Run ingests every file matched by patterns, in order. Paths that match
// nothing are logged and skipped. Data errors never abort the run; only
// cancellation of ctx does.
func (i *Ingestion) Run(ctx context.Context, patterns []string) (Report, error) {
	report := Report{Kind: i.kind}

	for _, pattern := range patterns {
		files, err := expand(pattern)
		if err != nil {
			i.logger.ErrorContext(ctx, "invalid file pattern", slog.String("pattern", pattern), slog.String("error", err.Error()))
			report.Files = append(report.Files, FileReport{File: pattern, Err: err})
			continue
		}
		if len(files) == 0 {
			i.logger.WarnContext(ctx, "file does not exist, skipping", slog.String("file", pattern))
			report.Files = append(report.Files, FileReport{File: pattern, Skipped: true})
			continue
		}
		for _, file := range files {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			fr, err := i.IngestFile(ctx, file)
			report.Files = append(report.Files, fr)
			if err != nil && ctx.Err() != nil {
				return report, ctx.Err()
			}
		}
	}
	return report, nil
}

// expand resolves a glob. A plain path is returned as is when it exists.
func expand(pattern string) ([]string, error) {
	if !strings.ContainsAny(pattern, "*?[") {
		if _, err := os.Stat(pattern); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, nil
			}
			return nil, err
		}
		return []string{pattern}, nil
	}
	return filepath.Glob(pattern)
}

// IngestFile loads one file. The returned error is also recorded in the
// report; it is set when the file could not be read or ctx was cancelled.
// Batch failures are quarantined and do not produce an error.
func (i *Ingestion) IngestFile(ctx context.Context, path string) (FileReport, error) {
	report := FileReport{File: path}

	tracker := tracking.NewTracker(task.LoadOperation(i.kind), path, i.logger, i.reporters...)

	total, err := i.countValid(path)
	if err != nil {
		report.Err = err
		tracker.Fail(ctx, err.Error())
		return report, err
	}
	totalBatches := (total + i.chunkSize - 1) / i.chunkSize
	i.logger.InfoContext(ctx, "start loading",
		slog.String("file", path),
		slog.Int("valid_rows", total),
		slog.Int("batches", totalBatches),
		slog.Int("chunk_size", i.chunkSize),
	)
	tracker.SetTotal(ctx, totalBatches)

	reader, err := csvsource.Open(path, i.skipRows)
	if err != nil {
		report.Err = err
		tracker.Fail(ctx, err.Error())
		return report, err
	}
	defer func() { _ = reader.Close() }()
	header := reader.Header()

	batch := make([]dataset.Row, 0, i.chunkSize)
	flush := func() {
		report.Batches++
		i.processBatch(ctx, path, header, report.Batches, totalBatches, batch, &report)
		tracker.SetCurrent(ctx, report.Batches, fmt.Sprintf("batch %d/%d", report.Batches, totalBatches))
		batch = batch[:0]
	}

	for {
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			report.Err = fmt.Errorf("read %s: %w", path, err)
			break
		}
		report.Rows++
		if _, ok := i.value(row); !ok {
			report.Invalid++
			continue
		}
		report.Valid++
		batch = append(batch, row)
		if len(batch) < i.chunkSize {
			continue
		}
		flush()
		if err := ctx.Err(); err != nil {
			report.Err = err
			break
		}
	}
	if len(batch) > 0 && ctx.Err() == nil {
		flush()
	}

	i.metrics.RecordRows(i.kind.String(), metrics.StatusInvalid, report.Invalid)
	i.logSummary(ctx, report)

	if report.Err != nil {
		tracker.Fail(ctx, report.Err.Error())
		return report, report.Err
	}
	tracker.Complete(ctx, fmt.Sprintf("loaded %d of %d valid rows", report.Inserted, report.Valid))
	return report, nil
}

func (i *Ingestion) countValid(path string) (int, error) {
	reader, err := csvsource.Open(path, i.skipRows)
	if err != nil {
		return 0, err
	}
	defer func() { _ = reader.Close() }()

	n := 0
	for {
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			// The second pass reports the error after loading what precedes it.
			return n, nil
		}
		if _, ok := i.value(row); ok {
			n++
		}
	}
}

// value returns the trimmed value column of a row. ok is false when it is
// absent or blank.
func (i *Ingestion) value(row dataset.Row) (string, bool) {
	v, ok := row.Get(i.valueColumn)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (i *Ingestion) namespace(row dataset.Row) string {
	if i.namespaceColumn == "" {
		return dataset.DefaultNamespace
	}
	ns, _ := row.Get(i.namespaceColumn)
	return ns
}

// processBatch resolves and inserts one batch, quarantining it on failure.
func (i *Ingestion) processBatch(ctx context.Context, path string, header []string, number, total int, rows []dataset.Row, report *FileReport) {
	kind := i.kind.String()
	err := i.persist(ctx, rows, report)
	if err == nil {
		report.Inserted += len(rows)
		i.metrics.RecordRows(kind, metrics.StatusInserted, len(rows))
		i.metrics.RecordBatch(kind, metrics.StatusInserted)
		return
	}

	report.FailedBatches++
	report.Quarantined += len(rows)
	i.metrics.RecordRows(kind, metrics.StatusQuarantined, len(rows))
	i.metrics.RecordBatch(kind, metrics.StatusQuarantined)

	attrs := []any{
		slog.String("file", path),
		slog.Int("batch", number),
		slog.Int("batches", total),
		slog.Int("rows", len(rows)),
		slog.String("error", err.Error()),
	}
	if errors.Is(err, ErrLengthMismatch) {
		i.logger.ErrorContext(ctx, "embedding resolution defect, quarantining batch", attrs...)
	} else {
		i.logger.WarnContext(ctx, "batch failed, quarantining", attrs...)
	}

	if qerr := i.quarantine.Write(path, number, header, rows, err); qerr != nil {
		i.logger.ErrorContext(ctx, "failed to write quarantine", append(attrs, slog.String("quarantine_error", qerr.Error()))...)
	}
}

// persist resolves embeddings for every row, then inserts the batch.
func (i *Ingestion) persist(ctx context.Context, rows []dataset.Row, report *FileReport) error {
	values := make([]string, len(rows))
	for j, row := range rows {
		values[j], _ = i.value(row)
	}

	embeddings, err := i.resolve(ctx, values, report)
	if err != nil {
		return err
	}
	if len(embeddings) != len(rows) {
		return fmt.Errorf("%w: %d embeddings for %d rows", ErrLengthMismatch, len(embeddings), len(rows))
	}

	records := make([]dataset.Record, len(rows))
	for j, row := range rows {
		records[j] = dataset.NewRecord(i.namespace(row), row, values[j], embeddings[j])
	}
	if err := i.store.Insert(ctx, i.kind, records); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// resolve returns one embedding per value: from the cache, then from rows
// already stored, then from a single embedder call for the rest.
func (i *Ingestion) resolve(ctx context.Context, values []string, report *FileReport) ([][]float32, error) {
	kind := i.kind.String()
	resolved, missing := i.cache.Resolve(values)
	report.CacheHits += len(resolved)
	i.metrics.RecordLookups(kind, metrics.ResultCacheHit, len(resolved))

	if len(missing) > 0 {
		stored, err := i.store.FindEmbeddings(ctx, i.kind, missing)
		if err != nil {
			return nil, fmt.Errorf("lookup stored embeddings: %w", err)
		}
		remaining := missing[:0:0]
		for _, v := range missing {
			if vec, ok := stored[v]; ok {
				resolved[v] = vec
				i.cache.Put(v, vec)
				continue
			}
			remaining = append(remaining, v)
		}
		report.StoreHits += len(missing) - len(remaining)
		i.metrics.RecordLookups(kind, metrics.ResultStoreHit, len(missing)-len(remaining))
		i.metrics.RecordLookups(kind, metrics.ResultMiss, len(remaining))

		if len(remaining) > 0 {
			vectors, err := i.embedder.Embed(ctx, remaining)
			if err != nil {
				return nil, fmt.Errorf("embed %d values: %w", len(remaining), err)
			}
			if len(vectors) != len(remaining) {
				return nil, fmt.Errorf("%w: embedder returned %d vectors for %d values", ErrLengthMismatch, len(vectors), len(remaining))
			}
			for j, v := range remaining {
				resolved[v] = vectors[j]
				i.cache.Put(v, vectors[j])
			}
			report.Embedded += len(remaining)
			i.metrics.RecordEmbedded(kind, len(remaining))
		}
	}

	embeddings := make([][]float32, 0, len(values))
	for _, v := range values {
		vec, ok := resolved[v]
		if !ok {
			return nil, fmt.Errorf("%w: no embedding for %q", ErrLengthMismatch, v)
		}
		embeddings = append(embeddings, vec)
	}
	return embeddings, nil
}

func (i *Ingestion) logSummary(ctx context.Context, r FileReport) {
	level := slog.LevelInfo
	if r.FailedBatches > 0 || r.Err != nil {
		level = slog.LevelWarn
	}
	i.logger.Log(ctx, level, "file summary",
		slog.String("file", r.File),
		slog.Int("rows", r.Rows),
		slog.Int("valid", r.Valid),
		slog.Int("invalid", r.Invalid),
		slog.Int("inserted", r.Inserted),
		slog.Int("quarantined", r.Quarantined),
		slog.Int("failed_batches", r.FailedBatches),
		slog.Int("cache_hits", r.CacheHits),
		slog.Int("store_hits", r.StoreHits),
		slog.Int("embedded", r.Embedded),
	)
}
