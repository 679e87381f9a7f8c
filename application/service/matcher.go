package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/helixml/vecmatch/domain/dataset"
	"github.com/helixml/vecmatch/domain/task"
	"github.com/helixml/vecmatch/infrastructure/tracking"
	"github.com/helixml/vecmatch/internal/config"
	"github.com/helixml/vecmatch/internal/metrics"
)

// MatchReport summarises one matcher run.
type MatchReport struct {
	Total     int64
	Processed int64
	Rounds    int
	Remaining int64
	Orphans   int64
	Elapsed   time.Duration
}

// RowsPerSecond returns the average matching throughput.
func (r MatchReport) RowsPerSecond() float64 {
	return rate(r.Processed, r.Elapsed)
}

func rate(n int64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

// Matcher assigns every unmatched target its nearest same-namespace source,
// in bounded rounds. A run only touches unmatched targets, so it can be
// interrupted and restarted at any point.
type Matcher struct {
	store     dataset.MatchStore
	batchSize int
	metrics   *metrics.Metrics
	reporters []tracking.Reporter
	logger    *slog.Logger
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithMatcherLogger sets the logger.
func WithMatcherLogger(l *slog.Logger) MatcherOption {
	return func(m *Matcher) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMatcherMetrics sets the metrics sink.
func WithMatcherMetrics(mt *metrics.Metrics) MatcherOption {
	return func(m *Matcher) { m.metrics = mt }
}

// WithMatcherReporters adds progress reporters.
func WithMatcherReporters(reporters ...tracking.Reporter) MatcherOption {
	return func(m *Matcher) { m.reporters = append(m.reporters, reporters...) }
}

// NewMatcher creates a Matcher.
func NewMatcher(store dataset.MatchStore, cfg config.MatchConfig, opts ...MatcherOption) *Matcher {
	batchSize := cfg.BatchSize()
	if batchSize <= 0 {
		batchSize = config.DefaultMatchBatchSize
	}
	m := &Matcher{
		store:     store,
		batchSize: batchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run matches targets until none are left or a round makes no progress.
// Store errors abort the run; rerunning resumes from the remaining
// unmatched targets.
func (m *Matcher) Run(ctx context.Context) (MatchReport, error) {
	start := time.Now()
	var report MatchReport

	total, err := m.store.CountUnmatched(ctx)
	if err != nil {
		return report, fmt.Errorf("count unmatched targets: %w", err)
	}
	report.Total = total
	m.metrics.SetMatchRemaining(total)

	tracker := tracking.NewTracker(task.OperationMatch, "", m.logger, m.reporters...)
	if total == 0 {
		tracker.Skip(ctx, "no unmatched targets")
		return report, nil
	}

	tracker.SetTotal(ctx, int(total))
	m.logger.InfoContext(ctx, "start matching",
		slog.Int64("unmatched", total),
		slog.Int("batch_size", m.batchSize),
	)

	for report.Processed < total {
		if err := ctx.Err(); err != nil {
			report.Elapsed = time.Since(start)
			tracker.Fail(ctx, err.Error())
			return report, err
		}

		roundStart := time.Now()
		n, err := m.store.MatchBatch(ctx, m.batchSize)
		if err != nil {
			report.Elapsed = time.Since(start)
			tracker.Fail(ctx, err.Error())
			return report, fmt.Errorf("match round %d: %w", report.Rounds+1, err)
		}
		d := time.Since(roundStart)
		report.Rounds++
		report.Processed += n
		m.metrics.RecordMatchRound(n, d)
		m.metrics.SetMatchRemaining(max(total-report.Processed, 0))

		if n == 0 {
			break
		}
		tracker.SetCurrent(ctx, int(min(report.Processed, total)),
			fmt.Sprintf("round %d: matched %d targets in %s (%.0f rows/s)",
				report.Rounds, n, d.Round(time.Millisecond), rate(n, d)))
	}

	remaining, err := m.store.CountUnmatched(ctx)
	if err != nil {
		return report, fmt.Errorf("count unmatched targets: %w", err)
	}
	orphans, err := m.store.CountOrphans(ctx)
	if err != nil {
		return report, fmt.Errorf("count orphan targets: %w", err)
	}
	report.Remaining = remaining
	report.Orphans = orphans
	report.Elapsed = time.Since(start)
	m.metrics.SetMatchRemaining(remaining)

	if remaining > 0 {
		m.logger.InfoContext(ctx, "targets left unmatched",
			slog.Int64("remaining", remaining),
			slog.Int64("without_sources", orphans),
		)
	}
	tracker.Complete(ctx, fmt.Sprintf("matched %d targets in %d rounds (%.0f rows/s)",
		report.Processed, report.Rounds, report.RowsPerSecond()))
	return report, nil
}
