package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/helixml/vecmatch/domain/dataset"
	"github.com/helixml/vecmatch/domain/repository"
	"github.com/helixml/vecmatch/domain/task"
	"github.com/helixml/vecmatch/internal/config"
	"github.com/helixml/vecmatch/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedMatchStore replays MatchBatch results.
type scriptedMatchStore struct {
	unmatched int64
	rounds    []int64
	err       error
	calls     int
}

func (s *scriptedMatchStore) CountUnmatched(context.Context) (int64, error) { return s.unmatched, nil }
func (s *scriptedMatchStore) CountOrphans(context.Context) (int64, error)   { return 0, nil }

func (s *scriptedMatchStore) MatchBatch(_ context.Context, _ int) (int64, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	if s.calls > len(s.rounds) {
		return 0, nil
	}
	n := s.rounds[s.calls-1]
	s.unmatched -= n
	return n, nil
}

// statusRecorder collects every reported status.
type statusRecorder struct {
	statuses []task.Status
}

func (r *statusRecorder) OnChange(_ context.Context, s task.Status) error {
	r.statuses = append(r.statuses, s)
	return nil
}

func newMatcher(store dataset.MatchStore, batchSize int, opts ...MatcherOption) *Matcher {
	opts = append([]MatcherOption{WithMatcherLogger(slog.New(slog.DiscardHandler))}, opts...)
	return NewMatcher(store, config.NewMatchConfig().WithBatchSize(batchSize), opts...)
}

func loadScenario(t *testing.T, store dataset.Store) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	embedder := &countingEmbedder{vectors: map[string][]float32{
		"cat":    {1, 0.1, 0},
		"dog":    {0, 1, 0.2},
		"kitten": {0.9, 0.2, 0},
		"puppy":  {0.1, 0.9, 0.3},
		"lonely": {1, 0, 0},
	}}
	sources := writeCSV(t, dir, "sources.csv", "id,ns,text", "1,A,cat", "2,A,dog")
	targets := writeCSV(t, dir, "targets.csv", "ns,text", "A,kitten", "A,puppy", "B,lonely")

	_, err := newIngestion(t, dataset.KindSources, ingestConfig(10), store, embedder, newQuarantine(t)).IngestFile(ctx, sources)
	require.NoError(t, err)
	_, err = newIngestion(t, dataset.KindTargets, ingestConfig(10), store, embedder, newQuarantine(t)).IngestFile(ctx, targets)
	require.NoError(t, err)
}

func TestMatcher_MatchesNearestSourceInNamespace(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	loadScenario(t, store)

	report, err := newMatcher(store, 1).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.Total)
	assert.Equal(t, int64(2), report.Processed)
	assert.Equal(t, int64(1), report.Remaining)
	assert.Equal(t, int64(1), report.Orphans)

	sources, err := store.Find(ctx, dataset.KindSources, repository.WithOrderAsc("id"))
	require.NoError(t, err)
	bySource := map[int64]string{}
	for _, s := range sources {
		bySource[s.ID()] = s.Value()
	}

	targets, err := store.Find(ctx, dataset.KindTargets, repository.WithOrderAsc("id"))
	require.NoError(t, err)
	require.Len(t, targets, 3)

	id, kittenSim, ok := targets[0].Match()
	require.True(t, ok)
	assert.Equal(t, "cat", bySource[id])

	id, _, ok = targets[1].Match()
	require.True(t, ok)
	assert.Equal(t, "dog", bySource[id])

	assert.False(t, targets[2].Matched(), "namespace B has no sources")

	for _, tgt := range targets {
		if _, sim, ok := tgt.Match(); ok {
			assert.GreaterOrEqual(t, sim, 0.0)
			assert.LessOrEqual(t, sim, 1.0)
		}
	}
	assert.Greater(t, kittenSim, 0.9)
}

func TestMatcher_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	loadScenario(t, store)

	_, err := newMatcher(store, 100).Run(ctx)
	require.NoError(t, err)
	before, err := store.Find(ctx, dataset.KindTargets, repository.WithOrderAsc("id"))
	require.NoError(t, err)

	report, err := newMatcher(store, 100).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Processed)
	assert.Equal(t, int64(1), report.Remaining, "the orphan stays unmatched without error")

	after, err := store.Find(ctx, dataset.KindTargets, repository.WithOrderAsc("id"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestMatcher_NothingToMatch(t *testing.T) {
	store := &scriptedMatchStore{}
	rec := &statusRecorder{}

	report, err := newMatcher(store, 10, WithMatcherReporters(rec)).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Total)
	assert.Zero(t, store.calls)
	require.Len(t, rec.statuses, 1)
	assert.Equal(t, task.ReportingStateSkipped, rec.statuses[0].State())
}

func TestMatcher_StopsOnZeroProgress(t *testing.T) {
	store := &scriptedMatchStore{unmatched: 10, rounds: []int64{4, 0}}

	report, err := newMatcher(store, 4).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls)
	assert.Equal(t, 2, report.Rounds)
	assert.Equal(t, int64(4), report.Processed)
	assert.Equal(t, int64(6), report.Remaining)
}

func TestMatcher_StopsWhenTotalReached(t *testing.T) {
	store := &scriptedMatchStore{unmatched: 5, rounds: []int64{2, 2, 1, 7}}
	rec := &statusRecorder{}
	m := metrics.New()

	report, err := newMatcher(store, 2, WithMatcherReporters(rec), WithMatcherMetrics(m)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, int64(5), report.Processed)

	last := rec.statuses[len(rec.statuses)-1]
	assert.Equal(t, task.ReportingStateCompleted, last.State())
	assert.Equal(t, 5, last.Current())
	assert.Equal(t, 5, last.Total())

	assert.Equal(t, 5.0, testutil.ToFloat64(m.MatchRows))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.MatchRemaining))
}

func TestMatcher_StoreErrorAborts(t *testing.T) {
	boom := errors.New("connection refused")
	store := &scriptedMatchStore{unmatched: 3, err: boom}
	rec := &statusRecorder{}

	_, err := newMatcher(store, 10, WithMatcherReporters(rec)).Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, task.ReportingStateFailed, rec.statuses[len(rec.statuses)-1].State())
}

func TestMatcher_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := &scriptedMatchStore{unmatched: 3, rounds: []int64{3}}

	_, err := newMatcher(store, 10).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.calls)
}

func TestMatchReport_RowsPerSecond(t *testing.T) {
	assert.Zero(t, MatchReport{Processed: 10}.RowsPerSecond())
	assert.InDelta(t, 5.0, MatchReport{Processed: 10, Elapsed: 2e9}.RowsPerSecond(), 1e-9)
}
