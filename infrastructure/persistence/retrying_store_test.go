package persistence

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/helixml/vecmatch/domain/dataset"
	"github.com/helixml/vecmatch/domain/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("connection reset")

// flakyStore fails the first failures calls of MatchBatch and Insert.
type flakyStore struct {
	dataset.Store
	failures int
	calls    int
	err      error
	deadline bool
}

func (f *flakyStore) MatchBatch(ctx context.Context, limit int) (int64, error) {
	f.calls++
	if _, ok := ctx.Deadline(); ok {
		f.deadline = true
	}
	if f.calls <= f.failures {
		return 0, f.err
	}
	return int64(limit), nil
}

func (f *flakyStore) Insert(_ context.Context, _ dataset.Kind, _ []dataset.Record) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyStore) Find(context.Context, dataset.Kind, ...repository.Option) ([]dataset.Record, error) {
	f.calls++
	return nil, f.err
}

func newRetrying(next dataset.Store, retries int) *RetryingStore {
	return NewRetryingStore(next,
		WithMaxRetries(retries),
		WithRetryDelay(time.Millisecond),
		WithCallTimeout(time.Second),
		WithRetryLogger(slog.New(slog.DiscardHandler)),
	)
}

func TestRetryingStore_RetriesTransientErrors(t *testing.T) {
	inner := &flakyStore{failures: 1, err: errFlaky}
	store := newRetrying(inner, 1)

	n, err := store.MatchBatch(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, 2, inner.calls)
	assert.True(t, inner.deadline, "each attempt runs under the call timeout")
}

func TestRetryingStore_GivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyStore{failures: 10, err: errFlaky}
	store := newRetrying(inner, 2)

	err := store.Insert(context.Background(), dataset.KindSources, nil)
	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingStore_ZeroRetries(t *testing.T) {
	inner := &flakyStore{failures: 10, err: errFlaky}
	store := newRetrying(inner, 0)

	_, err := store.MatchBatch(context.Background(), 1)
	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryingStore_PermanentErrors(t *testing.T) {
	for _, permanent := range []error{ErrDimensionMismatch, ErrUnknownKind, context.Canceled} {
		t.Run(permanent.Error(), func(t *testing.T) {
			inner := &flakyStore{failures: 10, err: permanent}
			store := newRetrying(inner, 3)

			err := store.Insert(context.Background(), dataset.KindSources, nil)
			require.ErrorIs(t, err, permanent)
			assert.Equal(t, 1, inner.calls)
		})
	}
}

func TestRetryingStore_StopsWhenCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inner := &flakyStore{err: errFlaky}
	store := newRetrying(inner, 3)

	_, err := store.Find(ctx, dataset.KindTargets)
	require.Error(t, err)
	assert.LessOrEqual(t, inner.calls, 1)
}

func TestRetryingStore_PassesThroughToRealStore(t *testing.T) {
	ctx := context.Background()
	store := newRetrying(newTestStore(t), 1)

	require.NoError(t, store.Insert(ctx, dataset.KindSources, []dataset.Record{record("a", "s", 1, 0, 0)}))
	require.NoError(t, store.Insert(ctx, dataset.KindTargets, []dataset.Record{record("a", "t", 1, 0, 0)}))

	found, err := store.FindEmbeddings(ctx, dataset.KindSources, []string{"s"})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	unmatched, err := store.CountUnmatched(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unmatched)

	n, err := store.MatchBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	orphans, err := store.CountOrphans(ctx)
	require.NoError(t, err)
	assert.Zero(t, orphans)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Matched())
}
