package persistence

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/helixml/vecmatch/domain/dataset"
	"github.com/helixml/vecmatch/domain/repository"
)

// RetryingStore wraps a dataset.Store with a per-call timeout and bounded
// retries on infrastructure errors.
type RetryingStore struct {
	next         dataset.Store
	timeout      time.Duration
	maxRetries   int
	initialDelay time.Duration
	logger       *slog.Logger
}

// RetryOption configures a RetryingStore.
type RetryOption func(*RetryingStore)

// WithCallTimeout bounds each attempt. Zero means no timeout.
func WithCallTimeout(d time.Duration) RetryOption {
	return func(s *RetryingStore) { s.timeout = d }
}

// WithMaxRetries sets how many times a failed call is retried.
func WithMaxRetries(n int) RetryOption {
	return func(s *RetryingStore) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithRetryDelay sets the first backoff delay.
func WithRetryDelay(d time.Duration) RetryOption {
	return func(s *RetryingStore) { s.initialDelay = d }
}

// WithRetryLogger sets the logger used to report retries.
func WithRetryLogger(l *slog.Logger) RetryOption {
	return func(s *RetryingStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewRetryingStore wraps next.
func NewRetryingStore(next dataset.Store, opts ...RetryOption) *RetryingStore {
	s := &RetryingStore{
		next:         next,
		maxRetries:   1,
		initialDelay: 500 * time.Millisecond,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert persists a batch. A failed attempt has rolled back, so it is
// safe to repeat.
func (s *RetryingStore) Insert(ctx context.Context, kind dataset.Kind, records []dataset.Record) error {
	_, err := retry(ctx, s, "insert", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.next.Insert(ctx, kind, records)
	})
	return err
}

// FindEmbeddings returns stored embeddings for the given values.
func (s *RetryingStore) FindEmbeddings(ctx context.Context, kind dataset.Kind, values []string) (map[string][]float32, error) {
	return retry(ctx, s, "find embeddings", func(ctx context.Context) (map[string][]float32, error) {
		return s.next.FindEmbeddings(ctx, kind, values)
	})
}

// Find returns records of a kind matching the options.
func (s *RetryingStore) Find(ctx context.Context, kind dataset.Kind, options ...repository.Option) ([]dataset.Record, error) {
	return retry(ctx, s, "find", func(ctx context.Context) ([]dataset.Record, error) {
		return s.next.Find(ctx, kind, options...)
	})
}

// CountUnmatched counts targets without a matched source.
func (s *RetryingStore) CountUnmatched(ctx context.Context) (int64, error) {
	return retry(ctx, s, "count unmatched", s.next.CountUnmatched)
}

// CountOrphans counts unmatched targets whose namespace has no source.
func (s *RetryingStore) CountOrphans(ctx context.Context) (int64, error) {
	return retry(ctx, s, "count orphans", s.next.CountOrphans)
}

// MatchBatch matches up to limit targets. Matching only touches unmatched
// targets, so a repeated round never overwrites a match.
func (s *RetryingStore) MatchBatch(ctx context.Context, limit int) (int64, error) {
	return retry(ctx, s, "match batch", func(ctx context.Context) (int64, error) {
		return s.next.MatchBatch(ctx, limit)
	})
}

// Stats summarises the store contents.
func (s *RetryingStore) Stats(ctx context.Context) (dataset.Stats, error) {
	return retry(ctx, s, "stats", s.next.Stats)
}

func retry[T any](ctx context.Context, s *RetryingStore, name string, fn func(context.Context) (T, error)) (T, error) {
	attempt := 0
	op := func() (T, error) {
		attempt++
		callCtx, cancel := s.callContext(ctx)
		defer cancel()

		result, err := fn(callCtx)
		if err == nil {
			return result, nil
		}
		if !retryable(ctx, err) {
			return result, backoff.Permanent(err)
		}
		if attempt <= s.maxRetries {
			s.logger.WarnContext(ctx, "store call failed, retrying",
				slog.String("call", name),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		return result, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.initialDelay

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(s.maxRetries+1)),
		backoff.WithMaxElapsedTime(0),
	)
}

func (s *RetryingStore) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// retryable reports whether err may succeed on another attempt. Validation
// errors and cancellation of the caller's context are final.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, ErrDimensionMismatch),
		errors.Is(err, ErrUnknownKind):
		return false
	}
	return true
}
