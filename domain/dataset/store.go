package dataset

import (
	"context"

	"github.com/helixml/vecmatch/domain/repository"
)

// IngestStore is the part of the store used by ingestion. It only appends.
type IngestStore interface {
	// Insert persists every record of a batch in one transaction: either all
	// rows are written or none are.
	Insert(ctx context.Context, kind Kind, records []Record) error

	// FindEmbeddings returns, for each of the given values that is already
	// persisted in the kind's table, the stored embedding.
	FindEmbeddings(ctx context.Context, kind Kind, values []string) (map[string][]float32, error)
}

// MatchStore is the part of the store used by the matcher. It only updates
// targets.
type MatchStore interface {
	// CountUnmatched counts targets without a matched source.
	CountUnmatched(ctx context.Context) (int64, error)

	// CountOrphans counts unmatched targets whose namespace has no source.
	CountOrphans(ctx context.Context) (int64, error)

	// MatchBatch assigns up to limit unmatched targets, in id order, their
	// nearest source within the same namespace and returns how many targets
	// were updated. Targets whose namespace has no sources are skipped.
	MatchBatch(ctx context.Context, limit int) (int64, error)
}

// Store is a vector-capable store for sources and targets.
type Store interface {
	IngestStore
	MatchStore

	// Find returns records of a kind matching the options.
	Find(ctx context.Context, kind Kind, options ...repository.Option) ([]Record, error)

	// Stats summarises the store contents.
	Stats(ctx context.Context) (Stats, error)
}
