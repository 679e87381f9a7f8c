package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/helixml/vecmatch/domain/dataset"
	"github.com/helixml/vecmatch/domain/repository"
	"github.com/helixml/vecmatch/internal/database"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// pgMatchBatchSQL assigns each selected target its nearest same-namespace
// source. Targets whose namespace has no source are skipped so they cannot
// hold back later targets. Ties on distance go to the lowest source id.
// Rows locked by a concurrent matcher are skipped.
const pgMatchBatchSQL = `
UPDATE targets t
SET matched_source_id = s.id,
    similarity = CASE
        WHEN s.distance = 'NaN'::float8 THEN 0
        ELSE GREATEST(0, LEAST(1, 1 - s.distance))
    END
FROM (
    SELECT tt.id, tt.namespace, tt.embedding
    FROM targets tt
    WHERE tt.matched_source_id IS NULL
    AND EXISTS (SELECT 1 FROM sources ss WHERE ss.namespace = tt.namespace)
    ORDER BY tt.id
    LIMIT ?
    FOR UPDATE SKIP LOCKED
) b
CROSS JOIN LATERAL (
    SELECT src.id, b.embedding <=> src.embedding AS distance
    FROM sources src
    WHERE src.namespace = b.namespace
    ORDER BY b.embedding <=> src.embedding, src.id
    LIMIT 1
) s
WHERE t.id = b.id`

// PgRecordModel is a source or target row in PostgreSQL.
type PgRecordModel struct {
	ID              int64           `gorm:"column:id;primaryKey;autoIncrement"`
	Namespace       string          `gorm:"column:namespace"`
	Data            RowJSON         `gorm:"column:data;type:jsonb"`
	Value           string          `gorm:"column:value"`
	Embedding       pgvector.Vector `gorm:"column:embedding;type:vector"`
	MatchedSourceID *int64          `gorm:"column:matched_source_id"`
	Similarity      *float64        `gorm:"column:similarity"`
}

type pgRecordMapper struct{}

func (pgRecordMapper) ToDomain(e PgRecordModel) (dataset.Record, error) {
	r := dataset.NewRecord(e.Namespace, dataset.Row(e.Data), e.Value, e.Embedding.Slice()).WithID(e.ID)
	if e.MatchedSourceID != nil && e.Similarity != nil {
		r = r.WithMatch(*e.MatchedSourceID, *e.Similarity)
	}
	return r, nil
}

func (pgRecordMapper) ToModel(r dataset.Record) PgRecordModel {
	m := PgRecordModel{
		ID:        r.ID(),
		Namespace: r.Namespace(),
		Data:      RowJSON(r.Data()),
		Value:     r.Value(),
		Embedding: pgvector.NewVector(r.Embedding()),
	}
	if id, sim, ok := r.Match(); ok {
		m.MatchedSourceID = &id
		m.Similarity = &sim
	}
	return m
}

// PgvectorRecordStore implements dataset.Store on PostgreSQL with pgvector.
// Nearest-neighbour search runs inside the database.
type PgvectorRecordStore struct {
	tables[PgRecordModel]
	settings [][2]string
	logger   *slog.Logger
}

// PgvectorOption configures a PgvectorRecordStore.
type PgvectorOption func(*PgvectorRecordStore)

// WithSessionSettings sets run-time parameters applied, transaction-local,
// before every match round (e.g. {"work_mem", "1GB"}).
func WithSessionSettings(settings [][2]string) PgvectorOption {
	return func(s *PgvectorRecordStore) {
		s.settings = append([][2]string(nil), settings...)
	}
}

// NewPgvectorRecordStore creates a PgvectorRecordStore. The schema must
// already exist; see Migrate.
func NewPgvectorRecordStore(db database.Database, logger *slog.Logger, opts ...PgvectorOption) *PgvectorRecordStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PgvectorRecordStore{
		tables: newTables[PgRecordModel](db, pgRecordMapper{}),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert persists a batch in one transaction.
func (s *PgvectorRecordStore) Insert(ctx context.Context, kind dataset.Kind, records []dataset.Record) error {
	return s.insert(ctx, kind, records)
}

// FindEmbeddings returns stored embeddings for the given values.
func (s *PgvectorRecordStore) FindEmbeddings(ctx context.Context, kind dataset.Kind, values []string) (map[string][]float32, error) {
	return s.findEmbeddings(ctx, kind, values)
}

// Find returns records of a kind matching the options.
func (s *PgvectorRecordStore) Find(ctx context.Context, kind dataset.Kind, options ...repository.Option) ([]dataset.Record, error) {
	return s.find(ctx, kind, options...)
}

// CountUnmatched counts targets without a matched source.
func (s *PgvectorRecordStore) CountUnmatched(ctx context.Context) (int64, error) {
	return s.countUnmatched(ctx)
}

// CountOrphans counts unmatched targets whose namespace has no source.
func (s *PgvectorRecordStore) CountOrphans(ctx context.Context) (int64, error) {
	return s.countOrphans(ctx)
}

// Stats summarises the store contents.
func (s *PgvectorRecordStore) Stats(ctx context.Context) (dataset.Stats, error) {
	return s.stats(ctx)
}

// MatchBatch matches up to limit targets in a single UPDATE.
func (s *PgvectorRecordStore) MatchBatch(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}
	return database.WithTransactionResult(ctx, s.db, func(tx *gorm.DB) (int64, error) {
		for _, kv := range s.settings {
			if err := tx.Exec("SELECT set_config(?, ?, true)", kv[0], kv[1]).Error; err != nil {
				return 0, fmt.Errorf("set %s: %w", kv[0], err)
			}
		}
		res := tx.Exec(pgMatchBatchSQL, limit)
		if res.Error != nil {
			return 0, fmt.Errorf("match batch: %w", res.Error)
		}
		return res.RowsAffected, nil
	})
}
