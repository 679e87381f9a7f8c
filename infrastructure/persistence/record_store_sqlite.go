package persistence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/helixml/vecmatch/domain/dataset"
	"github.com/helixml/vecmatch/domain/repository"
	"github.com/helixml/vecmatch/internal/database"
	"gorm.io/gorm"
)

const sqliteSelectBatchSQL = `
SELECT t.id, t.namespace, t.embedding
FROM targets t
WHERE t.matched_source_id IS NULL
AND EXISTS (SELECT 1 FROM sources s WHERE s.namespace = t.namespace)
ORDER BY t.id
LIMIT ?`

// SQLiteRecordModel is a source or target row in SQLite. Embeddings are
// stored as JSON arrays.
type SQLiteRecordModel struct {
	ID              int64        `gorm:"column:id;primaryKey;autoIncrement"`
	Namespace       string       `gorm:"column:namespace"`
	Data            RowJSON      `gorm:"column:data"`
	Value           string       `gorm:"column:value"`
	Embedding       Float32Slice `gorm:"column:embedding"`
	MatchedSourceID *int64       `gorm:"column:matched_source_id"`
	Similarity      *float64     `gorm:"column:similarity"`
}

type sqliteRecordMapper struct{}

func (sqliteRecordMapper) ToDomain(e SQLiteRecordModel) (dataset.Record, error) {
	r := dataset.NewRecord(e.Namespace, dataset.Row(e.Data), e.Value, e.Embedding).WithID(e.ID)
	if e.MatchedSourceID != nil && e.Similarity != nil {
		r = r.WithMatch(*e.MatchedSourceID, *e.Similarity)
	}
	return r, nil
}

func (sqliteRecordMapper) ToModel(r dataset.Record) SQLiteRecordModel {
	m := SQLiteRecordModel{
		ID:        r.ID(),
		Namespace: r.Namespace(),
		Data:      RowJSON(r.Data()),
		Value:     r.Value(),
		Embedding: Float32Slice(r.Embedding()),
	}
	if id, sim, ok := r.Match(); ok {
		m.MatchedSourceID = &id
		m.Similarity = &sim
	}
	return m
}

// SQLiteRecordStore implements dataset.Store on SQLite. Nearest neighbours
// are found by exact cosine comparison in process, loading the sources of
// the namespaces present in each batch.
type SQLiteRecordStore struct {
	tables[SQLiteRecordModel]
	dimension int
	logger    *slog.Logger
}

// NewSQLiteRecordStore creates a SQLiteRecordStore. Records whose embedding
// length differs from dimension are rejected on insert; zero disables the
// check. The schema must already exist; see Migrate.
func NewSQLiteRecordStore(db database.Database, dimension int, logger *slog.Logger) *SQLiteRecordStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteRecordStore{
		tables:    newTables[SQLiteRecordModel](db, sqliteRecordMapper{}),
		dimension: dimension,
		logger:    logger,
	}
}

// Insert persists a batch in one transaction.
func (s *SQLiteRecordStore) Insert(ctx context.Context, kind dataset.Kind, records []dataset.Record) error {
	if s.dimension > 0 {
		for _, r := range records {
			if n := len(r.Embedding()); n != s.dimension {
				return fmt.Errorf("%w: record %q has %d, store has %d", ErrDimensionMismatch, r.Value(), n, s.dimension)
			}
		}
	}
	return s.insert(ctx, kind, records)
}

// FindEmbeddings returns stored embeddings for the given values.
func (s *SQLiteRecordStore) FindEmbeddings(ctx context.Context, kind dataset.Kind, values []string) (map[string][]float32, error) {
	return s.findEmbeddings(ctx, kind, values)
}

// Find returns records of a kind matching the options.
func (s *SQLiteRecordStore) Find(ctx context.Context, kind dataset.Kind, options ...repository.Option) ([]dataset.Record, error) {
	return s.find(ctx, kind, options...)
}

// CountUnmatched counts targets without a matched source.
func (s *SQLiteRecordStore) CountUnmatched(ctx context.Context) (int64, error) {
	return s.countUnmatched(ctx)
}

// CountOrphans counts unmatched targets whose namespace has no source.
func (s *SQLiteRecordStore) CountOrphans(ctx context.Context) (int64, error) {
	return s.countOrphans(ctx)
}

// Stats summarises the store contents.
func (s *SQLiteRecordStore) Stats(ctx context.Context) (dataset.Stats, error) {
	return s.stats(ctx)
}

type candidate struct {
	ID        int64        `gorm:"column:id"`
	Namespace string       `gorm:"column:namespace"`
	Embedding Float32Slice `gorm:"column:embedding"`
}

// MatchBatch matches up to limit targets inside one transaction.
func (s *SQLiteRecordStore) MatchBatch(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}
	return database.WithTransactionResult(ctx, s.db, func(tx *gorm.DB) (int64, error) {
		var batch []candidate
		if err := tx.Raw(sqliteSelectBatchSQL, limit).Scan(&batch).Error; err != nil {
			return 0, fmt.Errorf("select unmatched targets: %w", err)
		}
		if len(batch) == 0 {
			return 0, nil
		}

		namespaces := make([]string, 0, len(batch))
		for _, t := range batch {
			namespaces = append(namespaces, t.Namespace)
		}
		var sources []candidate
		err := tx.Table(dataset.KindSources.Table()).
			Select("id", "namespace", "embedding").
			Where("namespace IN ?", distinct(namespaces)).
			Order("id ASC").
			Scan(&sources).Error
		if err != nil {
			return 0, fmt.Errorf("load sources: %w", err)
		}
		byNamespace := make(map[string][]candidate)
		for _, src := range sources {
			byNamespace[src.Namespace] = append(byNamespace[src.Namespace], src)
		}

		var updated int64
		for _, t := range batch {
			sourceID, similarity, ok := nearest(t.Embedding, byNamespace[t.Namespace])
			if !ok {
				continue
			}
			res := tx.Table(dataset.KindTargets.Table()).
				Where("id = ? AND matched_source_id IS NULL", t.ID).
				Updates(map[string]any{"matched_source_id": sourceID, "similarity": similarity})
			if res.Error != nil {
				return 0, fmt.Errorf("update target %d: %w", t.ID, res.Error)
			}
			updated += res.RowsAffected
		}
		return updated, nil
	})
}

// nearest returns the source closest to target by cosine distance. sources
// must be in ascending id order: on equal distance the first one wins.
// Sources with an undefined distance are only chosen when no other exists.
func nearest(target []float32, sources []candidate) (int64, float64, bool) {
	if len(sources) == 0 {
		return 0, 0, false
	}
	bestID := int64(0)
	bestDistance := 0.0
	found := false
	for _, src := range sources {
		d, ok := cosineDistance(target, src.Embedding)
		if !ok {
			continue
		}
		if !found || d < bestDistance {
			bestID, bestDistance, found = src.ID, d, true
		}
	}
	if !found {
		return sources[0].ID, 0, true
	}
	return bestID, clampSimilarity(1 - bestDistance), true
}
