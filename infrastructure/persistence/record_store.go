package persistence

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/helixml/vecmatch/domain/dataset"
	"github.com/helixml/vecmatch/domain/repository"
	"github.com/helixml/vecmatch/internal/database"
	"gorm.io/gorm"
)

// Store errors.
var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrUnknownKind       = dataset.ErrUnknownKind
)

// lookupChunkSize bounds the number of bound parameters in one IN list.
const lookupChunkSize = 500

// targetOnlyColumns do not exist on the sources table.
var targetOnlyColumns = []string{"matched_source_id", "similarity"}

const countOrphansSQL = `
SELECT COUNT(*) FROM targets t
WHERE t.matched_source_id IS NULL
AND NOT EXISTS (SELECT 1 FROM sources s WHERE s.namespace = t.namespace)`

// RowJSON stores a dataset.Row as a JSON object, keeping column order on write.
type RowJSON dataset.Row

// Scan implements sql.Scanner.
func (r *RowJSON) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*r = RowJSON{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into RowJSON", value)
	}
	var row dataset.Row
	if err := json.Unmarshal(data, &row); err != nil {
		return err
	}
	*r = RowJSON(row)
	return nil
}

// Value implements driver.Valuer. It returns a string so PostgreSQL can
// cast it to jsonb.
func (r RowJSON) Value() (driver.Value, error) {
	b, err := dataset.Row(r).MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Float32Slice stores an embedding as a JSON array.
type Float32Slice []float32

// Scan implements sql.Scanner.
func (f *Float32Slice) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*f = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Float32Slice", value)
	}
	return json.Unmarshal(data, f)
}

// Value implements driver.Valuer.
func (f Float32Slice) Value() (driver.Value, error) {
	if f == nil {
		return nil, nil
	}
	b, err := json.Marshal([]float32(f))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// tables holds one repository per dataset kind over the same model type and
// implements the dialect-independent part of dataset.Store.
type tables[E any] struct {
	db      database.Database
	sources database.Repository[dataset.Record, E]
	targets database.Repository[dataset.Record, E]
}

func newTables[E any](db database.Database, mapper database.EntityMapper[dataset.Record, E]) tables[E] {
	return tables[E]{
		db:      db,
		sources: database.NewRepositoryForTable[dataset.Record, E](db, mapper, "source", dataset.KindSources.Table()),
		targets: database.NewRepositoryForTable[dataset.Record, E](db, mapper, "target", dataset.KindTargets.Table()),
	}
}

func (t tables[E]) repo(kind dataset.Kind) (database.Repository[dataset.Record, E], error) {
	switch kind {
	case dataset.KindSources:
		return t.sources, nil
	case dataset.KindTargets:
		return t.targets, nil
	default:
		return database.Repository[dataset.Record, E]{}, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
}

// insert writes every record in one transaction.
func (t tables[E]) insert(ctx context.Context, kind dataset.Kind, records []dataset.Record) error {
	repo, err := t.repo(kind)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	var omit []string
	if kind == dataset.KindSources {
		omit = targetOnlyColumns
	}
	return database.WithTransaction(ctx, t.db, func(tx *gorm.DB) error {
		_, err := repo.CreateAll(tx, records, omit...)
		return err
	})
}

// findEmbeddings looks values up in IN-list chunks. When a value occurs on
// several rows the first row found wins; rows with the same value were
// embedded from the same text.
func (t tables[E]) findEmbeddings(ctx context.Context, kind dataset.Kind, values []string) (map[string][]float32, error) {
	repo, err := t.repo(kind)
	if err != nil {
		return nil, err
	}
	found := make(map[string][]float32)
	values = distinct(values)
	for start := 0; start < len(values); start += lookupChunkSize {
		end := min(start+lookupChunkSize, len(values))
		records, err := repo.Find(ctx,
			repository.WithSelect("value", "embedding"),
			dataset.WithValueIn(values[start:end]),
		)
		if err != nil {
			return nil, fmt.Errorf("lookup %s embeddings: %w", kind, err)
		}
		for _, r := range records {
			if _, ok := found[r.Value()]; !ok {
				found[r.Value()] = r.Embedding()
			}
		}
	}
	return found, nil
}

func (t tables[E]) find(ctx context.Context, kind dataset.Kind, options ...repository.Option) ([]dataset.Record, error) {
	repo, err := t.repo(kind)
	if err != nil {
		return nil, err
	}
	return repo.Find(ctx, options...)
}

func (t tables[E]) countUnmatched(ctx context.Context) (int64, error) {
	return t.targets.Count(ctx, dataset.WithUnmatched())
}

func (t tables[E]) countOrphans(ctx context.Context) (int64, error) {
	var n int64
	if err := t.db.Session(ctx).Raw(countOrphansSQL).Scan(&n).Error; err != nil {
		return 0, fmt.Errorf("count orphans: %w", err)
	}
	return n, nil
}

func (t tables[E]) stats(ctx context.Context) (dataset.Stats, error) {
	sources, err := t.sources.Count(ctx)
	if err != nil {
		return dataset.Stats{}, err
	}
	targets, err := t.targets.Count(ctx)
	if err != nil {
		return dataset.Stats{}, err
	}
	unmatched, err := t.countUnmatched(ctx)
	if err != nil {
		return dataset.Stats{}, err
	}
	orphans, err := t.countOrphans(ctx)
	if err != nil {
		return dataset.Stats{}, err
	}
	return dataset.NewStats(sources, targets, targets-unmatched, unmatched, orphans), nil
}

// clampSimilarity maps 1 - cosine distance into [0, 1].
func clampSimilarity(s float64) float64 {
	switch {
	case math.IsNaN(s):
		return 0
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}

// cosineDistance returns 1 - cos(a, b). ok is false when the distance is
// undefined (length mismatch or a zero vector).
func cosineDistance(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, magA, magB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		magA += x * x
		magB += y * y
	}
	if magA == 0 || magB == 0 {
		return 0, false
	}
	return 1 - dot/(math.Sqrt(magA)*math.Sqrt(magB)), true
}

func distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
