package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/helixml/vecmatch/domain/repository"
	"gorm.io/gorm"
)

// ErrNotFound indicates the requested entity was not found.
var ErrNotFound = errors.New("entity not found")

// EntityMapper defines the interface for mapping between domain and database model types.
type EntityMapper[D any, E any] interface {
	ToDomain(entity E) (D, error)
	ToModel(domain D) E
}

// Repository provides generic persistence operations for one table using
// repository.Option-based queries.
type Repository[D any, E any] struct {
	db        Database
	mapper    EntityMapper[D, E]
	label     string
	tableName string
}

// NewRepositoryForTable creates a Repository bound to tableName.
// GORM caches schemas by type, so the same struct cannot map to two tables
// through TableName(). The table is applied via .Table() after .Model() in
// every operation instead.
func NewRepositoryForTable[D any, E any](db Database, mapper EntityMapper[D, E], label string, tableName string) Repository[D, E] {
	return Repository[D, E]{
		db:        db,
		mapper:    mapper,
		label:     label,
		tableName: tableName,
	}
}

// Table returns the bound table name.
func (r Repository[D, E]) Table() string {
	return r.tableName
}

// Scoped returns a session on db bound to the model and table. The trailing
// Session call resets GORM's clone state so callers get a chainable session.
func (r Repository[D, E]) Scoped(db *gorm.DB) *gorm.DB {
	return db.Model(new(E)).Table(r.tableName).Session(&gorm.Session{})
}

// DB returns a scoped session for ctx.
func (r Repository[D, E]) DB(ctx context.Context) *gorm.DB {
	return r.Scoped(r.db.Session(ctx))
}

// Find retrieves entities matching the given options.
func (r Repository[D, E]) Find(ctx context.Context, options ...repository.Option) ([]D, error) {
	var entities []E
	if err := ApplyOptions(r.DB(ctx), options...).Find(&entities).Error; err != nil {
		return nil, fmt.Errorf("find %s: %w", r.label, err)
	}

	domains := make([]D, 0, len(entities))
	for _, entity := range entities {
		d, err := r.mapper.ToDomain(entity)
		if err != nil {
			return nil, fmt.Errorf("map %s: %w", r.label, err)
		}
		domains = append(domains, d)
	}
	return domains, nil
}

// FindOne retrieves the first entity matching the given options.
func (r Repository[D, E]) FindOne(ctx context.Context, options ...repository.Option) (D, error) {
	var zero D
	var entity E
	err := ApplyOptions(r.DB(ctx), options...).Take(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, r.label)
	}
	if err != nil {
		return zero, fmt.Errorf("find one %s: %w", r.label, err)
	}
	d, err := r.mapper.ToDomain(entity)
	if err != nil {
		return zero, fmt.Errorf("map %s: %w", r.label, err)
	}
	return d, nil
}

// Count returns the number of entities matching the given options.
func (r Repository[D, E]) Count(ctx context.Context, options ...repository.Option) (int64, error) {
	var count int64
	if err := ApplyConditions(r.DB(ctx), options...).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", r.label, err)
	}
	return count, nil
}

// CreateAll inserts domains through tx in a single statement, leaving out
// the omitted columns. Store-assigned primary keys are written back into the
// returned models.
func (r Repository[D, E]) CreateAll(tx *gorm.DB, domains []D, omit ...string) ([]E, error) {
	if len(domains) == 0 {
		return nil, nil
	}
	entities := make([]E, len(domains))
	for i, d := range domains {
		entities[i] = r.mapper.ToModel(d)
	}
	db := tx.Table(r.tableName)
	if len(omit) > 0 {
		db = db.Omit(omit...)
	}
	if err := db.Create(&entities).Error; err != nil {
		return nil, fmt.Errorf("create %s: %w", r.label, err)
	}
	return entities, nil
}
