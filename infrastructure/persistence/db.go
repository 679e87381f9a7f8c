// Package persistence provides the source and target stores.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/helixml/vecmatch/domain/dataset"
	"github.com/helixml/vecmatch/internal/database"
	"gorm.io/gorm"
)

// ErrMigrationFailed indicates schema creation failed.
var ErrMigrationFailed = errors.New("schema migration failed")

// pgCheckDimensionSQL reads the declared vector dimension of a table's
// embedding column. The table name resolves through the search path, the
// same way the unqualified DDL in pgSchema does.
const pgCheckDimensionSQL = `
SELECT a.atttypmod AS dimension
FROM pg_attribute a
WHERE a.attrelid = to_regclass(?)
AND a.attname = 'embedding'
AND NOT a.attisdropped`

func pgSchema(dimension int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS sources (
    id BIGSERIAL PRIMARY KEY,
    namespace TEXT NOT NULL DEFAULT 'default',
    data JSONB NOT NULL,
    value TEXT NOT NULL,
    embedding vector(%d) NOT NULL,
    UNIQUE (id, namespace)
)`, dimension),
		`CREATE INDEX IF NOT EXISTS idx_sources_embedding ON sources USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS idx_sources_namespace ON sources (namespace)`,
		`CREATE INDEX IF NOT EXISTS idx_sources_value ON sources (value)`,
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS targets (
    id BIGSERIAL PRIMARY KEY,
    namespace TEXT NOT NULL DEFAULT 'default',
    data JSONB NOT NULL,
    value TEXT NOT NULL,
    embedding vector(%d) NOT NULL,
    matched_source_id BIGINT,
    similarity DOUBLE PRECISION CHECK (similarity >= 0 AND similarity <= 1),
    FOREIGN KEY (matched_source_id, namespace)
        REFERENCES sources (id, namespace)
        ON DELETE SET NULL
)`, dimension),
		`CREATE INDEX IF NOT EXISTS idx_targets_embedding ON targets USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS idx_targets_matched_source_id ON targets (matched_source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_targets_namespace ON targets (namespace)`,
		`CREATE INDEX IF NOT EXISTS idx_targets_value ON targets (value)`,
	}
}

var sqliteSchema = []string{
	`
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    namespace TEXT NOT NULL DEFAULT 'default',
    data TEXT NOT NULL,
    value TEXT NOT NULL,
    embedding TEXT NOT NULL,
    UNIQUE (id, namespace)
)`,
	`CREATE INDEX IF NOT EXISTS idx_sources_namespace ON sources (namespace)`,
	`CREATE INDEX IF NOT EXISTS idx_sources_value ON sources (value)`,
	`
CREATE TABLE IF NOT EXISTS targets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    namespace TEXT NOT NULL DEFAULT 'default',
    data TEXT NOT NULL,
    value TEXT NOT NULL,
    embedding TEXT NOT NULL,
    matched_source_id INTEGER,
    similarity REAL CHECK (similarity >= 0 AND similarity <= 1),
    FOREIGN KEY (matched_source_id, namespace)
        REFERENCES sources (id, namespace)
        ON DELETE SET NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_targets_matched_source_id ON targets (matched_source_id)`,
	`CREATE INDEX IF NOT EXISTS idx_targets_namespace ON targets (namespace)`,
	`CREATE INDEX IF NOT EXISTS idx_targets_value ON targets (value)`,
}

// Migrate creates the sources and targets tables and their indexes if they
// do not exist, then verifies that stored embeddings have the given
// dimension. It is idempotent.
func Migrate(ctx context.Context, db database.Database, dimension int, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: invalid dimension %d", ErrMigrationFailed, dimension)
	}

	statements := sqliteSchema
	if db.IsPostgres() {
		statements = pgSchema(dimension)
	}

	session := db.Session(ctx)
	for _, stmt := range statements {
		if err := session.Exec(stmt).Error; err != nil {
			return errors.Join(ErrMigrationFailed, fmt.Errorf("exec %q: %w", firstLine(stmt), err))
		}
	}

	for _, kind := range dataset.Kinds() {
		stored, ok, err := storedDimension(ctx, db, kind.Table())
		if err != nil {
			return errors.Join(ErrMigrationFailed, err)
		}
		if ok && stored != dimension {
			return fmt.Errorf("%w: table %s has %d, configured %d", ErrDimensionMismatch, kind.Table(), stored, dimension)
		}
	}

	logger.InfoContext(ctx, "schema ready", "dimension", dimension, "postgres", db.IsPostgres())
	return nil
}

// storedDimension reads the embedding dimension of a table: the column type
// on PostgreSQL, the first stored vector on SQLite. ok is false when it
// cannot be determined.
func storedDimension(ctx context.Context, db database.Database, table string) (int, bool, error) {
	session := db.Session(ctx)
	if db.IsPostgres() {
		var dim int
		res := session.Raw(pgCheckDimensionSQL, table).Scan(&dim)
		if res.Error != nil && !errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return 0, false, fmt.Errorf("check dimension of %s: %w", table, res.Error)
		}
		return dim, res.RowsAffected > 0 && dim > 0, nil
	}

	var vectors []Float32Slice
	err := session.Table(table).Select("embedding").Order("id ASC").Limit(1).Pluck("embedding", &vectors).Error
	if err != nil {
		return 0, false, fmt.Errorf("check dimension of %s: %w", table, err)
	}
	if len(vectors) == 0 {
		return 0, false, nil
	}
	return len(vectors[0]), true, nil
}

func firstLine(stmt string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(stmt), "\n")
	return line
}

// StoreOptions configures NewStore.
type StoreOptions struct {
	Dimension       int
	SessionSettings [][2]string
}

// NewStore returns the store implementation for the database dialect.
func NewStore(db database.Database, opts StoreOptions, logger *slog.Logger) dataset.Store {
	if db.IsPostgres() {
		return NewPgvectorRecordStore(db, logger, WithSessionSettings(opts.SessionSettings))
	}
	return NewSQLiteRecordStore(db, opts.Dimension, logger)
}
