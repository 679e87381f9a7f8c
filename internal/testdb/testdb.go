// Package testdb provides a shared test database helper for fast,
// realistic testing against an in-memory SQLite database.
package testdb

import (
	"context"
	"log/slog"
	"testing"

	"github.com/helixml/vecmatch/infrastructure/persistence"
	"github.com/helixml/vecmatch/internal/database"
)

// DefaultDimension is the embedding dimension used by New.
const DefaultDimension = 3

// New creates an in-memory SQLite database with the schema migrated for
// DefaultDimension. The database is automatically closed when the test
// finishes.
func New(t *testing.T) database.Database {
	t.Helper()
	return NewWithDimension(t, DefaultDimension)
}

// NewWithDimension is New with an explicit embedding dimension.
func NewWithDimension(t *testing.T, dimension int) database.Database {
	t.Helper()
	ctx := context.Background()
	db := NewPlain(t)
	if err := persistence.Migrate(ctx, db, dimension, slog.New(slog.DiscardHandler)); err != nil {
		t.Fatalf("testdb.New: migrate: %v", err)
	}
	return db
}

// NewStore returns a SQLite store over a freshly migrated database.
func NewStore(t *testing.T) (database.Database, *persistence.SQLiteRecordStore) {
	t.Helper()
	db := New(t)
	return db, persistence.NewSQLiteRecordStore(db, DefaultDimension, slog.New(slog.DiscardHandler))
}

// NewPlain creates an in-memory SQLite database without running migrations.
// Useful for tests that manage their own schema.
func NewPlain(t *testing.T) database.Database {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewDatabaseWithLogger(ctx, "sqlite:///:memory:", slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("testdb.NewPlain: open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// WithSchema creates an in-memory SQLite database and executes the given
// SQL statements to set up a custom schema.
func WithSchema(t *testing.T, statements ...string) database.Database {
	t.Helper()
	ctx := context.Background()
	db := NewPlain(t)
	for _, stmt := range statements {
		if err := db.Session(ctx).Exec(stmt).Error; err != nil {
			t.Fatalf("testdb.WithSchema: %v\nSQL: %s", err, stmt)
		}
	}
	return db
}
