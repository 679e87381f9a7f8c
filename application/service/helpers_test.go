package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/helixml/vecmatch/domain/dataset"
	"github.com/helixml/vecmatch/infrastructure/persistence"
	"github.com/helixml/vecmatch/infrastructure/quarantine"
	"github.com/helixml/vecmatch/internal/config"
	"github.com/helixml/vecmatch/internal/testdb"
	"github.com/stretchr/testify/require"
)

var errEmbedderDown = errors.New("embedder unavailable")

// countingEmbedder returns fixed vectors per text and records every call.
// Unknown texts get a vector derived from their length.
type countingEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   [][]string
	failOn  string
	short   bool
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, append([]string(nil), texts...))

	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if e.failOn != "" && text == e.failOn {
			return nil, errEmbedderDown
		}
		vec, ok := e.vectors[text]
		if !ok {
			vec = []float32{float32(len(text)), 1, 0}
		}
		out = append(out, vec)
	}
	if e.short && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (e *countingEmbedder) embeddedValues() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var all []string
	for _, call := range e.calls {
		all = append(all, call...)
	}
	return all
}

func (e *countingEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// failingInsertStore fails Insert for batches containing a given value.
type failingInsertStore struct {
	dataset.Store
	poison string
}

func (s failingInsertStore) Insert(ctx context.Context, kind dataset.Kind, records []dataset.Record) error {
	for _, r := range records {
		if r.Value() == s.poison {
			return errors.New("constraint violation")
		}
	}
	return s.Store.Insert(ctx, kind, records)
}

func newStore(t *testing.T) *persistence.SQLiteRecordStore {
	t.Helper()
	_, store := testdb.NewStore(t)
	return store
}

func writeCSV(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func ingestConfig(chunkSize int) config.IngestConfig {
	return config.NewIngestConfig().
		WithSourceColumn("text").
		WithTargetColumn("text").
		WithNamespaceColumn("ns").
		WithChunkSize(chunkSize)
}

func newIngestion(t *testing.T, kind dataset.Kind, cfg config.IngestConfig, store dataset.IngestStore, embedder *countingEmbedder, q Quarantine) *Ingestion {
	t.Helper()
	i, err := NewIngestion(kind, cfg, store, embedder, q, WithIngestionLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	return i
}

func newQuarantine(t *testing.T) *quarantine.Writer {
	t.Helper()
	return quarantine.NewWriter(filepath.Join(t.TempDir(), "quarantine"))
}
