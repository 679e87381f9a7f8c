package vecmatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixml/vecmatch"
	"github.com/helixml/vecmatch/domain/dataset"
	"github.com/helixml/vecmatch/domain/repository"
	"github.com/helixml/vecmatch/domain/task"
	"github.com/helixml/vecmatch/internal/config"
)

var vectors = map[string][]float32{
	"cat":    {1, 0.1, 0},
	"dog":    {0, 1, 0.2},
	"kitten": {0.9, 0.2, 0},
	"puppy":  {0.1, 0.9, 0.3},
	"whale":  {0, 0, 1},
}

// embeddingServer serves fixed vectors for known words and counts the
// texts it was asked to embed.
func embeddingServer(t *testing.T, embedded *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openai.EmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		items, _ := req.Input.([]any)
		data := make([]openai.Embedding, len(items))
		for i, item := range items {
			text, _ := item.(string)
			vec, ok := vectors[text]
			if !ok {
				vec = []float32{1, 1, 1}
			}
			data[i] = openai.Embedding{Object: "embedding", Index: i, Embedding: vec}
		}
		embedded.Add(int64(len(items)))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(openai.EmbeddingResponse{Object: "list", Data: data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeFile(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func newClient(t *testing.T, baseURL string, opts ...vecmatch.Option) (*vecmatch.Client, string) {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sources.csv"), "id,category,label", "1,A,cat", "2,A,dog", "3,C,whale")
	writeFile(t, filepath.Join(dir, "targets.csv"), "category,label,note", "A,kitten,x", "A,puppy,y", "B,lonely,z", "A,,blank")

	cfg := config.NewAppConfigWithOptions(
		config.WithDBURL("sqlite:///"+filepath.Join(dir, "vecmatch.db")),
		config.WithEmbeddingDimension(3),
		config.WithEmbeddingEndpoint(config.NewEndpointWithOptions(
			config.WithBaseURL(baseURL),
			config.WithModel("test-embedding"),
			config.WithAPIKey("test-key"),
			config.WithMaxRetries(0),
			config.WithInitialDelay(time.Millisecond),
		)),
		config.WithIngestConfig(config.NewIngestConfig().
			WithSourcesFiles(filepath.Join(dir, "sources.csv")).
			WithTargetsFiles(filepath.Join(dir, "targets.csv")).
			WithSourceColumn("label").
			WithTargetColumn("label").
			WithNamespaceColumn("category").
			WithChunkSize(2).
			WithQuarantineDir(filepath.Join(dir, "quarantine"))),
		config.WithMatchConfig(config.NewMatchConfig().WithBatchSize(1)),
	)

	opts = append([]vecmatch.Option{vecmatch.WithLogger(slog.New(slog.DiscardHandler)), vecmatch.WithRunID("run-1")}, opts...)
	client, err := vecmatch.New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, dir
}

func TestClient_Run(t *testing.T) {
	ctx := context.Background()
	var embedded atomic.Int64
	client, _ := newClient(t, embeddingServer(t, &embedded).URL)

	report, err := client.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Sources.Inserted())
	assert.Equal(t, 3, report.Targets.Inserted())
	assert.Equal(t, 1, report.Targets.Invalid())
	assert.Zero(t, report.Targets.Quarantined())
	assert.Equal(t, int64(6), embedded.Load())

	assert.Equal(t, int64(2), report.Match.Processed)
	assert.Equal(t, int64(1), report.Match.Remaining)
	assert.Equal(t, int64(1), report.Match.Orphans)

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Sources())
	assert.Equal(t, int64(3), stats.Targets())
	assert.Equal(t, int64(2), stats.Matched())
	assert.Equal(t, int64(1), stats.Unmatched())

	sources, err := client.Store().Find(ctx, dataset.KindSources, dataset.WithValue("cat"))
	require.NoError(t, err)
	require.Len(t, sources, 1)
	kittens, err := client.Store().Find(ctx, dataset.KindTargets, dataset.WithValue("kitten"))
	require.NoError(t, err)
	require.Len(t, kittens, 1)
	id, _, ok := kittens[0].Match()
	require.True(t, ok)
	assert.Equal(t, sources[0].ID(), id)

	note, _ := kittens[0].Data().Get("note")
	assert.Equal(t, "x", note)
}

func TestClient_RerunIsIdempotentForMatching(t *testing.T) {
	ctx := context.Background()
	var embedded atomic.Int64
	client, _ := newClient(t, embeddingServer(t, &embedded).URL)

	_, err := client.Run(ctx)
	require.NoError(t, err)
	before, err := client.Store().Find(ctx, dataset.KindTargets, repository.WithOrderAsc("id"), dataset.WithMatched())
	require.NoError(t, err)

	report, err := client.Match(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Processed)

	after, err := client.Store().Find(ctx, dataset.KindTargets, repository.WithOrderAsc("id"), dataset.WithMatched())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestClient_EndpointDownQuarantinesBatches(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"invalid key"}}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)
	client, dir := newClient(t, srv.URL)
	require.NoError(t, client.Init(ctx))

	report, err := client.Load(ctx, dataset.KindSources)
	require.NoError(t, err)
	assert.Zero(t, report.Inserted())
	assert.Equal(t, 3, report.Quarantined())
	assert.Equal(t, 2, report.FailedBatches())

	entries, err := client.Quarantine().Entries(filepath.Join(dir, "sources.csv"))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "sources.csv", entries[0].FileName)
	assert.Equal(t, "run-1", entries[0].RunID)
	assert.Equal(t, 2, entries[0].RowCount)
	assert.Equal(t, 1, entries[1].RowCount)

	assert.Equal(t, filepath.Join(dir, "sources.csv"), entries[0].Path)

	csvPath, _ := client.Quarantine().Paths(filepath.Join(dir, "sources.csv"))
	assert.Equal(t, filepath.Join(dir, "quarantine"), filepath.Dir(csvPath))
	_, err = os.Stat(csvPath)
	assert.NoError(t, err)
}

func TestClient_WithEmbedder(t *testing.T) {
	ctx := context.Background()
	fake := embedderFunc(func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1, 0, 0}
		}
		return out, nil
	})
	client, _ := newClient(t, "http://127.0.0.1:1", vecmatch.WithEmbedder(fake))
	require.NoError(t, client.Init(ctx))

	report, err := client.Load(ctx, dataset.KindSources)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Inserted())
}

func TestClient_NoEndpoint(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	client, err := vecmatch.New(config.NewAppConfigWithOptions(
		config.WithDBURL("sqlite:///"+filepath.Join(dir, "vecmatch.db")),
		config.WithEmbeddingDimension(3),
	), vecmatch.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	_, err = client.Load(ctx, dataset.KindSources)
	assert.ErrorIs(t, err, vecmatch.ErrNoEmbedder)

	require.NoError(t, client.Init(ctx))
	report, err := client.Match(ctx)
	require.NoError(t, err, "matching needs no embedder")
	assert.Zero(t, report.Total)
}

func TestClient_ProgressAndMetrics(t *testing.T) {
	ctx := context.Background()
	var embedded atomic.Int64
	client, _ := newClient(t, embeddingServer(t, &embedded).URL)

	_, err := client.Run(ctx)
	require.NoError(t, err)

	var ops []task.Operation
	for _, s := range client.Progress().Snapshot() {
		ops = append(ops, s.Operation())
		assert.True(t, s.State().IsTerminal(), s.ID())
	}
	assert.Contains(t, ops, task.OperationMigrate)
	assert.Contains(t, ops, task.OperationLoadSources)
	assert.Contains(t, ops, task.OperationLoadTargets)
	assert.Contains(t, ops, task.OperationMatch)

	families, err := client.Metrics().Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestClient_Health(t *testing.T) {
	client, _ := newClient(t, "http://127.0.0.1:1")
	require.NoError(t, client.Health(context.Background()))
}

func TestClient_Close(t *testing.T) {
	client, _ := newClient(t, "http://127.0.0.1:1")
	require.NoError(t, client.Close())

	assert.ErrorIs(t, client.Close(), vecmatch.ErrClientClosed)
	_, err := client.Stats(context.Background())
	assert.True(t, errors.Is(err, vecmatch.ErrClientClosed))
}

type embedderFunc func(ctx context.Context, texts []string) ([][]float32, error)

func (f embedderFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}
