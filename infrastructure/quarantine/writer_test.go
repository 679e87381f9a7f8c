package quarantine

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/helixml/vecmatch/domain/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rows(values ...string) []dataset.Row {
	out := make([]dataset.Row, 0, len(values))
	for _, v := range values {
		out = append(out, dataset.NewRow([]string{"name", "ns"}, []string{v, "a"}))
	}
	return out
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestWriter_Write(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "quarantine")
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w := NewWriter(dir, WithRunID("run-1"), WithClock(func() time.Time { return at }))

	header := []string{"name", "ns"}
	require.NoError(t, w.Write("sources.csv", 2, header, rows("x", "y, z"), errors.New("embedder down")))
	require.NoError(t, w.Write("sources.csv", 5, header, rows("w"), errors.New("insert failed")))

	csvPath, jsonPath := w.Paths("sources.csv")
	assert.Equal(t, filepath.Join(dir, "sources.failed.csv"), csvPath)
	assert.Equal(t, filepath.Join(dir, "sources.failed.json"), jsonPath)

	assert.Equal(t, [][]string{
		{"name", "ns"},
		{"x", "a"},
		{"y, z", "a"},
		{"w", "a"},
	}, readCSV(t, csvPath), "header is written once")

	input, err := filepath.Abs("sources.csv")
	require.NoError(t, err)
	entries, err := w.Entries("sources.csv")
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{FileName: "sources.csv", Path: input, BatchNumber: 2, RowCount: 2, Error: "embedder down", Timestamp: at, RunID: "run-1"},
		{FileName: "sources.csv", Path: input, BatchNumber: 5, RowCount: 1, Error: "insert failed", Timestamp: at, RunID: "run-1"},
	}, entries)
}

func TestWriter_SameNameInDifferentDirectories(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(filepath.Join(root, "quarantine"))
	first := filepath.Join(root, "a", "sources.csv")
	second := filepath.Join(root, "b", "sources.csv")

	require.NoError(t, w.Write(first, 1, []string{"text"}, []dataset.Row{dataset.NewRow([]string{"text"}, []string{"v1"})}, errors.New("e")))
	require.NoError(t, w.Write(second, 1, []string{"label", "text"}, []dataset.Row{dataset.NewRow([]string{"label", "text"}, []string{"l", "v2"})}, errors.New("e")))

	firstCSV, firstJSON := w.Paths(first)
	secondCSV, secondJSON := w.Paths(second)
	assert.NotEqual(t, firstCSV, secondCSV)
	assert.NotEqual(t, firstJSON, secondJSON)
	assert.Contains(t, filepath.Base(firstCSV), "sources-")

	assert.Equal(t, [][]string{{"text"}, {"v1"}}, readCSV(t, firstCSV))
	assert.Equal(t, [][]string{{"label", "text"}, {"l", "v2"}}, readCSV(t, secondCSV))

	entries, err := w.Entries(first)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sources.csv", entries[0].FileName)
	assert.Equal(t, first, entries[0].Path)

	entries, err = w.Entries(second)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, second, entries[0].Path)
}

func TestWriter_PathsAreStable(t *testing.T) {
	w := NewWriter("q")
	a, _ := w.Paths("data/sources.csv")
	b, _ := w.Paths("./data/../data/sources.csv")
	assert.Equal(t, a, b)
}

func TestWriter_SeparateFilesPerInput(t *testing.T) {
	w := NewWriter(t.TempDir())
	require.NoError(t, w.Write("a.csv", 1, []string{"name"}, rows("x"), errors.New("e")))
	require.NoError(t, w.Write("b.csv", 1, []string{"name"}, rows("y"), errors.New("e")))

	a, err := w.Entries("a.csv")
	require.NoError(t, err)
	b, err := w.Entries("b.csv")
	require.NoError(t, err)
	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}

func TestWriter_NoEntries(t *testing.T) {
	w := NewWriter(t.TempDir())
	entries, err := w.Entries("none.csv")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriter_Concurrent(t *testing.T) {
	w := NewWriter(t.TempDir())
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.Write("t.csv", i+1, []string{"name", "ns"}, rows("v"), errors.New("e")))
		}()
	}
	wg.Wait()

	entries, err := w.Entries("t.csv")
	require.NoError(t, err)
	assert.Len(t, entries, 10)

	csvPath, _ := w.Paths("t.csv")
	assert.Len(t, readCSV(t, csvPath), 11)
}
