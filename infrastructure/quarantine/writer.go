// Package quarantine records batches that could not be persisted so they can
// be inspected and replayed.
package quarantine

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/helixml/vecmatch/domain/dataset"
)

// Entry describes one quarantined batch in the JSON sidecar.
type Entry struct {
	FileName    string    `json:"fileName"`
	Path        string    `json:"path"`
	BatchNumber int       `json:"batchNumber"`
	RowCount    int       `json:"rowCount"`
	Error       string    `json:"error"`
	Timestamp   time.Time `json:"timestamp"`
	RunID       string    `json:"runId,omitempty"`
}

// Writer appends failed batches to <dir>/<stem>.failed.csv and their
// metadata to <dir>/<stem>.failed.json. Each input path gets its own pair
// of files. It is safe for concurrent use.
type Writer struct {
	dir   string
	runID string
	now   func() time.Time
	mu    sync.Mutex
}

// Option configures a Writer.
type Option func(*Writer)

// WithRunID tags every entry with a run correlation id.
func WithRunID(id string) Option {
	return func(w *Writer) { w.runID = id }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// NewWriter creates a Writer rooted at dir. The directory is created on the
// first write.
func NewWriter(dir string, opts ...Option) *Writer {
	w := &Writer{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Dir returns the quarantine directory.
func (w *Writer) Dir() string { return w.dir }

// Paths returns the CSV and JSON paths used for an input file.
func (w *Writer) Paths(inputFile string) (csvPath, jsonPath string) {
	stem := artifactStem(inputFile)
	return filepath.Join(w.dir, stem+".failed.csv"), filepath.Join(w.dir, stem+".failed.json")
}

// artifactStem is the input's base name without extension. Inputs outside
// the working directory get a short hash of their absolute path appended,
// so files with the same name in different directories stay apart.
func artifactStem(inputFile string) string {
	stem := strings.TrimSuffix(filepath.Base(inputFile), filepath.Ext(inputFile))
	abs := absPath(inputFile)
	if wd, err := os.Getwd(); err == nil && filepath.Dir(abs) == wd {
		return stem
	}
	sum := sha256.Sum256([]byte(abs))
	return stem + "-" + hex.EncodeToString(sum[:4])
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// Write records a failed batch. header is written when the CSV file is
// created; rows are appended in order.
func (w *Writer) Write(inputFile string, batchNumber int, header []string, rows []dataset.Row, cause error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create quarantine dir: %w", err)
	}
	csvPath, jsonPath := w.Paths(inputFile)

	if err := appendRows(csvPath, header, rows); err != nil {
		return fmt.Errorf("write quarantine rows: %w", err)
	}

	message := ""
	if cause != nil {
		message = cause.Error()
	}
	entry := Entry{
		FileName:    filepath.Base(inputFile),
		Path:        absPath(inputFile),
		BatchNumber: batchNumber,
		RowCount:    len(rows),
		Error:       message,
		Timestamp:   w.now().UTC(),
		RunID:       w.runID,
	}
	if err := appendEntry(jsonPath, entry); err != nil {
		return fmt.Errorf("write quarantine metadata: %w", err)
	}
	return nil
}

// Entries reads the metadata recorded for an input file.
func (w *Writer) Entries(inputFile string) ([]Entry, error) {
	_, jsonPath := w.Paths(inputFile)
	return readEntries(jsonPath)
}

func appendRows(path string, header []string, rows []dataset.Row) error {
	_, statErr := os.Stat(path)
	isNew := errors.Is(statErr, fs.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(f)
	if isNew {
		if err := cw.Write(header); err != nil {
			_ = f.Close()
			return err
		}
	}
	for _, row := range rows {
		if err := cw.Write(row.Values()); err != nil {
			_ = f.Close()
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func readEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return entries, nil
}

// appendEntry rewrites the JSON array through a temp file so the sidecar is
// always a complete document.
func appendEntry(path string, entry Entry) error {
	entries, err := readEntries(path)
	if err != nil {
		return err
	}
	entries = append(entries, entry)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".quarantine-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}
