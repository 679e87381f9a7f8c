// Package csvsource streams rows out of delimited input files.
package csvsource

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/helixml/vecmatch/domain/dataset"
)

// ErrNoHeader indicates the input ended before a header row was read.
var ErrNoHeader = errors.New("csv input has no header row")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Reader reads a CSV file one row at a time. The first record after the
// skipped ones is the header; blank and repeated column names are renamed
// so every value keeps its own key. Read errors name the record number,
// counting skipped records and the header.
type Reader struct {
	file   io.Closer
	csv    *csv.Reader
	header []string
	line   int
}

// Open opens path and reads its header, after discarding skipRows leading
// records.
func Open(path string, skipRows int) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	r, err := NewReader(f, skipRows)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	r.file = f
	return r, nil
}

// NewReader reads the header from src after discarding skipRows leading
// records. Records may have any number of fields.
func NewReader(src io.Reader, skipRows int) (*Reader, error) {
	c := csv.NewReader(src)
	c.FieldsPerRecord = -1
	c.LazyQuotes = true

	r := &Reader{csv: c}
	for range max(skipRows, 0) {
		if _, err := r.read(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrNoHeader
			}
			return nil, err
		}
	}

	header, err := r.read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, err
	}
	if len(header) > 0 {
		header[0] = string(bytes.TrimPrefix([]byte(header[0]), utf8BOM))
	}
	for i, name := range header {
		header[i] = strings.TrimSpace(name)
	}
	r.header = dataset.UniqueColumns(header)
	return r, nil
}

// Header returns the column names.
func (r *Reader) Header() []string {
	result := make([]string, len(r.header))
	copy(result, r.header)
	return result
}

// Next returns the next row, or io.EOF when the input is exhausted. Blank
// lines are skipped.
func (r *Reader) Next() (dataset.Row, error) {
	record, err := r.read()
	if err != nil {
		return dataset.Row{}, err
	}
	return dataset.NewRow(r.header, record), nil
}

// Close closes the underlying file, if any.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}

func (r *Reader) read() ([]string, error) {
	record, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("record %d: %w", r.line+1, err)
	}
	r.line++
	return record, nil
}
