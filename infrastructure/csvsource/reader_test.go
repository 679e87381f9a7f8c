package csvsource

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/helixml/vecmatch/domain/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, r *Reader) []dataset.Row {
	t.Helper()
	var rows []dataset.Row
	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			return rows
		}
		require.NoError(t, err)
		rows = append(rows, row)
	}
}

func TestReader_ReadsHeaderAndRows(t *testing.T) {
	r, err := NewReader(strings.NewReader("name,ns\napple,a\n\"b, c\",b\n"), 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "ns"}, r.Header())
	rows := readAll(t, r)
	require.Len(t, rows, 2)

	v, ok := rows[1].Get("name")
	assert.True(t, ok)
	assert.Equal(t, "b, c", v)
}

func TestReader_RenamesBlankAndRepeatedColumns(t *testing.T) {
	r, err := NewReader(strings.NewReader("name,name,,_3\nfirst,second,x,y\n"), 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "name_2", "_3_2", "_3"}, r.Header())
	rows := readAll(t, r)
	require.Len(t, rows, 1)
	assert.Equal(t, r.Header(), rows[0].Columns())

	v, _ := rows[0].Get("name")
	assert.Equal(t, "first", v)
	v, _ = rows[0].Get("name_2")
	assert.Equal(t, "second", v)
}

func TestReader_ErrorNamesRecord(t *testing.T) {
	errBroken := errors.New("connection reset")
	src := io.MultiReader(strings.NewReader("name\nok\n"), iotest.ErrReader(errBroken))
	r, err := NewReader(src, 0)
	require.NoError(t, err)

	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	require.ErrorIs(t, err, errBroken)
	assert.Contains(t, err.Error(), "record 3")
}

func TestReader_SkipRows(t *testing.T) {
	input := "exported 2024-01-01\nsecond preamble,x\nname\napple\n"
	r, err := NewReader(strings.NewReader(input), 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"name"}, r.Header())
	rows := readAll(t, r)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"apple"}, rows[0].Values())
}

func TestReader_RaggedRows(t *testing.T) {
	r, err := NewReader(strings.NewReader("a,b,c\n1\n1,2,3,4\n"), 0)
	require.NoError(t, err)

	rows := readAll(t, r)
	require.Len(t, rows, 2)

	_, ok := rows[0].Get("b")
	assert.False(t, ok, "short rows leave trailing columns absent")
	assert.Equal(t, []string{"a", "b", "c", "_4"}, rows[1].Columns())
}

func TestReader_StripsBOMAndTrimsHeader(t *testing.T) {
	r, err := NewReader(strings.NewReader("\xEF\xBB\xBFname , ns\nx,y\n"), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "ns"}, r.Header())
}

func TestReader_NoHeader(t *testing.T) {
	tests := []struct {
		name  string
		input string
		skip  int
	}{
		{name: "empty", input: ""},
		{name: "all skipped", input: "a\nb\n", skip: 2},
		{name: "skip past end", input: "a\n", skip: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(strings.NewReader(tt.input), tt.skip)
			require.ErrorIs(t, err, ErrNoHeader)
		})
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.csv")
	require.NoError(t, os.WriteFile(path, []byte("name\nx\ny\n"), 0o644))

	r, err := Open(path, 0)
	require.NoError(t, err)
	assert.Len(t, readAll(t, r), 2)
	require.NoError(t, r.Close())
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.csv"), 0)
	require.ErrorIs(t, err, os.ErrNotExist)
}
