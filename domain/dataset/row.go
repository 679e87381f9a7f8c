package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Row is one parsed CSV record: an ordered mapping of column name to value.
// Column sets vary between input files, so the shape is dynamic; only the
// value and namespace column names are known ahead of time.
type Row struct {
	columns []string
	values  []string
}

// NewRow pairs header columns with record values. A record shorter than the
// header leaves the trailing columns absent; a longer record keeps its extra
// values under positional names ("_4", "_5", ...). Column names are made
// unique with UniqueColumns, so no value is shadowed by another.
func NewRow(columns, values []string) Row {
	names := make([]string, len(values))
	for i := range values {
		if i < len(columns) {
			names[i] = columns[i]
		}
	}
	return Row{columns: UniqueColumns(names), values: append([]string(nil), values...)}
}

// UniqueColumns returns names with blanks replaced by their position ("_3"
// for the third column) and repeats suffixed with their occurrence ("name",
// "name_2"). A generated name that is already taken gets a further suffix.
// Names that are already unique and non-blank are returned unchanged.
func UniqueColumns(names []string) []string {
	taken := make(map[string]bool, len(names))
	for _, n := range names {
		if n != "" {
			taken[n] = false
		}
	}
	result := make([]string, len(names))
	for i, n := range names {
		if n != "" && !taken[n] {
			taken[n] = true
			result[i] = n
			continue
		}
		base := n
		if base == "" {
			base = fmt.Sprintf("_%d", i+1)
		}
		candidate := base
		for k := 2; ; k++ {
			if _, exists := taken[candidate]; !exists {
				break
			}
			candidate = fmt.Sprintf("%s_%d", base, k)
		}
		taken[candidate] = true
		result[i] = candidate
	}
	return result
}

// Get returns the value of a column and whether the row has that column.
func (r Row) Get(column string) (string, bool) {
	for i, c := range r.columns {
		if c == column {
			return r.values[i], true
		}
	}
	return "", false
}

// Columns returns the column names in input order.
func (r Row) Columns() []string {
	result := make([]string, len(r.columns))
	copy(result, r.columns)
	return result
}

// Values returns the values in input order.
func (r Row) Values() []string {
	result := make([]string, len(r.values))
	copy(result, r.values)
	return result
}

// Len returns the number of columns present in the row.
func (r Row) Len() int { return len(r.columns) }

// MarshalJSON encodes the row as a JSON object, keeping column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into the row, keeping key order.
// Non-string values are kept as their JSON text.
func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("row: expected JSON object, got %v", tok)
	}

	var cols, vals []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("row: expected string key, got %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			s = string(raw)
		}
		cols = append(cols, key)
		vals = append(vals, s)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	r.columns = cols
	r.values = vals
	return nil
}
