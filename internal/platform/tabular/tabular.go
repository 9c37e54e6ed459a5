// Package tabular provides flat-file table storage for the care navigator.
// A table is a header row plus string-valued records, persisted as one
// UTF-8 CSV file per table. It defines the Store interface, a directory
// backed FileStore and an in-memory MemStore for tests and development.
package tabular

import (
	"context"
	"errors"
	"regexp"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrTableAbsent  = errors.New("table not found")
	ErrInvalidName  = errors.New("invalid table name")
	ErrUnencodable  = errors.New("list item cannot be encoded")
	ErrMissingTable = errors.New("table is nil")
)

var validName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateName reports whether name is usable as a table name. Names map to
// file names, so path separators and dots are rejected.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// Row is a single record keyed by column name.
type Row map[string]string

// Clone returns an independent copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Table is an ordered set of rows sharing one header.
type Table struct {
	Header []string
	Rows   []Row

	// Skipped holds records dropped on read because their field count did
	// not match the header.
	Skipped []Skipped
}

// Skipped is a malformed record kept aside by Decode.
type Skipped struct {
	Line   int
	Fields []string
}

// Field returns the value at the position of col in header, or "" when the
// record is too short.
func (s Skipped) Field(header []string, col string) string {
	for i, h := range header {
		if h == col && i < len(s.Fields) {
			return s.Fields[i]
		}
	}
	return ""
}

// NewTable returns an empty table with the given header.
func NewTable(header ...string) *Table {
	return &Table{Header: append([]string(nil), header...)}
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{
		Header:  append([]string(nil), t.Header...),
		Rows:    make([]Row, len(t.Rows)),
		Skipped: append([]Skipped(nil), t.Skipped...),
	}
	for i, r := range t.Rows {
		out.Rows[i] = r.Clone()
	}
	return out
}

// Append adds a row. Columns absent from the header are appended to it so
// no value is lost on the next write.
func (t *Table) Append(r Row) {
	for k := range r {
		if !t.HasColumn(k) {
			t.Header = append(t.Header, k)
		}
	}
	t.Rows = append(t.Rows, r)
}

// HasColumn reports whether the header contains col.
func (t *Table) HasColumn(col string) bool {
	for _, h := range t.Header {
		if h == col {
			return true
		}
	}
	return false
}

// Where returns the rows for which match returns true.
func (t *Table) Where(match func(Row) bool) []Row {
	var out []Row
	for _, r := range t.Rows {
		if match(r) {
			out = append(out, r)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Store interface
// ---------------------------------------------------------------------------

// Store defines the contract for table storage backends.
//
// Read returns ErrTableAbsent when the table has never been written.
// Update performs a read-modify-write under a per-table writer lock so
// concurrent updates of the same table are applied one after another; fn
// mutates the table in place and the result is written only if fn returns
// nil.
type Store interface {
	Read(ctx context.Context, name string) (*Table, error)
	Write(ctx context.Context, name string, t *Table) error
	Update(ctx context.Context, name string, fn func(*Table) error) error
	Exists(ctx context.Context, name string) (bool, error)
}
