package tabular

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// FileExt is the extension of table files inside a FileStore directory.
const FileExt = ".csv"

// lockRetry is how often a blocked writer polls the table's lock file.
const lockRetry = 5 * time.Millisecond

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// FileStore keeps each table in <dir>/<name>.csv. Writes go to a temporary
// file in the same directory which is synced and renamed over the target,
// so readers never observe a partially written table.
//
// Writers hold an in-process mutex and an flock on <dir>/<name>.csv.lock,
// so stores in different processes sharing a directory also take turns.
type FileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore returns a FileStore rooted at dir. The directory is not
// created until the first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}
}

// Dir returns the directory backing the store.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+FileExt)
}

func (s *FileStore) writerLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// lock takes the table's writer lock for this process and then its file
// lock. The returned func releases both.
func (s *FileStore) lock(ctx context.Context, name string) (func(), error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	l := s.writerLock(name)
	l.Lock()

	fl := flock.New(s.path(name) + ".lock")
	ok, err := fl.TryLockContext(ctx, lockRetry)
	if err != nil || !ok {
		l.Unlock()
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("lock table %s: %w", name, err)
	}
	return func() {
		fl.Unlock()
		l.Unlock()
	}, nil
}

// Exists reports whether the table file is present.
func (s *FileStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat table %s: %w", name, err)
}

// Read loads the whole table into memory.
func (s *FileStore) Read(ctx context.Context, name string) (*Table, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTableAbsent, name)
		}
		return nil, fmt.Errorf("read table %s: %w", name, err)
	}
	t, err := Decode(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	if err != nil {
		return nil, fmt.Errorf("decode table %s: %w", name, err)
	}
	return t, nil
}

// Write replaces the table file with t.
func (s *FileStore) Write(ctx context.Context, name string, t *Table) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	unlock, err := s.lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()
	return s.write(ctx, name, t)
}

// Update reads the table, applies fn and writes the result while holding the
// table's writer locks.
func (s *FileStore) Update(ctx context.Context, name string, fn func(*Table) error) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	unlock, err := s.lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()

	t, err := s.Read(ctx, name)
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		return err
	}
	return s.write(ctx, name, t)
}

func (s *FileStore) write(ctx context.Context, name string, t *Table) error {
	if t == nil {
		return ErrMissingTable
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := Encode(tmp, t); err != nil {
		return fmt.Errorf("encode table %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync table %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close table %s: %w", name, err)
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		os.Remove(tmpName)
		committed = true
		return fmt.Errorf("replace table %s: %w", name, err)
	}
	committed = true
	return nil
}

// Decode parses CSV with a header row. Records whose field count differs
// from the header are kept aside in Table.Skipped.
func Decode(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return NewTable(), nil
	}
	if err != nil {
		return nil, err
	}
	t := NewTable(header...)

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) != len(header) {
			line, _ := cr.FieldPos(0)
			t.Skipped = append(t.Skipped, Skipped{Line: line, Fields: rec})
			continue
		}
		row := make(Row, len(header))
		for i, col := range header {
			row[col] = rec[i]
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// Encode writes t as CSV, header first, columns in header order. Skipped
// records are written back unchanged after the rows.
func Encode(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return err
	}
	rec := make([]string, len(t.Header))
	for _, row := range t.Rows {
		for i, col := range t.Header {
			rec[i] = row[col]
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	for _, sk := range t.Skipped {
		if err := cw.Write(sk.Fields); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
