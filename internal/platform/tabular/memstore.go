package tabular

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is a thread-safe, in-memory Store for testing/dev. Tables are
// copied on the way in and out so callers never share rows with the store.
type MemStore struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

// NewMemStore returns a ready-to-use MemStore.
func NewMemStore() *MemStore {
	return &MemStore{tables: make(map[string]*Table)}
}

// Exists reports whether the table has been written.
func (s *MemStore) Exists(_ context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tables[name]
	return ok, nil
}

// Read returns a copy of the stored table.
func (s *MemStore) Read(ctx context.Context, name string) (*Table, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableAbsent, name)
	}
	return t.Clone(), nil
}

// Write stores a copy of t.
func (s *MemStore) Write(ctx context.Context, name string, t *Table) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if t == nil {
		return ErrMissingTable
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.tables[name] = t.Clone()
	s.mu.Unlock()
	return nil
}

// Update applies fn to a copy of the table under the store's write lock
// and stores the result if fn succeeds.
func (s *MemStore) Update(ctx context.Context, name string, fn func(*Table) error) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.tables[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTableAbsent, name)
	}
	work := cur.Clone()
	if err := fn(work); err != nil {
		return err
	}
	s.tables[name] = work
	return nil
}

// Drop removes a table, making it absent.
func (s *MemStore) Drop(name string) {
	s.mu.Lock()
	delete(s.tables, name)
	s.mu.Unlock()
}
