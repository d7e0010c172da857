package docstore

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// InMemoryStore keeps every table in process memory.
// It mirrors the ordering semantics of the SQLite store so tests behave the same on both.
type InMemoryStore struct {
	mu     sync.RWMutex
	tables map[Table]*memTable
	closed bool

	// persist, when set, runs under the write lock after every successful mutation
	// made outside a batch.
	persist func(map[Table][]Document) error
	batches int
	dirty   bool
}

type memTable struct {
	rows  []Document
	byKey map[string][]int
}

var (
	_ Store   = &InMemoryStore{}
	_ Batcher = &InMemoryStore{}
)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{tables: map[Table]*memTable{}}
}

func (s *InMemoryStore) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	var err error
	if s.dirty {
		s.batches = 0
		err = s.flush()
	}
	s.closed = true
	return err
}

// Batch holds back persistence while fn runs. Nested and concurrent batches share one
// flush, made when the last of them ends.
func (s *InMemoryStore) Batch(ctx context.Context, fn func(ctx context.Context) error) error {
	if s == nil {
		return errors.New("in-memory docstore: nil store")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.batches++
	s.mu.Unlock()

	err := fn(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batches > 0 {
		s.batches--
	}
	if s.closed || s.batches > 0 || !s.dirty {
		return err
	}
	if ferr := s.flush(); ferr != nil && err == nil {
		err = ferr
	}
	return err
}

func (s *InMemoryStore) Upsert(_ context.Context, table Table, doc Document, key Predicate) error {
	if s == nil {
		return errors.New("in-memory docstore: nil store")
	}
	norm, err := validateWrite(table, doc)
	if err != nil {
		return errors.Wrap(err, "in-memory docstore: upsert")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	t := s.table(table)
	matches := t.match(key)
	if len(matches) == 0 {
		t.insert(norm)
	} else {
		for _, idx := range matches {
			t.rows[idx] = mergeInto(t.rows[idx], norm)
		}
		if _, ok := norm[KeyField]; ok {
			t.reindex()
		}
	}
	return s.flush()
}

func (s *InMemoryStore) Update(_ context.Context, table Table, fields Document, where Predicate) (int, error) {
	if s == nil {
		return 0, errors.New("in-memory docstore: nil store")
	}
	norm, err := validateWrite(table, fields)
	if err != nil {
		return 0, errors.Wrap(err, "in-memory docstore: update")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	t := s.table(table)
	matches := t.match(where)
	for _, idx := range matches {
		t.rows[idx] = mergeInto(t.rows[idx], norm)
	}
	if len(matches) == 0 {
		return 0, nil
	}
	if _, ok := norm[KeyField]; ok {
		t.reindex()
	}
	return len(matches), s.flush()
}

func (s *InMemoryStore) Search(_ context.Context, table Table, where Predicate) ([]Document, error) {
	if s == nil {
		return nil, errors.New("in-memory docstore: nil store")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	t, ok := s.tables[table]
	if !ok {
		return []Document{}, nil
	}
	matches := t.match(where)
	out := make([]Document, 0, len(matches))
	for _, idx := range matches {
		out = append(out, t.rows[idx].Clone())
	}
	return out, nil
}

func (s *InMemoryStore) Count(_ context.Context, table Table) (int, error) {
	if s == nil {
		return 0, errors.New("in-memory docstore: nil store")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	if t, ok := s.tables[table]; ok {
		return len(t.rows), nil
	}
	return 0, nil
}

// load replaces the store contents; used when reading a persisted snapshot.
func (s *InMemoryStore) load(snapshot map[Table][]Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables = map[Table]*memTable{}
	for table, rows := range snapshot {
		t := s.table(table)
		for _, row := range rows {
			t.insert(row)
		}
	}
}

func (s *InMemoryStore) flush() error {
	if s.persist == nil {
		return nil
	}
	if s.batches > 0 {
		s.dirty = true
		return nil
	}
	snapshot := make(map[Table][]Document, len(s.tables))
	for name, t := range s.tables {
		snapshot[name] = t.rows
	}
	if err := s.persist(snapshot); err != nil {
		s.dirty = true
		return err
	}
	s.dirty = false
	return nil
}

func (s *InMemoryStore) table(name Table) *memTable {
	t, ok := s.tables[name]
	if !ok {
		t = &memTable{byKey: map[string][]int{}}
		s.tables[name] = t
	}
	return t
}

func (t *memTable) insert(doc Document) {
	t.rows = append(t.rows, doc)
	if k, ok := doc.Key(); ok {
		t.byKey[k] = append(t.byKey[k], len(t.rows)-1)
	}
}

func (t *memTable) reindex() {
	t.byKey = make(map[string][]int, len(t.rows))
	for i, row := range t.rows {
		if k, ok := row.Key(); ok {
			t.byKey[k] = append(t.byKey[k], i)
		}
	}
}

func (t *memTable) match(p Predicate) []int {
	if k, ok := p.keyLookup(); ok {
		candidates := t.byKey[k]
		out := make([]int, 0, len(candidates))
		for _, idx := range candidates {
			if p.Match(t.rows[idx]) {
				out = append(out, idx)
			}
		}
		return out
	}
	out := make([]int, 0)
	for i, row := range t.rows {
		if p.Match(row) {
			out = append(out, i)
		}
	}
	return out
}
