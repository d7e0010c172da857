package docstore

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("docstore: store is closed")

// Store is a table-oriented document store with predicate-keyed upserts.
//
// Implementations must tolerate concurrent writers on the same table as long as
// they touch different keys; for a single key the last writer wins.
type Store interface {
	// Upsert inserts doc when no row of table matches key, otherwise merges the
	// top-level fields of doc into every matching row. Fields absent from doc are
	// left untouched; a present field (including a nested map) is replaced whole.
	Upsert(ctx context.Context, table Table, doc Document, key Predicate) error
	// Update overwrites fields on every row matching where and reports how many rows changed.
	Update(ctx context.Context, table Table, fields Document, where Predicate) (int, error)
	// Search returns the rows matching where, in insertion order.
	Search(ctx context.Context, table Table, where Predicate) ([]Document, error)
	// Count returns the number of rows in table.
	Count(ctx context.Context, table Table) (int, error)
	Close() error
}

// Batcher is implemented by stores that can defer persisting writes until fn returns.
// Writes made inside fn are visible to reads immediately; they are persisted once the
// outermost batch ends, whether or not fn failed.
type Batcher interface {
	Batch(ctx context.Context, fn func(ctx context.Context) error) error
}

// Batch runs fn inside a batch when s supports it, otherwise it just runs fn.
func Batch(ctx context.Context, s Store, fn func(ctx context.Context) error) error {
	if b, ok := s.(Batcher); ok {
		return b.Batch(ctx, fn)
	}
	return fn(ctx)
}

const (
	BackendSQLite = "sqlite"
	// BackendJSON rewrites its whole file on each persisted write, so bulk loads should
	// go through Batch.
	BackendJSON   = "json"
	BackendMemory = "memory"

	DriverMattn   = "sqlite3"
	DriverModernc = "sqlite"
)

// Options selects and configures a Store backend.
type Options struct {
	Backend string
	Path    string
	Driver  string
}

// Open builds the Store described by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	if backend == "" {
		backend = BackendSQLite
	}
	switch backend {
	case BackendMemory:
		return NewInMemoryStore(), nil
	case BackendJSON:
		return NewJSONFileStore(opts.Path)
	case BackendSQLite:
		driver := opts.Driver
		if driver == "" {
			driver = DriverMattn
		}
		dsn, err := SQLiteDSNForFile(driver, opts.Path)
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(ctx, driver, dsn)
	}
	return nil, errors.Errorf("docstore: unknown backend %q", opts.Backend)
}

func validateWrite(table Table, doc Document) (Document, error) {
	if table == "" {
		return nil, errors.New("table is empty")
	}
	if len(doc) == 0 {
		return nil, errors.New("document is empty")
	}
	return Normalize(doc)
}
