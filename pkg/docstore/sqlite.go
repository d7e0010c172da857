package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists documents as JSON bodies in a single SQLite table.
// Rows keep their insertion sequence across updates; doc_key indexes the natural key.
type SQLiteStore struct {
	db     *sql.DB
	driver string

	// writes are serialized so concurrent channel scans never hit SQLITE_BUSY
	mu sync.Mutex
}

var _ Store = &SQLiteStore{}

type sqliteRow struct {
	seq int64
	doc Document
}

func NewSQLiteStore(ctx context.Context, driver, dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite docstore: empty dsn")
	}
	if driver != DriverMattn && driver != DriverModernc {
		return nil, errors.Errorf("sqlite docstore: unknown driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite docstore: open")
	}
	s := &SQLiteStore{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile builds a WAL-mode DSN for path in the dialect of driver.
func SQLiteDSNForFile(driver, path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite docstore: empty path")
	}
	switch driver {
	case DriverMattn:
		return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
	case DriverModernc:
		return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path), nil
	}
	return "", errors.Errorf("sqlite docstore: unknown driver %q", driver)
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
		  seq INTEGER PRIMARY KEY AUTOINCREMENT,
		  tbl TEXT NOT NULL,
		  doc_key TEXT NOT NULL DEFAULT '',
		  body TEXT NOT NULL,
		  updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS documents_by_key
		  ON documents(tbl, doc_key);`,
	}
	for _, st := range stmts {
		if _, err := s.db.ExecContext(ctx, st); err != nil {
			return errors.Wrap(err, "sqlite docstore: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, table Table, doc Document, key Predicate) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite docstore: db is nil")
	}
	norm, err := validateWrite(table, doc)
	if err != nil {
		return errors.Wrap(err, "sqlite docstore: upsert")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite docstore: begin")
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := s.matchRows(ctx, tx, table, key)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	if len(rows) == 0 {
		if err := insertRow(ctx, tx, table, norm, now); err != nil {
			return err
		}
	} else {
		for _, row := range rows {
			if err := updateRow(ctx, tx, row.seq, mergeInto(row.doc, norm), now); err != nil {
				return err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlite docstore: commit upsert")
	}
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, table Table, fields Document, where Predicate) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("sqlite docstore: db is nil")
	}
	norm, err := validateWrite(table, fields)
	if err != nil {
		return 0, errors.Wrap(err, "sqlite docstore: update")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "sqlite docstore: begin")
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := s.matchRows(ctx, tx, table, where)
	if err != nil {
		return 0, err
	}
	now := time.Now().UnixMilli()
	for _, row := range rows {
		if err := updateRow(ctx, tx, row.seq, mergeInto(row.doc, norm), now); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "sqlite docstore: commit update")
	}
	return len(rows), nil
}

func (s *SQLiteStore) Search(ctx context.Context, table Table, where Predicate) ([]Document, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite docstore: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := s.matchRows(ctx, s.db, table, where)
	if err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.doc)
	}
	return out, nil
}

func (s *SQLiteStore) Count(ctx context.Context, table Table) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("sqlite docstore: db is nil")
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE tbl = ?`, string(table)).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "sqlite docstore: count")
	}
	return n, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) matchRows(ctx context.Context, q queryer, table Table, where Predicate) ([]sqliteRow, error) {
	query := `SELECT seq, body FROM documents WHERE tbl = ?`
	args := []any{string(table)}
	if k, ok := where.keyLookup(); ok {
		query += ` AND doc_key = ?`
		args = append(args, k)
	}
	query += ` ORDER BY seq ASC`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite docstore: query")
	}
	defer func() { _ = rows.Close() }()

	out := make([]sqliteRow, 0)
	for rows.Next() {
		var (
			seq  int64
			body string
		)
		if err := rows.Scan(&seq, &body); err != nil {
			return nil, errors.Wrap(err, "sqlite docstore: scan")
		}
		doc, err := decodeDocument(body)
		if err != nil {
			return nil, errors.Wrapf(err, "sqlite docstore: decode row %d", seq)
		}
		if where.Match(doc) {
			out = append(out, sqliteRow{seq: seq, doc: doc})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite docstore: iterate")
	}
	return out, nil
}

func insertRow(ctx context.Context, tx *sql.Tx, table Table, doc Document, now int64) error {
	body, err := encodeJSON(doc)
	if err != nil {
		return errors.Wrap(err, "sqlite docstore: marshal document")
	}
	key, _ := doc.Key()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents(tbl, doc_key, body, updated_at_ms)
		VALUES(?, ?, ?, ?)
	`, string(table), key, string(body), now); err != nil {
		return errors.Wrap(err, "sqlite docstore: insert")
	}
	return nil
}

func updateRow(ctx context.Context, tx *sql.Tx, seq int64, doc Document, now int64) error {
	body, err := encodeJSON(doc)
	if err != nil {
		return errors.Wrap(err, "sqlite docstore: marshal document")
	}
	key, _ := doc.Key()
	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET doc_key = ?, body = ?, updated_at_ms = ?
		WHERE seq = ?
	`, key, string(body), now, seq); err != nil {
		return errors.Wrap(err, "sqlite docstore: update row")
	}
	return nil
}
