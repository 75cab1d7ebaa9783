package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore wraps a single SQLite connection with safe-for-a-single-writer
// defaults: one pooled connection, WAL journaling, and a busy timeout so
// concurrent readers don't collide with the single writer.
type SQLiteStore struct {
	conn *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) a SQLite database at path with
// WAL mode and a busy timeout.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create db dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: enable WAL: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")
	conn.Exec("PRAGMA foreign_keys=ON")

	return &SQLiteStore{conn: conn, path: path}, nil
}

// Conn exposes the raw *sql.DB for schema setup (CREATE TABLE, trigger
// installation) that doesn't belong in the Store/Tx contract.
func (s *SQLiteStore) Conn() *sql.DB { return s.conn }

// Path returns the on-disk path of the database file.
func (s *SQLiteStore) Path() string { return s.path }

// Begin starts a new transaction.
func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: begin: %w", err)
	}
	return &sqlTx{tx}, nil
}

// Checkpoint flushes the WAL back into the main database file, removing the
// -wal/-shm files — required before a file-level Revert snapshot/restore.
func (s *SQLiteStore) Checkpoint() error {
	_, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Close checkpoints and closes the underlying connection.
func (s *SQLiteStore) Close() error {
	s.Checkpoint()
	return s.conn.Close()
}

// tableColumns introspects a table's column names via PRAGMA table_info.
func tableColumns(conn *sql.DB, table string) ([]string, error) {
	rows, err := conn.Query(fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("storage: table_info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid                                int
			name, ctype                         string
			notnull, pk                         int
			dflt                                sql.NullString
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("storage: scan table_info %s: %w", table, err)
		}
		cols = append(cols, name)
	}
	sort.Strings(cols)
	return cols, rows.Err()
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func buildJSONObject(alias string, cols []string) string {
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, fmt.Sprintf("'%s', %s.%s", c, alias, quoteIdent(c)))
	}
	return "json_object(" + strings.Join(parts, ", ") + ")"
}
