// Package sqlite persists records, stage history, the anchoring outbox, the
// activity log and API keys in SQLite. It is the default single-node store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection
type DB struct {
	*sql.DB
}

// DSN builds a modernc.org/sqlite data source name for path. Times are stored
// as unix nanoseconds so range comparisons stay numeric.
func DSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	if !isMemory(path) {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	q.Set("_txlock", "immediate")
	q.Set("_time_integer_format", "unix_nano")
	q.Set("_inttotime", "1")

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + q.Encode()
	}
	return "file:" + path + "?" + q.Encode()
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// New opens the database at path. An in-memory database is pinned to one
// connection so every query sees the same schema.
func New(path string) (*DB, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if isMemory(path) {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &DB{db}, nil
}

// Open opens the database at path and migrates it to the latest schema.
func Open(path string) (*DB, error) {
	db, err := New(path)
	if err != nil {
		return nil, err
	}
	if err := MigrateUp(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// withTx runs fn inside a transaction, committing on success.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
