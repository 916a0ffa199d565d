// Package store is the local projection of the linked account: chats,
// contacts, messages and the send outbox, kept in the app-owned
// wabridge.db. The whatsmeow device store lives in a separate file.
package store

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection for wabridge.db.
type DB struct {
	*sql.DB
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_synchronous", "NORMAL")
	q.Set("_busy_timeout", "5000")
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", "immediate")
	return path + "?" + q.Encode()
}

// Open opens path and brings its schema up to date. The ingestion engine
// and the outbox write concurrently, so all statements share a single
// connection and transactions take the write lock when they begin.
func Open(path string) (*DB, *MigrateResult, error) {
	sqlDB, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("ping db: %w", err)
	}

	db := &DB{sqlDB}
	result, err := db.Migrate()
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}
	return db, result, nil
}
