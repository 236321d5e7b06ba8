// Package db wraps the single-writer SQLite store behind the control
// plane's every stateful subsystem: the bot/account/attempt ledger, the job
// lease queue, the cold store, and the provider credential vault all share
// one *sql.DB through Database.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Database wraps the SQL handle for easier swapping/testing.
type Database struct {
	DB *sql.DB
}

// New opens (and creates if needed) the SQLite database at path.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite prefers single writer.
	db.SetConnMaxLifetime(time.Hour)

	return &Database{DB: db}, nil
}

// Close releases the underlying DB handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

// Ping verifies the store is reachable, for the Control Surface health
// check to distinguish "process is up" from "the ledger is actually
// writable."
func (d *Database) Ping(ctx context.Context) error {
	if d == nil || d.DB == nil {
		return errors.New("database not initialized")
	}
	return d.DB.PingContext(ctx)
}

// PoolStats reports the single-writer connection pool's current state, for
// operator diagnostics alongside the event bus's drop counters.
func (d *Database) PoolStats() sql.DBStats {
	if d == nil || d.DB == nil {
		return sql.DBStats{}
	}
	return d.DB.Stats()
}
