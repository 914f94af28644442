// SPDX-FileCopyrightText: Copyright 2026 Toolgate Authors
// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/toolgate/toolgate/pkg/gateway"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteLog is a Log backed by a SQLite database. The events table is the
// durable audit record of the system; nothing is ever updated or deleted.
type SQLiteLog struct {
	db *sql.DB
}

// NewSQLiteLog opens (creating if needed) the event log database at path
// and applies pending migrations. Use ":memory:" for an ephemeral log.
func NewSQLiteLog(ctx context.Context, path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log database: %w", err)
	}
	// SQLite allows one writer; serialize access through a single conn to
	// avoid SQLITE_BUSY storms under concurrent appends.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteLog{db: db}, nil
}

var _ Log = (*SQLiteLog)(nil)

// runMigrations applies all pending migrations using goose.
func runMigrations(ctx context.Context, db *sql.DB) error {
	// The embedded filesystem has files under "migrations/"; strip the
	// prefix to get a flat filesystem of .sql files.
	migrationFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create sub filesystem: %w", err)
	}

	provider, err := goose.NewProvider(database.DialectSQLite3, db, migrationFS)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// Append atomically appends events to a stream with optimistic concurrency.
func (l *SQLiteLog) Append(ctx context.Context, streamID string, expectedVersion uint64, events []Event) (uint64, error) {
	if len(events) == 0 {
		return expectedVersion, nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	var actual uint64
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE stream_id = ?`, streamID)
	if err := row.Scan(&actual); err != nil {
		return 0, fmt.Errorf("reading stream version: %w", err)
	}
	if actual != expectedVersion {
		return 0, gateway.NewConcurrencyConflictError(streamID, expectedVersion, actual)
	}

	for _, ev := range events {
		actual++
		occurredAt := ev.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (stream_id, version, type, data, actor, occurred_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			streamID, actual, ev.Type, string(ev.Data), ev.Actor, occurredAt.Format(time.RFC3339Nano))
		if err != nil {
			// A unique violation means another writer won the race between
			// our version read and the insert.
			if isConstraintViolation(err) {
				return 0, gateway.NewConcurrencyConflictError(streamID, expectedVersion, actual)
			}
			return 0, fmt.Errorf("inserting event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing append: %w", err)
	}
	return actual, nil
}

// Read returns all events of a stream in version order.
func (l *SQLiteLog) Read(ctx context.Context, streamID string) ([]StoredEvent, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT global_seq, stream_id, version, type, data, actor, occurred_at
		 FROM events WHERE stream_id = ? ORDER BY version`, streamID)
	if err != nil {
		return nil, fmt.Errorf("querying stream %s: %w", streamID, err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// ReadAll returns events across all streams after the given sequence.
func (l *SQLiteLog) ReadAll(ctx context.Context, afterSeq uint64) ([]StoredEvent, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT global_seq, stream_id, version, type, data, actor, occurred_at
		 FROM events WHERE global_seq > ? ORDER BY global_seq`, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("querying event log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// Close closes the underlying database connection.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}

func scanEvents(rows *sql.Rows) ([]StoredEvent, error) {
	var out []StoredEvent
	for rows.Next() {
		var (
			ev         StoredEvent
			data       string
			occurredAt string
		)
		if err := rows.Scan(&ev.GlobalSeq, &ev.StreamID, &ev.Version, &ev.Type, &data, &ev.Actor, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		ev.Data = json.RawMessage(data)
		ts, err := time.Parse(time.RFC3339Nano, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing event timestamp: %w", err)
		}
		ev.OccurredAt = ts
		out = append(out, ev)
	}
	return out, rows.Err()
}

// isConstraintViolation reports whether err is a SQLite unique-constraint
// failure.
func isConstraintViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3lib.SQLITE_CONSTRAINT ||
			code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }
