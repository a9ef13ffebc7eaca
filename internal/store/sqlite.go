package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"icsagenda/internal/model"
)

// SQLiteFile is the database file name inside the store directory.
const SQLiteFile = "agenda.db"

// SQLiteBackend persists the snapshot in a SQLite database. The event rows
// and the stamp are replaced in one transaction.
type SQLiteBackend struct {
	conn *sql.DB
}

var _ Backend = (*SQLiteBackend)(nil)

// NewSQLiteBackend opens or creates the database at path.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection; the store already serializes writers.
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	b := &SQLiteBackend{conn: conn}
	if err := b.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		position INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		calendar_id TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := b.conn.Exec(schema)
	return err
}

func (b *SQLiteBackend) Load(ctx context.Context) (model.Snapshot, bool, error) {
	var raw string
	err := b.conn.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'last_modified'").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Snapshot{}, false, nil
	}
	if err != nil {
		return model.Snapshot{}, false, err
	}
	stamp, err := ParseStamp(raw)
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("decode last_modified: %w", err)
	}

	rows, err := b.conn.QueryContext(ctx, `
		SELECT title, start_at, end_at, location, description, calendar_id
		FROM events ORDER BY position`)
	if err != nil {
		return model.Snapshot{}, false, err
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.Title, &e.Start, &e.End, &e.Location, &e.Description, &e.CalendarID); err != nil {
			return model.Snapshot{}, false, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return model.Snapshot{}, false, err
	}
	return model.Snapshot{Events: events, LastModified: stamp}, true, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, snap model.Snapshot) error {
	tx, err := b.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM events"); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (position, title, start_at, end_at, location, description, calendar_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, e := range snap.Events {
		if _, err := stmt.ExecContext(ctx, i, e.Title, e.Start, e.End, e.Location, e.Description, e.CalendarID); err != nil {
			return fmt.Errorf("insert event %d: %w", i, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO meta (key, value) VALUES ('last_modified', ?)",
		FormatStamp(snap.LastModified)); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.conn.Close()
}
