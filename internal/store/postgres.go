package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"icsagenda/internal/model"
)

// PostgresBackend persists the snapshot in PostgreSQL. Save replaces all
// rows inside one transaction, so a failed commit leaves the previous
// snapshot untouched.
type PostgresBackend struct {
	conn *pgx.Conn
}

var _ Backend = (*PostgresBackend)(nil)

// NewPostgresBackend connects, pings and creates the schema.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgx.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgx connect error: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("pgx ping error: %w", err)
	}
	b := &PostgresBackend{conn: conn}
	if err := b.migrate(ctx); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return b, nil
}

func (b *PostgresBackend) migrate(ctx context.Context) error {
	_, err := b.conn.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS agenda_events (
		position INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		calendar_id TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS agenda_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`)
	return err
}

func (b *PostgresBackend) Load(ctx context.Context) (model.Snapshot, bool, error) {
	var raw string
	err := b.conn.QueryRow(ctx, "SELECT value FROM agenda_meta WHERE key = 'last_modified'").Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Snapshot{}, false, nil
	}
	if err != nil {
		return model.Snapshot{}, false, err
	}
	stamp, err := ParseStamp(raw)
	if err != nil {
		return model.Snapshot{}, false, fmt.Errorf("decode last_modified: %w", err)
	}

	rows, err := b.conn.Query(ctx, `
		SELECT title, start_at, end_at, location, description, calendar_id
		FROM agenda_events ORDER BY position`)
	if err != nil {
		return model.Snapshot{}, false, err
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Event, error) {
		var e model.Event
		err := row.Scan(&e.Title, &e.Start, &e.End, &e.Location, &e.Description, &e.CalendarID)
		return e, err
	})
	if err != nil {
		return model.Snapshot{}, false, err
	}
	if events == nil {
		events = []model.Event{}
	}
	return model.Snapshot{Events: events, LastModified: stamp}, true, nil
}

func (b *PostgresBackend) Save(ctx context.Context, snap model.Snapshot) error {
	tx, err := b.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM agenda_events"); err != nil {
		return err
	}
	rows := make([][]any, len(snap.Events))
	for i, e := range snap.Events {
		rows[i] = []any{int32(i), e.Title, e.Start, e.End, e.Location, e.Description, e.CalendarID}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"agenda_events"},
		[]string{"position", "title", "start_at", "end_at", "location", "description", "calendar_id"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("copy events: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO agenda_meta (key, value) VALUES ('last_modified', $1)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		FormatStamp(snap.LastModified)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (b *PostgresBackend) Close() error {
	return b.conn.Close(context.Background())
}
