package db

import (
	"context"
	"database/sql"
	"time"
)

// DefaultCursorName names the single collector cursor row
const DefaultCursorName = "default"

// Cursor persists one named collection cursor
type Cursor struct {
	db   *DB
	name string
	now  func() time.Time
}

// Cursor returns the named cursor. An empty name uses DefaultCursorName.
func (db *DB) Cursor(name string) *Cursor {
	if name == "" {
		name = DefaultCursorName
	}
	return &Cursor{db: db, name: name, now: time.Now}
}

// LoadCursor returns the stored last run time in local time, and false when
// no cursor has been saved yet
func (c *Cursor) LoadCursor(ctx context.Context) (time.Time, bool, error) {
	var at time.Time
	err := c.db.QueryRowContext(ctx,
		`SELECT last_run_time FROM collection_cursor WHERE name = ?`, c.name,
	).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return at.Local(), true, nil
}

// SaveCursor overwrites the stored last run time
func (c *Cursor) SaveCursor(ctx context.Context, at time.Time) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO collection_cursor (name, last_run_time, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			last_run_time = excluded.last_run_time,
			updated_at = excluded.updated_at
	`, c.name, at.UTC(), c.now().UTC())
	return err
}
