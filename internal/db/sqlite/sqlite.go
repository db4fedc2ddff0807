// Package sqlite is the embedded link directory backend, used for local
// development and tests. Every statement runs on a single connection, so
// writes to the same row are serialized by the driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS links (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	destination TEXT NOT NULL,
	title       TEXT NOT NULL,
	foreground  TEXT NOT NULL,
	background  TEXT NOT NULL,
	scan_count  INTEGER NOT NULL DEFAULT 0 CHECK (scan_count >= 0),
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_links_owner_created ON links(owner_id, created_at DESC);

CREATE TABLE IF NOT EXISTS retired_link_ids (
	id         TEXT PRIMARY KEY,
	retired_at INTEGER NOT NULL
);
`

// Repository stores links in SQLite.
type Repository struct {
	db *sql.DB
}

// Open opens (and if needed creates) the database at dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Ping checks that the database is usable.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database.
func (r *Repository) Close() {
	r.db.Close()
}
