package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"qryptic/internal/models"
)

// linkColumns is the standard column list for link queries.
const linkColumns = `id, owner_id, destination, title, foreground, background, scan_count, created_at, updated_at`

// scanLink scans a row into a Link struct.
func scanLink(row pgx.Row) (*models.Link, error) {
	var link models.Link
	err := row.Scan(
		&link.ID,
		&link.OwnerID,
		&link.Destination,
		&link.Title,
		&link.Foreground,
		&link.Background,
		&link.ScanCount,
		&link.CreatedAt,
		&link.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// scanLinks scans multiple rows into a slice of Links.
func scanLinks(rows pgx.Rows) ([]models.Link, error) {
	defer rows.Close()

	links := []models.Link{}
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}

	return links, rows.Err()
}

// CreateLink inserts a new link. The caller assigns ID and CreatedAt.
// Returns ErrDuplicateID if the id is live or was ever retired.
func (d *DB) CreateLink(ctx context.Context, link *models.Link) error {
	query := `
		INSERT INTO links (id, owner_id, destination, title, foreground, background, scan_count, created_at, updated_at)
		SELECT $1::uuid, $2::text, $3::text, $4::text, $5::text, $6::text, 0, $7::timestamptz, $7::timestamptz
		WHERE NOT EXISTS (SELECT 1 FROM retired_link_ids WHERE id = $1::uuid)
	`

	result, err := d.Pool.Exec(ctx, query,
		link.ID,
		link.OwnerID,
		link.Destination,
		link.Title,
		link.Foreground,
		link.Background,
		link.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateID
		}
		return fmt.Errorf("failed to create link: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrDuplicateID
	}

	link.ScanCount = 0
	link.UpdatedAt = link.CreatedAt
	return nil
}

// GetLinkByID retrieves a link by its ID.
func (d *DB) GetLinkByID(ctx context.Context, id uuid.UUID) (*models.Link, error) {
	query := `SELECT ` + linkColumns + ` FROM links WHERE id = $1`
	return scanLink(d.Pool.QueryRow(ctx, query, id))
}

// GetLinksByOwner retrieves all links created by an owner, newest first.
func (d *DB) GetLinksByOwner(ctx context.Context, ownerID string) ([]models.Link, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM links
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := d.Pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	return scanLinks(rows)
}

// lockOwnedLink locks a link row for the rest of tx and checks its owner.
func lockOwnedLink(ctx context.Context, tx pgx.Tx, id uuid.UUID, ownerID string) error {
	var owner string
	err := tx.QueryRow(ctx, `SELECT owner_id FROM links WHERE id = $1 FOR UPDATE`, id).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrLinkNotFound
	}
	if err != nil {
		return err
	}
	if owner != ownerID {
		return ErrForbidden
	}
	return nil
}

// UpdateLink applies patch to a link owned by ownerID and returns the stored result.
// Concurrent updates of the same row are serialized by the row lock; the last to commit wins.
func (d *DB) UpdateLink(ctx context.Context, id uuid.UUID, ownerID string, patch models.LinkPatch) (*models.Link, error) {
	var updated *models.Link

	err := pgx.BeginFunc(ctx, d.Pool, func(tx pgx.Tx) error {
		if err := lockOwnedLink(ctx, tx, id, ownerID); err != nil {
			return err
		}

		query := `
			UPDATE links
			SET destination = COALESCE($2, destination),
				title = COALESCE($3, title),
				foreground = COALESCE($4, foreground),
				background = COALESCE($5, background),
				updated_at = NOW()
			WHERE id = $1
			RETURNING ` + linkColumns

		link, err := scanLink(tx.QueryRow(ctx, query,
			id,
			patch.Destination,
			patch.Title,
			patch.Foreground,
			patch.Background,
		))
		if err != nil {
			return err
		}
		updated = link
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteLink removes a link owned by ownerID, retires its id and returns the removed record.
func (d *DB) DeleteLink(ctx context.Context, id uuid.UUID, ownerID string) (*models.Link, error) {
	var deleted *models.Link

	err := pgx.BeginFunc(ctx, d.Pool, func(tx pgx.Tx) error {
		if err := lockOwnedLink(ctx, tx, id, ownerID); err != nil {
			return err
		}

		link, err := scanLink(tx.QueryRow(ctx, `DELETE FROM links WHERE id = $1 RETURNING `+linkColumns, id))
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `INSERT INTO retired_link_ids (id) VALUES ($1) ON CONFLICT DO NOTHING`, id); err != nil {
			return err
		}

		deleted = link
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// IncrementScanCount atomically adds one to a link's scan count and returns the updated record.
func (d *DB) IncrementScanCount(ctx context.Context, id uuid.UUID) (*models.Link, error) {
	query := `UPDATE links SET scan_count = scan_count + 1 WHERE id = $1 RETURNING ` + linkColumns
	return scanLink(d.Pool.QueryRow(ctx, query, id))
}

// Stats returns the number of links and the sum of their scan counts.
func (d *DB) Stats(ctx context.Context) (models.DirectoryStats, error) {
	var stats models.DirectoryStats
	err := d.Pool.QueryRow(ctx, `SELECT COUNT(*), COALESCE(SUM(scan_count), 0)::BIGINT FROM links`).
		Scan(&stats.Links, &stats.Scans)
	return stats, err
}
