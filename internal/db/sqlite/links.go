package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"qryptic/internal/db"
	"qryptic/internal/models"
)

const linkColumns = `id, owner_id, destination, title, foreground, background, scan_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLink(row rowScanner) (*models.Link, error) {
	var (
		link      models.Link
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&link.ID,
		&link.OwnerID,
		&link.Destination,
		&link.Title,
		&link.Foreground,
		&link.Background,
		&link.ScanCount,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrLinkNotFound
	}
	if err != nil {
		return nil, err
	}
	link.CreatedAt = time.Unix(0, createdAt).UTC()
	link.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &link, nil
}

// CreateLink inserts a new link. The caller assigns ID and CreatedAt.
func (r *Repository) CreateLink(ctx context.Context, link *models.Link) error {
	query := `
		INSERT INTO links (id, owner_id, destination, title, foreground, background, scan_count, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, ?, 0, ?, ?
		WHERE NOT EXISTS (SELECT 1 FROM retired_link_ids WHERE id = ?)
	`
	created := link.CreatedAt.UnixNano()

	res, err := r.db.ExecContext(ctx, query,
		link.ID,
		link.OwnerID,
		link.Destination,
		link.Title,
		link.Foreground,
		link.Background,
		created,
		created,
		link.ID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return db.ErrDuplicateID
		}
		return fmt.Errorf("failed to create link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return db.ErrDuplicateID
	}

	link.ScanCount = 0
	link.UpdatedAt = link.CreatedAt
	return nil
}

// GetLinkByID retrieves a link by its ID.
func (r *Repository) GetLinkByID(ctx context.Context, id uuid.UUID) (*models.Link, error) {
	return scanLink(r.db.QueryRowContext(ctx, `SELECT `+linkColumns+` FROM links WHERE id = ?`, id))
}

// GetLinksByOwner retrieves all links created by an owner, newest first.
func (r *Repository) GetLinksByOwner(ctx context.Context, ownerID string) ([]models.Link, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+linkColumns+`
		FROM links
		WHERE owner_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
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

// checkOwner reports ErrLinkNotFound or ErrForbidden for id inside tx.
func checkOwner(ctx context.Context, tx *sql.Tx, id uuid.UUID, ownerID string) error {
	var owner string
	err := tx.QueryRowContext(ctx, `SELECT owner_id FROM links WHERE id = ?`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return db.ErrLinkNotFound
	}
	if err != nil {
		return err
	}
	if owner != ownerID {
		return db.ErrForbidden
	}
	return nil
}

// withTx runs fn in a transaction, committing only if fn succeeds.
func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// UpdateLink applies patch to a link owned by ownerID and returns the stored result.
func (r *Repository) UpdateLink(ctx context.Context, id uuid.UUID, ownerID string, patch models.LinkPatch) (*models.Link, error) {
	var updated *models.Link

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkOwner(ctx, tx, id, ownerID); err != nil {
			return err
		}

		link, err := scanLink(tx.QueryRowContext(ctx, `
			UPDATE links
			SET destination = COALESCE(?, destination),
				title = COALESCE(?, title),
				foreground = COALESCE(?, foreground),
				background = COALESCE(?, background),
				updated_at = ?
			WHERE id = ?
			RETURNING `+linkColumns,
			patch.Destination,
			patch.Title,
			patch.Foreground,
			patch.Background,
			time.Now().UTC().UnixNano(),
			id,
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
func (r *Repository) DeleteLink(ctx context.Context, id uuid.UUID, ownerID string) (*models.Link, error) {
	var deleted *models.Link

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkOwner(ctx, tx, id, ownerID); err != nil {
			return err
		}

		link, err := scanLink(tx.QueryRowContext(ctx, `DELETE FROM links WHERE id = ? RETURNING `+linkColumns, id))
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO retired_link_ids (id, retired_at) VALUES (?, ?)`,
			id, time.Now().UTC().UnixNano(),
		); err != nil {
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
func (r *Repository) IncrementScanCount(ctx context.Context, id uuid.UUID) (*models.Link, error) {
	return scanLink(r.db.QueryRowContext(ctx,
		`UPDATE links SET scan_count = scan_count + 1 WHERE id = ? RETURNING `+linkColumns, id))
}

// Stats returns the number of links and the sum of their scan counts.
func (r *Repository) Stats(ctx context.Context) (models.DirectoryStats, error) {
	var stats models.DirectoryStats
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(scan_count), 0) FROM links`).
		Scan(&stats.Links, &stats.Scans)
	return stats, err
}
