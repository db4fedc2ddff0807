// Package directory is the link directory: validated CRUD over link records,
// the atomic scan counter, and publication of every committed mutation.
package directory

import (
	"context"

	"github.com/google/uuid"

	"qryptic/internal/models"
)

// Repository is durable link storage. Implementations must make
// IncrementScanCount a single atomic read-modify-write and must enforce
// ownership inside the same transaction as the write it guards.
type Repository interface {
	CreateLink(ctx context.Context, link *models.Link) error
	GetLinkByID(ctx context.Context, id uuid.UUID) (*models.Link, error)
	GetLinksByOwner(ctx context.Context, ownerID string) ([]models.Link, error)
	UpdateLink(ctx context.Context, id uuid.UUID, ownerID string, patch models.LinkPatch) (*models.Link, error)
	DeleteLink(ctx context.Context, id uuid.UUID, ownerID string) (*models.Link, error)
	IncrementScanCount(ctx context.Context, id uuid.UUID) (*models.Link, error)
	Stats(ctx context.Context) (models.DirectoryStats, error)
	Ping(ctx context.Context) error
	Close()
}

// Publisher receives committed mutation events.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// ScanSink receives the record produced by each successful scan increment.
type ScanSink interface {
	Offer(ctx context.Context, link models.Link)
}
