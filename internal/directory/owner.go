package directory

import (
	"context"

	"github.com/google/uuid"

	"qryptic/internal/models"
)

// OwnerView binds a Store to one owner, for in-process consumers of the
// owner's listing such as a history projection.
type OwnerView struct {
	store   *Store
	ownerID string
}

// ForOwner returns the Store as seen by ownerID.
func (s *Store) ForOwner(ownerID string) *OwnerView {
	return &OwnerView{store: s, ownerID: ownerID}
}

// List returns the owner's links, newest first.
func (v *OwnerView) List(ctx context.Context) ([]models.Link, error) {
	return v.store.ListByOwner(ctx, v.ownerID)
}

// Delete deletes one of the owner's links.
func (v *OwnerView) Delete(ctx context.Context, id uuid.UUID) error {
	return v.store.Delete(ctx, id.String(), v.ownerID)
}
