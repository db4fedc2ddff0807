package models

import (
	"time"

	"github.com/google/uuid"
)

// Default colors applied when a link is created without explicit colors.
const (
	DefaultForeground = "#000000"
	DefaultBackground = "#ffffff"
)

// Link is a short identifier mapped to a destination URL, plus the display
// metadata and scan counter that travel with it.
type Link struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Destination string    `json:"destination"`
	Title       string    `json:"title"`
	Foreground  string    `json:"foreground"`
	Background  string    `json:"background"`
	ScanCount   int64     `json:"scan_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IsOwnedBy reports whether ownerID created the link.
func (l *Link) IsOwnedBy(ownerID string) bool {
	return l.OwnerID == ownerID
}

// LinkPatch holds the owner-editable fields of a link. Nil fields are left unchanged.
type LinkPatch struct {
	Destination *string `json:"destination,omitempty"`
	Title       *string `json:"title,omitempty"`
	Foreground  *string `json:"foreground,omitempty"`
	Background  *string `json:"background,omitempty"`
}

// IsEmpty returns true if the patch changes nothing.
func (p LinkPatch) IsEmpty() bool {
	return p.Destination == nil && p.Title == nil && p.Foreground == nil && p.Background == nil
}

// DirectoryStats summarizes the link directory for metrics.
type DirectoryStats struct {
	Links int64 `json:"links"`
	Scans int64 `json:"scans"`
}
