package models

// Operation constants for change feed events.
const (
	OpCreated = "created"
	OpUpdated = "updated"
	OpDeleted = "deleted"
	OpScanned = "scanned" // throttled scan count push, never required
)

// Event is one committed mutation of a link, as delivered on the change feed.
// Consumers treat Record as a replacement keyed by Record.ID, not as a delta.
type Event struct {
	Operation string `json:"operation"`
	Record    Link   `json:"record"`
}

// IsValidOperation returns true if op is a known event operation.
func IsValidOperation(op string) bool {
	switch op {
	case OpCreated, OpUpdated, OpDeleted, OpScanned:
		return true
	}
	return false
}
