package db

import "errors"

// Domain-level database error sentinels, shared by every link repository.
var (
	ErrLinkNotFound = errors.New("link not found")
	ErrForbidden    = errors.New("link belongs to another owner")
	ErrDuplicateID  = errors.New("link id already used")
)
