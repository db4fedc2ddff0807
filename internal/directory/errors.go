package directory

import (
	"errors"
	"fmt"

	"qryptic/internal/db"
)

// Negative results reported by the Store. They are normal outcomes, not faults.
var (
	ErrNotFound  = db.ErrLinkNotFound
	ErrForbidden = db.ErrForbidden
)

// ValidationError reports malformed caller input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// TransientError wraps an infrastructure failure. The operation is safe to retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// classify passes the negative results through and wraps everything else.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden):
		return err
	default:
		return &TransientError{Op: op, Err: err}
	}
}
