// Package resolver is the redirect hot path: look a link up, count the
// visit, and hand back the destination. It never returns a destination
// without a confirmed increment.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"qryptic/internal/directory"
	"qryptic/internal/metrics"
	"qryptic/internal/models"
)

// DefaultTimeout bounds lookup plus increment when no timeout is configured.
const DefaultTimeout = 2 * time.Second

// Directory is the part of the link directory the resolver needs.
type Directory interface {
	Get(ctx context.Context, id string) (*models.Link, error)
	IncrementScan(ctx context.Context, id string) (int64, error)
}

// Resolver resolves short ids to destinations.
type Resolver struct {
	dir     Directory
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Resolver. A non-positive timeout uses DefaultTimeout.
func New(dir Directory, timeout time.Duration, logger *slog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{dir: dir, timeout: timeout, logger: logger}
}

// Resolve returns the destination for id after counting the visit.
// Unknown, malformed and concurrently deleted ids yield directory.ErrNotFound
// and mutate nothing. Any other failure, including running out of time, is
// returned as a *directory.TransientError.
func (r *Resolver) Resolve(ctx context.Context, id string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	link, err := r.dir.Get(ctx, id)
	if err != nil {
		return "", r.fail(ctx, "lookup", id, err)
	}

	if _, err := r.dir.IncrementScan(ctx, id); err != nil {
		return "", r.fail(ctx, "increment", id, err)
	}

	metrics.RecordResolution(metrics.OutcomeRedirected)
	return link.Destination, nil
}

func (r *Resolver) fail(ctx context.Context, step, id string, err error) error {
	switch {
	case errors.Is(err, directory.ErrNotFound), errors.Is(err, directory.ErrForbidden):
		metrics.RecordResolution(metrics.OutcomeNotFound)
		return directory.ErrNotFound
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		metrics.RecordResolution(metrics.OutcomeTimeout)
		r.logger.Warn("resolution timed out", "step", step, "link_id", id, "timeout", r.timeout)
		return &directory.TransientError{Op: "resolve " + step, Err: context.DeadlineExceeded}
	default:
		metrics.RecordResolution(metrics.OutcomeTransient)
		r.logger.Error("resolution failed", "step", step, "link_id", id, "error", err)
		if directory.IsTransient(err) {
			return err
		}
		return &directory.TransientError{Op: "resolve " + step, Err: err}
	}
}
