// Package history keeps an observer's in-memory view of its own links:
// replaced wholesale by a list call on activation and refresh, and patched
// by id from the change feed in between.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"qryptic/internal/directory"
	"qryptic/internal/models"
)

// ErrUnknownLink is returned by Remove for an id not in the view.
var ErrUnknownLink = errors.New("link not in view")

// Source is the authoritative directory, already bound to the observer's owner.
type Source interface {
	List(ctx context.Context) ([]models.Link, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Projection is one owner's view of its links. It is safe for concurrent use.
type Projection struct {
	source  Source
	ownerID string
	logger  *slog.Logger

	mu       sync.RWMutex
	links    map[uuid.UUID]models.Link
	onChange func([]models.Link)

	refresh chan struct{}
}

// New creates an inactive Projection for ownerID over source.
func New(source Source, ownerID string, logger *slog.Logger) *Projection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projection{
		source:  source,
		ownerID: ownerID,
		logger:  logger,
		links:   make(map[uuid.UUID]models.Link),
		refresh: make(chan struct{}, 1),
	}
}

// OnChange registers fn to be called with a snapshot after every change.
func (p *Projection) OnChange(fn func([]models.Link)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// Activate loads the view for the first time.
func (p *Projection) Activate(ctx context.Context) error {
	return p.Refresh(ctx)
}

// Refresh replaces the view with one fresh list call. On error the view is left as it was.
func (p *Projection) Refresh(ctx context.Context) error {
	links, err := p.source.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list links: %w", err)
	}

	fresh := make(map[uuid.UUID]models.Link, len(links))
	for _, l := range links {
		if l.OwnerID == p.ownerID {
			fresh[l.ID] = l
		}
	}

	p.mu.Lock()
	p.links = fresh
	p.mu.Unlock()

	p.changed()
	return nil
}

// Apply folds one feed event into the view. Records are replacements keyed by
// id, so redelivered and reordered events are harmless. Events for other
// owners are ignored.
func (p *Projection) Apply(event models.Event) {
	rec := event.Record
	if rec.OwnerID != p.ownerID {
		return
	}

	p.mu.Lock()
	switch event.Operation {
	case models.OpCreated, models.OpUpdated:
		p.links[rec.ID] = rec
	case models.OpDeleted:
		delete(p.links, rec.ID)
	case models.OpScanned:
		cur, ok := p.links[rec.ID]
		if !ok || rec.ScanCount <= cur.ScanCount {
			p.mu.Unlock()
			return
		}
		cur.ScanCount = rec.ScanCount
		p.links[rec.ID] = cur
	default:
		p.mu.Unlock()
		p.logger.Warn("ignoring event with unknown operation", "operation", event.Operation)
		return
	}
	p.mu.Unlock()

	p.changed()
}

// Remove drops id from the view and deletes it at the source. If the delete
// fails the record is put back and the error returned, unless the source
// reports the link already gone.
func (p *Projection) Remove(ctx context.Context, id uuid.UUID) error {
	p.mu.Lock()
	link, ok := p.links[id]
	if !ok {
		p.mu.Unlock()
		return ErrUnknownLink
	}
	delete(p.links, id)
	p.mu.Unlock()
	p.changed()

	if err := p.source.Delete(ctx, id); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return err
		}
		p.mu.Lock()
		if _, present := p.links[id]; !present {
			p.links[id] = link
		}
		p.mu.Unlock()
		p.changed()
		return err
	}
	return nil
}

// RequestRefresh asks Run to refresh the view. It never blocks; requests
// made while one is pending are coalesced.
func (p *Projection) RequestRefresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Run applies events and services refresh requests until events is closed or
// ctx is done. It returns ctx.Err() on cancellation and nil when events closes.
func (p *Projection) Run(ctx context.Context, events <-chan models.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.Apply(ev)
		case <-p.refresh:
			if err := p.Refresh(ctx); err != nil {
				p.logger.Warn("refresh failed", "owner_id", p.ownerID, "error", err)
			}
		}
	}
}

// Links returns a snapshot of the view, newest first.
func (p *Projection) Links() []models.Link {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

// Len returns the number of links in the view.
func (p *Projection) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.links)
}

func (p *Projection) snapshotLocked() []models.Link {
	out := make([]models.Link, 0, len(p.links))
	for _, l := range p.links {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() > out[j].ID.String()
	})
	return out
}

func (p *Projection) changed() {
	p.mu.RLock()
	fn := p.onChange
	var snap []models.Link
	if fn != nil {
		snap = p.snapshotLocked()
	}
	p.mu.RUnlock()

	if fn != nil {
		fn(snap)
	}
}
