package directory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"qryptic/internal/db"
	"qryptic/internal/models"
	"qryptic/internal/validation"
)

const createAttempts = 3

// CreateInput is the owner-supplied part of a new link.
type CreateInput struct {
	Destination string  `json:"destination"`
	Title       *string `json:"title,omitempty"`
	Foreground  *string `json:"foreground,omitempty"`
	Background  *string `json:"background,omitempty"`
}

// Store is the link directory. Every successful mutation is published after
// the repository call has committed.
type Store struct {
	repo       Repository
	pub        Publisher
	scans      ScanSink
	foreground string
	background string
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithScanSink routes scan increments to sink.
func WithScanSink(sink ScanSink) Option {
	return func(s *Store) { s.scans = sink }
}

// WithDefaultColors overrides the colors given to links created without them.
// Empty values keep the built-in defaults.
func WithDefaultColors(foreground, background string) Option {
	return func(s *Store) {
		if foreground != "" {
			s.foreground = foreground
		}
		if background != "" {
			s.background = background
		}
	}
}

// WithLogger sets the logger used for publish failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a Store over repo. pub may be nil, in which case nothing is published.
func NewStore(repo Repository, pub Publisher, opts ...Option) *Store {
	s := &Store{
		repo:       repo,
		pub:        pub,
		foreground: models.DefaultForeground,
		background: models.DefaultBackground,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseID parses a link id. Malformed ids are reported as ErrNotFound.
func ParseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, ErrNotFound
	}
	return id, nil
}

// Create validates in, fills the defaults and persists a new link owned by ownerID.
func (s *Store) Create(ctx context.Context, ownerID string, in CreateInput) (*models.Link, error) {
	dest, err := validation.NormalizeDestination(in.Destination)
	if err != nil {
		return nil, &ValidationError{Field: "destination", Message: err.Error()}
	}

	link := &models.Link{
		OwnerID:     ownerID,
		Destination: dest,
		Title:       validation.DeriveTitle(dest),
		Foreground:  s.foreground,
		Background:  s.background,
	}

	if in.Title != nil && strings.TrimSpace(*in.Title) != "" {
		title := strings.TrimSpace(*in.Title)
		if valid, msg := validation.ValidateTitle(title); !valid {
			return nil, &ValidationError{Field: "title", Message: msg}
		}
		link.Title = title
	}
	if in.Foreground != nil {
		if valid, msg := validation.ValidateColor(*in.Foreground); !valid {
			return nil, &ValidationError{Field: "foreground", Message: msg}
		}
		link.Foreground = strings.TrimSpace(*in.Foreground)
	}
	if in.Background != nil {
		if valid, msg := validation.ValidateColor(*in.Background); !valid {
			return nil, &ValidationError{Field: "background", Message: msg}
		}
		link.Background = strings.TrimSpace(*in.Background)
	}

	for attempt := 1; ; attempt++ {
		link.ID = uuid.New()
		link.CreatedAt = s.now().UTC().Truncate(time.Microsecond)

		err = s.repo.CreateLink(ctx, link)
		if err == nil {
			break
		}
		if !errors.Is(err, db.ErrDuplicateID) || attempt == createAttempts {
			return nil, &TransientError{Op: "create link", Err: err}
		}
	}

	s.publish(ctx, models.OpCreated, *link)
	return link, nil
}

// Get returns the link with the given id.
func (s *Store) Get(ctx context.Context, rawID string) (*models.Link, error) {
	id, err := ParseID(rawID)
	if err != nil {
		return nil, err
	}
	link, err := s.repo.GetLinkByID(ctx, id)
	if err != nil {
		return nil, classify("get link", err)
	}
	return link, nil
}

// ListByOwner returns the owner's links, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]models.Link, error) {
	links, err := s.repo.GetLinksByOwner(ctx, ownerID)
	if err != nil {
		return nil, classify("list links", err)
	}
	return links, nil
}

// Update applies patch to a link owned by ownerID. Concurrent updates of the
// same link resolve to whichever commits last.
func (s *Store) Update(ctx context.Context, rawID, ownerID string, patch models.LinkPatch) (*models.Link, error) {
	id, err := ParseID(rawID)
	if err != nil {
		return nil, err
	}
	patch, err = s.normalizePatch(patch)
	if err != nil {
		return nil, err
	}

	link, err := s.repo.UpdateLink(ctx, id, ownerID, patch)
	if err != nil {
		return nil, classify("update link", err)
	}

	s.publish(ctx, models.OpUpdated, *link)
	return link, nil
}

func (s *Store) normalizePatch(patch models.LinkPatch) (models.LinkPatch, error) {
	if patch.IsEmpty() {
		return patch, &ValidationError{Field: "body", Message: "no fields to update"}
	}

	if patch.Destination != nil {
		dest, err := validation.NormalizeDestination(*patch.Destination)
		if err != nil {
			return patch, &ValidationError{Field: "destination", Message: err.Error()}
		}
		patch.Destination = &dest
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if valid, msg := validation.ValidateTitle(title); !valid {
			return patch, &ValidationError{Field: "title", Message: msg}
		}
		patch.Title = &title
	}
	if patch.Foreground != nil {
		if valid, msg := validation.ValidateColor(*patch.Foreground); !valid {
			return patch, &ValidationError{Field: "foreground", Message: msg}
		}
		fg := strings.TrimSpace(*patch.Foreground)
		patch.Foreground = &fg
	}
	if patch.Background != nil {
		if valid, msg := validation.ValidateColor(*patch.Background); !valid {
			return patch, &ValidationError{Field: "background", Message: msg}
		}
		bg := strings.TrimSpace(*patch.Background)
		patch.Background = &bg
	}
	return patch, nil
}

// Delete permanently removes a link owned by ownerID. Its id is never reused.
func (s *Store) Delete(ctx context.Context, rawID, ownerID string) error {
	id, err := ParseID(rawID)
	if err != nil {
		return err
	}

	link, err := s.repo.DeleteLink(ctx, id, ownerID)
	if err != nil {
		return classify("delete link", err)
	}

	s.publish(ctx, models.OpDeleted, *link)
	return nil
}

// IncrementScan atomically adds one to the link's scan count and returns the new count.
// The updated record goes to the scan sink, if any, rather than straight to the feed.
func (s *Store) IncrementScan(ctx context.Context, rawID string) (int64, error) {
	id, err := ParseID(rawID)
	if err != nil {
		return 0, err
	}

	link, err := s.repo.IncrementScanCount(ctx, id)
	if err != nil {
		return 0, classify("increment scan", err)
	}

	if s.scans != nil {
		s.scans.Offer(context.WithoutCancel(ctx), *link)
	}
	return link.ScanCount, nil
}

// Ping checks the repository.
func (s *Store) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// Stats summarizes the directory.
func (s *Store) Stats(ctx context.Context) (models.DirectoryStats, error) {
	return s.repo.Stats(ctx)
}

func (s *Store) publish(ctx context.Context, op string, link models.Link) {
	if s.pub == nil {
		return
	}
	event := models.Event{Operation: op, Record: link}
	if err := s.pub.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("failed to publish link event",
			"operation", op,
			"link_id", link.ID,
			"owner_id", link.OwnerID,
			"error", err,
		)
	}
}
