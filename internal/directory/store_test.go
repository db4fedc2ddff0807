package directory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"qryptic/internal/db"
	"qryptic/internal/db/sqlite"
	"qryptic/internal/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Events() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Event(nil), p.events...)
}

type recordingSink struct {
	mu    sync.Mutex
	links []models.Link
}

func (s *recordingSink) Offer(_ context.Context, link models.Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, link)
}

// failingRepo fails every call with err.
type failingRepo struct {
	Repository
	err error
}

func (r failingRepo) CreateLink(context.Context, *models.Link) error { return r.err }
func (r failingRepo) GetLinkByID(context.Context, uuid.UUID) (*models.Link, error) {
	return nil, r.err
}
func (r failingRepo) GetLinksByOwner(context.Context, string) ([]models.Link, error) {
	return nil, r.err
}
func (r failingRepo) IncrementScanCount(context.Context, uuid.UUID) (*models.Link, error) {
	return nil, r.err
}

// duplicateRepo reports the first n creates as duplicate ids.
type duplicateRepo struct {
	Repository
	n     int
	calls int
}

func (r *duplicateRepo) CreateLink(ctx context.Context, link *models.Link) error {
	r.calls++
	if r.calls <= r.n {
		return db.ErrDuplicateID
	}
	return r.Repository.CreateLink(ctx, link)
}

func newTestRepo(t *testing.T) Repository {
	t.Helper()
	repo, err := sqlite.Open(context.Background(), "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(repo.Close)
	return repo
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	return NewStore(newTestRepo(t), pub, opts...), pub
}

func strPtr(s string) *string { return &s }

func TestCreate_NormalizesAndDerives(t *testing.T) {
	store, pub := newTestStore(t)

	link, err := store.Create(context.Background(), "owner-a", CreateInput{Destination: "example.com"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if link.Destination != "https://example.com" {
		t.Errorf("Destination = %q, want %q", link.Destination, "https://example.com")
	}
	if link.Title != "example.com" {
		t.Errorf("Title = %q, want %q", link.Title, "example.com")
	}
	if link.Foreground != models.DefaultForeground || link.Background != models.DefaultBackground {
		t.Errorf("colors = %q/%q, want defaults", link.Foreground, link.Background)
	}
	if link.ScanCount != 0 || link.ID == uuid.Nil || link.CreatedAt.IsZero() {
		t.Errorf("Create() = %+v", link)
	}

	events := pub.Events()
	if len(events) != 1 || events[0].Operation != models.OpCreated || events[0].Record.ID != link.ID {
		t.Errorf("published %+v, want one created event", events)
	}
}

func TestCreate_Validation(t *testing.T) {
	store, pub := newTestStore(t)

	tests := []struct {
		name  string
		in    CreateInput
		field string
	}{
		{"empty destination", CreateInput{Destination: ""}, "destination"},
		{"blank destination", CreateInput{Destination: "   "}, "destination"},
		{"unsafe scheme", CreateInput{Destination: "javascript://alert(1)"}, "destination"},
		{"blank color", CreateInput{Destination: "example.com", Foreground: strPtr(" ")}, "foreground"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Create(context.Background(), "owner-a", tt.in)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Create() error = %v, want ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}

	if n := len(pub.Events()); n != 0 {
		t.Errorf("published %d events for rejected input, want 0", n)
	}
}

func TestCreate_ExplicitFields(t *testing.T) {
	store, _ := newTestStore(t, WithDefaultColors("#111111", ""))

	link, err := store.Create(context.Background(), "owner-a", CreateInput{
		Destination: "http://example.com/path",
		Title:       strPtr("  My link "),
		Background:  strPtr("navy"),
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if link.Destination != "http://example.com/path" {
		t.Errorf("Destination = %q", link.Destination)
	}
	if link.Title != "My link" {
		t.Errorf("Title = %q, want %q", link.Title, "My link")
	}
	if link.Foreground != "#111111" || link.Background != "navy" {
		t.Errorf("colors = %q/%q, want #111111/navy", link.Foreground, link.Background)
	}
}

func TestCreate_RetriesDuplicateIDs(t *testing.T) {
	repo := &duplicateRepo{Repository: newTestRepo(t), n: 2}
	store := NewStore(repo, nil)

	if _, err := store.Create(context.Background(), "owner-a", CreateInput{Destination: "example.com"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if repo.calls != 3 {
		t.Errorf("CreateLink called %d times, want 3", repo.calls)
	}

	repo = &duplicateRepo{Repository: newTestRepo(t), n: createAttempts}
	store = NewStore(repo, nil)
	if _, err := store.Create(context.Background(), "owner-a", CreateInput{Destination: "example.com"}); !IsTransient(err) {
		t.Errorf("Create() after exhausting attempts error = %v, want transient", err)
	}
}

func TestGet_MalformedID(t *testing.T) {
	store, _ := newTestStore(t)

	if _, err := store.Get(context.Background(), "not-a-uuid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestDelete_RemovesAndPublishes(t *testing.T) {
	store, pub := newTestStore(t)
	ctx := context.Background()

	link, err := store.Create(ctx, "owner-a", CreateInput{Destination: "example.com"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := store.Delete(ctx, link.ID.String(), "owner-a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := store.Get(ctx, link.ID.String()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	links, err := store.ListByOwner(ctx, "owner-a")
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(links) != 0 {
		t.Errorf("ListByOwner() after delete = %v, want empty", links)
	}

	events := pub.Events()
	last := events[len(events)-1]
	if last.Operation != models.OpDeleted || last.Record.ID != link.ID {
		t.Errorf("last event = %+v, want deleted %s", last, link.ID)
	}
}

func TestNonOwnerMutationsForbidden(t *testing.T) {
	store, pub := newTestStore(t)
	ctx := context.Background()

	link, err := store.Create(ctx, "owner-a", CreateInput{Destination: "example.com"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := store.Update(ctx, link.ID.String(), "owner-b", models.LinkPatch{Title: strPtr("stolen")}); !errors.Is(err, ErrForbidden) {
		t.Errorf("Update() by non-owner error = %v, want ErrForbidden", err)
	}
	if err := store.Delete(ctx, link.ID.String(), "owner-b"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Delete() by non-owner error = %v, want ErrForbidden", err)
	}

	got, err := store.Get(ctx, link.ID.String())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != link.Title {
		t.Errorf("Title = %q after forbidden update, want %q", got.Title, link.Title)
	}
	if n := len(pub.Events()); n != 1 {
		t.Errorf("published %d events, want only the create", n)
	}

	if _, err := store.IncrementScan(ctx, link.ID.String()); err != nil {
		t.Errorf("IncrementScan() after forbidden mutations error = %v", err)
	}
}

func TestUpdate(t *testing.T) {
	store, pub := newTestStore(t)
	ctx := context.Background()

	link, err := store.Create(ctx, "owner-a", CreateInput{Destination: "example.com"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := store.Update(ctx, link.ID.String(), "owner-a", models.LinkPatch{}); !IsValidation(err) {
		t.Errorf("Update() with empty patch error = %v, want ValidationError", err)
	}
	if _, err := store.Update(ctx, link.ID.String(), "owner-a", models.LinkPatch{Title: strPtr("  ")}); !IsValidation(err) {
		t.Errorf("Update() with blank title error = %v, want ValidationError", err)
	}

	updated, err := store.Update(ctx, link.ID.String(), "owner-a", models.LinkPatch{
		Destination: strPtr("example.org/new"),
		Foreground:  strPtr("#ff0000"),
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Destination != "https://example.org/new" {
		t.Errorf("Destination = %q, want normalized", updated.Destination)
	}
	if updated.Title != link.Title {
		t.Errorf("Title = %q, want unchanged %q", updated.Title, link.Title)
	}
	if updated.Foreground != "#ff0000" {
		t.Errorf("Foreground = %q", updated.Foreground)
	}

	events := pub.Events()
	last := events[len(events)-1]
	if last.Operation != models.OpUpdated || last.Record.Destination != updated.Destination {
		t.Errorf("last event = %+v, want updated", last)
	}
}

func TestUpdate_ConcurrentLastWriteWins(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	link, err := store.Create(ctx, "owner-a", CreateInput{Destination: "example.com"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	titles := []string{"first", "second"}
	var wg sync.WaitGroup
	for _, title := range titles {
		wg.Add(1)
		go func(title string) {
			defer wg.Done()
			if _, err := store.Update(ctx, link.ID.String(), "owner-a", models.LinkPatch{Title: &title}); err != nil {
				t.Errorf("Update() error = %v", err)
			}
		}(title)
	}
	wg.Wait()

	got, err := store.Get(ctx, link.ID.String())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != titles[0] && got.Title != titles[1] {
		t.Errorf("Title = %q, want one of %v", got.Title, titles)
	}
}

func TestIncrementScan(t *testing.T) {
	sink := &recordingSink{}
	store, pub := newTestStore(t, WithScanSink(sink))
	ctx := context.Background()

	link, err := store.Create(ctx, "owner-a", CreateInput{Destination: "example.com"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for want := int64(1); want <= 3; want++ {
		got, err := store.IncrementScan(ctx, link.ID.String())
		if err != nil {
			t.Fatalf("IncrementScan() error = %v", err)
		}
		if got != want {
			t.Errorf("IncrementScan() = %d, want %d", got, want)
		}
	}

	if len(sink.links) != 3 || sink.links[2].ScanCount != 3 {
		t.Errorf("scan sink received %+v", sink.links)
	}
	if n := len(pub.Events()); n != 1 {
		t.Errorf("published %d events, want increments kept off the feed", n)
	}

	if _, err := store.IncrementScan(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Errorf("IncrementScan() unknown id error = %v, want ErrNotFound", err)
	}
}

func TestTransientErrors(t *testing.T) {
	boom := errors.New("connection refused")
	store := NewStore(failingRepo{err: boom}, nil)
	ctx := context.Background()
	id := uuid.NewString()

	if _, err := store.Get(ctx, id); !IsTransient(err) || !errors.Is(err, boom) {
		t.Errorf("Get() error = %v, want transient wrapping cause", err)
	}
	if _, err := store.ListByOwner(ctx, "owner-a"); !IsTransient(err) {
		t.Errorf("ListByOwner() error = %v, want transient", err)
	}
	if _, err := store.IncrementScan(ctx, id); !IsTransient(err) {
		t.Errorf("IncrementScan() error = %v, want transient", err)
	}
	if _, err := store.Create(ctx, "owner-a", CreateInput{Destination: "example.com"}); !IsTransient(err) {
		t.Errorf("Create() error = %v, want transient", err)
	}

	ctxErr := NewStore(failingRepo{err: context.DeadlineExceeded}, nil)
	if _, err := ctxErr.Get(ctx, id); !IsTransient(err) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Get() on deadline error = %v, want transient deadline", err)
	}
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("feed down")}
	store := NewStore(newTestRepo(t), pub)

	link, err := store.Create(context.Background(), "owner-a", CreateInput{Destination: "example.com"})
	if err != nil {
		t.Fatalf("Create() error = %v, want publish failure ignored", err)
	}
	if _, err := store.Get(context.Background(), link.ID.String()); err != nil {
		t.Errorf("Get() error = %v", err)
	}
}

func TestOwnerView(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	older, err := store.Create(ctx, "owner-a", CreateInput{Destination: "one.example.com"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	store.now = func() time.Time { return time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC) }
	newer, err := store.Create(ctx, "owner-a", CreateInput{Destination: "two.example.com"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := store.Create(ctx, "owner-b", CreateInput{Destination: "three.example.com"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	view := store.ForOwner("owner-a")
	links, err := view.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(links) != 2 || links[0].ID != newer.ID || links[1].ID != older.ID {
		t.Fatalf("List() = %+v, want [newer older]", links)
	}

	if err := view.Delete(ctx, older.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	links, _ = view.List(ctx)
	if len(links) != 1 {
		t.Errorf("List() after delete returned %d links, want 1", len(links))
	}
}
