// Package testutil provides test utilities and helpers.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"qryptic/internal/db"
	"qryptic/internal/db/sqlite"
	"qryptic/internal/directory"
	"qryptic/internal/feed"
	"qryptic/internal/models"
)

// TestDB creates a PostgreSQL test database connection and returns a cleanup
// function. Skips the test unless TEST_DATABASE_URL is set.
func TestDB(t *testing.T) (*db.DB, func()) {
	t.Helper()

	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("Skipping integration test: TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	database, err := db.New(ctx, connString)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	// Run migrations
	if err := database.RunMigrations(connString); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	cleanup := func() {
		cleanupTestData(ctx, database)
		database.Close()
	}

	return database, cleanup
}

// cleanupTestData removes all test data from the database.
func cleanupTestData(ctx context.Context, database *db.DB) {
	database.Pool.Exec(ctx, "DELETE FROM links")
	database.Pool.Exec(ctx, "DELETE FROM retired_link_ids")
}

// Repository opens a private in-memory SQLite repository that is closed when the test ends.
func Repository(t *testing.T) *sqlite.Repository {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	repo, err := sqlite.Open(context.Background(), dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(repo.Close)
	return repo
}

// Fixture is a complete in-process directory: repository, feed hub and store.
type Fixture struct {
	Repo  *sqlite.Repository
	Hub   *feed.Hub
	Store *directory.Store
}

// NewFixture builds a Fixture whose store publishes to its hub.
func NewFixture(t *testing.T, opts ...directory.Option) *Fixture {
	t.Helper()

	repo := Repository(t)
	hub := feed.NewHub(feed.DefaultBuffer, nil)
	t.Cleanup(hub.Close)

	return &Fixture{
		Repo:  repo,
		Hub:   hub,
		Store: directory.NewStore(repo, hub, opts...),
	}
}

// CreateLink creates a link for owner and returns it.
func (f *Fixture) CreateLink(t *testing.T, owner, destination string) *models.Link {
	t.Helper()

	link, err := f.Store.Create(context.Background(), owner, directory.CreateInput{Destination: destination})
	if err != nil {
		t.Fatalf("failed to create test link: %v", err)
	}
	return link
}

// MustGet returns the stored link with id.
func (f *Fixture) MustGet(t *testing.T, id uuid.UUID) *models.Link {
	t.Helper()

	link, err := f.Store.Get(context.Background(), id.String())
	if err != nil {
		t.Fatalf("failed to get test link: %v", err)
	}
	return link
}
