// Command watch keeps a live table of one owner's links by following the
// change feed, reconciling with a fresh listing on every (re)connect.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2/clientcredentials"

	"qryptic/internal/client"
	"qryptic/internal/history"
	"qryptic/internal/models"
)

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

func main() {
	var (
		baseURL      = flag.String("url", envOr("QRYPTIC_URL", "http://localhost:3000"), "server base URL")
		token        = flag.String("token", os.Getenv("QRYPTIC_TOKEN"), "bearer token")
		owner        = flag.String("owner", "", "owner id (default: the token subject)")
		tokenURL     = flag.String("token-url", "", "OAuth2 token endpoint for the client credentials flow")
		clientID     = flag.String("client-id", "", "OAuth2 client id")
		clientSecret = flag.String("client-secret", os.Getenv("QRYPTIC_CLIENT_SECRET"), "OAuth2 client secret")
		deleteID     = flag.String("delete", "", "delete this link id before watching")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := http.DefaultClient
	bearer := *token
	if *tokenURL != "" {
		cc := &clientcredentials.Config{
			ClientID:     *clientID,
			ClientSecret: *clientSecret,
			TokenURL:     *tokenURL,
		}
		tok, err := cc.Token(ctx)
		if err != nil {
			log.Fatalf("Failed to obtain token: %v", err)
		}
		if *owner == "" {
			*owner = subject(tok.AccessToken)
		}
		httpClient = cc.Client(ctx)
		bearer = ""
	}
	if *owner == "" {
		*owner = subject(bearer)
	}
	if *owner == "" {
		log.Fatal("Cannot determine owner: pass -owner or a token with a subject")
	}

	api := client.New(*baseURL, bearer, httpClient)
	view := history.New(api, *owner, slog.Default())
	view.OnChange(render)

	if err := view.Activate(ctx); err != nil {
		log.Fatalf("Failed to load links: %v", err)
	}

	if *deleteID != "" {
		id, err := uuid.Parse(*deleteID)
		if err != nil {
			log.Fatalf("Invalid -delete id: %v", err)
		}
		if err := view.Remove(ctx, id); err != nil {
			log.Printf("Delete failed: %v", err)
		}
	}

	events := make(chan models.Event, 64)
	go func() {
		if err := view.Run(ctx, events); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Projection stopped: %v", err)
		}
	}()

	follow(ctx, api, view, events)
}

// follow streams events into the projection until ctx is done, reconnecting
// with capped exponential backoff. Each successful connect triggers a
// refresh, since nothing missed while disconnected is replayed.
func follow(ctx context.Context, api *client.Client, view *history.Projection, events chan<- models.Event) {
	backoff := minBackoff
	for {
		err := api.Stream(ctx, client.StreamCallbacks{
			OnOpen: func() {
				backoff = minBackoff
				view.RequestRefresh()
			},
			OnEvent: func(ev models.Event) {
				select {
				case events <- ev:
				case <-ctx.Done():
				}
			},
		})
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, client.ErrUnauthorized) {
			log.Fatalf("Stream rejected: %v", err)
		}

		slog.Warn("stream disconnected", "error", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// subject returns the sub claim of a JWT without verifying it. The server
// verifies; this only names the owner whose view is kept.
func subject(raw string) string {
	if raw == "" {
		return ""
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return ""
	}
	return claims.Subject
}

func render(links []models.Link) {
	fmt.Print("\033[H\033[2J")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tDESTINATION\tSCANS\tCREATED")
	for _, l := range links {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			l.ID, l.Title, l.Destination, l.ScanCount, l.CreatedAt.Local().Format(time.DateTime))
	}
	w.Flush()
	fmt.Printf("\n%d links\n", len(links))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
