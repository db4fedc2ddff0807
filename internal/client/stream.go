package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"qryptic/internal/directory"
	"qryptic/internal/models"
)

// ErrStreamClosed is returned by Stream when the server ends the stream.
var ErrStreamClosed = errors.New("stream closed by server")

const maxEventSize = 1 << 20

// StreamCallbacks receives stream lifecycle notifications.
type StreamCallbacks struct {
	// OnOpen runs once the server has accepted the subscription. Events
	// committed after this point will be delivered.
	OnOpen func()
	// OnEvent runs for each decoded event, in arrival order.
	OnEvent func(models.Event)
}

// Stream subscribes to the owner's change feed and blocks until ctx is done
// or the connection ends. It never returns nil: the caller decides whether
// and when to reconnect, and must reconcile by listing after it does.
func (c *Client) Stream(ctx context.Context, cb StreamCallbacks) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/links/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &directory.TransientError{Op: "stream", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, resp.Status)
	}

	if cb.OnOpen != nil {
		cb.OnOpen()
	}

	err = readEvents(resp.Body, func(name, data string) {
		var ev models.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			slog.Warn("discarding malformed feed event", "event", name, "error", err)
			return
		}
		if cb.OnEvent != nil {
			cb.OnEvent(ev)
		}
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return &directory.TransientError{Op: "stream", Err: err}
	}
	return ErrStreamClosed
}

// readEvents parses a server-sent event stream, calling fn for each event
// that carries data. Comment lines are ignored.
func readEvents(r io.Reader, fn func(name, data string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxEventSize)

	var (
		name string
		data []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				fn(name, strings.Join(data, "\n"))
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}
