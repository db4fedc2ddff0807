package api

import (
	"bufio"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"

	"qryptic/internal/feed"
	"qryptic/internal/middleware"
)

// StreamHandler serves the caller's change feed as server-sent events.
type StreamHandler struct {
	hub       *feed.Hub
	heartbeat time.Duration
}

// NewStreamHandler creates a stream handler. The heartbeat bounds how long a
// disconnected client's subscription can outlive it.
func NewStreamHandler(hub *feed.Hub, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 5 * time.Second
	}
	return &StreamHandler{hub: hub, heartbeat: heartbeat}
}

// Stream subscribes before responding, so every event committed after the
// response headers arrive is delivered. Nothing earlier is replayed.
func (h *StreamHandler) Stream(c fiber.Ctx) error {
	owner := middleware.OwnerID(c)

	sub, err := h.hub.Subscribe(owner)
	if err != nil {
		c.Set(fiber.HeaderRetryAfter, "1")
		return jsonError(c, fiber.StatusServiceUnavailable, "feed unavailable")
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	heartbeat := h.heartbeat
	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer sub.Close()
		slog.Debug("feed subscriber connected", "owner_id", owner)
		defer slog.Debug("feed subscriber disconnected", "owner_id", owner)

		if err := feed.WriteHeartbeat(w); err != nil {
			return
		}

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if err := feed.WriteSSE(w, ev); err != nil {
					return
				}
			case <-ticker.C:
				if err := feed.WriteHeartbeat(w); err != nil {
					return
				}
			}
		}
	})
}
