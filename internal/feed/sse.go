package feed

import (
	"bufio"
	"encoding/json"
	"fmt"

	"qryptic/internal/models"
)

// WriteSSE writes event as one server-sent event and flushes it.
func WriteSSE(w *bufio.Writer, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Operation, data); err != nil {
		return err
	}
	return w.Flush()
}

// WriteHeartbeat writes an SSE comment line and flushes it. A failed flush
// means the peer has gone away.
func WriteHeartbeat(w *bufio.Writer) error {
	if _, err := w.WriteString(": ping\n\n"); err != nil {
		return err
	}
	return w.Flush()
}
