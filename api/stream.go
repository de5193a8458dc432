/*
stream.go - SSE bridge over the sync bus

PURPOSE:
  Forwards every published sync event to remote listeners over a Server-Sent
  Events connection. Each connection is its own bus listener with its own
  cursor; a disconnect tears down only that listener.

NO REPLAY:
  Events are ephemeral. A reconnecting client gets a fresh connected event
  and must re-fetch current state from the API, not from bus history.

SEE ALSO:
  - engine/bus.go: Stream registration and delivery semantics
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// StreamEvents serves the SSE push channel.
// GET /api/events
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The channel closes when the client disconnects (request context) or
	// the listener falls too far behind; either way this loop ends.
	for event := range h.Service.StreamEvents(r.Context()) {
		data, err := json.Marshal(map[string]any{
			"id":         event.ID,
			"payload":    event.Payload,
			"emitted_at": event.EmittedAt,
		})
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
		flusher.Flush()
	}
}
