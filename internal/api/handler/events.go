package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rhernandezbas/Betelgeus-Backend/internal/events"
)

const keepAliveInterval = 15 * time.Second

// Subscriber hands out workflow event streams.
type Subscriber interface {
	Subscribe() (<-chan events.Event, func())
}

// NewEventsHandler returns an http.HandlerFunc for GET /api/v1/station/events.
// It streams the current snapshot followed by every phase transition as
// server-sent events until the client goes away.
func NewEventsHandler(wf Workflow, sub Subscriber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := http.NewResponseController(w)
		// The stream outlives the server's write timeout.
		if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
			slog.Warn("clearing write deadline", "error", err)
		}

		ch, cancel := sub.Subscribe()
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		if err := writeSSE(w, "snapshot", wf.Snapshot()); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			slog.Warn("event stream not flushable", "error", err)
			return
		}

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if err := writeSSE(w, ev.Phase, ev); err != nil {
					return
				}
			case <-ticker.C:
				if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
					return
				}
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeSSE(w io.Writer, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
