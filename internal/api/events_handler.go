package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dsj7419/qa-doc-convert/internal/events"
)

const (
	keepAliveInterval = 15 * time.Second
	retryHintMillis   = 3000
)

// sseStream writes events to one subscriber and remembers the newest ID it
// sent so replayed and live events never overlap.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	types   map[string]bool
	lastID  int64
}

func (s *sseStream) wants(ev events.Event) bool {
	if ev.ID <= s.lastID {
		return false
	}
	return len(s.types) == 0 || s.types[ev.Type]
}

func (s *sseStream) send(ev events.Event) error {
	if _, err := fmt.Fprintf(s.w, "id: %d\n", ev.ID); err != nil {
		return err
	}
	if ev.Type != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", ev.Type); err != nil {
			return err
		}
	}
	// Payloads are single-line JSON.
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", ev.Data); err != nil {
		return err
	}
	s.lastID = ev.ID
	return nil
}

func (s *sseStream) comment(text string) error {
	_, err := fmt.Fprintf(s.w, ": %s\n\n", text)
	return err
}

// handleEvents handles GET /events as a server-sent event stream. Buffered
// events newer than Last-Event-ID (or ?since=) are replayed before live
// ones. ?type= limits the stream to the listed event types.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before the replay so nothing published in between is lost.
	ch, cancel := s.events.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := &sseStream{
		w:       w,
		flusher: flusher,
		types:   parseTypeFilter(r.URL.Query()["type"]),
		lastID:  resumeID(r),
	}
	if _, err := fmt.Fprintf(w, "retry: %d\n\n", retryHintMillis); err != nil {
		return
	}
	for _, ev := range s.events.SnapshotSince(stream.lastID) {
		if !stream.wants(ev) {
			continue
		}
		if err := stream.send(ev); err != nil {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !stream.wants(ev) {
				continue
			}
			if err := stream.send(ev); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if err := stream.comment("keep-alive"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// resumeID prefers the Last-Event-ID header browsers send on reconnect.
func resumeID(r *http.Request) int64 {
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		return parseEventID(v)
	}
	return parseEventID(r.URL.Query().Get("since"))
}

func parseEventID(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// parseTypeFilter accepts repeated or comma-separated type values.
func parseTypeFilter(values []string) map[string]bool {
	var types map[string]bool
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if types == nil {
				types = make(map[string]bool)
			}
			types[t] = true
		}
	}
	return types
}
