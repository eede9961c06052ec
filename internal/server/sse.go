// Server-Sent Events for the task event stream.
//
// SSE Implementation Note:
// This file contains a custom Server-Sent Events (SSE) implementation rather
// than using a third-party package like r3labs/sse. The implementation is
// small, integrates directly with the internal task bus, and supports the
// per-user topic filtering this API needs; an SSE framework would add
// surface without covering that.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/convoy-ai/convoy/internal/logging"
	"github.com/convoy-ai/convoy/pkg/types"
)

// StreamEvent is the wire envelope for stream payloads.
// Clients expect: {"type": "...", "properties": {...}}
type StreamEvent struct {
	Type       string `json:"type"`
	Properties any    `json:"properties"`
}

const (
	// SSEHeartbeatInterval is the interval for SSE heartbeats.
	SSEHeartbeatInterval = 30 * time.Second
)

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// newSSEWriter creates a new SSE writer.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	// Use ResponseController for more reliable flushing (Go 1.20+)
	rc := http.NewResponseController(w)

	// Try to get flusher interface as well
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	return &sseWriter{w: w, flusher: flusher, rc: rc}, nil
}

// writeEvent writes an SSE event.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	// Write SSE format: event type, data, and blank line
	_, err = fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, jsonData)
	if err != nil {
		return err
	}

	// Flush immediately using ResponseController (more reliable than Flusher
	// interface); this ensures data is sent even through middleware wrappers
	if flushErr := s.rc.Flush(); flushErr != nil {
		// Fallback to traditional flusher
		s.flusher.Flush()
	}

	return nil
}

// writeHeartbeat writes an SSE heartbeat comment.
func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// taskEvents handles GET /event: the task event stream. An optional userID
// query narrows the stream to that user's events; without it the stream
// carries every task event. Connections beyond the configured cap are
// refused with 503 rather than degrading every open stream.
func (srv *Server) taskEvents(w http.ResponseWriter, r *http.Request) {
	if !srv.sseSem.TryAcquire(1) {
		writeError(w, http.StatusServiceUnavailable, ErrCodeStreamLimit, "too many concurrent event streams")
		return
	}
	defer srv.sseSem.Release(1)

	userID := r.URL.Query().Get("userID")

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	// Explicitly write status and flush headers immediately so the client
	// receives them before we wait for events
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	// The connected event carries the active-task snapshot so a late
	// subscriber can rebuild "what's running now" without a second request.
	connected := StreamEvent{
		Type: "server.connected",
		Properties: map[string]any{
			"active": srv.registry.List(userID),
		},
	}
	if err := sse.writeEvent("message", connected); err != nil {
		return
	}

	// Channel for events - use small buffer for low-latency streaming
	events := make(chan types.TaskEvent, 10)

	unsub := srv.bus.Subscribe(userID, func(e types.TaskEvent) {
		select {
		case events <- e:
		default:
			logging.Warn().
				Str("eventType", string(e.Type)).
				Str("taskID", e.TaskID).
				Msg("SSE task event dropped: channel full")
		}
	})
	defer unsub()

	// Heartbeat ticker
	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	// Wait for client disconnect or context cancellation
	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			data := StreamEvent{
				Type:       "task." + string(e.Type),
				Properties: e,
			}
			if err := sse.writeEvent("message", data); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}
