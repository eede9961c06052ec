package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/convoy-ai/convoy/internal/ordering"
	"github.com/convoy-ai/convoy/internal/session"
	"github.com/convoy-ai/convoy/internal/steering"
	"github.com/convoy-ai/convoy/pkg/types"
)

// createSessionRequest is the body for POST /session.
type createSessionRequest struct {
	Title string `json:"title,omitempty"`
}

// createSession handles POST /session.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
			return
		}
	}

	sess, err := s.sessions.Create(r.Context(), req.Title)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// listSessions handles GET /session.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// getSession handles GET /session/{sessionID}.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	sess, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// deleteSession handles DELETE /session/{sessionID}.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := s.sessions.Delete(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

// getMessages handles GET /session/{sessionID}/message.
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := s.sessions.ListMessages(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// sendMessageRequest is the body for POST /session/{sessionID}/message.
type sendMessageRequest struct {
	Role  types.Role        `json:"role"`
	Parts []json.RawMessage `json:"parts"`
}

// sendMessage handles POST /session/{sessionID}/message. The message's
// ordering index is stamped server-side; clients never supply one.
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.Role == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "role required")
		return
	}

	parts := make([]types.Part, 0, len(req.Parts))
	for _, raw := range req.Parts {
		part, err := types.UnmarshalPart(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
			return
		}
		parts = append(parts, part)
	}

	msg, err := s.sessions.AppendMessage(r.Context(), sessionID, session.Draft{
		Role:  req.Role,
		Parts: parts,
	})
	if err != nil {
		if errors.Is(err, ordering.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// reconcileRequest is the body for POST /session/{sessionID}/reconcile:
// the client's view of the message history.
type reconcileRequest struct {
	Messages []*types.Message `json:"messages"`
}

// reconcileResponse reports the reconciled history and pair diagnostics.
type reconcileResponse struct {
	Messages       []*types.Message `json:"messages"`
	MissingResults []string         `json:"missingResults,omitempty"`
	OrphanResults  []string         `json:"orphanResults,omitempty"`
	Persisted      []string         `json:"persisted,omitempty"`
}

// reconcileSession handles POST /session/{sessionID}/reconcile.
func (s *Server) reconcileSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}

	result, err := s.sessions.Reconcile(r.Context(), sessionID, req.Messages)
	if err != nil {
		if errors.Is(err, ordering.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, reconcileResponse{
		Messages:       result.Messages,
		MissingResults: result.MissingResults,
		OrphanResults:  result.OrphanResults,
		Persisted:      result.Persisted,
	})
}

// validateSession handles GET /session/{sessionID}/validate.
func (s *Server) validateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	report, err := s.alloc.Validate(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, ordering.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// compactRequest is the body for POST /session/{sessionID}/compact.
type compactRequest struct {
	MinMessagesToKeep int `json:"minMessagesToKeep,omitempty"`
}

// compactSession handles POST /session/{sessionID}/compact.
func (s *Server) compactSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req compactRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
			return
		}
	}

	cfg := session.CompactionConfig{MinMessagesToKeep: req.MinMessagesToKeep}
	if err := s.sessions.Compact(r.Context(), sessionID, cfg); err != nil {
		if errors.Is(err, ordering.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

// steerRequest is the body for POST /session/{sessionID}/steer.
type steerRequest struct {
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
}

// steerSession handles POST /session/{sessionID}/steer. When the session
// has no active run the queue is absent and the caller should start a
// fresh run instead; that is signalled with 409 QUEUE_ABSENT.
func (s *Server) steerSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req steerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content required")
		return
	}

	if !s.steering.AppendBySession(sessionID, req.Content, req.Source) {
		writeError(w, http.StatusConflict, ErrCodeQueueAbsent, "no active run for session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"success":    true,
		"stopIntent": steering.HasStopIntent(req.Content),
	})
}

// refreshRequest is the body for POST /session/{sessionID}/refresh.
type refreshRequest struct {
	Mode           types.RefreshMode `json:"mode,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	RunID          string            `json:"runID,omitempty"`
	EventTimestamp int64             `json:"eventTimestamp,omitempty"`
	Immediate      bool              `json:"immediate,omitempty"`
}

// refreshSession handles POST /session/{sessionID}/refresh. Requests are
// fire-and-forget: the coordinator coalesces and rate-limits them. The UI
// posts for the session it displays, so the call also moves focus there.
func (s *Server) refreshSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req refreshRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid JSON body")
			return
		}
	}
	if req.Mode == "" {
		req.Mode = types.RefreshIncremental
	}

	s.focus.Set(sessionID)
	s.refresh.Enqueue(types.RefreshRequest{
		SessionID:      sessionID,
		Mode:           req.Mode,
		Reason:         req.Reason,
		RunID:          req.RunID,
		EventTimestamp: req.EventTimestamp,
		Immediate:      req.Immediate,
	})
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}
