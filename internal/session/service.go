// Package session manages conversation sessions and their message history.
// Every persisted message is stamped with an ordering index from the
// allocator; the service never derives an index by inspecting existing
// messages.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/convoy-ai/convoy/internal/ordering"
	"github.com/convoy-ai/convoy/internal/reconcile"
	"github.com/convoy-ai/convoy/internal/storage"
	"github.com/convoy-ai/convoy/pkg/types"
)

// Service manages session and message persistence.
type Service struct {
	storage    *storage.Storage
	alloc      *ordering.Allocator
	reconciler *reconcile.Reconciler
}

// NewService creates a session service.
func NewService(store *storage.Storage, alloc *ordering.Allocator, rec *reconcile.Reconciler) *Service {
	return &Service{storage: store, alloc: alloc, reconciler: rec}
}

// Draft is an unstamped message to be appended as part of a turn.
type Draft struct {
	Role  types.Role
	Parts []types.Part
}

// Create creates a new session with a zeroed ordering counter.
func (s *Service) Create(ctx context.Context, title string) (*types.Session, error) {
	if title == "" {
		title = "New Session"
	}

	now := time.Now().UnixMilli()
	sess := &types.Session{
		ID:     generateID(),
		Title:  title,
		Status: types.SessionIdle,
		Time:   types.SessionTime{Created: now, Updated: now},
	}

	if err := s.storage.Put(ctx, []string{"session", sess.ID}, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return sess, nil
}

// Get retrieves a session by ID.
func (s *Service) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	var sess types.Session
	if err := s.storage.Get(ctx, []string{"session", sessionID}, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// List returns all sessions.
func (s *Service) List(ctx context.Context) ([]*types.Session, error) {
	var sessions []*types.Session
	err := s.storage.Scan(ctx, []string{"session"}, func(key string, data json.RawMessage) error {
		var sess types.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return err
		}
		sessions = append(sessions, &sess)
		return nil
	})
	return sessions, err
}

// SetStatus updates the session status field.
func (s *Service) SetStatus(ctx context.Context, sessionID string, status types.SessionStatus) error {
	return s.storage.Update(ctx, []string{"session", sessionID}, func(current json.RawMessage) (any, error) {
		if current == nil {
			return nil, storage.ErrNotFound
		}
		var sess types.Session
		if err := json.Unmarshal(current, &sess); err != nil {
			return nil, err
		}
		sess.Status = status
		sess.Time.Updated = time.Now().UnixMilli()
		return sess, nil
	})
}

// Delete deletes a session and its messages and tool results.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	if err := s.storage.Delete(ctx, []string{"session", sessionID}); err != nil {
		return err
	}

	messages, _ := s.storage.List(ctx, []string{"message", sessionID})
	for _, id := range messages {
		s.storage.Delete(ctx, []string{"message", sessionID, id})
	}
	results, _ := s.storage.List(ctx, []string{"tool-result", sessionID})
	for _, id := range results {
		s.storage.Delete(ctx, []string{"tool-result", sessionID, id})
	}
	return nil
}

// AppendMessage stamps a single message with the next ordering index and
// persists it.
func (s *Service) AppendMessage(ctx context.Context, sessionID string, draft Draft) (*types.Message, error) {
	msgs, err := s.AppendTurn(ctx, sessionID, []Draft{draft})
	if err != nil {
		return nil, err
	}
	return msgs[0], nil
}

// AppendTurn persists a multi-message turn. The whole turn's indices are
// reserved with one AllocateBlock call, so no concurrent writer can
// interleave inside the turn.
func (s *Service) AppendTurn(ctx context.Context, sessionID string, drafts []Draft) ([]*types.Message, error) {
	if len(drafts) == 0 {
		return nil, nil
	}

	indices, err := s.alloc.AllocateBlock(ctx, sessionID, len(drafts))
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	messages := make([]*types.Message, len(drafts))
	for i, draft := range drafts {
		msg := &types.Message{
			ID:            generateID(),
			SessionID:     sessionID,
			Role:          draft.Role,
			Parts:         draft.Parts,
			OrderingIndex: indices[i],
			Time:          types.MessageTime{Created: now},
		}
		if err := s.storage.Put(ctx, []string{"message", sessionID, msg.ID}, msg); err != nil {
			return nil, fmt.Errorf("failed to save message: %w", err)
		}
		messages[i] = msg
	}
	return messages, nil
}

// ListMessages returns the session's messages ordered by ordering index
// (createdAt breaking ties).
func (s *Service) ListMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	var messages []*types.Message
	err := s.storage.Scan(ctx, []string{"message", sessionID}, func(key string, data json.RawMessage) error {
		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		messages = append(messages, &msg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].OrderingIndex != messages[j].OrderingIndex {
			return messages[i].OrderingIndex < messages[j].OrderingIndex
		}
		return messages[i].Time.Created < messages[j].Time.Created
	})
	return messages, nil
}

// SaveToolResult records a canonical tool result.
func (s *Service) SaveToolResult(ctx context.Context, sessionID string, result *types.ToolResult) error {
	if result.Created == 0 {
		result.Created = time.Now().UnixMilli()
	}
	return s.storage.Put(ctx, []string{"tool-result", sessionID, result.ToolCallID}, result)
}

// ToolResults loads the canonical {toolCallID -> result} store.
func (s *Service) ToolResults(ctx context.Context, sessionID string) (map[string]*types.ToolResult, error) {
	results := make(map[string]*types.ToolResult)
	err := s.storage.Scan(ctx, []string{"tool-result", sessionID}, func(key string, data json.RawMessage) error {
		var r types.ToolResult
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		results[r.ToolCallID] = &r
		return nil
	})
	return results, err
}

// Reconcile runs the tool-call reconciler over a client-supplied message
// list against the session's canonical result store. Called once per turn
// before persisting or compacting.
func (s *Service) Reconcile(ctx context.Context, sessionID string, clientMessages []*types.Message) (*reconcile.Result, error) {
	results, err := s.ToolResults(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.reconciler.Reconcile(ctx, sessionID, clientMessages, results)
}

// generateID generates a new ULID.
func generateID() string {
	return ulid.Make().String()
}
