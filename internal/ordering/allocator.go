// Package ordering issues per-session, strictly increasing ordering indices.
// Every persisted message is stamped from here; no caller may derive an
// index by inspecting existing messages.
package ordering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/convoy-ai/convoy/internal/logging"
	"github.com/convoy-ai/convoy/internal/storage"
	"github.com/convoy-ai/convoy/pkg/types"
)

// ErrSessionNotFound is returned when the target session does not exist or
// was deleted concurrently. Callers must propagate it; falling back to a
// local counter would fork the sequence.
var ErrSessionNotFound = errors.New("session not found")

// Allocator hands out ordering indices by advancing the session's
// LastOrderingIndex through the store's atomic read-modify-write. The
// counter is the single source of truth for sequencing.
type Allocator struct {
	storage *storage.Storage
}

// NewAllocator creates an Allocator backed by the given store.
func NewAllocator(store *storage.Storage) *Allocator {
	return &Allocator{storage: store}
}

func sessionPath(sessionID string) []string {
	return []string{"session", sessionID}
}

func messagePath(sessionID, messageID string) []string {
	return []string{"message", sessionID, messageID}
}

// NextIndex atomically reserves and returns the next ordering index for the
// session.
func (a *Allocator) NextIndex(ctx context.Context, sessionID string) (int64, error) {
	block, err := a.AllocateBlock(ctx, sessionID, 1)
	if err != nil {
		return 0, err
	}
	return block[0], nil
}

// AllocateBlock atomically reserves a contiguous range of count indices and
// returns them in ascending order. A multi-part turn allocates its whole
// range in one call so no concurrent writer can interleave.
func (a *Allocator) AllocateBlock(ctx context.Context, sessionID string, count int) ([]int64, error) {
	if count <= 0 {
		return nil, fmt.Errorf("invalid block size %d", count)
	}

	var start int64
	err := a.storage.Update(ctx, sessionPath(sessionID), func(current json.RawMessage) (any, error) {
		if current == nil {
			return nil, ErrSessionNotFound
		}

		var sess types.Session
		if err := json.Unmarshal(current, &sess); err != nil {
			return nil, fmt.Errorf("corrupt session document: %w", err)
		}

		start = sess.LastOrderingIndex + 1
		sess.LastOrderingIndex += int64(count)
		sess.Time.Updated = time.Now().UnixMilli()
		return sess, nil
	})
	if err != nil {
		return nil, err
	}

	indices := make([]int64, count)
	for i := range indices {
		indices[i] = start + int64(i)
	}
	return indices, nil
}

// Reorder reassigns a dense 1..N sequence to all of the session's messages,
// ordered by (orderingIndex, createdAt), and resets the session counter to
// N. Unassigned (zero) indices sort after assigned ones. Only called after
// destructive compaction; never part of normal operation.
func (a *Allocator) Reorder(ctx context.Context, sessionID string) error {
	if !a.storage.Exists(ctx, sessionPath(sessionID)) {
		return ErrSessionNotFound
	}

	messages, err := a.loadMessages(ctx, sessionID)
	if err != nil {
		return err
	}

	sort.SliceStable(messages, func(i, j int) bool {
		mi, mj := messages[i], messages[j]
		switch {
		case mi.OrderingIndex == 0 && mj.OrderingIndex == 0:
			return mi.Time.Created < mj.Time.Created
		case mi.OrderingIndex == 0:
			return false
		case mj.OrderingIndex == 0:
			return true
		case mi.OrderingIndex != mj.OrderingIndex:
			return mi.OrderingIndex < mj.OrderingIndex
		default:
			return mi.Time.Created < mj.Time.Created
		}
	})

	for i, msg := range messages {
		want := int64(i + 1)
		if msg.OrderingIndex == want {
			continue
		}
		msg.OrderingIndex = want
		now := time.Now().UnixMilli()
		msg.Time.Updated = &now
		if err := a.storage.Put(ctx, messagePath(sessionID, msg.ID), msg); err != nil {
			return fmt.Errorf("failed to rewrite message %s: %w", msg.ID, err)
		}
	}

	total := int64(len(messages))
	err = a.storage.Update(ctx, sessionPath(sessionID), func(current json.RawMessage) (any, error) {
		if current == nil {
			return nil, ErrSessionNotFound
		}
		var sess types.Session
		if err := json.Unmarshal(current, &sess); err != nil {
			return nil, fmt.Errorf("corrupt session document: %w", err)
		}
		sess.LastOrderingIndex = total
		sess.Time.Updated = time.Now().UnixMilli()
		return sess, nil
	})
	if err != nil {
		return err
	}

	logging.Info().
		Str("sessionID", sessionID).
		Int64("messages", total).
		Msg("reordered session messages")
	return nil
}

func (a *Allocator) loadMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	var messages []*types.Message
	err := a.storage.Scan(ctx, []string{"message", sessionID}, func(key string, data json.RawMessage) error {
		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("corrupt message %s: %w", key, err)
		}
		messages = append(messages, &msg)
		return nil
	})
	return messages, err
}
