// Package reconcile keeps a session's history pair-complete: every
// tool-call part must eventually have exactly one tool-result with the same
// toolCallID, even when the client-supplied message list and the server's
// canonical result store disagree after crashes, partial streams, or edits.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/convoy-ai/convoy/internal/logging"
	"github.com/convoy-ai/convoy/internal/ordering"
	"github.com/convoy-ai/convoy/internal/storage"
	"github.com/convoy-ai/convoy/pkg/types"
)

// Reconciler merges client-held and server-held tool results. Constructed
// once and shared; all state is per-call.
type Reconciler struct {
	storage *storage.Storage
	alloc   *ordering.Allocator
}

// New creates a Reconciler over the given store and allocator.
func New(store *storage.Storage, alloc *ordering.Allocator) *Reconciler {
	return &Reconciler{storage: store, alloc: alloc}
}

// Result is the outcome of one reconciliation pass.
type Result struct {
	// Messages is the client list with canonical results spliced in.
	Messages []*types.Message
	// MissingResults lists toolCallIDs with no result on either side.
	// A nonzero count is an expected transient state while a run is
	// still executing, not an error.
	MissingResults []string
	// OrphanResults lists toolCallIDs that have a result but no matching
	// call in current history. Preserved as-is, never discarded: the
	// call may have been pruned by an edit.
	OrphanResults []string
	// Persisted lists toolCallIDs for which a synthetic tool-result
	// message was written this pass.
	Persisted []string
}

// toolInvocation is the reconciler's uniform view of a tool-call or
// dynamic-tool part.
type toolInvocation struct {
	callID    string
	hasOutput bool
	output    string
	isError   bool
	set       func(state types.ToolState, output string, isErr bool)
}

// Reconcile walks the client's message list against the server's canonical
// {toolCallID -> result} store and returns the enhanced list. The operation
// is idempotent: synthetic messages are keyed by toolCallID, so a second
// pass over the same inputs persists nothing new and returns the same list.
func (r *Reconciler) Reconcile(
	ctx context.Context,
	sessionID string,
	clientMessages []*types.Message,
	serverResults map[string]*types.ToolResult,
) (*Result, error) {
	result := &Result{
		Messages: make([]*types.Message, len(clientMessages)),
	}

	// Tracks synthetic messages written during this call so a toolCallID
	// appearing on several parts persists at most once.
	persisted := make(map[string]bool)

	callIDs := make(map[string]bool)
	clientResultIDs := make(map[string]bool)

	for i, msg := range clientMessages {
		clone := cloneMessage(msg)
		result.Messages[i] = clone

		for _, part := range clone.Parts {
			if rp, ok := part.(*types.ToolResultPart); ok {
				clientResultIDs[rp.ToolCallID] = true
				continue
			}

			inv := asInvocation(part)
			if inv == nil || clone.Role != types.RoleAssistant {
				continue
			}
			callIDs[inv.callID] = true

			canonical := serverResults[inv.callID]
			switch {
			case inv.hasOutput && canonical == nil:
				// Client has the result, server lacks it: persist a
				// synthetic tool-result message on the server's behalf.
				if persisted[inv.callID] {
					continue
				}
				wrote, err := r.persistSynthetic(ctx, sessionID, inv)
				if err != nil {
					return nil, err
				}
				persisted[inv.callID] = true
				if wrote {
					result.Persisted = append(result.Persisted, inv.callID)
				}

			case !inv.hasOutput && canonical != nil:
				// Server has the canonical result: splice it in.
				if canonical.IsError() {
					inv.set(types.ToolOutputError, canonical.Output, true)
				} else {
					inv.set(types.ToolOutputAvailable, canonical.Output, false)
				}

			case !inv.hasOutput && canonical == nil:
				// Neither side has the result. Strict mode: never
				// fabricate a placeholder, never drop the call.
				result.MissingResults = append(result.MissingResults, inv.callID)
			}
		}
	}

	for id := range clientResultIDs {
		if !callIDs[id] {
			result.OrphanResults = append(result.OrphanResults, id)
		}
	}
	for id := range serverResults {
		if !callIDs[id] && !clientResultIDs[id] {
			result.OrphanResults = append(result.OrphanResults, id)
		}
	}

	sort.Strings(result.MissingResults)
	sort.Strings(result.OrphanResults)
	sort.Strings(result.Persisted)

	if len(result.MissingResults) > 0 {
		logging.Warn().
			Str("sessionID", sessionID).
			Strs("toolCallIDs", result.MissingResults).
			Msg("tool calls without results; expected while a run is executing")
	}
	if len(result.OrphanResults) > 0 {
		logging.Debug().
			Str("sessionID", sessionID).
			Strs("toolCallIDs", result.OrphanResults).
			Msg("orphan tool results preserved")
	}

	return result, nil
}

// persistSynthetic writes the client-held output as a canonical tool-result
// message. The message ID is derived from the toolCallID, so reruns find
// the existing document and skip both the write and the index allocation.
// Returns true when a new message was written.
func (r *Reconciler) persistSynthetic(ctx context.Context, sessionID string, inv *toolInvocation) (bool, error) {
	msgID := syntheticMessageID(inv.callID)
	path := []string{"message", sessionID, msgID}
	if r.storage.Exists(ctx, path) {
		return false, nil
	}

	index, err := r.alloc.NextIndex(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to allocate index for synthetic result: %w", err)
	}

	status := "success"
	if inv.isError {
		status = "error"
	}

	msg := &types.Message{
		ID:            msgID,
		SessionID:     sessionID,
		Role:          types.RoleTool,
		OrderingIndex: index,
		Parts: []types.Part{
			&types.ToolResultPart{
				ID:         msgID + "-part",
				Type:       string(types.PartToolResult),
				ToolCallID: inv.callID,
				Status:     status,
				Output:     inv.output,
				Synthetic:  true,
			},
		},
		Time: types.MessageTime{Created: time.Now().UnixMilli()},
	}

	// Store writes are local and fast; a couple of quick retries cover
	// transient filesystem contention.
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(10*time.Millisecond), 3)
	err = backoff.Retry(func() error {
		return r.storage.Put(ctx, path, msg)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return false, fmt.Errorf("failed to persist synthetic result: %w", err)
	}

	logging.Info().
		Str("sessionID", sessionID).
		Str("toolCallID", inv.callID).
		Msg("persisted synthetic tool result from client payload")
	return true, nil
}

func syntheticMessageID(toolCallID string) string {
	return "synth_" + toolCallID
}

// asInvocation adapts tool-call and dynamic-tool parts to a single shape.
// Other part kinds return nil.
func asInvocation(part types.Part) *toolInvocation {
	switch p := part.(type) {
	case *types.ToolCallPart:
		return &toolInvocation{
			callID:    p.ToolCallID,
			hasOutput: p.Output != nil || p.Error != nil,
			output:    derefOutput(p.Output, p.Error),
			isError:   p.Error != nil,
			set: func(state types.ToolState, output string, isErr bool) {
				p.State = state
				if isErr {
					p.Error = &output
				} else {
					p.Output = &output
				}
			},
		}
	case *types.DynamicToolPart:
		return &toolInvocation{
			callID:    p.ToolCallID,
			hasOutput: p.Output != nil || p.Error != nil,
			output:    derefOutput(p.Output, p.Error),
			isError:   p.Error != nil,
			set: func(state types.ToolState, output string, isErr bool) {
				p.State = state
				if isErr {
					p.Error = &output
				} else {
					p.Output = &output
				}
			},
		}
	default:
		return nil
	}
}

func derefOutput(output, errStr *string) string {
	if errStr != nil {
		return *errStr
	}
	if output != nil {
		return *output
	}
	return ""
}

// cloneMessage copies a message and its parts so splicing never mutates the
// caller's input.
func cloneMessage(msg *types.Message) *types.Message {
	clone := *msg
	clone.Parts = make([]types.Part, len(msg.Parts))
	for i, part := range msg.Parts {
		switch p := part.(type) {
		case *types.TextPart:
			cp := *p
			clone.Parts[i] = &cp
		case *types.ToolCallPart:
			cp := *p
			clone.Parts[i] = &cp
		case *types.DynamicToolPart:
			cp := *p
			clone.Parts[i] = &cp
		case *types.ToolResultPart:
			cp := *p
			clone.Parts[i] = &cp
		default:
			clone.Parts[i] = part
		}
	}
	return &clone
}
