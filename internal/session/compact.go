package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/convoy-ai/convoy/internal/logging"
	"github.com/convoy-ai/convoy/pkg/types"
)

// CompactionConfig controls destructive compaction.
type CompactionConfig struct {
	// MinMessagesToKeep is how many recent messages survive compaction.
	MinMessagesToKeep int
}

// DefaultCompactionConfig is applied when the caller passes a zero config.
var DefaultCompactionConfig = CompactionConfig{
	MinMessagesToKeep: 8,
}

// Compact folds messages older than the keep horizon into a single digest
// message, then reassigns a dense 1..N ordering. Tool-result messages whose
// call survives the horizon are kept so the remaining history stays
// pair-complete. Orphan tool-results inside the compacted range are
// dropped; orphans in the kept range are preserved.
func (s *Service) Compact(ctx context.Context, sessionID string, cfg CompactionConfig) error {
	if cfg.MinMessagesToKeep <= 0 {
		cfg.MinMessagesToKeep = DefaultCompactionConfig.MinMessagesToKeep
	}

	messages, err := s.ListMessages(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(messages) <= cfg.MinMessagesToKeep {
		return nil
	}

	if err := s.markCompacting(ctx, sessionID, true); err != nil {
		return err
	}
	defer s.markCompacting(ctx, sessionID, false)

	split := len(messages) - cfg.MinMessagesToKeep
	older, kept := messages[:split], messages[split:]

	// Results referenced by kept calls must survive even when they sit
	// below the horizon.
	neededResults := make(map[string]bool)
	for _, msg := range kept {
		for _, part := range msg.Parts {
			switch p := part.(type) {
			case *types.ToolCallPart:
				if p.Output == nil && p.Error == nil {
					neededResults[p.ToolCallID] = true
				}
			case *types.DynamicToolPart:
				if p.Output == nil && p.Error == nil {
					neededResults[p.ToolCallID] = true
				}
			}
		}
	}

	var dropped []*types.Message
	var rescued int
	for _, msg := range older {
		if keepsNeededResult(msg, neededResults) {
			rescued++
			continue
		}
		dropped = append(dropped, msg)
	}
	if len(dropped) == 0 {
		return nil
	}

	digest := buildDigest(dropped)
	summary := &types.Message{
		ID:        generateID(),
		SessionID: sessionID,
		Role:      types.RoleAssistant,
		Parts: []types.Part{
			&types.TextPart{ID: generateID(), Type: string(types.PartText), Text: digest},
		},
		// Takes the lowest dropped index so the summary sorts before
		// every surviving message; Reorder densifies afterwards.
		OrderingIndex: dropped[0].OrderingIndex,
		Time:          types.MessageTime{Created: time.Now().UnixMilli()},
	}
	if err := s.storage.Put(ctx, []string{"message", sessionID, summary.ID}, summary); err != nil {
		return fmt.Errorf("failed to save compaction summary: %w", err)
	}

	for _, msg := range dropped {
		if err := s.storage.Delete(ctx, []string{"message", sessionID, msg.ID}); err != nil {
			return fmt.Errorf("failed to drop compacted message: %w", err)
		}
	}

	if err := s.alloc.Reorder(ctx, sessionID); err != nil {
		return err
	}

	logging.Info().
		Str("sessionID", sessionID).
		Int("compacted", len(dropped)).
		Int("rescued", rescued).
		Msg("compacted session history")
	return nil
}

func (s *Service) markCompacting(ctx context.Context, sessionID string, on bool) error {
	status := types.SessionIdle
	if on {
		status = types.SessionCompacting
	}
	return s.SetStatus(ctx, sessionID, status)
}

// keepsNeededResult reports whether msg carries a tool-result some kept
// call still depends on.
func keepsNeededResult(msg *types.Message, needed map[string]bool) bool {
	for _, part := range msg.Parts {
		if rp, ok := part.(*types.ToolResultPart); ok && needed[rp.ToolCallID] {
			return true
		}
	}
	return false
}

// buildDigest produces a compact textual trace of the dropped messages.
func buildDigest(dropped []*types.Message) string {
	var b strings.Builder
	b.WriteString("Summary of earlier conversation:\n")
	for _, msg := range dropped {
		for _, part := range msg.Parts {
			switch p := part.(type) {
			case *types.TextPart:
				fmt.Fprintf(&b, "- [%s] %s\n", msg.Role, truncateLine(p.Text, 160))
			case *types.ToolCallPart:
				fmt.Fprintf(&b, "- [tool] %s(%s)\n", p.ToolName, p.ToolCallID)
			case *types.DynamicToolPart:
				fmt.Fprintf(&b, "- [tool] %s(%s)\n", p.ToolName, p.ToolCallID)
			case *types.ToolResultPart:
				fmt.Fprintf(&b, "- [result] %s: %s\n", p.ToolCallID, truncateLine(p.Output, 80))
			}
		}
	}
	return b.String()
}

func truncateLine(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
