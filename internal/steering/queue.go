// Package steering lets new user input reach an agent run that is already
// executing. Each run owns a small in-memory mailbox; the run's executor
// drains it at its own cadence and injects the result into the model
// context.
package steering

import (
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/convoy-ai/convoy/internal/logging"
	"github.com/convoy-ai/convoy/pkg/types"
)

// Manager holds the per-run steering queues and the sessionID -> runID
// alias table that lets callers who only know the session still enqueue.
type Manager struct {
	mu        sync.Mutex
	cfg       types.SteeringConfig
	runs      map[string][]types.LivePromptEntry
	bySession map[string]string
}

// NewManager creates a Manager with the given limits. Zero limits fall back
// to the built-in defaults.
func NewManager(cfg types.SteeringConfig) *Manager {
	def := types.DefaultConfig().Steering
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.MaxEntryLength <= 0 {
		cfg.MaxEntryLength = def.MaxEntryLength
	}
	return &Manager{
		cfg:       cfg,
		runs:      make(map[string][]types.LivePromptEntry),
		bySession: make(map[string]string),
	}
}

// Create establishes the queue for a run and registers the session alias.
// Idempotent: re-creating an existing queue keeps its entries.
func (m *Manager) Create(runID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[runID]; !ok {
		m.runs[runID] = nil
	}
	if sessionID != "" {
		m.bySession[sessionID] = runID
	}
}

// Append sanitizes and enqueues content for the run. Returns false when no
// queue exists for the run, in which case the caller should fall back to
// starting a fresh run. Oversized queues evict their oldest entry.
func (m *Manager) Append(runID, content, source string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(runID, content, source)
}

// AppendBySession resolves the session alias and appends to the owning
// run's queue. Returns false when the session has no active run.
func (m *Manager) AppendBySession(sessionID, content, source string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	runID, ok := m.bySession[sessionID]
	if !ok {
		return false
	}
	return m.appendLocked(runID, content, source)
}

func (m *Manager) appendLocked(runID, content, source string) bool {
	entries, ok := m.runs[runID]
	if !ok {
		return false
	}

	entry := types.LivePromptEntry{
		ID:      ulid.Make().String(),
		RunID:   runID,
		Content: sanitize(content, m.cfg.MaxEntryLength),
		Source:  source,
		Created: time.Now().UnixMilli(),
	}

	entries = append(entries, entry)
	if over := len(entries) - m.cfg.MaxEntries; over > 0 {
		logging.Debug().
			Str("runID", runID).
			Int("evicted", over).
			Msg("steering queue full, dropping oldest entries")
		entries = entries[over:]
	}
	m.runs[runID] = entries
	return true
}

// Drain atomically returns all unconsumed entries in insertion order and
// clears the queue. Of two concurrent drains exactly one sees the entries;
// the other sees empty. The queue itself stays registered.
func (m *Manager) Drain(runID string) []types.LivePromptEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, ok := m.runs[runID]
	if !ok || len(entries) == 0 {
		return nil
	}
	m.runs[runID] = nil
	return entries
}

// Remove deletes the run's queue and its session alias. Called when the
// run ends; any unconsumed entries are discarded.
func (m *Manager) Remove(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.runs, runID)
	for sessionID, rid := range m.bySession {
		if rid == runID {
			delete(m.bySession, sessionID)
		}
	}
}

// Pending reports the number of unconsumed entries for a run.
func (m *Manager) Pending(runID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs[runID])
}

// RunForSession resolves the session alias. The second return is false when
// the session has no active run.
func (m *Manager) RunForSession(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runID, ok := m.bySession[sessionID]
	return runID, ok
}

// BuildInstructionBlock joins drained entries into the single instruction
// block the executor injects into the model context.
func BuildInstructionBlock(entries []types.LivePromptEntry) string {
	if len(entries) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("The user sent the following while you were working:\n")
	for _, e := range entries {
		b.WriteString("\n- ")
		b.WriteString(e.Content)
	}
	return b.String()
}
