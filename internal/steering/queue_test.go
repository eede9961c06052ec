package steering

import (
	"strings"
	"sync"
	"testing"

	"github.com/convoy-ai/convoy/pkg/types"
)

func newTestManager() *Manager {
	return NewManager(types.SteeringConfig{MaxEntries: 5, MaxEntryLength: 200})
}

func TestManager_AppendWithoutQueue(t *testing.T) {
	m := newTestManager()

	if m.Append("run1", "hello", "chat") {
		t.Error("Append should return false when no queue exists")
	}
	if m.AppendBySession("sess1", "hello", "chat") {
		t.Error("AppendBySession should return false when no queue exists")
	}
}

func TestManager_CreateAndAppend(t *testing.T) {
	m := newTestManager()
	m.Create("run1", "sess1")

	if !m.Append("run1", "first", "chat") {
		t.Fatal("Append failed after Create")
	}
	if !m.AppendBySession("sess1", "second", "chat") {
		t.Fatal("AppendBySession failed after Create")
	}

	entries := m.Drain("run1")
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Content != "first" || entries[1].Content != "second" {
		t.Errorf("Entries out of insertion order: %v", entries)
	}
}

func TestManager_CreateIdempotent(t *testing.T) {
	m := newTestManager()
	m.Create("run1", "sess1")
	m.Append("run1", "kept", "chat")

	// Re-creating must not discard pending entries.
	m.Create("run1", "sess1")

	if got := m.Pending("run1"); got != 1 {
		t.Errorf("Pending after re-create = %d, want 1", got)
	}
}

func TestManager_DrainEmptiesQueue(t *testing.T) {
	m := newTestManager()
	m.Create("run1", "")
	m.Append("run1", "a", "chat")

	if got := m.Drain("run1"); len(got) != 1 {
		t.Fatalf("First drain returned %d entries, want 1", len(got))
	}
	if got := m.Drain("run1"); got != nil {
		t.Errorf("Second drain returned %v, want nil", got)
	}

	// Queue survives drains until Remove.
	if !m.Append("run1", "b", "chat") {
		t.Error("Append after drain should succeed")
	}
}

// Two concurrent drains must collectively see each entry exactly once.
func TestManager_DrainExactlyOnce(t *testing.T) {
	for round := 0; round < 50; round++ {
		m := newTestManager()
		m.Create("run1", "")
		m.Append("run1", "A", "chat")
		m.Append("run1", "B", "chat")
		m.Append("run1", "C", "chat")

		var wg sync.WaitGroup
		results := make([][]types.LivePromptEntry, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				results[n] = m.Drain("run1")
			}(i)
		}
		wg.Wait()

		total := len(results[0]) + len(results[1])
		if total != 3 {
			t.Fatalf("Round %d: drains saw %d entries total, want 3", round, total)
		}
		if len(results[0]) != 0 && len(results[1]) != 0 {
			t.Fatalf("Round %d: both drains saw entries", round)
		}

		if got := m.Drain("run1"); got != nil {
			t.Fatalf("Round %d: third drain returned %v, want nil", round, got)
		}
	}
}

func TestManager_EvictsOldestBeyondCap(t *testing.T) {
	m := newTestManager() // cap 5
	m.Create("run1", "")

	for _, c := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		m.Append("run1", c, "chat")
	}

	entries := m.Drain("run1")
	if len(entries) != 5 {
		t.Fatalf("Expected 5 entries after eviction, got %d", len(entries))
	}
	if entries[0].Content != "3" || entries[4].Content != "7" {
		t.Errorf("Wrong entries survived eviction: %v", entries)
	}
}

func TestManager_RemoveDropsQueueAndAlias(t *testing.T) {
	m := newTestManager()
	m.Create("run1", "sess1")
	m.Append("run1", "pending", "chat")

	m.Remove("run1")

	if m.Append("run1", "late", "chat") {
		t.Error("Append after Remove should fail")
	}
	if m.AppendBySession("sess1", "late", "chat") {
		t.Error("Session alias should be gone after Remove")
	}
	if _, ok := m.RunForSession("sess1"); ok {
		t.Error("RunForSession should report no active run")
	}
}

func TestSanitize_TruncatesOversized(t *testing.T) {
	long := strings.Repeat("x", 500)
	got := sanitize(long, 100)
	if len(got) > 100+len("\n[truncated]") {
		t.Errorf("Sanitized length %d exceeds cap", len(got))
	}
	if !strings.HasSuffix(got, "[truncated]") {
		t.Errorf("Expected truncation marker, got %q", got[len(got)-20:])
	}
}

func TestSanitize_SummarizesPastedBlocks(t *testing.T) {
	block := "```\n" + strings.Repeat("data ", 400) + "\n```"
	got := sanitize("look at this: "+block, 8192)
	if strings.Contains(got, "data data data") {
		t.Error("Large pasted block should have been elided")
	}
	if !strings.Contains(got, "elided") {
		t.Errorf("Expected elision marker, got %q", got)
	}
}

func TestSanitize_StripsControlCharacters(t *testing.T) {
	got := sanitize("he\x00llo\x1b[31m world\n", 100)
	if strings.ContainsRune(got, 0) || strings.ContainsRune(got, 0x1b) {
		t.Errorf("Control characters survived: %q", got)
	}
}

func TestHasStopIntent(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"please stop what you're doing", true},
		{"cancel the deployment task", true},
		{"ABORT", true},
		{"halt immediately", true},
		{"terminate the run", true},
		{"never mind, that's enough", true},
		{"end this task now", true},
		{"also update the unstoppable tests", false},
		{"the bus stops here are unrelated", false},
		{"keep going, looks great", false},
	}

	for _, tc := range cases {
		if got := HasStopIntent(tc.text); got != tc.want {
			t.Errorf("HasStopIntent(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestBuildInstructionBlock(t *testing.T) {
	if got := BuildInstructionBlock(nil); got != "" {
		t.Errorf("Empty drain should build empty block, got %q", got)
	}

	entries := []types.LivePromptEntry{
		{Content: "use Go 1.24"},
		{Content: "skip the docs"},
	}
	got := BuildInstructionBlock(entries)
	if !strings.Contains(got, "use Go 1.24") || !strings.Contains(got, "skip the docs") {
		t.Errorf("Block missing entries: %q", got)
	}
	if strings.Index(got, "use Go 1.24") > strings.Index(got, "skip the docs") {
		t.Error("Entries out of order in instruction block")
	}
}
