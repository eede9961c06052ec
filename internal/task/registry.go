package task

import (
	"sort"
	"sync"
	"time"

	"github.com/convoy-ai/convoy/internal/cache"
	"github.com/convoy-ai/convoy/pkg/types"
)

// recentTTL bounds how long a completed task stays available for toast
// consumption; the ring's size bound usually kicks in first.
const recentTTL = 30 * time.Minute

// Registry tracks which tasks are currently running so a late subscriber
// can reconstruct "what's running now" instead of only seeing events from
// the moment it subscribed. There is no referential integrity with the
// bus: emitting for an unregistered task succeeds.
type Registry struct {
	mu     sync.Mutex
	bus    *Bus
	active map[string]*types.Task
	recent *cache.Cache[types.Task]
}

// NewRegistry creates a Registry publishing through bus. recentSize bounds
// the recently-completed ring.
func NewRegistry(bus *Bus, recentSize int) *Registry {
	if recentSize <= 0 {
		recentSize = types.DefaultConfig().Tasks.RecentlyCompleted
	}
	return &Registry{
		bus:    bus,
		active: make(map[string]*types.Task),
		recent: cache.New[types.Task](recentTTL, recentSize),
	}
}

// Register adds a task to the active set and emits its started event.
func (r *Registry) Register(task types.Task) {
	if task.Started == 0 {
		task.Started = time.Now().UnixMilli()
	}
	if task.Status == "" {
		task.Status = "running"
	}

	r.mu.Lock()
	r.active[task.ID] = &task
	r.mu.Unlock()

	r.bus.EmitStarted(&task)
}

// UpdateStatus records progress for a task and emits a progress event.
// Unknown task IDs still emit; events may race ahead of registration.
func (r *Registry) UpdateStatus(taskID, status string) {
	var runID, userID string

	r.mu.Lock()
	if t, ok := r.active[taskID]; ok {
		t.Status = status
		runID = t.RunID
		userID = t.UserID
	}
	r.mu.Unlock()

	r.bus.EmitProgress(taskID, runID, userID, status)
}

// Complete removes the task from the active set, pushes it onto the
// recently-completed ring, and emits a completed event. Completing an
// unknown task still emits.
func (r *Registry) Complete(taskID, errMsg, resultSummary string) {
	var runID, userID string

	r.mu.Lock()
	if t, ok := r.active[taskID]; ok {
		delete(r.active, taskID)
		t.Completed = time.Now().UnixMilli()
		t.Error = errMsg
		if errMsg != "" {
			t.Status = "failed"
		} else {
			t.Status = "completed"
		}
		runID = t.RunID
		userID = t.UserID
		r.recent.Set(taskID, *t)
	}
	r.mu.Unlock()

	r.bus.EmitCompleted(taskID, runID, userID, errMsg, resultSummary)
}

// List returns the active tasks ordered by start time. When userID is
// non-empty only that user's tasks are returned.
func (r *Registry) List(userID string) []types.Task {
	r.mu.Lock()
	out := make([]types.Task, 0, len(r.active))
	for _, t := range r.active {
		if userID != "" && t.UserID != userID {
			continue
		}
		out = append(out, *t)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Started != out[j].Started {
			return out[i].Started < out[j].Started
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RecentlyCompleted returns the bounded ring of finished tasks, oldest
// first.
func (r *Registry) RecentlyCompleted() []types.Task {
	return r.recent.Values()
}
