package types

// TaskEventType is the lifecycle phase carried by a task event.
type TaskEventType string

const (
	TaskStarted   TaskEventType = "started"
	TaskProgress  TaskEventType = "progress"
	TaskCompleted TaskEventType = "completed"
)

// TaskEvent is a lifecycle notification for an asynchronously running unit
// of work. Events are ephemeral: they live on the bus only and are never
// persisted; UI-side task lists are derived, rebuildable state.
type TaskEvent struct {
	Type          TaskEventType `json:"type"`
	TaskID        string        `json:"taskID"`
	RunID         string        `json:"runID,omitempty"`
	UserID        string        `json:"userID,omitempty"`
	Status        string        `json:"status,omitempty"`
	Timestamp     int64         `json:"timestamp"`
	Error         string        `json:"error,omitempty"`
	ResultSummary string        `json:"resultSummary,omitempty"`
}

// Task is the registry's record of a unit of work currently (or recently)
// running: the durable-in-memory snapshot behind the bus's change feed.
type Task struct {
	ID        string `json:"id"`
	RunID     string `json:"runID,omitempty"`
	UserID    string `json:"userID,omitempty"`
	Kind      string `json:"kind,omitempty"` // "scheduled" | "channel" | "subagent"
	Status    string `json:"status"`
	Started   int64  `json:"started"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}
