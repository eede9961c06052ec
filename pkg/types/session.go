// Package types provides the core data types for the convoy coordination layer.
package types

// SessionStatus describes the lifecycle state of a session.
type SessionStatus string

const (
	SessionIdle       SessionStatus = "idle"
	SessionRunning    SessionStatus = "running"
	SessionCompacting SessionStatus = "compacting"
)

// Session represents a single conversation. LastOrderingIndex is the
// per-session monotonic counter; it is only ever advanced through the
// ordering allocator's atomic read-modify-write, never by hand.
type Session struct {
	ID                string        `json:"id"`
	Title             string        `json:"title"`
	Status            SessionStatus `json:"status"`
	LastOrderingIndex int64         `json:"lastOrderingIndex"`
	Time              SessionTime   `json:"time"`
}

// SessionTime contains timestamps for a session (unix millis).
type SessionTime struct {
	Created    int64  `json:"created"`
	Updated    int64  `json:"updated"`
	Compacting *int64 `json:"compacting,omitempty"`
}
