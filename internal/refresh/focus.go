package refresh

import "sync/atomic"

// FocusTracker remembers which session the connected UI currently displays.
// Its Get method satisfies ActiveSessionFunc.
type FocusTracker struct {
	v atomic.Value
}

// NewFocusTracker creates a tracker with no focused session.
func NewFocusTracker() *FocusTracker {
	t := &FocusTracker{}
	t.v.Store("")
	return t
}

// Set records the focused session.
func (t *FocusTracker) Set(sessionID string) {
	t.v.Store(sessionID)
}

// Get returns the focused session, or "" when none is.
func (t *FocusTracker) Get() string {
	s, _ := t.v.Load().(string)
	return s
}
