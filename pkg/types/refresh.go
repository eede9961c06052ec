package types

// RefreshMode selects how much of the session view is re-synced.
type RefreshMode string

const (
	RefreshIncremental RefreshMode = "incremental"
	RefreshFull        RefreshMode = "full"
)

// RefreshRequest asks the refresh coordinator to re-sync the UI for a
// session. Requests are ephemeral and are merged before being turned into
// an applyRefresh call.
type RefreshRequest struct {
	SessionID string      `json:"sessionID"`
	Mode      RefreshMode `json:"mode"`
	Reason    string      `json:"reason,omitempty"` // "progress" | "run-started" | "run-completed" | "visibility" | "poll"
	RunID     string      `json:"runID,omitempty"`
	// EventTimestamp orders progress events per run so a late-arriving
	// duplicate cannot regress state. Unix millis; zero means unordered.
	EventTimestamp int64 `json:"eventTimestamp,omitempty"`
	Immediate      bool  `json:"immediate,omitempty"`
}
