package types

// LivePromptEntry is one piece of user input sent while a run was already
// executing. Content is sanitized and length-capped before it is stored.
type LivePromptEntry struct {
	ID      string `json:"id"`
	RunID   string `json:"runID"`
	Content string `json:"content"`
	Source  string `json:"source,omitempty"` // "chat" | "channel" | "api"
	Created int64  `json:"created"`
}
