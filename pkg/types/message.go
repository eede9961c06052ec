package types

import "encoding/json"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message represents one persisted entry in a conversation. OrderingIndex is
// unique within the session, assigned exactly once by the ordering allocator,
// and immutable afterwards (except for the post-compaction Reorder pass).
type Message struct {
	ID            string      `json:"id"`
	SessionID     string      `json:"sessionID"`
	Role          Role        `json:"role"`
	Parts         []Part      `json:"parts"`
	OrderingIndex int64       `json:"orderingIndex"`
	Time          MessageTime `json:"time"`
}

// MessageTime contains timestamps for a message (unix millis).
type MessageTime struct {
	Created int64  `json:"created"`
	Updated *int64 `json:"updated,omitempty"`
}

// UnmarshalJSON decodes the part list through the tagged-union decoder so
// that callers always see concrete part types.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	aux := struct {
		*alias
		Parts []json.RawMessage `json:"parts"`
	}{alias: (*alias)(m)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	m.Parts = make([]Part, 0, len(aux.Parts))
	for _, raw := range aux.Parts {
		part, err := UnmarshalPart(raw)
		if err != nil {
			return err
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}
