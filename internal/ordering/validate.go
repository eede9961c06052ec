package ordering

import (
	"context"
	"sort"
)

// Report is the result of an ordering diagnostic over one session.
type Report struct {
	SessionID string `json:"sessionID"`
	Messages  int    `json:"messages"`

	// ZeroIndices lists message IDs with no assigned index.
	ZeroIndices []string `json:"zeroIndices,omitempty"`
	// Duplicates maps an index held by more than one message to those
	// message IDs.
	Duplicates map[int64][]string `json:"duplicates,omitempty"`
	// Gaps lists indices absent from the otherwise covered 1..max range.
	Gaps []int64 `json:"gaps,omitempty"`
}

// OK reports whether the session's ordering is dense and conflict-free.
func (r *Report) OK() bool {
	return len(r.ZeroIndices) == 0 && len(r.Duplicates) == 0 && len(r.Gaps) == 0
}

// Validate inspects the session's messages for null indices, duplicate
// indices, and gaps. It never mutates state.
func (a *Allocator) Validate(ctx context.Context, sessionID string) (*Report, error) {
	if !a.storage.Exists(ctx, sessionPath(sessionID)) {
		return nil, ErrSessionNotFound
	}

	messages, err := a.loadMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		SessionID: sessionID,
		Messages:  len(messages),
	}

	seen := make(map[int64][]string)
	var max int64
	for _, msg := range messages {
		if msg.OrderingIndex == 0 {
			report.ZeroIndices = append(report.ZeroIndices, msg.ID)
			continue
		}
		seen[msg.OrderingIndex] = append(seen[msg.OrderingIndex], msg.ID)
		if msg.OrderingIndex > max {
			max = msg.OrderingIndex
		}
	}

	for idx, ids := range seen {
		if len(ids) > 1 {
			if report.Duplicates == nil {
				report.Duplicates = make(map[int64][]string)
			}
			sort.Strings(ids)
			report.Duplicates[idx] = ids
		}
	}

	for idx := int64(1); idx <= max; idx++ {
		if _, ok := seen[idx]; !ok {
			report.Gaps = append(report.Gaps, idx)
		}
	}

	sort.Strings(report.ZeroIndices)
	return report, nil
}
