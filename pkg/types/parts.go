package types

import (
	"encoding/json"
	"fmt"
)

// PartKind is the closed set of message part kinds. The kind is decided once
// at the deserialization boundary; call sites type-switch on the concrete
// part types instead of re-inspecting type strings.
type PartKind string

const (
	PartText        PartKind = "text"
	PartToolCall    PartKind = "tool-call"
	PartToolResult  PartKind = "tool-result"
	PartDynamicTool PartKind = "dynamic-tool"
)

// Part represents a component of a message.
type Part interface {
	Kind() PartKind
	PartID() string
}

// TextPart represents plain text content.
type TextPart struct {
	ID   string `json:"id"`
	Type string `json:"type"` // always "text"
	Text string `json:"text"`
}

func (p *TextPart) Kind() PartKind { return PartText }
func (p *TextPart) PartID() string { return p.ID }

// ToolState describes the result state carried on a tool invocation part.
type ToolState string

const (
	ToolPending         ToolState = "pending"
	ToolOutputAvailable ToolState = "output-available"
	ToolOutputError     ToolState = "output-error"
)

// ToolCallPart represents a model-issued tool invocation. Output and Error
// are populated either by the run itself or spliced in by the reconciler
// from the server's canonical result store.
type ToolCallPart struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"` // always "tool-call"
	ToolCallID string         `json:"toolCallID"`
	ToolName   string         `json:"toolName"`
	Input      map[string]any `json:"input,omitempty"`
	State      ToolState      `json:"state"`
	Output     *string        `json:"output,omitempty"`
	Error      *string        `json:"error,omitempty"`
}

func (p *ToolCallPart) Kind() PartKind { return PartToolCall }
func (p *ToolCallPart) PartID() string { return p.ID }

// DynamicToolPart is a tool invocation whose tool was not known at build
// time (e.g. a plugin-provided tool). It carries the same state and output
// fields as ToolCallPart and the reconciler treats the two identically.
type DynamicToolPart struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"` // always "dynamic-tool"
	ToolCallID string         `json:"toolCallID"`
	ToolName   string         `json:"toolName"`
	Input      map[string]any `json:"input,omitempty"`
	State      ToolState      `json:"state"`
	Output     *string        `json:"output,omitempty"`
	Error      *string        `json:"error,omitempty"`
}

func (p *DynamicToolPart) Kind() PartKind { return PartDynamicTool }
func (p *DynamicToolPart) PartID() string { return p.ID }

// ToolResultPart carries the canonical result of a tool invocation.
// Synthetic marks results the reconciler persisted on the server's behalf
// from client-held output.
type ToolResultPart struct {
	ID         string `json:"id"`
	Type       string `json:"type"` // always "tool-result"
	ToolCallID string `json:"toolCallID"`
	Status     string `json:"status"` // "success" | "error" | "failed"
	Output     string `json:"output,omitempty"`
	Synthetic  bool   `json:"syntheticToolResult,omitempty"`
}

func (p *ToolResultPart) Kind() PartKind { return PartToolResult }
func (p *ToolResultPart) PartID() string { return p.ID }

// ToolResult is the server-side canonical record of a tool execution,
// keyed by toolCallID in the result store.
type ToolResult struct {
	ToolCallID string `json:"toolCallID"`
	Status     string `json:"status"` // "success" | "error" | "failed"
	Output     string `json:"output,omitempty"`
	Created    int64  `json:"created"`
}

// IsError reports whether the result represents a failed execution.
func (r *ToolResult) IsError() bool {
	return r.Status == "error" || r.Status == "failed"
}

type rawPart struct {
	Type string `json:"type"`
}

// UnmarshalPart unmarshals a JSON part into its concrete type. Unknown type
// strings are an error; the part kinds form a closed set.
func UnmarshalPart(data []byte) (Part, error) {
	var raw rawPart
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch PartKind(raw.Type) {
	case PartText:
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case PartToolCall:
		var p ToolCallPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case PartDynamicTool:
		var p DynamicToolPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case PartToolResult:
		var p ToolResultPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown part type %q", raw.Type)
	}
}
