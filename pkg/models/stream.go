package models

import (
	"encoding/json"
	"time"
)

// StreamEventType identifies the kind of a stream event.
type StreamEventType string

const (
	// StreamEventStart is always the order-0 event of a stream and is the
	// sole carrier of session context, copied forward onto later events.
	StreamEventStart StreamEventType = "stream-start"

	// StreamEventTextDelta carries an incremental fragment of assistant text.
	StreamEventTextDelta StreamEventType = "text-delta"

	// StreamEventToolCall records a proposed tool invocation.
	StreamEventToolCall StreamEventType = "tool-call"

	// StreamEventToolResult records the outcome of a tool invocation.
	StreamEventToolResult StreamEventType = "tool-result"

	// StreamEventFinish terminates a stream successfully.
	StreamEventFinish StreamEventType = "stream-finish"

	// StreamEventError terminates a stream with an error.
	StreamEventError StreamEventType = "stream-error"
)

// IsTerminal reports whether the event type closes a stream.
func (t StreamEventType) IsTerminal() bool {
	return t == StreamEventFinish || t == StreamEventError
}

// StreamEvent is one entry in the append-only per-stream event log. Order is
// a dense, strictly increasing integer starting at 0 per StreamID, never
// reused and never mutated in place.
type StreamEvent struct {
	StreamID    string          `json:"stream_id"`
	Order       int             `json:"order"`
	Type        StreamEventType `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	UserMessage string          `json:"user_message,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// StreamStatus describes the derived lifecycle state of a stream.
type StreamStatus string

const (
	StreamStatusStreaming StreamStatus = "streaming"
	StreamStatusComplete  StreamStatus = "complete"
	StreamStatusError     StreamStatus = "error"
)

// StreamState is derived from the event log, never stored. A stream is
// complete once exactly one terminal event exists for it.
type StreamState struct {
	StreamID    string       `json:"stream_id"`
	SessionID   string       `json:"session_id,omitempty"`
	Status      StreamStatus `json:"status"`
	IsComplete  bool         `json:"is_complete"`
	TotalEvents int          `json:"total_events"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// TextDeltaPayload is the payload of a text-delta event.
type TextDeltaPayload struct {
	Text string `json:"text"`
}

// ToolCallPayload is the payload of a tool-call event.
type ToolCallPayload struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Input      json.RawMessage `json:"input,omitempty"`
}

// ToolResultPayload is the payload of a tool-result event.
type ToolResultPayload struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// FinishPayload is the payload of a stream-finish event. FinalContent must
// equal the concatenation of all text-delta payloads in order.
type FinishPayload struct {
	FinalContent string `json:"final_content"`
	StepCount    int    `json:"step_count,omitempty"`
}

// ErrorPayload is the payload of a stream-error event.
type ErrorPayload struct {
	Message string `json:"message"`
}

// LegacyStreamDocument is the older single-document streaming representation:
// one mutable record per stream, patched in place as the response is produced.
// It coexists with the event log during migration and must remain
// derivable-equivalent to what the event log reconstructs for the same stream.
type LegacyStreamDocument struct {
	StreamID    string         `json:"stream_id"`
	SessionID   string         `json:"session_id,omitempty"`
	UserMessage string         `json:"user_message,omitempty"`
	Content     string         `json:"content"`
	ToolLedger  []ToolResult   `json:"tool_ledger,omitempty"`
	Status      StreamStatus   `json:"status"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
