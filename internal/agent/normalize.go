package agent

import (
	"context"

	"github.com/taskwise/taskwise/internal/observability"
	"github.com/taskwise/taskwise/pkg/models"
)

// Normalizer converts persisted conversation history, which may be malformed
// (missing roles, orphaned tool calls or results recorded asynchronously),
// into an ordered sequence of model-ready messages.
//
// Normalization never fails the turn: unclassifiable turns are skipped with a
// warning, and callers fall back to Fallback on any larger failure.
type Normalizer struct {
	logger *observability.Logger
}

// NewNormalizer creates a normalizer. A nil logger is replaced with a no-op.
func NewNormalizer(logger *observability.Logger) *Normalizer {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Normalizer{logger: logger}
}

// Normalize builds model input from history plus the live user message.
//
// Tool-call/tool-result pairing: an assistant turn's tool call is kept only
// when a matching tool result exists in a later turn; unmatched calls are
// context holes and are dropped rather than sent to the model malformed.
// Orphaned results (no prior matching call) are dropped the same way.
func (n *Normalizer) Normalize(ctx context.Context, history []*models.Message, live *models.Message) []CompletionMessage {
	resolved := resolvedToolCallIDs(history)

	out := make([]CompletionMessage, 0, len(history)+1)
	pending := make(map[string]struct{})

	for _, msg := range history {
		if msg == nil {
			continue
		}

		switch msg.Role {
		case models.RoleUser:
			if msg.Content == "" {
				n.logger.Warn(ctx, "skipping empty user turn during normalization", "message_id", msg.ID)
				continue
			}
			out = append(out, CompletionMessage{Role: "user", Content: msg.Content})

		case models.RoleAssistant:
			// A new assistant turn supersedes any still-pending calls.
			clear(pending)
			kept := make([]models.ToolCall, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				if call.ID == "" {
					continue
				}
				if _, ok := resolved[call.ID]; !ok {
					n.logger.Warn(ctx, "dropping tool call with no matching result",
						"tool_call_id", call.ID, "tool_name", call.Name)
					continue
				}
				pending[call.ID] = struct{}{}
				kept = append(kept, call)
			}
			if msg.Content == "" && len(kept) == 0 {
				continue
			}
			out = append(out, CompletionMessage{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: kept,
			})

		case models.RoleTool:
			matched := make([]models.ToolResult, 0, len(msg.ToolResults))
			for _, result := range msg.ToolResults {
				if _, ok := pending[result.ToolCallID]; !ok {
					n.logger.Warn(ctx, "dropping orphaned tool result",
						"tool_call_id", result.ToolCallID, "tool_name", result.ToolName)
					continue
				}
				delete(pending, result.ToolCallID)
				matched = append(matched, result)
			}
			if len(matched) == 0 {
				continue
			}
			out = append(out, CompletionMessage{Role: "tool", ToolResults: matched})

		case models.RoleSystem:
			// System context is carried on the request, not in history.
			continue

		default:
			n.logger.Warn(ctx, "skipping turn with unclassifiable role",
				"message_id", msg.ID, "role", string(msg.Role))
		}
	}

	if live != nil {
		out = append(out, CompletionMessage{Role: "user", Content: live.Content})
	}
	return out
}

// Fallback returns the minimal single-message context containing only the
// live user message. Used when history normalization or the model's own
// request validation fails: a malformed history must never abort the turn.
func (n *Normalizer) Fallback(live *models.Message) []CompletionMessage {
	if live == nil {
		return nil
	}
	return []CompletionMessage{{Role: "user", Content: live.Content}}
}

// resolvedToolCallIDs indexes every tool-call ID that has a result recorded
// at a later position in the history.
func resolvedToolCallIDs(history []*models.Message) map[string]struct{} {
	callSeenAt := make(map[string]int)
	resolved := make(map[string]struct{})

	for i, msg := range history {
		if msg == nil {
			continue
		}
		for _, call := range msg.ToolCalls {
			if call.ID != "" {
				callSeenAt[call.ID] = i
			}
		}
		for _, result := range msg.ToolResults {
			if pos, ok := callSeenAt[result.ToolCallID]; ok && pos < i {
				resolved[result.ToolCallID] = struct{}{}
			}
		}
	}
	return resolved
}
