package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/taskwise/taskwise/pkg/models"
)

func TestNormalize_PairsCallsWithLaterResults(t *testing.T) {
	n := NewNormalizer(nil)
	history := []*models.Message{
		{Role: models.RoleUser, Content: "add milk to my list"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "tc-1", Name: "createTask", Input: json.RawMessage(`{"content":"buy milk"}`)},
		}},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{
			{ToolCallID: "tc-1", ToolName: "createTask", Content: `{"id":"abc123"}`},
		}},
		{Role: models.RoleAssistant, Content: "Done, I added it."},
	}

	out := n.Normalize(context.Background(), history, nil)
	if len(out) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(out))
	}
	if len(out[1].ToolCalls) != 1 || out[1].ToolCalls[0].ID != "tc-1" {
		t.Errorf("expected matched tool call preserved, got %+v", out[1].ToolCalls)
	}
	if len(out[2].ToolResults) != 1 {
		t.Errorf("expected matched tool result preserved, got %+v", out[2].ToolResults)
	}
}

func TestNormalize_DropsUnmatchedToolCalls(t *testing.T) {
	n := NewNormalizer(nil)
	history := []*models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "checking", ToolCalls: []models.ToolCall{
			{ID: "tc-orphan", Name: "listTasks"},
		}},
	}

	out := n.Normalize(context.Background(), history, nil)
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if len(out[1].ToolCalls) != 0 {
		t.Errorf("expected orphaned tool call to be dropped, got %+v", out[1].ToolCalls)
	}
}

func TestNormalize_DropsOrphanedToolResults(t *testing.T) {
	n := NewNormalizer(nil)
	history := []*models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleTool, ToolResults: []models.ToolResult{
			{ToolCallID: "tc-unknown", Content: "stale"},
		}},
	}

	out := n.Normalize(context.Background(), history, nil)
	if len(out) != 1 {
		t.Fatalf("expected orphaned result turn to vanish, got %d messages", len(out))
	}
	if out[0].Role != "user" {
		t.Errorf("expected only the user turn, got role %q", out[0].Role)
	}
}

func TestNormalize_SkipsMalformedTurns(t *testing.T) {
	n := NewNormalizer(nil)
	history := []*models.Message{
		{Role: models.RoleUser, Content: "hello"},
		nil,
		{Role: models.Role("banana"), Content: "???"},
		{Role: models.RoleUser, Content: ""},
	}

	out := n.Normalize(context.Background(), history, nil)
	if len(out) != 1 {
		t.Fatalf("expected malformed turns to be skipped, got %d messages", len(out))
	}
}

func TestNormalize_AppendsLiveMessage(t *testing.T) {
	n := NewNormalizer(nil)
	live := &models.Message{Role: models.RoleUser, Content: "what's on my list?"}

	out := n.Normalize(context.Background(), nil, live)
	if len(out) != 1 || out[0].Content != "what's on my list?" {
		t.Fatalf("expected just the live message, got %+v", out)
	}
}

func TestFallback_SingleMessageContext(t *testing.T) {
	n := NewNormalizer(nil)
	live := &models.Message{Role: models.RoleUser, Content: "retry me"}

	out := n.Fallback(live)
	if len(out) != 1 {
		t.Fatalf("expected single-element fallback, got %d", len(out))
	}
	if out[0].Role != "user" || out[0].Content != "retry me" {
		t.Errorf("unexpected fallback message: %+v", out[0])
	}

	if got := n.Fallback(nil); got != nil {
		t.Errorf("expected nil fallback for nil message, got %+v", got)
	}
}
