package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

// fakeTool is a minimal scripted tool for registry and executor tests.
type fakeTool struct {
	name    string
	schema  string
	execute func(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "test tool " + f.name }

func (f *fakeTool) Schema() json.RawMessage {
	if f.schema == "" {
		return nil
	}
	return json.RawMessage(f.schema)
}

func (f *fakeTool) Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
	if f.execute != nil {
		return f.execute(ctx, params)
	}
	return &ToolResult{Content: "ok"}, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewToolRegistry()
	if err := reg.Register(&fakeTool{name: "createTask"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, ok := reg.Get("createTask"); !ok {
		t.Error("expected to find registered tool")
	}
	if _, ok := reg.Get("missing"); ok {
		t.Error("did not expect to find unregistered tool")
	}
}

func TestRegistry_RejectsInvalidSchema(t *testing.T) {
	reg := NewToolRegistry()
	err := reg.Register(&fakeTool{name: "broken", schema: `{"type": 42}`})
	if err == nil {
		t.Fatal("expected schema compile error")
	}
	if _, ok := reg.Get("broken"); ok {
		t.Error("tool with invalid schema must not be registered")
	}
}

func TestRegistry_ValidatesInputAgainstSchema(t *testing.T) {
	reg := NewToolRegistry()
	schema := `{
		"type": "object",
		"properties": {"content": {"type": "string"}},
		"required": ["content"]
	}`
	if err := reg.Register(&fakeTool{name: "createTask", schema: schema}); err != nil {
		t.Fatal(err)
	}

	if err := reg.ValidateInput("createTask", json.RawMessage(`{"content":"buy milk"}`)); err != nil {
		t.Errorf("valid input rejected: %v", err)
	}
	if err := reg.ValidateInput("createTask", json.RawMessage(`{}`)); err == nil {
		t.Error("expected missing required field to fail validation")
	}
}

func TestRegistry_ExecuteUnknownToolReturnsErrorResult(t *testing.T) {
	reg := NewToolRegistry()

	result, err := reg.Execute(context.Background(), "ghost", nil)
	if err != nil {
		t.Fatalf("Execute must not error for unknown tools: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "tool not found") {
		t.Errorf("expected not-found error result, got %+v", result)
	}
}

func TestRegistry_ExecuteValidatesBeforeDispatch(t *testing.T) {
	reg := NewToolRegistry()
	dispatched := false
	schema := `{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`
	reg.MustRegister(&fakeTool{
		name:   "completeTask",
		schema: schema,
		execute: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			dispatched = true
			return &ToolResult{Content: "done"}, nil
		},
	})

	result, err := reg.Execute(context.Background(), "completeTask", json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected validation failure result")
	}
	if dispatched {
		t.Error("tool must not be dispatched on invalid input")
	}
}

func TestRegistry_Names(t *testing.T) {
	reg := NewToolRegistry()
	reg.MustRegister(&fakeTool{name: "a"})
	reg.MustRegister(&fakeTool{name: "b"})

	if got := len(reg.Names()); got != 2 {
		t.Errorf("expected 2 names, got %d", got)
	}
	if got := len(reg.AsLLMTools()); got != 2 {
		t.Errorf("expected 2 tools, got %d", got)
	}
}
