package tasks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/taskwise/taskwise/internal/todoist"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *todoist.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return todoist.NewClient(todoist.Config{Token: "test-token", BaseURL: server.URL})
}

func TestValidTaskID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"6X7rM8997g3RQmvh", true},
		{"abc123def456", true},
		{"task_id-01234567", true},
		{"call the dentist", false},
		{"short", false},
		{"", false},
		{"has spaces here!", false},
	}
	for _, tt := range tests {
		if got := validTaskID(tt.id); got != tt.want {
			t.Errorf("validTaskID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestCreateTool_PassesThroughDueString(t *testing.T) {
	var gotDue string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req todoist.CreateTaskRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotDue = req.DueString
		json.NewEncoder(w).Encode(todoist.Task{ID: "abc123def456", Content: req.Content})
	})
	tool := NewCreateTool(client)

	result, err := tool.Execute(context.Background(), json.RawMessage(
		`{"content":"call the dentist","due_string":"tomorrow at 2pm"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if gotDue != "tomorrow at 2pm" {
		t.Errorf("due_string = %q, want verbatim passthrough", gotDue)
	}
	var task todoist.Task
	if err := json.Unmarshal([]byte(result.Content), &task); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if task.ID != "abc123def456" {
		t.Errorf("task id = %q", task.ID)
	}
}

func TestCreateTool_RequiresContent(t *testing.T) {
	tool := NewCreateTool(newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the API")
	}))
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"content":"  "}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for empty content")
	}
}

func TestUpdateTool_RejectsHumanReadableID(t *testing.T) {
	dispatched := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		dispatched = true
	})
	tool := NewUpdateTool(client)

	result, err := tool.Execute(context.Background(), json.RawMessage(
		`{"task_id":"call the dentist","content":"reschedule"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for human-readable id")
	}
	if !strings.Contains(result.Content, "not a valid task id") {
		t.Errorf("error = %q", result.Content)
	}
	if dispatched {
		t.Error("invalid id reached the external API")
	}
}

func TestCompleteTool(t *testing.T) {
	var path string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})
	tool := NewCompleteTool(client)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"task_id":"abc123def456"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content)
	}
	if path != "/tasks/abc123def456/close" {
		t.Errorf("path = %q", path)
	}
}

func TestListTool_APIErrorBecomesErrorResult(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	tool := NewListTool(client)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute should not return an error: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "rate limit") {
		t.Errorf("result = %+v", result)
	}
}

func TestListTool_EmptyListEncodesAsArray(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]todoist.Task{})
	})
	tool := NewListTool(client)

	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Content != "[]" {
		t.Errorf("content = %q, want []", result.Content)
	}
}
