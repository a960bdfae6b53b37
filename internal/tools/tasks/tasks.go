// Package tasks implements the task CRUD tools backed by the task API client.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/taskwise/taskwise/internal/agent"
	"github.com/taskwise/taskwise/internal/todoist"
)

// taskIDPattern matches the API's opaque task identifiers. Models sometimes
// hallucinate human-readable names where an id is expected; rejecting those
// here keeps them from reaching the external API as bogus lookups.
var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{8,64}$`)

// validTaskID reports whether s looks like an opaque task id.
func validTaskID(s string) bool {
	return taskIDPattern.MatchString(s)
}

func toolError(msg string) *agent.ToolResult {
	return &agent.ToolResult{Content: msg, IsError: true}
}

func marshalResult(v any) (*agent.ToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return toolError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(raw)}, nil
}

func mustSchema(schema map[string]interface{}) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// CreateTool creates tasks from natural-language content and due strings.
type CreateTool struct {
	client *todoist.Client
}

// NewCreateTool returns the createTask tool.
func NewCreateTool(client *todoist.Client) *CreateTool {
	return &CreateTool{client: client}
}

func (t *CreateTool) Name() string { return "createTask" }

func (t *CreateTool) Description() string {
	return "Create a new task. The due_string accepts natural language like 'tomorrow at 2pm'."
}

func (t *CreateTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The task text, e.g. 'call the dentist'.",
			},
			"description": map[string]interface{}{
				"type":        "string",
				"description": "Optional longer description.",
			},
			"due_string": map[string]interface{}{
				"type":        "string",
				"description": "Natural-language due date, passed through verbatim.",
			},
			"project_id": map[string]interface{}{
				"type":        "string",
				"description": "Optional project id to file the task under.",
			},
			"priority": map[string]interface{}{
				"type":        "integer",
				"description": "Priority 1 (normal) to 4 (urgent).",
				"minimum":     1,
				"maximum":     4,
			},
		},
		"required": []string{"content"},
	})
}

func (t *CreateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Content     string `json:"content"`
		Description string `json:"description"`
		DueString   string `json:"due_string"`
		ProjectID   string `json:"project_id"`
		Priority    int    `json:"priority"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Content) == "" {
		return toolError("content is required"), nil
	}
	if input.ProjectID != "" && !validTaskID(input.ProjectID) {
		return toolError(fmt.Sprintf("project_id %q is not a valid project id; use listProjects to find the id", input.ProjectID)), nil
	}

	task, err := t.client.CreateTask(ctx, todoist.CreateTaskRequest{
		Content:     input.Content,
		Description: input.Description,
		DueString:   input.DueString,
		ProjectID:   input.ProjectID,
		Priority:    input.Priority,
	})
	if err != nil {
		return toolError(err.Error()), nil
	}
	return marshalResult(task)
}

// UpdateTool updates fields on an existing task.
type UpdateTool struct {
	client *todoist.Client
}

// NewUpdateTool returns the updateTask tool.
func NewUpdateTool(client *todoist.Client) *UpdateTool {
	return &UpdateTool{client: client}
}

func (t *UpdateTool) Name() string { return "updateTask" }

func (t *UpdateTool) Description() string {
	return "Update an existing task's content, description, due date, or priority."
}

func (t *UpdateTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_id": map[string]interface{}{
				"type":        "string",
				"description": "The opaque task id, from a previous createTask or listTasks result.",
			},
			"content":     map[string]interface{}{"type": "string"},
			"description": map[string]interface{}{"type": "string"},
			"due_string":  map[string]interface{}{"type": "string"},
			"priority": map[string]interface{}{
				"type":    "integer",
				"minimum": 1,
				"maximum": 4,
			},
		},
		"required": []string{"task_id"},
	})
}

func (t *UpdateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		TaskID      string `json:"task_id"`
		Content     string `json:"content"`
		Description string `json:"description"`
		DueString   string `json:"due_string"`
		Priority    int    `json:"priority"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if !validTaskID(input.TaskID) {
		return toolError(fmt.Sprintf("task_id %q is not a valid task id; use listTasks to find the id", input.TaskID)), nil
	}

	task, err := t.client.UpdateTask(ctx, input.TaskID, todoist.CreateTaskRequest{
		Content:     input.Content,
		Description: input.Description,
		DueString:   input.DueString,
		Priority:    input.Priority,
	})
	if err != nil {
		return toolError(err.Error()), nil
	}
	return marshalResult(task)
}

// CompleteTool marks a task done.
type CompleteTool struct {
	client *todoist.Client
}

// NewCompleteTool returns the completeTask tool.
func NewCompleteTool(client *todoist.Client) *CompleteTool {
	return &CompleteTool{client: client}
}

func (t *CompleteTool) Name() string { return "completeTask" }

func (t *CompleteTool) Description() string {
	return "Mark a task as completed."
}

func (t *CompleteTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_id": map[string]interface{}{
				"type":        "string",
				"description": "The opaque task id.",
			},
		},
		"required": []string{"task_id"},
	})
}

func (t *CompleteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if !validTaskID(input.TaskID) {
		return toolError(fmt.Sprintf("task_id %q is not a valid task id; use listTasks to find the id", input.TaskID)), nil
	}
	if err := t.client.CloseTask(ctx, input.TaskID); err != nil {
		return toolError(err.Error()), nil
	}
	return marshalResult(map[string]any{"id": input.TaskID, "completed": true})
}

// DeleteTool removes a task permanently.
type DeleteTool struct {
	client *todoist.Client
}

// NewDeleteTool returns the deleteTask tool.
func NewDeleteTool(client *todoist.Client) *DeleteTool {
	return &DeleteTool{client: client}
}

func (t *DeleteTool) Name() string { return "deleteTask" }

func (t *DeleteTool) Description() string {
	return "Delete a task permanently."
}

func (t *DeleteTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task_id": map[string]interface{}{
				"type":        "string",
				"description": "The opaque task id.",
			},
		},
		"required": []string{"task_id"},
	})
}

func (t *DeleteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if !validTaskID(input.TaskID) {
		return toolError(fmt.Sprintf("task_id %q is not a valid task id; use listTasks to find the id", input.TaskID)), nil
	}
	if err := t.client.DeleteTask(ctx, input.TaskID); err != nil {
		return toolError(err.Error()), nil
	}
	return marshalResult(map[string]any{"id": input.TaskID, "deleted": true})
}

// ListTool lists active tasks.
type ListTool struct {
	client *todoist.Client
}

// NewListTool returns the listTasks tool.
func NewListTool(client *todoist.Client) *ListTool {
	return &ListTool{client: client}
}

func (t *ListTool) Name() string { return "listTasks" }

func (t *ListTool) Description() string {
	return "List active tasks, optionally narrowed by a filter like 'today' or 'overdue', or by project."
}

func (t *ListTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filter": map[string]interface{}{
				"type":        "string",
				"description": "Filter expression, e.g. 'today', 'overdue', 'next 7 days'.",
			},
			"project_id": map[string]interface{}{
				"type":        "string",
				"description": "Optional project id to scope the listing.",
			},
		},
	})
}

func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Filter    string `json:"filter"`
		ProjectID string `json:"project_id"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}
	if input.ProjectID != "" && !validTaskID(input.ProjectID) {
		return toolError(fmt.Sprintf("project_id %q is not a valid project id; use listProjects to find the id", input.ProjectID)), nil
	}

	tasks, err := t.client.ListTasks(ctx, input.Filter, input.ProjectID)
	if err != nil {
		return toolError(err.Error()), nil
	}
	if tasks == nil {
		tasks = []todoist.Task{}
	}
	return marshalResult(tasks)
}
