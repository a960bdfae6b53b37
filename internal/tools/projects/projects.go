// Package projects implements the project tools backed by the task API client.
package projects

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taskwise/taskwise/internal/agent"
	"github.com/taskwise/taskwise/internal/todoist"
)

func toolError(msg string) *agent.ToolResult {
	return &agent.ToolResult{Content: msg, IsError: true}
}

func mustSchema(schema map[string]interface{}) json.RawMessage {
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// CreateTool creates projects.
type CreateTool struct {
	client *todoist.Client
}

// NewCreateTool returns the createProject tool.
func NewCreateTool(client *todoist.Client) *CreateTool {
	return &CreateTool{client: client}
}

func (t *CreateTool) Name() string { return "createProject" }

func (t *CreateTool) Description() string {
	return "Create a new project for grouping tasks."
}

func (t *CreateTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{
				"type":        "string",
				"description": "The project name.",
			},
		},
		"required": []string{"name"},
	})
}

func (t *CreateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Name) == "" {
		return toolError("name is required"), nil
	}

	project, err := t.client.CreateProject(ctx, input.Name)
	if err != nil {
		return toolError(err.Error()), nil
	}
	raw, err := json.Marshal(project)
	if err != nil {
		return toolError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(raw)}, nil
}

// ListTool lists projects. Its output is how the model learns project ids for
// the task tools.
type ListTool struct {
	client *todoist.Client
}

// NewListTool returns the listProjects tool.
func NewListTool(client *todoist.Client) *ListTool {
	return &ListTool{client: client}
}

func (t *ListTool) Name() string { return "listProjects" }

func (t *ListTool) Description() string {
	return "List all projects with their ids."
}

func (t *ListTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	})
}

func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	projects, err := t.client.ListProjects(ctx)
	if err != nil {
		return toolError(err.Error()), nil
	}
	if projects == nil {
		projects = []todoist.Project{}
	}
	raw, err := json.Marshal(projects)
	if err != nil {
		return toolError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(raw)}, nil
}
