// Package todoist implements a minimal REST client for a Todoist-style task
// API: task and project CRUD with bearer-token auth.
package todoist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.todoist.com/rest/v2"

// ErrNotConnected is returned when no API token is configured for the user.
var ErrNotConnected = errors.New("todoist account not connected")

// Task is one task as returned by the API.
type Task struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	Description string `json:"description,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	IsCompleted bool   `json:"is_completed,omitempty"`
	Due         *Due   `json:"due,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Due carries a task's due date in the API's natural-language form plus the
// resolved date.
type Due struct {
	String   string `json:"string,omitempty"`
	Date     string `json:"date,omitempty"`
	Datetime string `json:"datetime,omitempty"`
}

// Project is one project as returned by the API.
type Project struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Color      string `json:"color,omitempty"`
	IsFavorite bool   `json:"is_favorite,omitempty"`
}

// CreateTaskRequest is the payload for task creation and update.
type CreateTaskRequest struct {
	Content     string `json:"content,omitempty"`
	Description string `json:"description,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	DueString   string `json:"due_string,omitempty"`
	Priority    int    `json:"priority,omitempty"`
}

// Config configures a Client.
type Config struct {
	// Token is the user's API token. Empty means not connected.
	Token string

	// BaseURL overrides the API endpoint, for tests.
	BaseURL string

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Client talks to the task API. Safe for concurrent use.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewClient creates a client with the given configuration.
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		token:   config.Token,
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		http:    config.HTTPClient,
	}
}

// Connected reports whether an API token is configured.
func (c *Client) Connected() bool {
	return c.token != ""
}

// CreateTask creates a task. The due string is passed through verbatim so the
// API's natural-language date parsing applies.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodPost, "/tasks", req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTask updates the fields set in req on the given task.
func (c *Client) UpdateTask(ctx context.Context, taskID string, req CreateTaskRequest) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodPost, "/tasks/"+taskID, req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask fetches one task by id.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+taskID, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CloseTask marks a task complete.
func (c *Client) CloseTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodPost, "/tasks/"+taskID+"/close", nil, nil)
}

// DeleteTask removes a task permanently.
func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, "/tasks/"+taskID, nil, nil)
}

// ListTasks returns active tasks, optionally narrowed by a filter expression
// (e.g. "today", "overdue") or project id.
func (c *Client) ListTasks(ctx context.Context, filter, projectID string) ([]Task, error) {
	query := url.Values{}
	if filter != "" {
		query.Set("filter", filter)
	}
	if projectID != "" {
		query.Set("project_id", projectID)
	}
	path := "/tasks"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var tasks []Task
	if err := c.do(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, name string) (*Project, error) {
	var project Project
	payload := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPost, "/projects", payload, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// ListProjects returns all projects.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.do(ctx, http.MethodGet, "/projects", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.token == "" {
		return ErrNotConnected
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("todoist request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// apiError shapes HTTP failures so callers matching on status markers (401,
// 429, 5xx) classify them correctly.
func apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(raw))
	if detail == "" {
		detail = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("todoist: unauthorized (%d): %s", resp.StatusCode, detail)
	case http.StatusTooManyRequests:
		return fmt.Errorf("todoist: rate limit exceeded (429): %s", detail)
	default:
		return fmt.Errorf("todoist: request failed (%d): %s", resp.StatusCode, detail)
	}
}
