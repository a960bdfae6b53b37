// Package calendar implements the calendar event tools backed by the
// calendar API client.
package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/taskwise/taskwise/internal/agent"
	"github.com/taskwise/taskwise/internal/gcal"
)

// eventIDPattern matches the API's opaque event identifiers.
var eventIDPattern = regexp.MustCompile(`^[a-z0-9_-]{5,128}$`)

func validEventID(s string) bool {
	return eventIDPattern.MatchString(s)
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

// eventTime builds an EventTime from either an all-day date or a dateTime.
// Strings pass through verbatim; the API validates the format.
func eventTime(date, dateTime, timeZone string) *gcal.EventTime {
	if date == "" && dateTime == "" {
		return nil
	}
	return &gcal.EventTime{Date: date, DateTime: dateTime, TimeZone: timeZone}
}

// CreateTool creates calendar events.
type CreateTool struct {
	client *gcal.Client
}

// NewCreateTool returns the createEvent tool.
func NewCreateTool(client *gcal.Client) *CreateTool {
	return &CreateTool{client: client}
}

func (t *CreateTool) Name() string { return "createEvent" }

func (t *CreateTool) Description() string {
	return "Create a calendar event. Times are RFC 3339 date-times, or plain dates for all-day events."
}

func (t *CreateTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"summary": map[string]interface{}{
				"type":        "string",
				"description": "The event title.",
			},
			"description": map[string]interface{}{"type": "string"},
			"location":    map[string]interface{}{"type": "string"},
			"start": map[string]interface{}{
				"type":        "string",
				"description": "Start as RFC 3339 date-time, e.g. 2026-08-25T14:00:00-07:00.",
			},
			"end": map[string]interface{}{
				"type":        "string",
				"description": "End as RFC 3339 date-time.",
			},
			"start_date": map[string]interface{}{
				"type":        "string",
				"description": "All-day start date (YYYY-MM-DD); use instead of start.",
			},
			"end_date": map[string]interface{}{
				"type":        "string",
				"description": "All-day end date (YYYY-MM-DD); use instead of end.",
			},
			"time_zone": map[string]interface{}{"type": "string"},
		},
		"required": []string{"summary"},
	})
}

func (t *CreateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Summary     string `json:"summary"`
		Description string `json:"description"`
		Location    string `json:"location"`
		Start       string `json:"start"`
		End         string `json:"end"`
		StartDate   string `json:"start_date"`
		EndDate     string `json:"end_date"`
		TimeZone    string `json:"time_zone"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Summary) == "" {
		return toolError("summary is required"), nil
	}
	start := eventTime(input.StartDate, input.Start, input.TimeZone)
	if start == nil {
		return toolError("start or start_date is required"), nil
	}
	end := eventTime(input.EndDate, input.End, input.TimeZone)
	if end == nil {
		end = start
	}

	created, err := t.client.CreateEvent(ctx, &gcal.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Location:    input.Location,
		Start:       start,
		End:         end,
	})
	if err != nil {
		return toolError(err.Error()), nil
	}
	return marshalResult(created)
}

// UpdateTool patches calendar events.
type UpdateTool struct {
	client *gcal.Client
}

// NewUpdateTool returns the updateEvent tool.
func NewUpdateTool(client *gcal.Client) *UpdateTool {
	return &UpdateTool{client: client}
}

func (t *UpdateTool) Name() string { return "updateEvent" }

func (t *UpdateTool) Description() string {
	return "Update an existing calendar event's title, times, or location."
}

func (t *UpdateTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"event_id": map[string]interface{}{
				"type":        "string",
				"description": "The opaque event id, from a previous createEvent or listEvents result.",
			},
			"summary":     map[string]interface{}{"type": "string"},
			"description": map[string]interface{}{"type": "string"},
			"location":    map[string]interface{}{"type": "string"},
			"start":       map[string]interface{}{"type": "string"},
			"end":         map[string]interface{}{"type": "string"},
			"time_zone":   map[string]interface{}{"type": "string"},
		},
		"required": []string{"event_id"},
	})
}

func (t *UpdateTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		EventID     string `json:"event_id"`
		Summary     string `json:"summary"`
		Description string `json:"description"`
		Location    string `json:"location"`
		Start       string `json:"start"`
		End         string `json:"end"`
		TimeZone    string `json:"time_zone"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if !validEventID(input.EventID) {
		return toolError(fmt.Sprintf("event_id %q is not a valid event id; use listEvents to find the id", input.EventID)), nil
	}

	updated, err := t.client.UpdateEvent(ctx, input.EventID, &gcal.Event{
		Summary:     input.Summary,
		Description: input.Description,
		Location:    input.Location,
		Start:       eventTime("", input.Start, input.TimeZone),
		End:         eventTime("", input.End, input.TimeZone),
	})
	if err != nil {
		return toolError(err.Error()), nil
	}
	return marshalResult(updated)
}

// DeleteTool removes calendar events.
type DeleteTool struct {
	client *gcal.Client
}

// NewDeleteTool returns the deleteEvent tool.
func NewDeleteTool(client *gcal.Client) *DeleteTool {
	return &DeleteTool{client: client}
}

func (t *DeleteTool) Name() string { return "deleteEvent" }

func (t *DeleteTool) Description() string {
	return "Delete a calendar event."
}

func (t *DeleteTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"event_id": map[string]interface{}{
				"type":        "string",
				"description": "The opaque event id.",
			},
		},
		"required": []string{"event_id"},
	})
}

func (t *DeleteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if !validEventID(input.EventID) {
		return toolError(fmt.Sprintf("event_id %q is not a valid event id; use listEvents to find the id", input.EventID)), nil
	}
	if err := t.client.DeleteEvent(ctx, input.EventID); err != nil {
		return toolError(err.Error()), nil
	}
	return marshalResult(map[string]any{"id": input.EventID, "deleted": true})
}

// ListTool lists calendar events in a window.
type ListTool struct {
	client *gcal.Client
}

// NewListTool returns the listEvents tool.
func NewListTool(client *gcal.Client) *ListTool {
	return &ListTool{client: client}
}

func (t *ListTool) Name() string { return "listEvents" }

func (t *ListTool) Description() string {
	return "List calendar events between two RFC 3339 times, ordered by start."
}

func (t *ListTool) Schema() json.RawMessage {
	return mustSchema(map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"time_min": map[string]interface{}{
				"type":        "string",
				"description": "Window start as RFC 3339 date-time.",
			},
			"time_max": map[string]interface{}{
				"type":        "string",
				"description": "Window end as RFC 3339 date-time.",
			},
		},
	})
}

func (t *ListTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		TimeMin string `json:"time_min"`
		TimeMax string `json:"time_max"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
		}
	}

	events, err := t.client.ListEvents(ctx, input.TimeMin, input.TimeMax)
	if err != nil {
		return toolError(err.Error()), nil
	}
	if events == nil {
		events = []gcal.Event{}
	}
	return marshalResult(events)
}
