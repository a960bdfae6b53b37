// Package timeutil implements the current-time tool so the model can ground
// relative dates like "tomorrow" before calling task or calendar tools.
package timeutil

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taskwise/taskwise/internal/agent"
)

// NowTool reports the current date and time in a requested timezone.
type NowTool struct {
	// now is injectable for tests.
	now func() time.Time

	// defaultZone applies when the request names no timezone.
	defaultZone string
}

// NewNowTool returns the getCurrentTime tool. defaultZone falls back to UTC.
func NewNowTool(defaultZone string) *NowTool {
	if defaultZone == "" {
		defaultZone = "UTC"
	}
	return &NowTool{now: time.Now, defaultZone: defaultZone}
}

func (t *NowTool) Name() string { return "getCurrentTime" }

func (t *NowTool) Description() string {
	return "Get the current date and time, for resolving relative dates like 'tomorrow' or 'next Friday'."
}

func (t *NowTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"time_zone": map[string]interface{}{
				"type":        "string",
				"description": "IANA timezone name, e.g. 'America/New_York'. Defaults to the user's configured zone.",
			},
		},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *NowTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		TimeZone string `json:"time_zone"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
		}
	}

	zone := input.TimeZone
	if zone == "" {
		zone = t.defaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("unknown timezone %q", zone), IsError: true}, nil
	}

	now := t.now().In(loc)
	raw, err := json.Marshal(map[string]string{
		"date_time": now.Format(time.RFC3339),
		"date":      now.Format("2006-01-02"),
		"weekday":   now.Weekday().String(),
		"time_zone": zone,
	})
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to encode result: %v", err), IsError: true}, nil
	}
	return &agent.ToolResult{Content: string(raw)}, nil
}
