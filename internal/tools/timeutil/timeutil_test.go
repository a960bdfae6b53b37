package timeutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestNowTool(t *testing.T) {
	tool := NewNowTool("UTC")
	tool.now = func() time.Time {
		return time.Date(2026, 8, 24, 15, 30, 0, 0, time.UTC)
	}

	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content)
	}

	var out map[string]string
	if err := json.Unmarshal([]byte(result.Content), &out); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if out["date"] != "2026-08-24" || out["weekday"] != "Monday" {
		t.Errorf("out = %v", out)
	}
}

func TestNowTool_ExplicitZone(t *testing.T) {
	tool := NewNowTool("UTC")
	tool.now = func() time.Time {
		return time.Date(2026, 8, 24, 2, 0, 0, 0, time.UTC)
	}

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"time_zone":"America/New_York"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(result.Content), &out); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	// 02:00 UTC is the previous evening in New York.
	if out["date"] != "2026-08-23" {
		t.Errorf("date = %q", out["date"])
	}
}

func TestNowTool_UnknownZone(t *testing.T) {
	tool := NewNowTool("UTC")
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"time_zone":"Mars/Olympus"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for unknown timezone")
	}
}
