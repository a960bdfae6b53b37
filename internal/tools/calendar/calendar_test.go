package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"github.com/taskwise/taskwise/internal/gcal"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *gcal.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
	return gcal.NewClient(context.Background(), gcal.Config{TokenSource: source, BaseURL: server.URL})
}

func TestCreateTool(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var event gcal.Event
		json.NewDecoder(r.Body).Decode(&event)
		event.ID = "abc123event"
		json.NewEncoder(w).Encode(event)
	})
	tool := NewCreateTool(client)

	result, err := tool.Execute(context.Background(), json.RawMessage(
		`{"summary":"dentist","start":"2026-08-25T14:00:00-07:00","end":"2026-08-25T15:00:00-07:00"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content)
	}
	var event gcal.Event
	if err := json.Unmarshal([]byte(result.Content), &event); err != nil {
		t.Fatalf("result not JSON: %v", err)
	}
	if event.ID != "abc123event" || event.Start.DateTime != "2026-08-25T14:00:00-07:00" {
		t.Errorf("event = %+v", event)
	}
}

func TestCreateTool_RequiresStart(t *testing.T) {
	tool := NewCreateTool(newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the API")
	}))
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"summary":"dentist"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for missing start")
	}
}

func TestUpdateTool_RejectsHumanReadableID(t *testing.T) {
	dispatched := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		dispatched = true
	})
	tool := NewUpdateTool(client)

	result, err := tool.Execute(context.Background(), json.RawMessage(
		`{"event_id":"Dentist Appointment","summary":"moved"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "not a valid event id") {
		t.Errorf("result = %+v", result)
	}
	if dispatched {
		t.Error("invalid id reached the external API")
	}
}

func TestListTool_NotConnected(t *testing.T) {
	client := gcal.NewClient(context.Background(), gcal.Config{})
	tool := NewListTool(client)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "not connected") {
		t.Errorf("result = %+v", result)
	}
}
