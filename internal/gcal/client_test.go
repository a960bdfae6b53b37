package gcal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/oauth2"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"})
	return NewClient(context.Background(), Config{TokenSource: source, BaseURL: server.URL})
}

func TestClient_CreateEvent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calendars/primary/events" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		var event Event
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		event.ID = "ev1"
		json.NewEncoder(w).Encode(event)
	})

	created, err := client.CreateEvent(context.Background(), &Event{
		Summary: "dentist",
		Start:   &EventTime{DateTime: "2026-08-25T14:00:00-07:00"},
		End:     &EventTime{DateTime: "2026-08-25T15:00:00-07:00"},
	})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if created.ID != "ev1" || created.Summary != "dentist" {
		t.Errorf("event = %+v", created)
	}
}

func TestClient_ListEventsQuery(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("singleEvents") != "true" || q.Get("orderBy") != "startTime" {
			t.Errorf("query = %v", q)
		}
		if q.Get("timeMin") != "2026-08-24T00:00:00Z" {
			t.Errorf("timeMin = %q", q.Get("timeMin"))
		}
		json.NewEncoder(w).Encode(eventList{Items: []Event{{ID: "ev1"}}})
	})

	events, err := client.ListEvents(context.Background(), "2026-08-24T00:00:00Z", "")
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].ID != "ev1" {
		t.Errorf("events = %+v", events)
	}
}

func TestClient_NotConnected(t *testing.T) {
	client := NewClient(context.Background(), Config{})
	if client.Connected() {
		t.Error("client without token source reports connected")
	}
	if _, err := client.ListEvents(context.Background(), "", ""); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ListEvents returned %v, want ErrNotConnected", err)
	}
}

func TestClient_DeleteEvent(t *testing.T) {
	var method, path string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})
	if err := client.DeleteEvent(context.Background(), "ev1"); err != nil {
		t.Fatalf("DeleteEvent: %v", err)
	}
	if method != http.MethodDelete || path != "/calendars/primary/events/ev1" {
		t.Errorf("request = %s %s", method, path)
	}
}
