// Package gcal implements a minimal REST client for a Google-Calendar-style
// API, authenticated through an oauth2 token source.
package gcal

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

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://www.googleapis.com/calendar/v3"

// ErrNotConnected is returned when no calendar account is linked.
var ErrNotConnected = errors.New("calendar account not connected")

// Event is one calendar event.
type Event struct {
	ID          string     `json:"id,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Start       *EventTime `json:"start,omitempty"`
	End         *EventTime `json:"end,omitempty"`
	Status      string     `json:"status,omitempty"`
	HTMLLink    string     `json:"htmlLink,omitempty"`
}

// EventTime is an event boundary: either a date (all-day) or a dateTime.
type EventTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

type eventList struct {
	Items []Event `json:"items"`
}

// Config configures a Client.
type Config struct {
	// TokenSource supplies OAuth tokens. Nil means not connected.
	TokenSource oauth2.TokenSource

	// BaseURL overrides the API endpoint, for tests.
	BaseURL string

	// CalendarID selects the calendar. Defaults to "primary".
	CalendarID string
}

// Client talks to the calendar API. Safe for concurrent use.
type Client struct {
	http       *http.Client
	baseURL    string
	calendarID string
	connected  bool
}

// NewClient creates a client. With a TokenSource set, requests carry OAuth
// credentials via the oauth2 transport; without one the client reports not
// connected.
func NewClient(ctx context.Context, config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.CalendarID == "" {
		config.CalendarID = "primary"
	}

	httpClient := &http.Client{Timeout: 15 * time.Second}
	connected := config.TokenSource != nil
	if connected {
		httpClient = oauth2.NewClient(ctx, config.TokenSource)
		httpClient.Timeout = 15 * time.Second
	}

	return &Client{
		http:       httpClient,
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		calendarID: config.CalendarID,
		connected:  connected,
	}
}

// Connected reports whether a calendar account is linked.
func (c *Client) Connected() bool {
	return c.connected
}

// CreateEvent inserts an event into the calendar.
func (c *Client) CreateEvent(ctx context.Context, event *Event) (*Event, error) {
	var created Event
	path := fmt.Sprintf("/calendars/%s/events", url.PathEscape(c.calendarID))
	if err := c.do(ctx, http.MethodPost, path, event, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateEvent patches an existing event.
func (c *Client) UpdateEvent(ctx context.Context, eventID string, event *Event) (*Event, error) {
	var updated Event
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(c.calendarID), url.PathEscape(eventID))
	if err := c.do(ctx, http.MethodPatch, path, event, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteEvent removes an event.
func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(c.calendarID), url.PathEscape(eventID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ListEvents returns events between timeMin and timeMax (RFC 3339), expanded
// from recurring series and ordered by start time.
func (c *Client) ListEvents(ctx context.Context, timeMin, timeMax string) ([]Event, error) {
	query := url.Values{
		"singleEvents": {"true"},
		"orderBy":      {"startTime"},
	}
	if timeMin != "" {
		query.Set("timeMin", timeMin)
	}
	if timeMax != "" {
		query.Set("timeMax", timeMax)
	}
	path := fmt.Sprintf("/calendars/%s/events?%s", url.PathEscape(c.calendarID), query.Encode())

	var list eventList
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if !c.connected {
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// The oauth2 transport surfaces refresh failures here; preserve the
		// text so callers can classify expired grants.
		return fmt.Errorf("calendar request failed: %w", err)
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

func apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(raw))
	if detail == "" {
		detail = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("calendar: unauthorized (%d): %s", resp.StatusCode, detail)
	case http.StatusTooManyRequests:
		return fmt.Errorf("calendar: rate limit exceeded (429): %s", detail)
	default:
		return fmt.Errorf("calendar: request failed (%d): %s", resp.StatusCode, detail)
	}
}
