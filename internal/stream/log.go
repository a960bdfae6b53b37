// Package stream implements the append-only, strictly ordered per-stream
// event log from which the incremental state of an assistant turn is
// reconstructed, plus the compatibility bridge to the older single-document
// streaming representation.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/taskwise/taskwise/pkg/models"
)

var (
	// ErrStreamExists is returned when starting a stream whose id already has
	// a start event. Idempotency is enforced at the id level, never by
	// silently overwriting.
	ErrStreamExists = errors.New("stream already started")

	// ErrStreamNotFound is returned when publishing to a stream that has no
	// start event.
	ErrStreamNotFound = errors.New("stream not found")
)

// EventInput is one event of a batch publish.
type EventInput struct {
	Type    models.StreamEventType
	Payload json.RawMessage
}

// Log is the append-only stream event store.
//
// Order is dense per stream, starting at 0, assigned as current-max-plus-one.
// The design assumes a single writer per stream (one orchestration run owns
// one stream); concurrent writers to the same stream would race on order
// assignment. Terminal events close a stream by convention: the storage layer
// stays append-only and does not reject appends after a terminal event — the
// caller must not publish one.
type Log interface {
	// StartStream inserts the order-0 stream-start event, the sole carrier of
	// session context. Fails with ErrStreamExists if a start already exists.
	StartStream(ctx context.Context, streamID, sessionID, userMessage string) error

	// PublishEvent appends one event at the next order, copying the session
	// context forward from the start event.
	PublishEvent(ctx context.Context, streamID string, eventType models.StreamEventType, payload json.RawMessage) (*models.StreamEvent, error)

	// PublishEventBatch appends multiple events in one call, assigning a
	// contiguous block of orders that preserves the input order.
	PublishEventBatch(ctx context.Context, streamID string, events []EventInput) ([]*models.StreamEvent, error)

	// GetStreamEvents returns events in ascending order. fromOrder tails the
	// log from the given order; limit bounds the result (0 means no limit).
	GetStreamEvents(ctx context.Context, streamID string, fromOrder, limit int) ([]*models.StreamEvent, error)

	// GetStreamState derives the stream lifecycle state from the log.
	// Returns nil (with no error) when no start event exists.
	GetStreamState(ctx context.Context, streamID string) (*models.StreamState, error)

	// ReconstructContent folds all text-delta events in order by
	// concatenation. This is the canonical "what has the assistant said so
	// far" and must equal the finish event's final content once complete.
	ReconstructContent(ctx context.Context, streamID string) (string, error)

	// DeleteStreamsBefore removes all events of streams whose start event is
	// older than the cutoff. Returns the number of streams deleted.
	DeleteStreamsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// FinishStream publishes the single stream-finish terminal event.
func FinishStream(ctx context.Context, log Log, streamID, finalContent string, stepCount int) error {
	payload, err := json.Marshal(models.FinishPayload{FinalContent: finalContent, StepCount: stepCount})
	if err != nil {
		return err
	}
	_, err = log.PublishEvent(ctx, streamID, models.StreamEventFinish, payload)
	return err
}

// ErrorStream publishes the single stream-error terminal event.
func ErrorStream(ctx context.Context, log Log, streamID, message string) error {
	payload, err := json.Marshal(models.ErrorPayload{Message: message})
	if err != nil {
		return err
	}
	_, err = log.PublishEvent(ctx, streamID, models.StreamEventError, payload)
	return err
}

// deriveState computes StreamState from an ordered event slice. Shared by the
// store implementations.
func deriveState(events []*models.StreamEvent) *models.StreamState {
	if len(events) == 0 || events[0].Type != models.StreamEventStart {
		return nil
	}

	state := &models.StreamState{
		StreamID:    events[0].StreamID,
		SessionID:   events[0].SessionID,
		Status:      models.StreamStatusStreaming,
		TotalEvents: len(events),
		StartedAt:   events[0].CreatedAt,
	}
	for _, ev := range events {
		switch ev.Type {
		case models.StreamEventFinish:
			state.Status = models.StreamStatusComplete
			state.IsComplete = true
			completed := ev.CreatedAt
			state.CompletedAt = &completed
		case models.StreamEventError:
			state.Status = models.StreamStatusError
			state.IsComplete = true
			completed := ev.CreatedAt
			state.CompletedAt = &completed
		}
	}
	return state
}

// reconstruct concatenates text-delta payloads in order.
func reconstruct(events []*models.StreamEvent) (string, error) {
	var content string
	for _, ev := range events {
		if ev.Type != models.StreamEventTextDelta {
			continue
		}
		var delta models.TextDeltaPayload
		if err := json.Unmarshal(ev.Payload, &delta); err != nil {
			return "", err
		}
		content += delta.Text
	}
	return content, nil
}
