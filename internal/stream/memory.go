package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/taskwise/taskwise/pkg/models"
)

// MemoryLog is an in-memory Log implementation for testing and local runs.
type MemoryLog struct {
	mu      sync.RWMutex
	streams map[string][]*models.StreamEvent
}

// NewMemoryLog creates an empty in-memory event log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{streams: make(map[string][]*models.StreamEvent)}
}

func (m *MemoryLog) StartStream(ctx context.Context, streamID, sessionID, userMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.streams[streamID]; ok {
		return ErrStreamExists
	}
	m.streams[streamID] = []*models.StreamEvent{{
		StreamID:    streamID,
		Order:       0,
		Type:        models.StreamEventStart,
		SessionID:   sessionID,
		UserMessage: userMessage,
		CreatedAt:   time.Now(),
	}}
	return nil
}

func (m *MemoryLog) PublishEvent(ctx context.Context, streamID string, eventType models.StreamEventType, payload json.RawMessage) (*models.StreamEvent, error) {
	events, err := m.PublishEventBatch(ctx, streamID, []EventInput{{Type: eventType, Payload: payload}})
	if err != nil {
		return nil, err
	}
	return events[0], nil
}

func (m *MemoryLog) PublishEventBatch(ctx context.Context, streamID string, inputs []EventInput) ([]*models.StreamEvent, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.streams[streamID]
	if !ok {
		return nil, ErrStreamNotFound
	}
	start := existing[0]
	nextOrder := existing[len(existing)-1].Order + 1

	out := make([]*models.StreamEvent, 0, len(inputs))
	for i, input := range inputs {
		ev := &models.StreamEvent{
			StreamID:    streamID,
			Order:       nextOrder + i,
			Type:        input.Type,
			Payload:     input.Payload,
			SessionID:   start.SessionID,
			UserMessage: start.UserMessage,
			CreatedAt:   time.Now(),
		}
		out = append(out, ev)
	}
	m.streams[streamID] = append(existing, out...)
	return out, nil
}

func (m *MemoryLog) GetStreamEvents(ctx context.Context, streamID string, fromOrder, limit int) ([]*models.StreamEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.streams[streamID]
	out := make([]*models.StreamEvent, 0, len(events))
	for _, ev := range events {
		if ev.Order < fromOrder {
			continue
		}
		copied := *ev
		out = append(out, &copied)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryLog) GetStreamState(ctx context.Context, streamID string) (*models.StreamState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return deriveState(m.streams[streamID]), nil
}

func (m *MemoryLog) ReconstructContent(ctx context.Context, streamID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return reconstruct(m.streams[streamID])
}

func (m *MemoryLog) DeleteStreamsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for id, events := range m.streams {
		if len(events) > 0 && events[0].CreatedAt.Before(cutoff) {
			delete(m.streams, id)
			deleted++
		}
	}
	return deleted, nil
}
