package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/taskwise/taskwise/internal/observability"
	"github.com/taskwise/taskwise/pkg/models"
)

// Flags selects which streaming system the bridge writes to and reads from.
// During migration both writers are on; once the event log is authoritative
// the legacy writer is switched off and the store can be retired.
type Flags struct {
	// WriteLegacy mirrors every operation onto the legacy document.
	WriteLegacy bool

	// WriteEvents appends every operation to the event log.
	WriteEvents bool

	// ReadFromEvents prefers event-log reconstruction on reads, falling back
	// to the legacy document when the stream has no events.
	ReadFromEvents bool
}

// DualWriteFlags is the migration posture: write both, read from events.
func DualWriteFlags() Flags {
	return Flags{WriteLegacy: true, WriteEvents: true, ReadFromEvents: true}
}

// StreamingData is the read-side view served to clients regardless of which
// backend produced it.
type StreamingData struct {
	StreamID    string              `json:"stream_id"`
	SessionID   string              `json:"session_id,omitempty"`
	Content     string              `json:"content"`
	Status      models.StreamStatus `json:"status"`
	Error       string              `json:"error,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
	Source      string              `json:"source"`
}

// Bridge coordinates the legacy mutable stream document and the append-only
// event log during migration. Writes go to each enabled system independently:
// a failure in one is logged and does not roll back the other, unless it is
// the only system enabled.
type Bridge struct {
	log     Log
	legacy  LegacyStore
	flags   Flags
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewBridge creates a bridge over the given backends. Either backend may be
// nil when its flag is off.
func NewBridge(log Log, legacy LegacyStore, flags Flags, logger *observability.Logger, metrics *observability.Metrics) (*Bridge, error) {
	if !flags.WriteLegacy && !flags.WriteEvents {
		return nil, errors.New("at least one streaming backend must be enabled")
	}
	if flags.WriteEvents && log == nil {
		return nil, errors.New("event log backend is enabled but nil")
	}
	if flags.WriteLegacy && legacy == nil {
		return nil, errors.New("legacy backend is enabled but nil")
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Bridge{log: log, legacy: legacy, flags: flags, logger: logger, metrics: metrics}, nil
}

// Start opens a stream in every enabled system.
func (b *Bridge) Start(ctx context.Context, streamID, sessionID, userMessage string) error {
	b.observe(models.StreamEventStart)
	return b.dualWrite(ctx, "start",
		func() error {
			return b.log.StartStream(ctx, streamID, sessionID, userMessage)
		},
		func() error {
			return b.legacy.CreateDocument(ctx, &models.LegacyStreamDocument{
				StreamID:    streamID,
				SessionID:   sessionID,
				UserMessage: userMessage,
				Status:      models.StreamStatusStreaming,
			})
		},
	)
}

// AppendText records an incremental text fragment.
func (b *Bridge) AppendText(ctx context.Context, streamID, text string) error {
	b.observe(models.StreamEventTextDelta)
	return b.dualWrite(ctx, "text-delta",
		func() error {
			payload, err := json.Marshal(models.TextDeltaPayload{Text: text})
			if err != nil {
				return err
			}
			_, err = b.log.PublishEvent(ctx, streamID, models.StreamEventTextDelta, payload)
			return err
		},
		func() error {
			return b.legacy.AppendText(ctx, streamID, text)
		},
	)
}

// RecordToolCall records a proposed tool invocation. The legacy document has
// no representation for proposals, so only the event log carries it.
func (b *Bridge) RecordToolCall(ctx context.Context, streamID string, call models.ToolCall) error {
	if !b.flags.WriteEvents {
		return nil
	}
	b.observe(models.StreamEventToolCall)
	payload, err := json.Marshal(models.ToolCallPayload{
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Input:      call.Input,
	})
	if err != nil {
		return err
	}
	_, err = b.log.PublishEvent(ctx, streamID, models.StreamEventToolCall, payload)
	return err
}

// RecordToolResult records a tool outcome in every enabled system.
func (b *Bridge) RecordToolResult(ctx context.Context, streamID string, result models.ToolResult) error {
	b.observe(models.StreamEventToolResult)
	return b.dualWrite(ctx, "tool-result",
		func() error {
			payload, err := json.Marshal(models.ToolResultPayload{
				ToolCallID: result.ToolCallID,
				ToolName:   result.ToolName,
				Content:    result.Content,
				IsError:    result.IsError,
			})
			if err != nil {
				return err
			}
			_, err = b.log.PublishEvent(ctx, streamID, models.StreamEventToolResult, payload)
			return err
		},
		func() error {
			return b.legacy.AppendToolResult(ctx, streamID, result)
		},
	)
}

// Finish closes the stream successfully in every enabled system.
func (b *Bridge) Finish(ctx context.Context, streamID, finalContent string, stepCount int) error {
	b.observe(models.StreamEventFinish)
	return b.dualWrite(ctx, "finish",
		func() error {
			return FinishStream(ctx, b.log, streamID, finalContent, stepCount)
		},
		func() error {
			return b.legacy.Complete(ctx, streamID, finalContent)
		},
	)
}

// Error closes the stream with an error in every enabled system.
func (b *Bridge) Error(ctx context.Context, streamID, message string) error {
	b.observe(models.StreamEventError)
	return b.dualWrite(ctx, "error",
		func() error {
			return ErrorStream(ctx, b.log, streamID, message)
		},
		func() error {
			return b.legacy.Fail(ctx, streamID, message)
		},
	)
}

// GetStreamingDataSmart reads the stream through the preferred backend. With
// ReadFromEvents set it reconstructs from the event log and falls back to the
// legacy document when the stream has no events there; otherwise it reads the
// legacy document directly.
func (b *Bridge) GetStreamingDataSmart(ctx context.Context, streamID string) (*StreamingData, error) {
	if b.flags.ReadFromEvents && b.log != nil {
		data, err := b.readFromEvents(ctx, streamID)
		if err == nil && data != nil {
			return data, nil
		}
		if err != nil {
			b.logger.Warn(ctx, "event log read failed, falling back to legacy document",
				"stream_id", streamID, "error", err)
		}
	}
	if b.legacy == nil {
		return nil, ErrStreamNotFound
	}
	doc, err := b.legacy.GetDocument(ctx, streamID)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return nil, ErrStreamNotFound
		}
		return nil, err
	}
	return &StreamingData{
		StreamID:    doc.StreamID,
		SessionID:   doc.SessionID,
		Content:     doc.Content,
		Status:      doc.Status,
		Error:       doc.Error,
		ToolResults: doc.ToolLedger,
		Source:      "legacy",
	}, nil
}

func (b *Bridge) readFromEvents(ctx context.Context, streamID string) (*StreamingData, error) {
	events, err := b.log.GetStreamEvents(ctx, streamID, 0, 0)
	if err != nil {
		return nil, err
	}
	state := deriveState(events)
	if state == nil {
		return nil, nil
	}

	data := &StreamingData{
		StreamID:  streamID,
		SessionID: state.SessionID,
		Status:    state.Status,
		Source:    "events",
	}
	for _, ev := range events {
		switch ev.Type {
		case models.StreamEventTextDelta:
			var delta models.TextDeltaPayload
			if err := json.Unmarshal(ev.Payload, &delta); err != nil {
				return nil, fmt.Errorf("failed to decode text delta: %w", err)
			}
			data.Content += delta.Text
		case models.StreamEventToolResult:
			var result models.ToolResultPayload
			if err := json.Unmarshal(ev.Payload, &result); err != nil {
				return nil, fmt.Errorf("failed to decode tool result: %w", err)
			}
			data.ToolResults = append(data.ToolResults, models.ToolResult{
				ToolCallID: result.ToolCallID,
				ToolName:   result.ToolName,
				Content:    result.Content,
				IsError:    result.IsError,
			})
		case models.StreamEventError:
			var fail models.ErrorPayload
			if err := json.Unmarshal(ev.Payload, &fail); err != nil {
				return nil, fmt.Errorf("failed to decode error event: %w", err)
			}
			data.Error = fail.Message
		}
	}
	return data, nil
}

// MigrateLegacyStream replays a finished legacy document into the event log
// as a synthetic history: start, one text delta with the full content, the
// tool ledger, and the matching terminal event. Already-migrated streams are
// skipped.
func (b *Bridge) MigrateLegacyStream(ctx context.Context, streamID string) error {
	if b.log == nil || b.legacy == nil {
		return errors.New("migration requires both backends")
	}
	doc, err := b.legacy.GetDocument(ctx, streamID)
	if err != nil {
		return err
	}
	if doc.Status == models.StreamStatusStreaming {
		return fmt.Errorf("stream %s is still streaming, cannot migrate", streamID)
	}

	err = b.log.StartStream(ctx, doc.StreamID, doc.SessionID, doc.UserMessage)
	if errors.Is(err, ErrStreamExists) {
		return nil
	}
	if err != nil {
		return err
	}

	var batch []EventInput
	if doc.Content != "" {
		payload, err := json.Marshal(models.TextDeltaPayload{Text: doc.Content})
		if err != nil {
			return err
		}
		batch = append(batch, EventInput{Type: models.StreamEventTextDelta, Payload: payload})
	}
	for _, result := range doc.ToolLedger {
		payload, err := json.Marshal(models.ToolResultPayload{
			ToolCallID: result.ToolCallID,
			ToolName:   result.ToolName,
			Content:    result.Content,
			IsError:    result.IsError,
		})
		if err != nil {
			return err
		}
		batch = append(batch, EventInput{Type: models.StreamEventToolResult, Payload: payload})
	}
	if doc.Status == models.StreamStatusError {
		payload, err := json.Marshal(models.ErrorPayload{Message: doc.Error})
		if err != nil {
			return err
		}
		batch = append(batch, EventInput{Type: models.StreamEventError, Payload: payload})
	} else {
		payload, err := json.Marshal(models.FinishPayload{FinalContent: doc.Content})
		if err != nil {
			return err
		}
		batch = append(batch, EventInput{Type: models.StreamEventFinish, Payload: payload})
	}

	if _, err := b.log.PublishEventBatch(ctx, doc.StreamID, batch); err != nil {
		return err
	}
	b.logger.Info(ctx, "migrated legacy stream to event log",
		"stream_id", doc.StreamID, "events", len(batch)+1)
	return nil
}

// DeleteStreamsBefore applies retention to every enabled backend. The larger
// of the two counts is returned since dual-written streams appear in both.
func (b *Bridge) DeleteStreamsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	if b.flags.WriteEvents {
		n, err := b.log.DeleteStreamsBefore(ctx, cutoff)
		if err != nil {
			return 0, err
		}
		deleted = n
	}
	if b.flags.WriteLegacy {
		n, err := b.legacy.DeleteDocumentsBefore(ctx, cutoff)
		if err != nil {
			return deleted, err
		}
		if n > deleted {
			deleted = n
		}
	}
	return deleted, nil
}

// dualWrite runs the enabled writers independently. With both enabled, a
// single failure is logged and swallowed so the surviving system keeps the
// stream alive; both failing, or the only enabled writer failing, is an error.
func (b *Bridge) dualWrite(ctx context.Context, op string, eventWrite, legacyWrite func() error) error {
	var eventErr, legacyErr error
	if b.flags.WriteEvents {
		eventErr = eventWrite()
	}
	if b.flags.WriteLegacy {
		legacyErr = legacyWrite()
	}

	if b.flags.WriteEvents && b.flags.WriteLegacy {
		if eventErr != nil && legacyErr != nil {
			return fmt.Errorf("both streaming backends failed on %s: %v; %w", op, eventErr, legacyErr)
		}
		if eventErr != nil {
			b.logger.Warn(ctx, "event log write failed, legacy document kept the stream",
				"op", op, "error", eventErr)
		}
		if legacyErr != nil {
			b.logger.Warn(ctx, "legacy document write failed, event log kept the stream",
				"op", op, "error", legacyErr)
		}
		return nil
	}
	if eventErr != nil {
		return eventErr
	}
	return legacyErr
}

func (b *Bridge) observe(eventType models.StreamEventType) {
	if b.metrics != nil {
		b.metrics.StreamEventCounter.WithLabelValues(string(eventType)).Inc()
	}
}
