package stream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/taskwise/taskwise/pkg/models"
)

func mustDelta(t *testing.T, text string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(models.TextDeltaPayload{Text: text})
	if err != nil {
		t.Fatalf("marshal delta: %v", err)
	}
	return raw
}

func TestMemoryLog_OrderIsDenseFromZero(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	if err := log.StartStream(ctx, "s1", "sess-1", "hello"); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	for _, text := range []string{"a", "b", "c"} {
		if _, err := log.PublishEvent(ctx, "s1", models.StreamEventTextDelta, mustDelta(t, text)); err != nil {
			t.Fatalf("PublishEvent: %v", err)
		}
	}
	if err := FinishStream(ctx, log, "s1", "abc", 1); err != nil {
		t.Fatalf("FinishStream: %v", err)
	}

	events, err := log.GetStreamEvents(ctx, "s1", 0, 0)
	if err != nil {
		t.Fatalf("GetStreamEvents: %v", err)
	}
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Order != i {
			t.Errorf("event %d has order %d, want %d", i, ev.Order, i)
		}
	}
	if events[0].Type != models.StreamEventStart {
		t.Errorf("first event is %s, want stream-start", events[0].Type)
	}
}

func TestMemoryLog_StartStreamIsIdempotentPerID(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	if err := log.StartStream(ctx, "s1", "sess-1", "hello"); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if err := log.StartStream(ctx, "s1", "sess-1", "hello again"); !errors.Is(err, ErrStreamExists) {
		t.Fatalf("duplicate start returned %v, want ErrStreamExists", err)
	}
}

func TestMemoryLog_PublishToUnknownStream(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	if _, err := log.PublishEvent(ctx, "ghost", models.StreamEventTextDelta, mustDelta(t, "x")); !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("publish returned %v, want ErrStreamNotFound", err)
	}
}

func TestMemoryLog_BatchAssignsContiguousBlock(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	if err := log.StartStream(ctx, "s1", "sess-1", "hi"); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	batch := []EventInput{
		{Type: models.StreamEventTextDelta, Payload: mustDelta(t, "one")},
		{Type: models.StreamEventTextDelta, Payload: mustDelta(t, "two")},
		{Type: models.StreamEventTextDelta, Payload: mustDelta(t, "three")},
	}
	events, err := log.PublishEventBatch(ctx, "s1", batch)
	if err != nil {
		t.Fatalf("PublishEventBatch: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Order != i+1 {
			t.Errorf("batch event %d has order %d, want %d", i, ev.Order, i+1)
		}
		if ev.SessionID != "sess-1" {
			t.Errorf("batch event %d missing session context", i)
		}
	}
}

func TestMemoryLog_SessionContextCopiedForward(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	if err := log.StartStream(ctx, "s1", "sess-9", "book dentist"); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	ev, err := log.PublishEvent(ctx, "s1", models.StreamEventTextDelta, mustDelta(t, "ok"))
	if err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}
	if ev.SessionID != "sess-9" || ev.UserMessage != "book dentist" {
		t.Errorf("session context not copied: %+v", ev)
	}
}

func TestMemoryLog_ReconstructionMatchesFinalContent(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	if err := log.StartStream(ctx, "s1", "sess-1", "hi"); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	deltas := []string{"I booked ", "your dentist ", "appointment."}
	final := ""
	for _, d := range deltas {
		final += d
		if _, err := log.PublishEvent(ctx, "s1", models.StreamEventTextDelta, mustDelta(t, d)); err != nil {
			t.Fatalf("PublishEvent: %v", err)
		}
	}
	if err := FinishStream(ctx, log, "s1", final, 2); err != nil {
		t.Fatalf("FinishStream: %v", err)
	}

	content, err := log.ReconstructContent(ctx, "s1")
	if err != nil {
		t.Fatalf("ReconstructContent: %v", err)
	}
	if content != final {
		t.Errorf("reconstructed %q, want %q", content, final)
	}

	events, err := log.GetStreamEvents(ctx, "s1", 0, 0)
	if err != nil {
		t.Fatalf("GetStreamEvents: %v", err)
	}
	var finish models.FinishPayload
	if err := json.Unmarshal(events[len(events)-1].Payload, &finish); err != nil {
		t.Fatalf("unmarshal finish: %v", err)
	}
	if finish.FinalContent != content {
		t.Errorf("finish payload %q differs from reconstruction %q", finish.FinalContent, content)
	}
}

// Reconstruction depends on fold order. Feeding the fold scrambled events
// must yield different content than the ordered log; a store that loses
// ordering would be caught here.
func TestReconstruct_IsOrderSensitive(t *testing.T) {
	ordered := []*models.StreamEvent{
		{Order: 1, Type: models.StreamEventTextDelta, Payload: json.RawMessage(`{"text":"ab"}`)},
		{Order: 2, Type: models.StreamEventTextDelta, Payload: json.RawMessage(`{"text":"cd"}`)},
	}
	scrambled := []*models.StreamEvent{ordered[1], ordered[0]}

	got, err := reconstruct(ordered)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	swapped, err := reconstruct(scrambled)
	if err != nil {
		t.Fatalf("reconstruct scrambled: %v", err)
	}
	if got != "abcd" {
		t.Errorf("reconstructed %q, want abcd", got)
	}
	if swapped == got {
		t.Error("scrambled reconstruction should differ from ordered reconstruction")
	}
}

func TestMemoryLog_StateLifecycle(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	state, err := log.GetStreamState(ctx, "missing")
	if err != nil {
		t.Fatalf("GetStreamState: %v", err)
	}
	if state != nil {
		t.Fatalf("expected nil state for unknown stream, got %+v", state)
	}

	if err := log.StartStream(ctx, "s1", "sess-1", "hi"); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	state, err = log.GetStreamState(ctx, "s1")
	if err != nil {
		t.Fatalf("GetStreamState: %v", err)
	}
	if state.Status != models.StreamStatusStreaming || state.IsComplete {
		t.Errorf("expected streaming state, got %+v", state)
	}

	if err := ErrorStream(ctx, log, "s1", "provider unavailable"); err != nil {
		t.Fatalf("ErrorStream: %v", err)
	}
	state, err = log.GetStreamState(ctx, "s1")
	if err != nil {
		t.Fatalf("GetStreamState: %v", err)
	}
	if state.Status != models.StreamStatusError || !state.IsComplete {
		t.Errorf("expected error state, got %+v", state)
	}
	if state.CompletedAt == nil {
		t.Error("terminal state missing CompletedAt")
	}
	if state.TotalEvents != 2 {
		t.Errorf("expected 2 events, got %d", state.TotalEvents)
	}
}

func TestMemoryLog_TailReads(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	if err := log.StartStream(ctx, "s1", "sess-1", "hi"); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	for _, text := range []string{"a", "b", "c", "d"} {
		if _, err := log.PublishEvent(ctx, "s1", models.StreamEventTextDelta, mustDelta(t, text)); err != nil {
			t.Fatalf("PublishEvent: %v", err)
		}
	}

	tail, err := log.GetStreamEvents(ctx, "s1", 3, 0)
	if err != nil {
		t.Fatalf("GetStreamEvents: %v", err)
	}
	if len(tail) != 2 || tail[0].Order != 3 || tail[1].Order != 4 {
		t.Errorf("tail from 3 returned orders %v", orders(tail))
	}

	limited, err := log.GetStreamEvents(ctx, "s1", 1, 2)
	if err != nil {
		t.Fatalf("GetStreamEvents: %v", err)
	}
	if len(limited) != 2 || limited[0].Order != 1 || limited[1].Order != 2 {
		t.Errorf("limited read returned orders %v", orders(limited))
	}
}

func TestMemoryLog_DeleteStreamsBefore(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	if err := log.StartStream(ctx, "old", "sess-1", "hi"); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	// Backdate the old stream's start event.
	log.mu.Lock()
	log.streams["old"][0].CreatedAt = time.Now().Add(-48 * time.Hour)
	log.mu.Unlock()

	if err := log.StartStream(ctx, "fresh", "sess-2", "hi"); err != nil {
		t.Fatalf("StartStream: %v", err)
	}

	deleted, err := log.DeleteStreamsBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteStreamsBefore: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 stream deleted, got %d", deleted)
	}

	if state, _ := log.GetStreamState(ctx, "old"); state != nil {
		t.Error("expired stream still readable")
	}
	if state, _ := log.GetStreamState(ctx, "fresh"); state == nil {
		t.Error("fresh stream was deleted")
	}
}

func orders(events []*models.StreamEvent) []int {
	out := make([]int, len(events))
	for i, ev := range events {
		out[i] = ev.Order
	}
	return out
}
