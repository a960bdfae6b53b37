package stream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/taskwise/taskwise/internal/observability"
	"github.com/taskwise/taskwise/pkg/models"
)

func newTestBridge(t *testing.T, flags Flags) (*Bridge, *MemoryLog, *MemoryLegacyStore) {
	t.Helper()
	log := NewMemoryLog()
	legacy := NewMemoryLegacyStore()
	bridge, err := NewBridge(log, legacy, flags, observability.NewNopLogger(), nil)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	return bridge, log, legacy
}

func TestBridge_DualWriteKeepsBothSystemsEquivalent(t *testing.T) {
	ctx := context.Background()
	bridge, log, legacy := newTestBridge(t, DualWriteFlags())

	if err := bridge.Start(ctx, "s1", "sess-1", "book dentist"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, text := range []string{"Booked ", "for Tuesday."} {
		if err := bridge.AppendText(ctx, "s1", text); err != nil {
			t.Fatalf("AppendText: %v", err)
		}
	}
	if err := bridge.RecordToolResult(ctx, "s1", models.ToolResult{
		ToolCallID: "tc-1", ToolName: "createTask", Content: `{"id":"task-9"}`,
	}); err != nil {
		t.Fatalf("RecordToolResult: %v", err)
	}
	if err := bridge.Finish(ctx, "s1", "Booked for Tuesday.", 2); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	reconstructed, err := log.ReconstructContent(ctx, "s1")
	if err != nil {
		t.Fatalf("ReconstructContent: %v", err)
	}
	doc, err := legacy.GetDocument(ctx, "s1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if reconstructed != doc.Content {
		t.Errorf("event log reconstructs %q, legacy document holds %q", reconstructed, doc.Content)
	}
	if doc.Status != models.StreamStatusComplete {
		t.Errorf("legacy status = %s, want complete", doc.Status)
	}
	if len(doc.ToolLedger) != 1 || doc.ToolLedger[0].ToolCallID != "tc-1" {
		t.Errorf("legacy tool ledger = %+v", doc.ToolLedger)
	}

	state, err := log.GetStreamState(ctx, "s1")
	if err != nil {
		t.Fatalf("GetStreamState: %v", err)
	}
	if state.Status != models.StreamStatusComplete {
		t.Errorf("event log status = %s, want complete", state.Status)
	}
}

func TestBridge_ReadPrefersEventsThenFallsBack(t *testing.T) {
	ctx := context.Background()
	bridge, _, legacy := newTestBridge(t, DualWriteFlags())

	if err := bridge.Start(ctx, "dual", "sess-1", "hi"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := bridge.AppendText(ctx, "dual", "from events"); err != nil {
		t.Fatalf("AppendText: %v", err)
	}

	data, err := bridge.GetStreamingDataSmart(ctx, "dual")
	if err != nil {
		t.Fatalf("GetStreamingDataSmart: %v", err)
	}
	if data.Source != "events" || data.Content != "from events" {
		t.Errorf("expected event-log read, got %+v", data)
	}

	// A pre-migration stream exists only as a legacy document.
	if err := legacy.CreateDocument(ctx, &models.LegacyStreamDocument{
		StreamID: "old", SessionID: "sess-2", Content: "legacy only",
		Status: models.StreamStatusComplete,
	}); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	data, err = bridge.GetStreamingDataSmart(ctx, "old")
	if err != nil {
		t.Fatalf("GetStreamingDataSmart legacy: %v", err)
	}
	if data.Source != "legacy" || data.Content != "legacy only" {
		t.Errorf("expected legacy fallback, got %+v", data)
	}

	if _, err := bridge.GetStreamingDataSmart(ctx, "missing"); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("unknown stream returned %v, want ErrStreamNotFound", err)
	}
}

func TestBridge_SingleBackendFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	legacy := NewMemoryLegacyStore()
	bridge, err := NewBridge(log, legacy, DualWriteFlags(), observability.NewNopLogger(), nil)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}

	// The legacy document was never created, so legacy writes fail while
	// the event log accepts everything.
	if err := log.StartStream(ctx, "s1", "sess-1", "hi"); err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if err := bridge.AppendText(ctx, "s1", "still here"); err != nil {
		t.Fatalf("AppendText with broken legacy backend: %v", err)
	}

	content, err := log.ReconstructContent(ctx, "s1")
	if err != nil {
		t.Fatalf("ReconstructContent: %v", err)
	}
	if content != "still here" {
		t.Errorf("event log content = %q", content)
	}
}

func TestBridge_OnlyBackendFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	bridge, err := NewBridge(log, nil, Flags{WriteEvents: true, ReadFromEvents: true}, observability.NewNopLogger(), nil)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}

	if err := bridge.AppendText(ctx, "never-started", "x"); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("sole backend failure returned %v, want ErrStreamNotFound", err)
	}
}

func TestBridge_RequiresABackend(t *testing.T) {
	if _, err := NewBridge(nil, nil, Flags{}, observability.NewNopLogger(), nil); err == nil {
		t.Fatal("expected error with no backend enabled")
	}
	if _, err := NewBridge(nil, NewMemoryLegacyStore(), Flags{WriteEvents: true}, observability.NewNopLogger(), nil); err == nil {
		t.Fatal("expected error with events enabled but nil log")
	}
}

func TestBridge_MigrateLegacyStream(t *testing.T) {
	ctx := context.Background()
	bridge, log, legacy := newTestBridge(t, DualWriteFlags())

	if err := legacy.CreateDocument(ctx, &models.LegacyStreamDocument{
		StreamID:    "old",
		SessionID:   "sess-7",
		UserMessage: "what's on today",
		Content:     "You have two meetings.",
		ToolLedger: []models.ToolResult{
			{ToolCallID: "tc-1", ToolName: "listEvents", Content: "[]"},
		},
		Status: models.StreamStatusComplete,
	}); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	if err := bridge.MigrateLegacyStream(ctx, "old"); err != nil {
		t.Fatalf("MigrateLegacyStream: %v", err)
	}

	events, err := log.GetStreamEvents(ctx, "old", 0, 0)
	if err != nil {
		t.Fatalf("GetStreamEvents: %v", err)
	}
	types := make([]models.StreamEventType, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	want := []models.StreamEventType{
		models.StreamEventStart,
		models.StreamEventTextDelta,
		models.StreamEventToolResult,
		models.StreamEventFinish,
	}
	if len(types) != len(want) {
		t.Fatalf("migrated events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("migrated events = %v, want %v", types, want)
		}
	}

	content, err := log.ReconstructContent(ctx, "old")
	if err != nil {
		t.Fatalf("ReconstructContent: %v", err)
	}
	if content != "You have two meetings." {
		t.Errorf("migrated content = %q", content)
	}

	var finish models.FinishPayload
	if err := json.Unmarshal(events[len(events)-1].Payload, &finish); err != nil {
		t.Fatalf("unmarshal finish: %v", err)
	}
	if finish.FinalContent != content {
		t.Errorf("finish payload %q differs from reconstruction %q", finish.FinalContent, content)
	}

	// Re-running is a no-op.
	if err := bridge.MigrateLegacyStream(ctx, "old"); err != nil {
		t.Fatalf("second migration: %v", err)
	}
	after, _ := log.GetStreamEvents(ctx, "old", 0, 0)
	if len(after) != len(events) {
		t.Errorf("second migration appended events: %d -> %d", len(events), len(after))
	}
}

func TestBridge_MigrateRejectsInFlightStream(t *testing.T) {
	ctx := context.Background()
	bridge, _, legacy := newTestBridge(t, DualWriteFlags())

	if err := legacy.CreateDocument(ctx, &models.LegacyStreamDocument{
		StreamID: "live", Status: models.StreamStatusStreaming,
	}); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if err := bridge.MigrateLegacyStream(ctx, "live"); err == nil {
		t.Fatal("expected error migrating a stream that is still streaming")
	}
}

func TestBridge_ErrorClosesBothSystems(t *testing.T) {
	ctx := context.Background()
	bridge, log, legacy := newTestBridge(t, DualWriteFlags())

	if err := bridge.Start(ctx, "s1", "sess-1", "hi"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := bridge.Error(ctx, "s1", "provider unavailable"); err != nil {
		t.Fatalf("Error: %v", err)
	}

	state, err := log.GetStreamState(ctx, "s1")
	if err != nil {
		t.Fatalf("GetStreamState: %v", err)
	}
	if state.Status != models.StreamStatusError {
		t.Errorf("event log status = %s, want error", state.Status)
	}
	doc, err := legacy.GetDocument(ctx, "s1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Status != models.StreamStatusError || doc.Error != "provider unavailable" {
		t.Errorf("legacy document = %+v", doc)
	}
}

func TestBridge_RetentionCoversBothBackends(t *testing.T) {
	ctx := context.Background()
	bridge, log, legacy := newTestBridge(t, DualWriteFlags())

	if err := bridge.Start(ctx, "old", "sess-1", "hi"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	log.mu.Lock()
	log.streams["old"][0].CreatedAt = time.Now().Add(-48 * time.Hour)
	log.mu.Unlock()
	legacy.mu.Lock()
	legacy.docs["old"].CreatedAt = time.Now().Add(-48 * time.Hour)
	legacy.mu.Unlock()

	deleted, err := bridge.DeleteStreamsBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteStreamsBefore: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := bridge.GetStreamingDataSmart(ctx, "old"); !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("expired stream still readable: %v", err)
	}
}
