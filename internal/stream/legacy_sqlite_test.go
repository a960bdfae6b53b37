package stream

import (
	"context"
	"testing"
	"time"

	"github.com/taskwise/taskwise/pkg/models"
)

func newTestSQLiteLegacyStore(t *testing.T) *SQLiteLegacyStore {
	t.Helper()
	log := newTestSQLiteLog(t, ":memory:")
	store, err := NewSQLiteLegacyStore(log.DB())
	if err != nil {
		t.Fatalf("NewSQLiteLegacyStore: %v", err)
	}
	return store
}

func TestSQLiteLegacyStore_Lifecycle(t *testing.T) {
	store := newTestSQLiteLegacyStore(t)
	ctx := context.Background()

	err := store.CreateDocument(ctx, &models.LegacyStreamDocument{
		StreamID:    "s1",
		SessionID:   "session-1",
		UserMessage: "add buy milk",
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	if err := store.AppendText(ctx, "s1", "Adding "); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendText(ctx, "s1", "the task."); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendToolResult(ctx, "s1", models.ToolResult{
		ToolCallID: "call_1", ToolName: "createTask", Content: `{"id":"abc123"}`,
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.Complete(ctx, "s1", "Adding the task."); err != nil {
		t.Fatal(err)
	}

	doc, err := store.GetDocument(ctx, "s1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Content != "Adding the task." || doc.Status != models.StreamStatusComplete {
		t.Errorf("doc = %+v", doc)
	}
	if len(doc.ToolLedger) != 1 || doc.ToolLedger[0].ToolCallID != "call_1" {
		t.Errorf("ledger = %+v", doc.ToolLedger)
	}
	if doc.SessionID != "session-1" || doc.UserMessage != "add buy milk" {
		t.Errorf("doc context = %+v", doc)
	}
}

func TestSQLiteLegacyStore_DuplicateCreate(t *testing.T) {
	store := newTestSQLiteLegacyStore(t)
	ctx := context.Background()

	doc := &models.LegacyStreamDocument{StreamID: "s1"}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateDocument(ctx, doc); err != ErrStreamExists {
		t.Errorf("err = %v, want ErrStreamExists", err)
	}
}

func TestSQLiteLegacyStore_PatchUnknownDocument(t *testing.T) {
	store := newTestSQLiteLegacyStore(t)

	if err := store.AppendText(context.Background(), "ghost", "x"); err != ErrDocumentNotFound {
		t.Errorf("err = %v, want ErrDocumentNotFound", err)
	}
}

func TestSQLiteLegacyStore_Fail(t *testing.T) {
	store := newTestSQLiteLegacyStore(t)
	ctx := context.Background()

	if err := store.CreateDocument(ctx, &models.LegacyStreamDocument{StreamID: "s1"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Fail(ctx, "s1", "model unavailable"); err != nil {
		t.Fatal(err)
	}

	doc, err := store.GetDocument(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != models.StreamStatusError || doc.Error != "model unavailable" {
		t.Errorf("doc = %+v", doc)
	}
}

func TestSQLiteLegacyStore_Retention(t *testing.T) {
	store := newTestSQLiteLegacyStore(t)
	ctx := context.Background()

	old := &models.LegacyStreamDocument{StreamID: "old", CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &models.LegacyStreamDocument{StreamID: "fresh"}
	if err := store.CreateDocument(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateDocument(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	deleted, err := store.DeleteDocumentsBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
	if _, err := store.GetDocument(ctx, "old"); err != ErrDocumentNotFound {
		t.Errorf("old doc err = %v", err)
	}
	if _, err := store.GetDocument(ctx, "fresh"); err != nil {
		t.Errorf("fresh doc err = %v", err)
	}
}
