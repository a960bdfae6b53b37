package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/taskwise/taskwise/pkg/models"
)

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session := &models.Session{UserID: "user-1", Key: SessionKey("user-1", "main")}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if session.ID == "" {
		t.Fatal("expected generated session ID")
	}

	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UserID != "user-1" {
		t.Errorf("expected user-1, got %q", got.UserID)
	}
}

func TestMemoryStore_GetOrCreate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := SessionKey("user-1", "main")

	first, err := store.GetOrCreate(ctx, key, "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	second, err := store.GetOrCreate(ctx, key, "user-1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected same session for key, got %q and %q", first.ID, second.ID)
	}
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_HistoryOrderAndLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session := &models.Session{UserID: "u"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatal(err)
	}

	for i, content := range []string{"first", "second", "third"} {
		msg := &models.Message{
			Role:      models.RoleUser,
			Content:   content,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Millisecond),
		}
		if err := store.AppendMessage(ctx, session.ID, msg); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	history, err := store.GetHistory(ctx, session.ID, 2)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Content != "second" || history[1].Content != "third" {
		t.Errorf("expected most recent messages in order, got %q then %q", history[0].Content, history[1].Content)
	}
}

func TestMemoryStore_CloneIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session := &models.Session{UserID: "u", Metadata: map[string]any{"tz": "UTC"}}
	if err := store.Create(ctx, session); err != nil {
		t.Fatal(err)
	}

	got, _ := store.Get(ctx, session.ID)
	got.Metadata["tz"] = "America/New_York"

	again, _ := store.Get(ctx, session.ID)
	if again.Metadata["tz"] != "UTC" {
		t.Error("mutating a returned session leaked into the store")
	}
}

func TestLockManager_SerializesWriters(t *testing.T) {
	mgr := NewLockManager(time.Second)
	ctx := context.Background()

	release, err := mgr.Acquire(ctx, "s1", "runner-a", time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if _, ok := mgr.TryAcquire("s1", "runner-b"); ok {
		t.Fatal("expected TryAcquire to fail while lock is held")
	}
	if !mgr.IsLocked("s1") {
		t.Error("expected session to report locked")
	}

	release()

	release2, ok := mgr.TryAcquire("s1", "runner-b")
	if !ok {
		t.Fatal("expected TryAcquire to succeed after release")
	}
	release2()
}

func TestLockManager_AcquireTimesOut(t *testing.T) {
	mgr := NewLockManager(time.Second)
	ctx := context.Background()

	release, err := mgr.Acquire(ctx, "s1", "runner-a", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	if _, err := mgr.Acquire(ctx, "s1", "runner-b", 10*time.Millisecond); err != ErrLockTimeout {
		t.Errorf("expected ErrLockTimeout, got %v", err)
	}
}

func TestLockManager_TimeoutLeavesLockUsable(t *testing.T) {
	mgr := NewLockManager(time.Second)
	ctx := context.Background()

	release, err := mgr.Acquire(ctx, "s1", "runner-a", time.Second)
	if err != nil {
		t.Fatal(err)
	}

	// A contended acquire that times out must not disturb the holder.
	if _, err := mgr.Acquire(ctx, "s1", "runner-b", 10*time.Millisecond); err != ErrLockTimeout {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if !mgr.IsLocked("s1") {
		t.Error("expected session to stay locked after a timed-out acquire")
	}

	release()

	release2, err := mgr.Acquire(ctx, "s1", "runner-b", time.Second)
	if err != nil {
		t.Fatalf("expected acquire to succeed after release, got %v", err)
	}
	release2()
}

func TestLockManager_WaiterProceedsAfterRelease(t *testing.T) {
	mgr := NewLockManager(time.Second)
	ctx := context.Background()

	release, err := mgr.Acquire(ctx, "s1", "runner-a", time.Second)
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	release2, err := mgr.Acquire(ctx, "s1", "runner-b", time.Second)
	if err != nil {
		t.Fatalf("expected waiter to acquire once the lock is released, got %v", err)
	}
	release2()
}

func TestLockManager_AcquireHonorsContextCancel(t *testing.T) {
	mgr := NewLockManager(time.Second)

	release, err := mgr.Acquire(context.Background(), "s1", "runner-a", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := mgr.Acquire(ctx, "s1", "runner-b", time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestLockManager_ReleaseIsIdempotent(t *testing.T) {
	mgr := NewLockManager(time.Second)
	ctx := context.Background()

	release, err := mgr.Acquire(ctx, "s1", "runner-a", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	release()
	release()

	// A duplicate release must not steal the lock from the next holder.
	release2, ok := mgr.TryAcquire("s1", "runner-b")
	if !ok {
		t.Fatal("expected TryAcquire to succeed after release")
	}
	if !mgr.IsLocked("s1") {
		t.Error("expected session to report locked for the new holder")
	}
	release2()
}
