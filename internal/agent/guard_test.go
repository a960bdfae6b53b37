package agent

import (
	"errors"
	"testing"

	"github.com/taskwise/taskwise/pkg/models"
)

func historyOfRoles(roles ...models.Role) []*models.Message {
	out := make([]*models.Message, len(roles))
	for i, role := range roles {
		out[i] = &models.Message{Role: role}
	}
	return out
}

func TestFingerprint_Deterministic(t *testing.T) {
	history := historyOfRoles(models.RoleUser, models.RoleAssistant, models.RoleTool)

	a := Fingerprint("user-1", "create a task", history, []string{"createTask"})
	b := Fingerprint("user-1", "create a task", history, []string{"createTask"})
	if a != b {
		t.Errorf("expected identical fingerprints, got %q and %q", a, b)
	}
}

func TestFingerprint_SortsPriorTools(t *testing.T) {
	history := historyOfRoles(models.RoleUser)

	a := Fingerprint("u", "m", history, []string{"b", "a"})
	b := Fingerprint("u", "m", history, []string{"a", "b"})
	if a != b {
		t.Error("expected prior tool order not to affect the fingerprint")
	}
}

func TestFingerprint_ComponentsChangeFingerprint(t *testing.T) {
	history := historyOfRoles(models.RoleUser, models.RoleAssistant)
	base := Fingerprint("user-1", "hello", history, []string{"listTasks"})

	variants := []string{
		Fingerprint("user-2", "hello", history, []string{"listTasks"}),
		Fingerprint("user-1", "goodbye", history, []string{"listTasks"}),
		Fingerprint("user-1", "hello", historyOfRoles(models.RoleUser), []string{"listTasks"}),
		Fingerprint("user-1", "hello", history, []string{"createTask"}),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d should differ from base fingerprint", i)
		}
	}
}

func TestLoopGuard_DuplicateFingerprint(t *testing.T) {
	guard := NewLoopGuard()

	if err := guard.CheckAndRecord("fp-1"); err != nil {
		t.Fatalf("first occurrence should pass: %v", err)
	}
	if err := guard.CheckAndRecord("fp-2"); err != nil {
		t.Fatalf("different fingerprint should pass: %v", err)
	}

	err := guard.CheckAndRecord("fp-1")
	if !errors.Is(err, ErrLoopDetected) {
		t.Errorf("expected ErrLoopDetected on repeat, got %v", err)
	}
}

func TestLoopGuard_OscillationAtCeiling(t *testing.T) {
	guard := NewLoopGuard()

	if err := guard.RecordToolCalls([]string{"createTask"}); err != nil {
		t.Fatalf("first call should pass: %v", err)
	}
	if err := guard.RecordToolCalls([]string{"createTask"}); err != nil {
		t.Fatalf("second call should pass: %v", err)
	}

	err := guard.RecordToolCalls([]string{"createTask"})
	if !errors.Is(err, ErrOscillation) {
		t.Errorf("expected ErrOscillation on third call, got %v", err)
	}
}

func TestLoopGuard_CountersAreIndependent(t *testing.T) {
	guard := NewLoopGuard()

	for i := 0; i < 2; i++ {
		if err := guard.RecordToolCalls([]string{"createTask", "listTasks"}); err != nil {
			t.Fatalf("call %d should pass: %v", i, err)
		}
	}
	// A third tool name stays under its own ceiling.
	if err := guard.RecordToolCalls([]string{"getCurrentTime"}); err != nil {
		t.Errorf("unrelated tool should pass: %v", err)
	}
}

func TestLoopGuard_StateDoesNotLeakAcrossRuns(t *testing.T) {
	first := NewLoopGuard()
	if err := first.CheckAndRecord("fp"); err != nil {
		t.Fatal(err)
	}

	second := NewLoopGuard()
	if err := second.CheckAndRecord("fp"); err != nil {
		t.Errorf("fresh guard must not remember prior runs: %v", err)
	}
}
