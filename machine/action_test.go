package machine_test

import (
	"testing"

	"github.com/riftlabs/statekit/machine"
)

func TestActionsAddAndIter(t *testing.T) {
	acts := machine.NewActions[string, int](0)

	if err := acts.Add(machine.Tracked[string, int](1, "charge")); err != nil {
		t.Fatalf("Add tracked: %v", err)
	}
	if err := acts.Add(machine.Untracked[string, int](42)); err != nil {
		t.Fatalf("Add untracked: %v", err)
	}

	items := acts.Iter()
	if len(items) != 2 {
		t.Fatalf("Len = %d, want 2", len(items))
	}
	if payload, ok := items[0].TrackedPayload(); !ok || payload != "charge" {
		t.Fatalf("items[0] = %v, %v, want \"charge\", true", payload, ok)
	}
	if payload, ok := items[1].UntrackedPayload(); !ok || payload != 42 {
		t.Fatalf("items[1] = %v, %v, want 42, true", payload, ok)
	}
}

func TestActionsCapacityExceeded(t *testing.T) {
	acts := machine.NewActions[string, int](1)
	if err := acts.Add(machine.Untracked[string, int](1)); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := acts.Add(machine.Untracked[string, int](2)); err != machine.ErrCapacityExceeded {
		t.Fatalf("second Add = %v, want ErrCapacityExceeded", err)
	}
}

func TestActionsClear(t *testing.T) {
	acts := machine.NewActions[string, int](0)
	_ = acts.Add(machine.Untracked[string, int](1))
	acts.Clear()
	if acts.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", acts.Len())
	}
}

func TestNextActionIDIsMonotone(t *testing.T) {
	var counter uint64
	first := machine.NextActionID(&counter)
	second := machine.NextActionID(&counter)
	if first == second {
		t.Fatal("NextActionID returned the same id twice")
	}
	if second != first+1 {
		t.Fatalf("second id = %d, want %d", second, first+1)
	}
}
