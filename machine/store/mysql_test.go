package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/riftlabs/statekit/machine/store"
)

// TestMySQLOpenerRowLockSerializes verifies that Open takes a row lock: a
// second Open for the same run ID (from a separate connection) blocks until
// the first frame commits or rolls back, which is what lets multiple driver
// processes share one MySQL instance without stepping on each other.
//
// Requires TEST_MYSQL_DSN pointing at a reachable, disposable database.
func TestMySQLOpenerRowLockSerializes(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set, skipping MySQL integration test")
	}

	ctx := context.Background()
	o, err := store.NewMySQLOpener[ledgerState](dsn)
	if err != nil {
		t.Fatalf("NewMySQLOpener: %v", err)
	}
	defer o.Close()

	runID := "mysql-lock-test"

	// The lock is on the run's row, so commit once to make sure it exists.
	seed, err := o.Open(ctx, runID)
	if err != nil {
		t.Fatalf("seed Open: %v", err)
	}
	if err := seed.Write(ctx, ledgerState{Balance: 1}); err != nil {
		t.Fatalf("seed Write: %v", err)
	}
	if err := seed.Commit(ctx); err != nil {
		t.Fatalf("seed Commit: %v", err)
	}

	frame, err := o.Open(ctx, runID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := frame.Write(ctx, ledgerState{Balance: 7}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		frame2, err := o.Open(ctx, runID)
		if err != nil {
			t.Errorf("second Open: %v", err)
			return
		}
		state, err := frame2.Read(ctx)
		if err != nil {
			t.Errorf("second Read: %v", err)
			return
		}
		if state.Balance != 7 {
			t.Errorf("second Read Balance = %d, want 7 (must observe first frame's commit)", state.Balance)
		}
		_ = frame2.Rollback(ctx)
	}()

	select {
	case <-done:
		t.Fatal("second Open returned before first frame committed; row lock did not serialize")
	default:
	}

	if err := frame.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	<-done
}
