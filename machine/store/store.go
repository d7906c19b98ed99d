// Package store provides persistence implementations for machine state: the
// atomic frame the core transition contract requires, plus a debugging
// "peek" path and a transactional outbox for observability events.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/riftlabs/statekit/machine/emit"
)

// ErrNotFound is returned when a requested run ID has no persisted state.
var ErrNotFound = errors.New("store: run not found")

// ErrAlreadyCommitted is returned by Commit when another commit for the
// same run has landed since the frame was opened, guarding against a
// confused driver double-applying a stale in-flight commit.
var ErrAlreadyCommitted = errors.New("store: step already committed")

// Frame is the atomic unit of state access the core contract requires:
// open, read, write, and then exactly one of commit or rollback.
//
// A Frame is valid only between Open and the terminal Commit/Rollback
// call; using it afterward returns an implementation-specific "frame
// closed" error particular to the backend (this package does not import
// machine, to avoid a cycle, so it has no shared sentinel to return).
type Frame[S any] interface {
	// Read returns the state as of frame open. For a fresh run (no prior
	// committed step), Read returns the zero value of S and no error; a
	// caller distinguishes "brand new run" from "existing run" via Step()==0.
	Read(ctx context.Context) (S, error)

	// Write stages state for the pending step. It does not persist until
	// Commit is called.
	Write(ctx context.Context, state S) error

	// Commit durably persists the staged state. After Commit, the frame is
	// closed; further calls fail.
	Commit(ctx context.Context) error

	// Rollback discards any staged state, leaving persisted state
	// byte-identical to what Read returned. After Rollback, the frame is
	// closed; further calls fail.
	Rollback(ctx context.Context) error

	// Step returns the step number this frame was opened at (0 for a fresh
	// run with no committed history).
	Step() int
}

// Opener produces Frames for a run and offers out-of-band inspection that
// does not go through the open/commit/rollback lifecycle.
type Opener[S any] interface {
	// Open starts a read-write frame for the next transition on runID.
	Open(ctx context.Context, runID string) (Frame[S], error)

	// OpenReadOnly starts a frame suitable for Restore: Write/Commit on it
	// must fail, since Restore (I-4) never mutates state.
	OpenReadOnly(ctx context.Context, runID string) (Frame[S], error)

	// Peek returns the latest committed state for runID without opening a
	// frame, for debugging/inspection. Returns ErrNotFound if runID has no
	// committed history.
	Peek(ctx context.Context, runID string) (S, error)

	// PendingEvents returns observability events persisted alongside state
	// changes but not yet marked emitted (transactional outbox pattern),
	// oldest first, bounded by limit.
	PendingEvents(ctx context.Context, limit int) ([]OutboxEvent, error)

	// MarkEventsEmitted records that the given outbox event ids were
	// delivered, so PendingEvents stops returning them.
	MarkEventsEmitted(ctx context.Context, ids []string) error
}

// EventWriter is implemented by Frames that can stage an observability
// event into the transactional outbox within the same Commit as a state
// write, so the event survives a crash between dispatch and emission.
// Implementing it is optional; callers type-assert for it.
type EventWriter interface {
	AppendEvent(ctx context.Context, id string, ev emit.Event) error
}

// OutboxEvent pairs a persisted emit.Event with the id used to mark it
// delivered.
type OutboxEvent struct {
	ID        string
	RunID     string
	Event     emit.Event
	Timestamp time.Time
}
