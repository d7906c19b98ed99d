package store

import (
	"context"
	"sync"

	"github.com/riftlabs/statekit/machine/emit"
)

// MemOpener is an in-memory Opener[S], suitable for tests and for
// single-process deployments that don't need state to survive a restart.
//
// MemOpener is safe for concurrent use across different runIDs; frames for
// the same runID are serialized by the caller (the driver guarantees only
// one frame is open per run at a time).
type MemOpener[S any] struct {
	mu     sync.Mutex
	runs   map[string]*memRun[S]
	outbox []OutboxEvent
}

type memRun[S any] struct {
	state S
	step  int
}

// NewMemOpener creates an empty in-memory Opener.
func NewMemOpener[S any]() *MemOpener[S] {
	return &MemOpener[S]{runs: make(map[string]*memRun[S])}
}

// Open returns a read-write frame for runID at its next step.
func (o *MemOpener[S]) Open(_ context.Context, runID string) (Frame[S], error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var snapshot S
	step := 0
	if run, ok := o.runs[runID]; ok {
		snapshot = run.state
		step = run.step
	}

	return &memFrame[S]{
		opener:   o,
		runID:    runID,
		step:     step,
		snapshot: snapshot,
		open:     true,
	}, nil
}

// OpenReadOnly returns a frame whose Write/Commit always fail, for Restore.
func (o *MemOpener[S]) OpenReadOnly(_ context.Context, runID string) (Frame[S], error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	run, ok := o.runs[runID]
	var snapshot S
	step := 0
	if ok {
		snapshot = run.state
		step = run.step
	}

	return &memFrame[S]{
		opener:   o,
		runID:    runID,
		step:     step,
		snapshot: snapshot,
		readOnly: true,
		open:     true,
	}, nil
}

// Peek returns the latest committed state without opening a frame.
func (o *MemOpener[S]) Peek(_ context.Context, runID string) (S, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	run, ok := o.runs[runID]
	if !ok {
		var zero S
		return zero, ErrNotFound
	}
	return run.state, nil
}

// PendingEvents returns up to limit undeliv­ered outbox events, oldest first.
func (o *MemOpener[S]) PendingEvents(_ context.Context, limit int) ([]OutboxEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := len(o.outbox)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]OutboxEvent, n)
	copy(result, o.outbox[:n])
	return result, nil
}

// MarkEventsEmitted removes the given ids from the pending outbox.
func (o *MemOpener[S]) MarkEventsEmitted(_ context.Context, ids []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	remove := make(map[string]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
	}

	filtered := o.outbox[:0:0]
	for _, e := range o.outbox {
		if !remove[e.ID] {
			filtered = append(filtered, e)
		}
	}
	o.outbox = filtered
	return nil
}

// memFrame implements Frame[S] over a MemOpener.
type memFrame[S any] struct {
	opener   *MemOpener[S]
	runID    string
	step     int
	snapshot S
	staged   S
	hasStage bool
	events   []OutboxEvent
	readOnly bool
	open     bool
}

func (f *memFrame[S]) Read(_ context.Context) (S, error) {
	if !f.open {
		return f.snapshot, errClosed
	}
	return f.snapshot, nil
}

func (f *memFrame[S]) Write(_ context.Context, state S) error {
	if !f.open {
		return errClosed
	}
	if f.readOnly {
		return errReadOnly
	}
	f.staged = state
	f.hasStage = true
	return nil
}

func (f *memFrame[S]) Commit(_ context.Context) error {
	if !f.open {
		return errClosed
	}
	if f.readOnly {
		return errReadOnly
	}
	f.opener.mu.Lock()
	run := f.opener.runs[f.runID]
	if run == nil {
		run = &memRun[S]{}
		f.opener.runs[f.runID] = run
	}
	if run.step != f.step {
		f.opener.mu.Unlock()
		f.open = false
		return ErrAlreadyCommitted
	}
	if f.hasStage {
		run.state = f.staged
	}
	run.step = f.step + 1
	f.opener.outbox = append(f.opener.outbox, f.events...)
	f.opener.mu.Unlock()
	f.open = false
	return nil
}

func (f *memFrame[S]) Rollback(_ context.Context) error {
	if !f.open {
		return errClosed
	}
	f.open = false
	return nil
}

func (f *memFrame[S]) Step() int {
	return f.step
}

// AppendEvent stages an observability event; it reaches the opener's
// outbox only when the frame commits. Implements store.EventWriter.
func (f *memFrame[S]) AppendEvent(_ context.Context, id string, ev emit.Event) error {
	if !f.open {
		return errClosed
	}
	f.events = append(f.events, OutboxEvent{ID: id, RunID: f.runID, Event: ev})
	return nil
}
