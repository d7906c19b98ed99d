package machine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/riftlabs/statekit/machine/emit"
	"github.com/riftlabs/statekit/machine/store"
)

// Driver is the reference outer loop described in §4.5: it owns the
// atomic frame for one run, invokes the STF, commits state before
// submitting actions to the executor, and feeds tracked-action
// completions back in as inputs.
//
// A Driver hosts exactly one run (identified by RunID). Running many
// concurrent runs means constructing many Drivers; the framework makes
// no claims about coordination between them.
type Driver[S, N, R, T, U any] struct {
	opener   store.Opener[S]
	runID    string
	stf      STF[S, N, R, T, U]
	restore  Restorer[S, T, U]
	executor Executor[T, U, R]

	emitter emit.Emitter
	metrics *PrometheusMetrics

	actionCapacity int
	queue          chan Input[N, R]

	pendingMu  sync.Mutex
	pendingSet map[ActionID]struct{}

	eventSeq int
}

// NewDriver constructs a Driver for runID, backed by opener for
// persistence, stf for transitions, restore for crash recovery, and
// executor for dispatching actions.
func NewDriver[S, N, R, T, U any](
	opener store.Opener[S],
	runID string,
	stf STF[S, N, R, T, U],
	restore Restorer[S, T, U],
	executor Executor[T, U, R],
	opts ...Option[S, N, R, T, U],
) *Driver[S, N, R, T, U] {
	cfg := defaultConfig[S, N, R, T, U]()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Driver[S, N, R, T, U]{
		opener:         opener,
		runID:          runID,
		stf:            stf,
		restore:        restore,
		executor:       executor,
		emitter:        cfg.emitter,
		metrics:        cfg.metrics,
		actionCapacity: cfg.actionCapacity,
		queue:          make(chan Input[N, R], cfg.queueDepth),
		pendingSet:     make(map[ActionID]struct{}),
	}
}

// Enqueue submits a Normal input for processing. It blocks until the
// driver's queue has room or ctx is done.
func (d *Driver[S, N, R, T, U]) Enqueue(ctx context.Context, payload N) error {
	select {
	case d.queue <- NewNormalInput[N, R](payload):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit implements Submitter[R]: it reports a Tracked action's result,
// which enters the same queue as any other input (§5: completions are
// inputs, processed serially in arrival order).
func (d *Driver[S, N, R, T, U]) Submit(ctx context.Context, id ActionID, result R) error {
	d.pendingMu.Lock()
	delete(d.pendingSet, id)
	n := len(d.pendingSet)
	d.pendingMu.Unlock()
	if d.metrics != nil {
		d.metrics.setTrackedPending(d.runID, n)
	}

	select {
	case d.queue <- NewCompletionInput[N, R](id, result):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue performs a non-blocking receive from the driver's input queue,
// for callers that want to drive Step themselves instead of using Run —
// notably the simulation harness, which must interleave its own
// generated inputs with pending completions under a single goroutine to
// keep a run reproducible from its seed.
func (d *Driver[S, N, R, T, U]) Dequeue() (Input[N, R], bool) {
	select {
	case input := <-d.queue:
		return input, true
	default:
		var zero Input[N, R]
		return zero, false
	}
}

// Run drains the input queue, processing one input at a time via Step,
// until ctx is cancelled. A Step error is emitted but does not stop the
// loop; the caller decides via the emitter/metrics whether to intervene.
func (d *Driver[S, N, R, T, U]) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case input := <-d.queue:
			if err := d.Step(ctx, input); err != nil {
				d.emitter.Emit(emit.Event{
					RunID: d.runID,
					Seq:   d.nextSeq(),
					Phase: "driver",
					Msg:   "step_failed",
					Meta:  map[string]interface{}{"error": err.Error()},
				})
			}
		}
	}
}

// Step performs one full outer-loop iteration for input: clear actions,
// open a frame, invoke the STF, and on success commit-then-submit; on
// failure, roll back and discard the actions (I-1).
func (d *Driver[S, N, R, T, U]) Step(ctx context.Context, input Input[N, R]) error {
	start := time.Now()
	actions := NewActions[T, U](d.actionCapacity)

	frame, err := d.opener.Open(ctx, d.runID)
	if err != nil {
		return fmt.Errorf("machine: open frame: %w", err)
	}

	state, err := frame.Read(ctx)
	if err != nil {
		_ = frame.Rollback(ctx)
		return fmt.Errorf("machine: read state: %w", err)
	}

	txErr := d.stf.Transition(ctx, &state, input, actions)
	if txErr != nil {
		_ = frame.Rollback(ctx)
		d.recordTransition("error", time.Since(start))
		if errors.Is(txErr, ErrCapacityExceeded) && d.metrics != nil {
			d.metrics.incCapacityExceeded(d.runID)
		}
		d.emitTransition("transition_failed", txErr)
		return txErr
	}

	if err := frame.Write(ctx, state); err != nil {
		_ = frame.Rollback(ctx)
		return fmt.Errorf("machine: write state: %w", err)
	}

	if ew, ok := frame.(store.EventWriter); ok {
		seq := d.nextSeq()
		ev := emit.Event{RunID: d.runID, Seq: seq, Phase: "stf", Msg: "transition_applied"}
		eventID := fmt.Sprintf("%s-%d", d.runID, seq)
		if err := ew.AppendEvent(ctx, eventID, ev); err != nil {
			_ = frame.Rollback(ctx)
			return fmt.Errorf("machine: append event: %w", err)
		}
	}

	if err := frame.Commit(ctx); err != nil {
		return fmt.Errorf("machine: commit frame: %w", err)
	}

	d.recordTransition("ok", time.Since(start))
	d.emitTransition("transition_applied", nil)

	return d.dispatch(ctx, actions)
}

// drainEventBatch bounds how many outbox rows one DrainEvents call
// processes.
const drainEventBatch = 100

// DrainEvents flushes events a prior Step staged into the transactional
// outbox (store.EventWriter) but that never reached the emitter —
// notably ones staged by a transition whose process crashed between
// Commit and the in-memory Emit call. It reads up to drainEventBatch
// pending rows, emits each, and marks the batch delivered; Restore calls
// it before replaying pending actions, but a caller may also invoke it
// on a timer to bound outbox growth on a long-lived run.
func (d *Driver[S, N, R, T, U]) DrainEvents(ctx context.Context) (int, error) {
	events, err := d.opener.PendingEvents(ctx, drainEventBatch)
	if err != nil {
		return 0, fmt.Errorf("machine: pending events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(events))
	for _, oe := range events {
		d.emitter.Emit(oe.Event)
		ids = append(ids, oe.ID)
	}

	if err := d.opener.MarkEventsEmitted(ctx, ids); err != nil {
		return 0, fmt.Errorf("machine: mark events emitted: %w", err)
	}
	return len(events), nil
}

// Restore implements step 7 of the driver contract: drain any outbox
// events left over from before the crash, open a read-only frame,
// invoke Restore on its state, and submit whatever it queues. Restore
// never mutates state, so no commit is needed.
func (d *Driver[S, N, R, T, U]) Restore(ctx context.Context) error {
	if _, err := d.DrainEvents(ctx); err != nil {
		return fmt.Errorf("machine: drain events: %w", err)
	}

	actions := NewActions[T, U](d.actionCapacity)

	frame, err := d.opener.OpenReadOnly(ctx, d.runID)
	if err != nil {
		return fmt.Errorf("machine: open read-only frame: %w", err)
	}

	state, err := frame.Read(ctx)
	if err != nil {
		_ = frame.Rollback(ctx)
		return fmt.Errorf("machine: read state: %w", err)
	}

	if err := d.restore.Restore(ctx, state, actions); err != nil {
		_ = frame.Rollback(ctx)
		return fmt.Errorf("machine: restore: %w", err)
	}
	_ = frame.Rollback(ctx)

	if d.metrics != nil {
		d.metrics.addRestoreActions(d.runID, actions.Len())
	}
	d.emitter.Emit(emit.Event{RunID: d.runID, Seq: d.nextSeq(), Phase: "restore", Msg: "restore_completed",
		Meta: map[string]interface{}{"actions": actions.Len()}})

	return d.dispatch(ctx, actions)
}

func (d *Driver[S, N, R, T, U]) dispatch(ctx context.Context, actions *Actions[T, U]) error {
	items := actions.Iter()
	if len(items) == 0 {
		return nil
	}

	d.pendingMu.Lock()
	for _, act := range items {
		if act.IsTracked() {
			d.pendingSet[act.ID()] = struct{}{}
		}
	}
	n := len(d.pendingSet)
	d.pendingMu.Unlock()
	if d.metrics != nil {
		d.metrics.setTrackedPending(d.runID, n)
	}

	if err := d.executor.Dispatch(ctx, items, d); err != nil {
		return fmt.Errorf("machine: dispatch: %w", err)
	}
	return nil
}

func (d *Driver[S, N, R, T, U]) recordTransition(result string, latency time.Duration) {
	if d.metrics != nil {
		d.metrics.observeTransition(d.runID, result, latency)
	}
}

func (d *Driver[S, N, R, T, U]) emitTransition(msg string, err error) {
	meta := map[string]interface{}{}
	if err != nil {
		meta["error"] = err.Error()
	}
	d.emitter.Emit(emit.Event{RunID: d.runID, Seq: d.nextSeq(), Phase: "stf", Msg: msg, Meta: meta})
}

func (d *Driver[S, N, R, T, U]) nextSeq() int {
	d.eventSeq++
	return d.eventSeq
}
