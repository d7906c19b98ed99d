package machine

import "context"

// Submitter is how an Executor reports the result of a Tracked action
// back to the Driver. Submit enqueues a TrackedActionCompleted input for
// a future Step call; it does not invoke the STF synchronously, since an
// executor may call it from any goroutine at any time relative to the
// driver's own loop.
type Submitter[R any] interface {
	Submit(ctx context.Context, id ActionID, result R) error
}

// Executor is the external collaborator that physically performs the
// side effects an STF only described. Dispatch is handed every action
// queued by a committed transition, in append order (§5: the executor
// need not preserve that order in side-effect observation, only in the
// order it receives the slice).
//
// Untracked actions are fire-and-forget: Dispatch may perform them
// however it likes and need not report anything back. Tracked actions
// must eventually be reported through submitter.Submit, exactly once
// per ActionID, even across process restarts (a crash before reporting
// is recovered by Restore re-queuing the same action).
type Executor[T, U, R any] interface {
	Dispatch(ctx context.Context, actions []Action[T, U], submitter Submitter[R]) error
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc[T, U, R any] func(ctx context.Context, actions []Action[T, U], submitter Submitter[R]) error

// Dispatch implements Executor for ExecutorFunc.
func (f ExecutorFunc[T, U, R]) Dispatch(ctx context.Context, actions []Action[T, U], submitter Submitter[R]) error {
	return f(ctx, actions, submitter)
}
