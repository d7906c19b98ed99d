package machine

import "context"

// STF is the state-transition function contract: given the current state
// and one input, it mutates state in place and queues zero or more
// actions, or returns an error and leaves state untouched from the
// driver's perspective.
//
// Implementations must satisfy:
//
//   - I-1 (atomicity): on error, any mutation already applied to *state
//     is discarded by the driver, not by the implementation. An STF may
//     freely mutate state before detecting an invalid input and still
//     return an error; it may also have queued actions on that path, which
//     the driver discards without dispatching.
//   - I-2 (determinism): given identical (state, input), Transition must
//     queue identical actions and leave state identical, every time. Do
//     not read the wall clock, a random source, or process-local state.
//   - I-3 (storage before emission): Transition only queues actions; it
//     never dispatches them itself. The driver commits the new state
//     before any action is handed to an executor. The queued actions are
//     not persisted, so a Tracked action survives a crash only through the
//     record the STF wrote into state for it.
//
// Type parameters: S is the domain state, N the normal input payload, R
// the result payload of a completed tracked action, T the tracked action
// payload, U the untracked action payload.
type STF[S, N, R, T, U any] interface {
	Transition(ctx context.Context, state *S, input Input[N, R], actions *Actions[T, U]) error
}

// STFFunc adapts a plain function to the STF interface.
type STFFunc[S, N, R, T, U any] func(ctx context.Context, state *S, input Input[N, R], actions *Actions[T, U]) error

// Transition implements STF for STFFunc.
func (f STFFunc[S, N, R, T, U]) Transition(ctx context.Context, state *S, input Input[N, R], actions *Actions[T, U]) error {
	return f(ctx, state, input, actions)
}
