package machine

import "context"

// Restorer rebuilds in-flight work after a crash or restart. It is a pure
// function of the committed state S: given the same S, it must queue the
// same actions every time (P-3, restore idempotence).
//
// Restore must satisfy:
//
//   - I-4 (no mutation): state is passed by value, not by pointer,
//     specifically so an implementation cannot accidentally commit a
//     state change through Restore; only Transition may mutate state.
//   - Exactly one action per pending record: for every Tracked action the
//     committed state still considers outstanding, Restore queues exactly
//     one action correlated to that same ActionID. It may substitute a
//     status-check payload (e.g. "has this completed?") for the original
//     dispatch payload if that is cheaper or safer to repeat, but it must
//     not invent new ActionIDs or drop a pending one.
//   - Determinism: like Transition, Restore must not read the wall clock,
//     a random source, or any process-local state.
//
// The driver clears actions before calling Restore and submits whatever
// Restore queues once the read-only frame is closed.
type Restorer[S, T, U any] interface {
	Restore(ctx context.Context, state S, actions *Actions[T, U]) error
}

// RestorerFunc adapts a plain function to the Restorer interface.
type RestorerFunc[S, T, U any] func(ctx context.Context, state S, actions *Actions[T, U]) error

// Restore implements Restorer for RestorerFunc.
func (f RestorerFunc[S, T, U]) Restore(ctx context.Context, state S, actions *Actions[T, U]) error {
	return f(ctx, state, actions)
}
