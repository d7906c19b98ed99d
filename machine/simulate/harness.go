package simulate

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/riftlabs/statekit/machine"
	"github.com/riftlabs/statekit/machine/store"
)

// DriverFactory builds a fresh Driver bound to the same opener, run ID,
// STF, Restorer, and Executor every time it is called. The harness uses
// it once up front and again on every injected crash, so each rebuild
// must be side-effect-free besides the Driver construction itself.
type DriverFactory[S, N, R, T, U any] func() *machine.Driver[S, N, R, T, U]

// Harness drives a Driver deterministically from a seed: it generates
// Normal inputs, prioritizes any pending Tracked-action completion ahead
// of a fresh input (mirroring §5's single serial input queue), and checks
// a user invariant after every Step.
type Harness[S, N, R, T, U any] struct {
	opener  store.Opener[S]
	runID   string
	factory DriverFactory[S, N, R, T, U]
	driver  *machine.Driver[S, N, R, T, U]

	seed int64
	rng  *rand.Rand

	generateInput   func(rng *rand.Rand, state S) (N, bool)
	checkInvariants func(state S) error
}

// NewHarness seeds a Harness. generateInput returns the next Normal input
// to feed given the current state, or ok=false to signal the run is out
// of new inputs to generate (pending completions may still drive further
// steps). checkInvariants is called with the freshly committed state
// after every Step.
func NewHarness[S, N, R, T, U any](
	seed int64,
	opener store.Opener[S],
	runID string,
	factory DriverFactory[S, N, R, T, U],
	generateInput func(rng *rand.Rand, state S) (N, bool),
	checkInvariants func(state S) error,
) *Harness[S, N, R, T, U] {
	return &Harness[S, N, R, T, U]{
		opener:          opener,
		runID:           runID,
		factory:         factory,
		driver:          factory(),
		seed:            seed,
		rng:             rand.New(rand.NewSource(seed)),
		generateInput:   generateInput,
		checkInvariants: checkInvariants,
	}
}

// maxNoProgressStreak bounds how many consecutive freshly generated (not
// pending-completion) inputs may pass through Step without the state hash
// changing before Run concludes the machine under test is stuck.
const maxNoProgressStreak = 8

// Run executes up to maxOps transitions. It stops early, with no error,
// once generateInput returns ok=false and no completion is pending. It
// also stops early, with ErrNoProgress, if maxNoProgressStreak freshly
// generated inputs in a row each leave the state hash unchanged — a
// generator that keeps offering input the machine never acts on. A Step
// failure or invariant violation aborts the run and returns an error
// naming the seed and the operation index, so the failure is
// reproducible from those two numbers alone.
func (h *Harness[S, N, R, T, U]) Run(ctx context.Context, maxOps int) (int, error) {
	noProgressStreak := 0

	for op := 0; op < maxOps; op++ {
		input, hasPending := h.driver.Dequeue()
		if !hasPending {
			payload, ok := h.generateInput(h.rng, h.currentState(ctx))
			if !ok {
				return op, nil
			}
			input = machine.NewNormalInput[N, R](payload)
		}

		beforeHash, err := StateHash(h.currentState(ctx))
		if err != nil {
			return op, fmt.Errorf("simulate: seed=%d op=%d: hash state: %w", h.seed, op, err)
		}

		if err := h.driver.Step(ctx, input); err != nil {
			return op, fmt.Errorf("simulate: seed=%d op=%d: step failed: %w", h.seed, op, err)
		}

		if h.checkInvariants != nil {
			if err := h.checkInvariants(h.currentState(ctx)); err != nil {
				return op, fmt.Errorf("simulate: seed=%d op=%d: invariant violated: %w", h.seed, op, err)
			}
		}

		afterHash, err := StateHash(h.currentState(ctx))
		if err != nil {
			return op, fmt.Errorf("simulate: seed=%d op=%d: hash state: %w", h.seed, op, err)
		}

		if !hasPending && afterHash == beforeHash {
			noProgressStreak++
			if noProgressStreak >= maxNoProgressStreak {
				return op, fmt.Errorf("simulate: seed=%d op=%d: %w", h.seed, op, machine.ErrNoProgress)
			}
		} else {
			noProgressStreak = 0
		}
	}
	return maxOps, nil
}

func (h *Harness[S, N, R, T, U]) currentState(ctx context.Context) S {
	state, err := h.opener.Peek(ctx, h.runID)
	if err != nil {
		var zero S
		return zero
	}
	return state
}

// InjectCrash simulates a process restart: it drops the in-memory Driver
// entirely, builds a fresh one over the same persisted state via factory,
// and runs Restore on it, exercising exactly the recovery path a real
// deployment relies on.
func (h *Harness[S, N, R, T, U]) InjectCrash(ctx context.Context) error {
	h.driver = h.factory()
	if err := h.driver.Restore(ctx); err != nil {
		return fmt.Errorf("simulate: seed=%d: restore after crash: %w", h.seed, err)
	}
	return nil
}

// Seed returns the seed this harness was constructed with, for logging a
// failure alongside its reproduction recipe.
func (h *Harness[S, N, R, T, U]) Seed() int64 {
	return h.seed
}
