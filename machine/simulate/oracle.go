package simulate

import (
	"context"
	"math/rand"

	"github.com/riftlabs/statekit/machine"
)

// Oracle substitutes for the production Executor in a simulation run. It
// resolves every Tracked action synchronously using a seeded RNG, so a
// given seed always produces the same sequence of completions regardless
// of wall-clock timing.
type Oracle[T, U, R any] struct {
	rng       *rand.Rand
	resultFor func(rng *rand.Rand, payload T) R
}

// NewOracle returns an Oracle driven by rng, calling resultFor once per
// Tracked action to synthesize its result.
func NewOracle[T, U, R any](rng *rand.Rand, resultFor func(rng *rand.Rand, payload T) R) *Oracle[T, U, R] {
	return &Oracle[T, U, R]{rng: rng, resultFor: resultFor}
}

// Dispatch implements machine.Executor. Untracked actions are dropped;
// Tracked actions are resolved immediately through submitter.
func (o *Oracle[T, U, R]) Dispatch(ctx context.Context, actions []machine.Action[T, U], submitter machine.Submitter[R]) error {
	for _, act := range actions {
		payload, ok := act.TrackedPayload()
		if !ok {
			continue
		}
		result := o.resultFor(o.rng, payload)
		if err := submitter.Submit(ctx, act.ID(), result); err != nil {
			return err
		}
	}
	return nil
}
