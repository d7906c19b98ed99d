package machine

// Input is the tagged union an STF receives: either a Normal input from
// outside the machine, or the completion of a previously Tracked action,
// correlated by ActionID.
type Input[N, R any] struct {
	completion bool
	normal     N
	actionID   ActionID
	result     R
}

// NewNormalInput wraps a domain input as a Normal Input.
func NewNormalInput[N, R any](payload N) Input[N, R] {
	return Input[N, R]{normal: payload}
}

// NewCompletionInput wraps the result of a Tracked action as a
// TrackedActionCompleted Input, correlated to id.
func NewCompletionInput[N, R any](id ActionID, result R) Input[N, R] {
	return Input[N, R]{completion: true, actionID: id, result: result}
}

// IsCompletion reports whether in is a TrackedActionCompleted input.
func (in Input[N, R]) IsCompletion() bool {
	return in.completion
}

// Normal returns in's domain payload along with whether in is Normal. If
// in is a completion, it returns the zero value of N and false.
func (in Input[N, R]) Normal() (N, bool) {
	return in.normal, !in.completion
}

// Completion returns the ActionID and result of a TrackedActionCompleted
// input, along with whether in actually is one. If in is Normal, it
// returns the zero ActionID, the zero value of R, and false.
func (in Input[N, R]) Completion() (ActionID, R, bool) {
	return in.actionID, in.result, in.completion
}
