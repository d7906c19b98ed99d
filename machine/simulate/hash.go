// Package simulate provides a deterministic test harness for machine.Driver:
// seeded input generation, a seeded oracle standing in for the executor, an
// invariant check between every transition, and crash injection that
// exercises the Restore path mid-run.
package simulate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// StateHash returns a stable digest of state, for asserting P-2
// (determinism): two runs seeded identically must produce the same
// sequence of hashes at the same operation indices.
func StateHash[S any](state S) (string, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("simulate: marshal state: %w", err)
	}
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
