package machine_test

import (
	"errors"
	"testing"

	"github.com/riftlabs/statekit/machine"
)

func TestDomainErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := &machine.DomainError{Code: "INVALID_AMOUNT", Message: "must be positive", Cause: cause}

	if err.Error() != "INVALID_AMOUNT: must be positive" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should unwrap to cause")
	}
}

func TestDomainErrorWithoutCode(t *testing.T) {
	err := &machine.DomainError{Message: "bad input"}
	if err.Error() != "bad input" {
		t.Fatalf("Error() = %q, want %q", err.Error(), "bad input")
	}
}

func TestResourceErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := &machine.ResourceError{Message: "write failed", Cause: cause}
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should unwrap to cause")
	}
}

func TestRestoreErrorUnwrap(t *testing.T) {
	cause := errors.New("corrupt snapshot")
	err := &machine.RestoreError{Message: "cannot rebuild", Cause: cause}
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should unwrap to cause")
	}
}
