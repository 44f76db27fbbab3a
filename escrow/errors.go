package escrow

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation signals malformed create input or a milestone sum mismatch.
	ErrValidation = errors.New("escrow: validation failed")
	// ErrNotFound signals an unknown transaction or milestone identifier.
	ErrNotFound = errors.New("escrow: not found")
	// ErrInvalidState signals an operation illegal for the current status.
	ErrInvalidState = errors.New("escrow: invalid state")
	// ErrInvariant signals a mutation that would break the amount-sum or
	// audit-ordering guarantees.
	ErrInvariant = errors.New("escrow: invariant violation")
	// ErrStorage marks persistence-layer failures. State is unchanged when it
	// is returned; the engine never assumes a write succeeded without
	// confirmation.
	ErrStorage = errors.New("escrow: storage failure")
)

// storageError wraps a database error so callers can match ErrStorage with
// errors.Is while the original pgx error stays on the chain.
type storageError struct {
	op  string
	err error
}

func (e *storageError) Error() string {
	return fmt.Sprintf("escrow: %s: %v", e.op, e.err)
}

func (e *storageError) Unwrap() error { return e.err }

func (e *storageError) Is(target error) bool { return target == ErrStorage }

func storagef(op string, err error) error {
	return &storageError{op: op, err: err}
}
