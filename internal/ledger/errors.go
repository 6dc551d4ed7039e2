package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrAlreadyExists      = errors.New("username already exists")
	ErrUnauthorized       = errors.New("authentication failed")
	ErrSelfTransfer       = errors.New("cannot transfer to yourself")
	ErrSenderNotFound     = errors.New("sender account not found")
	ErrReceiverNotFound   = errors.New("receiver account not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrNotFound           = errors.New("account not found")
	ErrPersistenceFailure = errors.New("persistence failure")
)

// PersistenceError is returned when a mutation could not be made durable.
// Applied reports whether the in-memory ledger already holds the mutation.
type PersistenceError struct {
	Op      string
	Applied bool
	Err     error
}

func (e *PersistenceError) Error() string {
	if e.Applied {
		return fmt.Sprintf("%s: applied in memory but not saved: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistenceFailure, e.Err}
}
