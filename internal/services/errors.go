package services

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ──────────────────────────────────────────────────────────

var (
	// ErrUserNotFound is returned when the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrBookNotFound is returned when the requested book does not exist.
	ErrBookNotFound = errors.New("book not found")

	// ErrLoanNotFound is returned when the referenced borrow record does not exist.
	ErrLoanNotFound = errors.New("borrow record not found")

	// ErrOutOfStock is returned when fewer copies are available than requested.
	ErrOutOfStock = errors.New("book is out of stock")

	// ErrAccountLocked is returned when a locked account attempts to borrow.
	ErrAccountLocked = errors.New("account is locked")

	// ErrTooManyUnreturned is returned when a borrow is attempted while the user
	// holds lockguard.Threshold or more unreturned loans.
	ErrTooManyUnreturned = errors.New("too many unreturned books")

	// ErrAlreadyReturned is returned when a return is attempted on a closed loan.
	ErrAlreadyReturned = errors.New("book already returned")

	// ErrInvalidQuantity is returned when a borrow asks for fewer than one copy.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")

	// ErrUsernameTaken is returned when registering an existing username.
	ErrUsernameTaken = errors.New("username already exists")

	// ErrStoreUnavailable marks infrastructure failures. Nothing was committed, so
	// the whole operation is safe to retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// errLockedOverThreshold is the rejection for an account that is already
// locked and still holds too many loans.
var errLockedOverThreshold = fmt.Errorf("%w: %w", ErrAccountLocked, ErrTooManyUnreturned)

var domainErrors = []error{
	ErrUserNotFound,
	ErrBookNotFound,
	ErrLoanNotFound,
	ErrOutOfStock,
	ErrAccountLocked,
	ErrTooManyUnreturned,
	ErrAlreadyReturned,
	ErrInvalidQuantity,
	ErrUsernameTaken,
}

// StoreError wraps an infrastructure failure of a single operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrStoreUnavailable, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// classify passes domain errors through and wraps everything else as a StoreError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return err
		}
	}
	return &StoreError{Op: op, Err: err}
}
