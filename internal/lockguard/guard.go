// Package lockguard decides a user's borrowing eligibility from the number of
// loans they have not returned. It holds no state and performs no I/O; callers
// persist the flag it returns.
package lockguard

// Threshold is the outstanding-loan count at or above which an account is locked.
const Threshold = 2

// Decision is the outcome of one guard evaluation.
type Decision struct {
	// Locked is the lock flag the account must carry after this evaluation.
	Locked bool
	// Changed reports whether Locked differs from the flag passed in.
	Changed bool
	// Reject reports that a pending borrow must not proceed.
	Reject bool
	// LogLock reports that a `locked` transaction entry must be appended.
	LogLock bool
}

// ForBorrow evaluates a borrow attempt before any loan is opened.
//
// At or above Threshold the borrow is rejected and the account locked. A locked
// account that has dropped below Threshold is unlocked first so the borrow can
// proceed.
func ForBorrow(outstanding int, locked bool) Decision {
	if outstanding >= Threshold {
		return Decision{
			Locked:  true,
			Changed: !locked,
			Reject:  true,
			LogLock: !locked,
		}
	}
	if locked {
		return Decision{Locked: false, Changed: true}
	}
	return Decision{}
}

// Reevaluate derives the lock flag from the current outstanding count.
func Reevaluate(outstanding int, locked bool) Decision {
	next := outstanding >= Threshold
	return Decision{
		Locked:  next,
		Changed: next != locked,
		LogLock: next && !locked,
	}
}

// LocksOnNextLoan reports whether opening one more loan reaches Threshold.
func LocksOnNextLoan(outstanding int) bool {
	return outstanding+1 == Threshold
}
