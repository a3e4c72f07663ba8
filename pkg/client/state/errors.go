package state

import "errors"

var (
	// ErrLocksHeld is returned when the last reference to an open state is
	// dropped while locks or lock owners are still attached to it.
	ErrLocksHeld = errors.New("open state released with locks held")

	// ErrRefUnderflow is returned by Release on a state with no references.
	ErrRefUnderflow = errors.New("open state reference count underflow")

	// ErrLockNotFound is returned when a lock id is not linked to the state
	// or to the requesting cookie.
	ErrLockNotFound = errors.New("lock not found")

	// ErrForeignCookie is returned when a cookie is used with an open state
	// it was not created for.
	ErrForeignCookie = errors.New("cookie belongs to another open state")
)
