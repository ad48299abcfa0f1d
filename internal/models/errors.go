package models

import "errors"

var (
	// ErrNotFound is returned when a referenced ride, rickshaw, rider or
	// destination does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyTaken means the ride was no longer PENDING when an accept
	// attempt read it. A normal outcome, not a system error.
	ErrAlreadyTaken = errors.New("ride already taken")

	// ErrRaceLost means the ride was PENDING at read time but another
	// rickshaw won the conditional write. Also a normal outcome.
	ErrRaceLost = errors.New("lost acceptance race")

	// ErrInvalidTransition means the operation is not legal from the ride's
	// current status (including zero-rows-affected conditional updates).
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInsufficientBalance means a redemption exceeds the current balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrValidation covers missing or malformed input.
	ErrValidation = errors.New("validation error")
)
