package settle

import "errors"

var (
	// ErrInvalidAmount indicates a negative pot, bet, or share. This is a
	// contract violation by the caller, not a retryable condition.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrAlreadySettled indicates the hand has already reached a terminal
	// state (settled or cancelled) and must not be settled again.
	ErrAlreadySettled = errors.New("hand already settled")

	// ErrUserNotFound indicates a winner or bettor does not resolve to a
	// player account at payout time.
	ErrUserNotFound = errors.New("user not found")
)
