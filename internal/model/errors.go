package model

import "errors"

// Domain error taxonomy. Join-time and trade-time failures are all-or-nothing:
// any precondition failure leaves contest, participant, and holding state
// exactly as before the call.
var (
	ErrValidation           = errors.New("validation failed")
	ErrContestNotFound      = errors.New("contest not found")
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrContestNotJoinable   = errors.New("contest is not accepting participants")
	ErrContestFull          = errors.New("contest is full")
	ErrInvalidInviteCode    = errors.New("invalid invite code")
	ErrAlreadyJoined        = errors.New("already joined this contest")
	ErrTradingWindowClosed  = errors.New("trading window is closed")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrPriceUnavailable     = errors.New("price unavailable") // retryable
	ErrNotCreator           = errors.New("only the contest creator may do this")
)
