package types

import "errors"

// Domain errors. All are detected before any persistent mutation, so a caller
// receiving one of these can assume state is untouched. Retryable conditions
// (lock contention, transient timeouts) are signalled separately by the
// transport layer; everything here is a terminal domain violation except
// ErrLockHeld, which simply means "skip this tick".
var (
	ErrOrderNotAvailable = errors.New("order is not open for bidding")
	ErrBidTooLow         = errors.New("bid amount below minimum required")
	ErrInsufficientFunds = errors.New("insufficient available budget")
	ErrInvalidOwnership  = errors.New("team does not hold an active slot for player")
	ErrPlayerNotEligible = errors.New("player is not eligible for this league")
	ErrPlayerLocked      = errors.New("player is locked around a game")
	ErrTeamNotFound      = errors.New("team not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrLeagueNotFound    = errors.New("league not found")
	ErrPlayerNotFound    = errors.New("player not found")
	ErrLockHeld          = errors.New("job lock already held")
)
