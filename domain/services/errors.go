package services

import (
	"errors"
	"fmt"

	"raffler/domain/entities"
)

var (
	ErrInsufficientContribution = errors.New("contribution is below the entrance fee")
	ErrRoundNotOpen             = errors.New("raffle is not open")
	ErrUpkeepNotNeeded          = errors.New("upkeep not needed")
	ErrUnknownRequest           = errors.New("unknown randomness request")
	ErrPayoutTransferFailed     = errors.New("payout transfer failed")
	ErrInvalidParticipant       = errors.New("participant id is required")
	ErrInvalidRandomValue       = errors.New("random value is required")
	ErrRedrawNotAllowed         = errors.New("redraw not allowed")
	ErrPlayerIndexOutOfRange    = errors.New("player index out of range")
)

// UpkeepNotNeededError reports the round state that failed the upkeep check
type UpkeepNotNeededError struct {
	PoolBalance int64
	PlayerCount int
	Phase       entities.Phase
}

func (e *UpkeepNotNeededError) Error() string {
	return fmt.Sprintf("upkeep not needed: balance=%d players=%d phase=%s", e.PoolBalance, e.PlayerCount, e.Phase)
}

func (e *UpkeepNotNeededError) Unwrap() error {
	return ErrUpkeepNotNeeded
}
