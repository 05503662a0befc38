package entities

import (
	"fmt"
	"time"
)

const (
	DefaultRequestConfirmations = uint16(3)
	DefaultNumWords             = uint32(1)
)

// RaffleConfig holds the immutable parameters of a raffle
type RaffleConfig struct {
	EntranceFee          int64
	RoundInterval        time.Duration
	CallbackGasLimit     uint32
	GasLane              string // Oracle key hash selecting the security parameters
	SubscriptionID       uint64
	RequestConfirmations uint16
	NumWords             uint32
	DrawTimeout          time.Duration // 0 disables redraws
}

// Validate checks the configuration for values the engine cannot run with
func (c RaffleConfig) Validate() error {
	if c.EntranceFee <= 0 {
		return fmt.Errorf("entrance fee must be positive, got %d", c.EntranceFee)
	}
	if c.RoundInterval < 0 {
		return fmt.Errorf("round interval cannot be negative, got %s", c.RoundInterval)
	}
	if c.DrawTimeout < 0 {
		return fmt.Errorf("draw timeout cannot be negative, got %s", c.DrawTimeout)
	}
	return nil
}

// RedrawEnabled returns true if stuck draws may be re-requested
func (c RaffleConfig) RedrawEnabled() bool {
	return c.DrawTimeout > 0
}
