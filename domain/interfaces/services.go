package interfaces

import (
	"context"
	"math/big"
	"time"
)

// RandomnessRequest carries the oracle parameters of a draw
type RandomnessRequest struct {
	GasLane              string
	SubscriptionID       uint64
	RequestConfirmations uint16
	CallbackGasLimit     uint32
	NumWords             uint32
}

// RandomnessOracle issues randomness requests. Delivery happens later and
// independently through a RandomnessConsumer; implementations must never
// deliver from inside RequestRandomness.
type RandomnessOracle interface {
	RequestRandomness(ctx context.Context, req RandomnessRequest) (int64, error)
}

// RandomnessConsumer receives delivered random values
type RandomnessConsumer interface {
	OnRandomnessDelivered(ctx context.Context, requestID int64, value *big.Int) error
}

// Clock is the engine's source of current time
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC
type SystemClock struct{}

// Now returns the current UTC time
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
