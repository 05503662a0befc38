package entities

import (
	"math/big"
	"time"
)

// Phase represents the state of a raffle round
type Phase string

const (
	PhaseOpen    Phase = "open"
	PhaseDrawing Phase = "drawing"
)

// Round represents one open -> drawing -> open cycle of the raffle
type Round struct {
	ID               int64      `db:"id"`
	Phase            Phase      `db:"phase"`
	Players          []string   `db:"-"` // Loaded from raffle_entries ordered by slot
	PoolBalance      int64      `db:"pool_balance"`
	LastDrawAt       time.Time  `db:"last_draw_at"`
	PendingRequestID *int64     `db:"pending_request_id"`
	DrawRequestedAt  *time.Time `db:"draw_requested_at"`
	DeliveredAt      *time.Time `db:"delivered_at"` // Randomness arrived but resolution did not commit
	WinnerID         *string    `db:"winner_id"`
	PayoutAmount     *int64     `db:"payout_amount"`
	RandomValue      *string    `db:"random_value"` // Decimal text, values exceed int64
	CompletedAt      *time.Time `db:"completed_at"`
	CreatedAt        time.Time  `db:"created_at"`
}

// UpkeepCheck holds the individual conditions gating a draw
type UpkeepCheck struct {
	IsOpen          bool
	IntervalElapsed bool
	HasBalance      bool
	HasPlayers      bool
}

// Needed returns true only when every condition holds
func (c UpkeepCheck) Needed() bool {
	return c.IsOpen && c.IntervalElapsed && c.HasBalance && c.HasPlayers
}

// NewRound creates an open round with no players
func NewRound(startedAt time.Time) *Round {
	return &Round{
		Phase:      PhaseOpen,
		Players:    []string{},
		LastDrawAt: startedAt,
	}
}

// IsOpen returns true if the round accepts entries
func (r *Round) IsOpen() bool {
	return r.Phase == PhaseOpen
}

// IsDrawing returns true if the round awaits randomness
func (r *Round) IsDrawing() bool {
	return r.Phase == PhaseDrawing
}

// IsCompleted returns true if the round has paid out
func (r *Round) IsCompleted() bool {
	return r.CompletedAt != nil
}

// PlayerCount returns the number of entry slots
func (r *Round) PlayerCount() int {
	return len(r.Players)
}

// CheckUpkeep evaluates the draw conditions at the given time
func (r *Round) CheckUpkeep(now time.Time, interval time.Duration) UpkeepCheck {
	return UpkeepCheck{
		IsOpen:          r.IsOpen(),
		IntervalElapsed: now.Sub(r.LastDrawAt) >= interval,
		HasBalance:      r.PoolBalance > 0,
		HasPlayers:      len(r.Players) > 0,
	}
}

// IsPendingRequest reports whether requestID is the outstanding randomness request
func (r *Round) IsPendingRequest(requestID int64) bool {
	return r.IsDrawing() && r.PendingRequestID != nil && *r.PendingRequestID == requestID
}

// AddEntry appends a player slot and grows the pool
func (r *Round) AddEntry(participantID string, contribution int64) {
	r.Players = append(r.Players, participantID)
	r.PoolBalance += contribution
}

// StartDrawing moves the round to the drawing phase for the given request
func (r *Round) StartDrawing(requestID int64, requestedAt time.Time) {
	r.Phase = PhaseDrawing
	r.PendingRequestID = &requestID
	r.DrawRequestedAt = &requestedAt
	r.DeliveredAt = nil
}

// MarkDelivered records that randomness for the pending request arrived.
// The first delivery time is kept.
func (r *Round) MarkDelivered(at time.Time) {
	if r.DeliveredAt == nil {
		r.DeliveredAt = &at
	}
}

// HasDelivery reports whether the pending request has already been answered
func (r *Round) HasDelivery() bool {
	return r.DeliveredAt != nil
}

// Complete records the payout details on the finished round
func (r *Round) Complete(winnerID string, payout int64, randomValue *big.Int, completedAt time.Time) {
	value := randomValue.String()
	r.WinnerID = &winnerID
	r.PayoutAmount = &payout
	r.RandomValue = &value
	r.CompletedAt = &completedAt
}

// Clone returns a deep copy of the round
func (r *Round) Clone() *Round {
	c := *r
	c.Players = make([]string, len(r.Players))
	copy(c.Players, r.Players)
	if r.PendingRequestID != nil {
		id := *r.PendingRequestID
		c.PendingRequestID = &id
	}
	if r.DrawRequestedAt != nil {
		at := *r.DrawRequestedAt
		c.DrawRequestedAt = &at
	}
	if r.DeliveredAt != nil {
		at := *r.DeliveredAt
		c.DeliveredAt = &at
	}
	if r.WinnerID != nil {
		w := *r.WinnerID
		c.WinnerID = &w
	}
	if r.PayoutAmount != nil {
		p := *r.PayoutAmount
		c.PayoutAmount = &p
	}
	if r.RandomValue != nil {
		v := *r.RandomValue
		c.RandomValue = &v
	}
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// WinnerIndex maps a random value onto a player slot.
// big.Int.Mod is Euclidean so the result is never negative.
func WinnerIndex(randomValue *big.Int, playerCount int) int {
	idx := new(big.Int).Mod(randomValue, big.NewInt(int64(playerCount)))
	return int(idx.Int64())
}
