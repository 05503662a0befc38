package events

import (
	"raffler/domain/entities"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTypeEntered       EventType = "raffle_entered"
	EventTypeDrawRequested EventType = "raffle_draw_requested"
	EventTypeWinnerPicked  EventType = "raffle_winner_picked"
	EventTypeBalanceChange EventType = "balance_change"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
}

// EnteredEvent is emitted when a participant takes a slot in the current round
type EnteredEvent struct {
	RoundID       int64  `json:"round_id"`
	ParticipantID string `json:"participant_id"`
	Contribution  int64  `json:"contribution"`
	Slot          int    `json:"slot"`
	PoolBalance   int64  `json:"pool_balance"`
}

func (e EnteredEvent) Type() EventType {
	return EventTypeEntered
}

// DrawRequestedEvent is emitted when randomness has been requested for a round
type DrawRequestedEvent struct {
	RoundID     int64 `json:"round_id"`
	RequestID   int64 `json:"request_id"`
	PlayerCount int   `json:"player_count"`
	PoolBalance int64 `json:"pool_balance"`
	Redraw      bool  `json:"redraw"`
}

func (e DrawRequestedEvent) Type() EventType {
	return EventTypeDrawRequested
}

// WinnerPickedEvent is emitted after the pool has been paid out
type WinnerPickedEvent struct {
	RoundID     int64  `json:"round_id"`
	RequestID   int64  `json:"request_id"`
	Winner      string `json:"winner"`
	WinnerIndex int    `json:"winner_index"`
	Amount      int64  `json:"amount"`
	PlayerCount int    `json:"player_count"`
	NextRoundID int64  `json:"next_round_id"`
}

func (e WinnerPickedEvent) Type() EventType {
	return EventTypeWinnerPicked
}

// BalanceChangeEvent represents a balance change that occurred
type BalanceChangeEvent struct {
	ParticipantID   string                   `json:"participant_id"`
	OldBalance      int64                    `json:"old_balance"`
	NewBalance      int64                    `json:"new_balance"`
	TransactionType entities.TransactionType `json:"transaction_type"`
	ChangeAmount    int64                    `json:"change_amount"`
}

func (e BalanceChangeEvent) Type() EventType {
	return EventTypeBalanceChange
}
