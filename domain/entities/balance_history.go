package entities

import (
	"time"
)

// TransactionType represents the type of balance change
type TransactionType string

const (
	TransactionTypeRaffleWin TransactionType = "raffle_win"
)

// BalanceHistory represents a historical balance change on an account
type BalanceHistory struct {
	ID                  int64           `db:"id"`
	ParticipantID       string          `db:"participant_id"`
	RoundID             int64           `db:"round_id"`
	BalanceBefore       int64           `db:"balance_before"`
	BalanceAfter        int64           `db:"balance_after"`
	ChangeAmount        int64           `db:"change_amount"`
	TransactionType     TransactionType `db:"transaction_type"`
	TransactionMetadata map[string]any  `db:"transaction_metadata"`
	CreatedAt           time.Time       `db:"created_at"`
}
