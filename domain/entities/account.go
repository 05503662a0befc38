package entities

import "time"

// Account is the ledger balance that raffle payouts are credited to
type Account struct {
	ParticipantID  string    `db:"participant_id"`
	Balance        int64     `db:"balance"`
	AcceptsPayouts bool      `db:"accepts_payouts"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// CanReceivePayout checks if a payout may be credited to this account
func (a *Account) CanReceivePayout() bool {
	return a.AcceptsPayouts
}
