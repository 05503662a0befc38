package entities

import "time"

// Entry represents a single paid slot in a raffle round
type Entry struct {
	ID            int64     `db:"id"`
	RoundID       int64     `db:"round_id"`
	Slot          int       `db:"slot"`
	ParticipantID string    `db:"participant_id"`
	Contribution  int64     `db:"contribution"`
	EnteredAt     time.Time `db:"entered_at"`
}
