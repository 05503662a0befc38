package testutil

import (
	"context"
	"testing"
	"time"

	"raffler/database"
	"raffler/domain/entities"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

// CreateTestRound creates an open round started at startedAt
func CreateTestRound(startedAt time.Time) *entities.Round {
	return entities.NewRound(startedAt.UTC().Truncate(time.Microsecond))
}

// CreateTestEntry creates an entry paying the given contribution
func CreateTestEntry(roundID int64, slot int, participantID string, contribution int64) *entities.Entry {
	return &entities.Entry{
		RoundID:       roundID,
		Slot:          slot,
		ParticipantID: participantID,
		Contribution:  contribution,
		EnteredAt:     time.Now().UTC().Truncate(time.Microsecond),
	}
}

// CreateTestBalanceHistory creates a raffle win history entry
func CreateTestBalanceHistory(participantID string, roundID int64, before, after int64) *entities.BalanceHistory {
	return &entities.BalanceHistory{
		ParticipantID:   participantID,
		RoundID:         roundID,
		BalanceBefore:   before,
		BalanceAfter:    after,
		ChangeAmount:    after - before,
		TransactionType: entities.TransactionTypeRaffleWin,
		TransactionMetadata: map[string]any{
			"test": true,
		},
		CreatedAt: time.Now(),
	}
}

// SeedAccount inserts an account with the given balance in its own transaction
func SeedAccount(t *testing.T, db *database.DB, participantID string, balance int64, acceptsPayouts bool) {
	t.Helper()
	err := db.WithTransaction(context.Background(), func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(),
			`INSERT INTO accounts (participant_id, balance, accepts_payouts) VALUES ($1, $2, $3)`,
			participantID, balance, acceptsPayouts)
		return err
	})
	require.NoError(t, err)
}
