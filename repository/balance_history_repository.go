package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"raffler/database"
	"raffler/domain/entities"
)

// BalanceHistoryRepository implements balance history tracking
type BalanceHistoryRepository struct {
	q Queryable
}

// NewBalanceHistoryRepository creates a new balance history repository
func NewBalanceHistoryRepository(db *database.DB) *BalanceHistoryRepository {
	return &BalanceHistoryRepository{q: db.Pool}
}

func newBalanceHistoryRepository(q Queryable) *BalanceHistoryRepository {
	return &BalanceHistoryRepository{q: q}
}

// Record creates a new balance history entry
func (r *BalanceHistoryRepository) Record(ctx context.Context, history *entities.BalanceHistory) error {
	metadataJSON, err := json.Marshal(history.TransactionMetadata)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction metadata: %w", err)
	}

	var roundID *int64
	if history.RoundID != 0 {
		roundID = &history.RoundID
	}

	query := `
		INSERT INTO balance_history
		(participant_id, round_id, balance_before, balance_after, change_amount, transaction_type, transaction_metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err = r.q.QueryRow(ctx, query,
		history.ParticipantID,
		roundID,
		history.BalanceBefore,
		history.BalanceAfter,
		history.ChangeAmount,
		string(history.TransactionType),
		metadataJSON,
	).Scan(&history.ID, &history.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record balance history for %s: %w", history.ParticipantID, err)
	}

	return nil
}

// GetByParticipant returns balance history for a participant, newest first
func (r *BalanceHistoryRepository) GetByParticipant(ctx context.Context, participantID string, limit int) ([]*entities.BalanceHistory, error) {
	query := `
		SELECT id, participant_id, COALESCE(round_id, 0), balance_before, balance_after, change_amount,
		       transaction_type, transaction_metadata, created_at
		FROM balance_history
		WHERE participant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.q.Query(ctx, query, participantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance history for %s: %w", participantID, err)
	}
	defer rows.Close()

	var histories []*entities.BalanceHistory
	for rows.Next() {
		var history entities.BalanceHistory
		var transactionType string
		var metadataJSON []byte

		err := rows.Scan(
			&history.ID,
			&history.ParticipantID,
			&history.RoundID,
			&history.BalanceBefore,
			&history.BalanceAfter,
			&history.ChangeAmount,
			&transactionType,
			&metadataJSON,
			&history.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan balance history: %w", err)
		}
		history.TransactionType = entities.TransactionType(transactionType)

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &history.TransactionMetadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal transaction metadata: %w", err)
			}
		}

		histories = append(histories, &history)
	}

	return histories, rows.Err()
}
