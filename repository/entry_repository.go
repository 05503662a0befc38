package repository

import (
	"context"
	"fmt"

	"raffler/database"
	"raffler/domain/entities"
)

// EntryRepository implements raffle entry data access
type EntryRepository struct {
	q Queryable
}

// NewEntryRepository creates an entry repository on the connection pool
func NewEntryRepository(db *database.DB) *EntryRepository {
	return &EntryRepository{q: db.Pool}
}

func newEntryRepository(q Queryable) *EntryRepository {
	return &EntryRepository{q: q}
}

// Create inserts an entry; the (round_id, slot) pair is unique
func (r *EntryRepository) Create(ctx context.Context, entry *entities.Entry) error {
	query := `
		INSERT INTO raffle_entries (round_id, slot, participant_id, contribution, entered_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := r.q.QueryRow(ctx, query,
		entry.RoundID,
		entry.Slot,
		entry.ParticipantID,
		entry.Contribution,
		entry.EnteredAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to create entry for round %d slot %d: %w", entry.RoundID, entry.Slot, err)
	}

	return nil
}

// GetByRound returns a round's entries in slot order
func (r *EntryRepository) GetByRound(ctx context.Context, roundID int64) ([]*entities.Entry, error) {
	query := `
		SELECT id, round_id, slot, participant_id, contribution, entered_at
		FROM raffle_entries
		WHERE round_id = $1
		ORDER BY slot ASC
	`

	rows, err := r.q.Query(ctx, query, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to get entries for round %d: %w", roundID, err)
	}
	defer rows.Close()

	entries := make([]*entities.Entry, 0)
	for rows.Next() {
		var entry entities.Entry
		err := rows.Scan(
			&entry.ID,
			&entry.RoundID,
			&entry.Slot,
			&entry.ParticipantID,
			&entry.Contribution,
			&entry.EnteredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
