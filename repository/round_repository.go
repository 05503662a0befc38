package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"raffler/database"
	"raffler/domain/entities"

	"github.com/jackc/pgx/v5"
)

const roundColumns = `id, phase, pool_balance, last_draw_at, pending_request_id, draw_requested_at,
		       delivered_at, winner_id, payout_amount, random_value, completed_at, created_at`

// RoundRepository implements raffle round data access
type RoundRepository struct {
	q Queryable
}

// NewRoundRepository creates a round repository on the connection pool
func NewRoundRepository(db *database.DB) *RoundRepository {
	return &RoundRepository{q: db.Pool}
}

func newRoundRepository(q Queryable) *RoundRepository {
	return &RoundRepository{q: q}
}

func scanRound(row pgx.Row) (*entities.Round, error) {
	var round entities.Round
	var phase string
	err := row.Scan(
		&round.ID,
		&phase,
		&round.PoolBalance,
		&round.LastDrawAt,
		&round.PendingRequestID,
		&round.DrawRequestedAt,
		&round.DeliveredAt,
		&round.WinnerID,
		&round.PayoutAmount,
		&round.RandomValue,
		&round.CompletedAt,
		&round.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	round.Phase = entities.Phase(phase)
	round.Players = []string{}
	return &round, nil
}

// GetCurrent returns the round still in progress
func (r *RoundRepository) GetCurrent(ctx context.Context) (*entities.Round, error) {
	query := `
		SELECT ` + roundColumns + `
		FROM raffle_rounds
		WHERE completed_at IS NULL
		FOR UPDATE
	`

	round, err := scanRound(r.q.QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current round: %w", err)
	}

	return round, nil
}

// GetLatestCompleted returns the last paid out round
func (r *RoundRepository) GetLatestCompleted(ctx context.Context) (*entities.Round, error) {
	query := `
		SELECT ` + roundColumns + `
		FROM raffle_rounds
		WHERE completed_at IS NOT NULL
		ORDER BY completed_at DESC, id DESC
		LIMIT 1
	`

	round, err := scanRound(r.q.QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest completed round: %w", err)
	}

	return round, nil
}

// GetByID returns a round by id
func (r *RoundRepository) GetByID(ctx context.Context, id int64) (*entities.Round, error) {
	query := `
		SELECT ` + roundColumns + `
		FROM raffle_rounds
		WHERE id = $1
	`

	round, err := scanRound(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round by ID %d: %w", id, err)
	}

	return round, nil
}

// Create inserts a new open round
func (r *RoundRepository) Create(ctx context.Context, round *entities.Round) error {
	query := `
		INSERT INTO raffle_rounds (phase, pool_balance, last_draw_at)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	err := r.q.QueryRow(ctx, query, string(round.Phase), round.PoolBalance, round.LastDrawAt).
		Scan(&round.ID, &round.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create round: %w", err)
	}

	return nil
}

// AddToPool grows the pool of an open round
func (r *RoundRepository) AddToPool(ctx context.Context, roundID int64, amount int64) error {
	query := `
		UPDATE raffle_rounds
		SET pool_balance = pool_balance + $2
		WHERE id = $1 AND phase = 'open' AND completed_at IS NULL
	`

	result, err := r.q.Exec(ctx, query, roundID, amount)
	if err != nil {
		return fmt.Errorf("failed to add to pool of round %d: %w", roundID, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("round %d is not open", roundID)
	}

	return nil
}

// MarkDrawing records the pending randomness request. Also used for redraws,
// where it replaces the previous request.
func (r *RoundRepository) MarkDrawing(ctx context.Context, roundID int64, requestID int64, requestedAt time.Time) error {
	query := `
		UPDATE raffle_rounds
		SET phase = 'drawing',
		    pending_request_id = $2,
		    draw_requested_at = $3,
		    delivered_at = NULL
		WHERE id = $1 AND completed_at IS NULL
	`

	result, err := r.q.Exec(ctx, query, roundID, requestID, requestedAt)
	if err != nil {
		return fmt.Errorf("failed to mark round %d drawing: %w", roundID, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("round %d not found or already completed", roundID)
	}

	return nil
}

// MarkDelivered records the first delivery for the pending request
func (r *RoundRepository) MarkDelivered(ctx context.Context, roundID int64, requestID int64, deliveredAt time.Time) error {
	query := `
		UPDATE raffle_rounds
		SET delivered_at = COALESCE(delivered_at, $3)
		WHERE id = $1 AND pending_request_id = $2 AND phase = 'drawing' AND completed_at IS NULL
	`

	result, err := r.q.Exec(ctx, query, roundID, requestID, deliveredAt)
	if err != nil {
		return fmt.Errorf("failed to mark delivery for round %d: %w", roundID, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("round %d is not drawing request %d", roundID, requestID)
	}

	return nil
}

// Complete stores the draw result on a drawing round
func (r *RoundRepository) Complete(ctx context.Context, round *entities.Round) error {
	query := `
		UPDATE raffle_rounds
		SET winner_id = $2,
		    payout_amount = $3,
		    random_value = $4,
		    completed_at = $5
		WHERE id = $1 AND phase = 'drawing' AND completed_at IS NULL
	`

	result, err := r.q.Exec(ctx, query,
		round.ID,
		round.WinnerID,
		round.PayoutAmount,
		round.RandomValue,
		round.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to complete round %d: %w", round.ID, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("round %d is not drawing", round.ID)
	}

	return nil
}

// ListCompleted returns paid out rounds, newest first
func (r *RoundRepository) ListCompleted(ctx context.Context, limit int) ([]*entities.Round, error) {
	query := `
		SELECT ` + roundColumns + `
		FROM raffle_rounds
		WHERE completed_at IS NOT NULL
		ORDER BY completed_at DESC, id DESC
		LIMIT $1
	`

	rows, err := r.q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed rounds: %w", err)
	}
	defer rows.Close()

	var rounds []*entities.Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		rounds = append(rounds, round)
	}

	return rounds, rows.Err()
}
