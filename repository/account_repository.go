package repository

import (
	"context"
	"errors"
	"fmt"

	"raffler/database"
	"raffler/domain/entities"
	"raffler/domain/interfaces"

	"github.com/jackc/pgx/v5"
)

// AccountRepository implements payout account data access
type AccountRepository struct {
	q Queryable
}

// NewAccountRepository creates an account repository on the connection pool
func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{q: db.Pool}
}

func newAccountRepository(q Queryable) *AccountRepository {
	return &AccountRepository{q: q}
}

// EnsureAccount returns the account, creating it with a zero balance if missing
func (r *AccountRepository) EnsureAccount(ctx context.Context, participantID string) (*entities.Account, error) {
	query := `
		INSERT INTO accounts (participant_id)
		VALUES ($1)
		ON CONFLICT (participant_id) DO UPDATE SET participant_id = EXCLUDED.participant_id
		RETURNING participant_id, balance, accepts_payouts, created_at, updated_at
	`

	var account entities.Account
	err := r.q.QueryRow(ctx, query, participantID).Scan(
		&account.ParticipantID,
		&account.Balance,
		&account.AcceptsPayouts,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure account %s: %w", participantID, err)
	}

	return &account, nil
}

// GetByParticipantID returns the account or nil if not found
func (r *AccountRepository) GetByParticipantID(ctx context.Context, participantID string) (*entities.Account, error) {
	query := `
		SELECT participant_id, balance, accepts_payouts, created_at, updated_at
		FROM accounts
		WHERE participant_id = $1
	`

	var account entities.Account
	err := r.q.QueryRow(ctx, query, participantID).Scan(
		&account.ParticipantID,
		&account.Balance,
		&account.AcceptsPayouts,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", participantID, err)
	}

	return &account, nil
}

// Credit adds amount to an account that accepts payouts and returns the new balance
func (r *AccountRepository) Credit(ctx context.Context, participantID string, amount int64) (int64, error) {
	query := `
		UPDATE accounts
		SET balance = balance + $2,
		    updated_at = NOW()
		WHERE participant_id = $1 AND accepts_payouts
		RETURNING balance
	`

	var balance int64
	err := r.q.QueryRow(ctx, query, participantID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		account, getErr := r.GetByParticipantID(ctx, participantID)
		if getErr != nil {
			return 0, getErr
		}
		if account == nil {
			return 0, fmt.Errorf("%w: %s", interfaces.ErrAccountNotFound, participantID)
		}
		return 0, fmt.Errorf("%w: %s", interfaces.ErrPayoutRejected, participantID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to credit account %s: %w", participantID, err)
	}

	return balance, nil
}

// SetAcceptsPayouts toggles whether payouts may be credited to the account
func (r *AccountRepository) SetAcceptsPayouts(ctx context.Context, participantID string, accepts bool) error {
	query := `
		UPDATE accounts
		SET accepts_payouts = $2,
		    updated_at = NOW()
		WHERE participant_id = $1
	`

	result, err := r.q.Exec(ctx, query, participantID, accepts)
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", participantID, err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", interfaces.ErrAccountNotFound, participantID)
	}

	return nil
}
