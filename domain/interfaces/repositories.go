package interfaces

import (
	"context"
	"errors"
	"time"

	"raffler/domain/entities"
	"raffler/domain/events"
)

var (
	// ErrAccountNotFound is returned when crediting a participant without an account
	ErrAccountNotFound = errors.New("account not found")
	// ErrPayoutRejected is returned when the recipient account refuses payouts
	ErrPayoutRejected = errors.New("account does not accept payouts")
)

// RoundRepository defines the interface for raffle round data access
type RoundRepository interface {
	// GetCurrent returns the uncompleted round without its players, or nil if none exists
	GetCurrent(ctx context.Context) (*entities.Round, error)

	// GetLatestCompleted returns the most recently completed round, or nil
	GetLatestCompleted(ctx context.Context) (*entities.Round, error)

	// Create inserts a new round and fills in its ID and CreatedAt
	Create(ctx context.Context, round *entities.Round) error

	// AddToPool atomically grows the pool of an open round
	AddToPool(ctx context.Context, roundID int64, amount int64) error

	// MarkDrawing stores the pending randomness request on the round
	MarkDrawing(ctx context.Context, roundID int64, requestID int64, requestedAt time.Time) error

	// MarkDelivered records that randomness for requestID arrived. Keeps the first time.
	MarkDelivered(ctx context.Context, roundID int64, requestID int64, deliveredAt time.Time) error

	// Complete stores winner, payout and random value on a drawing round
	Complete(ctx context.Context, round *entities.Round) error
}

// EntryRepository defines the interface for raffle entry data access
type EntryRepository interface {
	// Create inserts an entry into its round
	Create(ctx context.Context, entry *entities.Entry) error

	// GetByRound returns all entries for a round ordered by slot
	GetByRound(ctx context.Context, roundID int64) ([]*entities.Entry, error)
}

// AccountRepository defines the interface for payout account data access
type AccountRepository interface {
	// EnsureAccount returns the participant's account, creating an empty one if missing
	EnsureAccount(ctx context.Context, participantID string) (*entities.Account, error)

	// GetByParticipantID returns the account or nil if not found
	GetByParticipantID(ctx context.Context, participantID string) (*entities.Account, error)

	// Credit adds amount to the balance and returns the new balance.
	// Fails with ErrAccountNotFound or ErrPayoutRejected.
	Credit(ctx context.Context, participantID string, amount int64) (int64, error)

	// SetAcceptsPayouts toggles whether payouts may be credited
	SetAcceptsPayouts(ctx context.Context, participantID string, accepts bool) error
}

// BalanceHistoryRepository defines the interface for balance history tracking
type BalanceHistoryRepository interface {
	// Record creates a new balance history entry
	Record(ctx context.Context, history *entities.BalanceHistory) error

	// GetByParticipant returns balance history for a participant, newest first
	GetByParticipant(ctx context.Context, participantID string, limit int) ([]*entities.BalanceHistory, error)
}

// EventPublisher defines the interface for publishing events
type EventPublisher interface {
	Publish(event events.Event) error
}

// UnitOfWork defines the interface for transactional repository operations
type UnitOfWork interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) error

	// Commit commits the transaction and flushes pending events
	Commit() error

	// Rollback rolls back the transaction and discards pending events
	Rollback() error

	// Repository getters
	RoundRepository() RoundRepository
	EntryRepository() EntryRepository
	AccountRepository() AccountRepository
	BalanceHistoryRepository() BalanceHistoryRepository
	EventBus() EventPublisher
}

// UnitOfWorkFactory defines the interface for creating UnitOfWork instances
type UnitOfWorkFactory interface {
	Create() UnitOfWork
}
