package testhelpers

import (
	"context"
	"math/big"
	"time"

	"raffler/domain/entities"
	"raffler/domain/events"
	"raffler/domain/interfaces"

	"github.com/stretchr/testify/mock"
)

// MockRoundRepository is a mock implementation of RoundRepository
type MockRoundRepository struct {
	mock.Mock
}

func (m *MockRoundRepository) GetCurrent(ctx context.Context) (*entities.Round, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Round), args.Error(1)
}

func (m *MockRoundRepository) GetLatestCompleted(ctx context.Context) (*entities.Round, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Round), args.Error(1)
}

func (m *MockRoundRepository) Create(ctx context.Context, round *entities.Round) error {
	args := m.Called(ctx, round)
	return args.Error(0)
}

func (m *MockRoundRepository) AddToPool(ctx context.Context, roundID int64, amount int64) error {
	args := m.Called(ctx, roundID, amount)
	return args.Error(0)
}

func (m *MockRoundRepository) MarkDrawing(ctx context.Context, roundID int64, requestID int64, requestedAt time.Time) error {
	args := m.Called(ctx, roundID, requestID, requestedAt)
	return args.Error(0)
}

func (m *MockRoundRepository) MarkDelivered(ctx context.Context, roundID int64, requestID int64, deliveredAt time.Time) error {
	args := m.Called(ctx, roundID, requestID, deliveredAt)
	return args.Error(0)
}

func (m *MockRoundRepository) Complete(ctx context.Context, round *entities.Round) error {
	args := m.Called(ctx, round)
	return args.Error(0)
}

// MockEntryRepository is a mock implementation of EntryRepository
type MockEntryRepository struct {
	mock.Mock
}

func (m *MockEntryRepository) Create(ctx context.Context, entry *entities.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockEntryRepository) GetByRound(ctx context.Context, roundID int64) ([]*entities.Entry, error) {
	args := m.Called(ctx, roundID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Entry), args.Error(1)
}

// MockAccountRepository is a mock implementation of AccountRepository
type MockAccountRepository struct {
	mock.Mock
}

func (m *MockAccountRepository) EnsureAccount(ctx context.Context, participantID string) (*entities.Account, error) {
	args := m.Called(ctx, participantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Account), args.Error(1)
}

func (m *MockAccountRepository) GetByParticipantID(ctx context.Context, participantID string) (*entities.Account, error) {
	args := m.Called(ctx, participantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Account), args.Error(1)
}

func (m *MockAccountRepository) Credit(ctx context.Context, participantID string, amount int64) (int64, error) {
	args := m.Called(ctx, participantID, amount)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAccountRepository) SetAcceptsPayouts(ctx context.Context, participantID string, accepts bool) error {
	args := m.Called(ctx, participantID, accepts)
	return args.Error(0)
}

// MockBalanceHistoryRepository is a mock implementation of BalanceHistoryRepository
type MockBalanceHistoryRepository struct {
	mock.Mock
}

func (m *MockBalanceHistoryRepository) Record(ctx context.Context, history *entities.BalanceHistory) error {
	args := m.Called(ctx, history)
	return args.Error(0)
}

func (m *MockBalanceHistoryRepository) GetByParticipant(ctx context.Context, participantID string, limit int) ([]*entities.BalanceHistory, error) {
	args := m.Called(ctx, participantID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.BalanceHistory), args.Error(1)
}

// MockEventPublisher is a mock implementation of EventPublisher for testing
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(event events.Event) error {
	args := m.Called(event)
	return args.Error(0)
}

// MockUnitOfWork is a mock implementation of UnitOfWork. Transaction control
// goes through the mock; repository getters return the embedded mocks.
type MockUnitOfWork struct {
	mock.Mock

	RoundRepo          *MockRoundRepository
	EntryRepo          *MockEntryRepository
	AccountRepo        *MockAccountRepository
	BalanceHistoryRepo *MockBalanceHistoryRepository
	Publisher          *MockEventPublisher
}

// NewMockUnitOfWork creates a unit of work backed by fresh repository mocks
func NewMockUnitOfWork() *MockUnitOfWork {
	return &MockUnitOfWork{
		RoundRepo:          new(MockRoundRepository),
		EntryRepo:          new(MockEntryRepository),
		AccountRepo:        new(MockAccountRepository),
		BalanceHistoryRepo: new(MockBalanceHistoryRepository),
		Publisher:          new(MockEventPublisher),
	}
}

func (m *MockUnitOfWork) Begin(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockUnitOfWork) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) RoundRepository() interfaces.RoundRepository {
	return m.RoundRepo
}

func (m *MockUnitOfWork) EntryRepository() interfaces.EntryRepository {
	return m.EntryRepo
}

func (m *MockUnitOfWork) AccountRepository() interfaces.AccountRepository {
	return m.AccountRepo
}

func (m *MockUnitOfWork) BalanceHistoryRepository() interfaces.BalanceHistoryRepository {
	return m.BalanceHistoryRepo
}

func (m *MockUnitOfWork) EventBus() interfaces.EventPublisher {
	return m.Publisher
}

// AssertAllExpectations verifies the transaction calls and every repository mock
func (m *MockUnitOfWork) AssertAllExpectations(t mock.TestingT) bool {
	return m.AssertExpectations(t) &&
		m.RoundRepo.AssertExpectations(t) &&
		m.EntryRepo.AssertExpectations(t) &&
		m.AccountRepo.AssertExpectations(t) &&
		m.BalanceHistoryRepo.AssertExpectations(t) &&
		m.Publisher.AssertExpectations(t)
}

// MockUnitOfWorkFactory is a mock implementation of UnitOfWorkFactory
type MockUnitOfWorkFactory struct {
	mock.Mock
}

func (m *MockUnitOfWorkFactory) Create() interfaces.UnitOfWork {
	args := m.Called()
	return args.Get(0).(interfaces.UnitOfWork)
}

// MockRandomnessOracle is a mock implementation of RandomnessOracle
type MockRandomnessOracle struct {
	mock.Mock
}

func (m *MockRandomnessOracle) RequestRandomness(ctx context.Context, req interfaces.RandomnessRequest) (int64, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(int64), args.Error(1)
}

// MockRandomnessConsumer is a mock implementation of RandomnessConsumer
type MockRandomnessConsumer struct {
	mock.Mock
}

func (m *MockRandomnessConsumer) OnRandomnessDelivered(ctx context.Context, requestID int64, value *big.Int) error {
	args := m.Called(ctx, requestID, value)
	return args.Error(0)
}
