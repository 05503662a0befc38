package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"raffler/domain/entities"
	"raffler/domain/events"
	"raffler/domain/interfaces"
	"raffler/domain/testhelpers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testRaffleConfig() entities.RaffleConfig {
	return entities.RaffleConfig{
		EntranceFee:      100,
		RoundInterval:    60 * time.Second,
		CallbackGasLimit: 500000,
		GasLane:          "0xd89b2bf150e3b9e13446986e571fb9cab24b13cea0a43ea20a6049a85cc807cc",
		SubscriptionID:   1,
	}
}

// engineHarness wires a RaffleEngine to repository mocks and a fake clock
type engineHarness struct {
	engine  *RaffleEngine
	uow     *testhelpers.MockUnitOfWork
	factory *testhelpers.MockUnitOfWorkFactory
	oracle  *testhelpers.MockRandomnessOracle
	clock   *testhelpers.FakeClock

	mu          sync.Mutex
	published   []events.Event
	entries     []*entities.Entry
	nextRoundID int64
}

func newEngineHarness(t *testing.T, cfg entities.RaffleConfig) *engineHarness {
	t.Helper()

	h := &engineHarness{
		uow:     testhelpers.NewMockUnitOfWork(),
		factory: new(testhelpers.MockUnitOfWorkFactory),
		oracle:  new(testhelpers.MockRandomnessOracle),
		clock:   testhelpers.NewFakeClock(testStart),
	}

	h.factory.On("Create").Return(h.uow).Maybe()
	h.uow.On("Begin", mock.Anything).Return(nil).Maybe()
	h.uow.On("Commit").Return(nil).Maybe()
	h.uow.On("Rollback").Return(nil).Maybe()

	h.uow.RoundRepo.On("GetCurrent", mock.Anything).Return(nil, nil).Once()
	h.uow.RoundRepo.On("GetLatestCompleted", mock.Anything).Return(nil, nil).Once()
	h.uow.RoundRepo.On("Create", mock.Anything, mock.AnythingOfType("*entities.Round")).
		Run(func(args mock.Arguments) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.nextRoundID++
			args.Get(1).(*entities.Round).ID = h.nextRoundID
		}).
		Return(nil).Maybe()
	h.uow.Publisher.On("Publish", mock.Anything).
		Run(func(args mock.Arguments) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.published = append(h.published, args.Get(0).(events.Event))
		}).
		Return(nil).Maybe()

	engine, err := NewRaffleEngine(context.Background(), cfg, h.factory, h.oracle, h.clock)
	require.NoError(t, err)
	h.engine = engine
	return h
}

// allowEntries accepts every entry write
func (h *engineHarness) allowEntries() {
	h.uow.EntryRepo.On("Create", mock.Anything, mock.AnythingOfType("*entities.Entry")).
		Run(func(args mock.Arguments) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.entries = append(h.entries, args.Get(1).(*entities.Entry))
		}).
		Return(nil).Maybe()
	h.uow.RoundRepo.On("AddToPool", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	h.uow.AccountRepo.On("EnsureAccount", mock.Anything, mock.Anything).Return(&entities.Account{AcceptsPayouts: true}, nil).Maybe()
}

// allowDraws accepts draw bookkeeping writes
func (h *engineHarness) allowDraws() {
	h.uow.RoundRepo.On("MarkDrawing", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	h.uow.RoundRepo.On("Complete", mock.Anything, mock.AnythingOfType("*entities.Round")).Return(nil).Maybe()
	h.uow.BalanceHistoryRepo.On("Record", mock.Anything, mock.AnythingOfType("*entities.BalanceHistory")).Return(nil).Maybe()
	h.uow.RoundRepo.On("MarkDelivered", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
}

func (h *engineHarness) publishedOfType(eventType events.EventType) []events.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []events.Event
	for _, e := range h.published {
		if e.Type() == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (h *engineHarness) enterAll(t *testing.T, players ...string) {
	t.Helper()
	for _, p := range players {
		require.NoError(t, h.engine.Enter(context.Background(), p, h.engine.EntranceFee()))
	}
}

// openDraw enters the players, lets the interval pass and performs upkeep
func (h *engineHarness) openDraw(t *testing.T, requestID int64, players ...string) {
	t.Helper()
	h.allowEntries()
	h.allowDraws()
	h.enterAll(t, players...)
	h.clock.Advance(h.engine.RoundInterval() + time.Second)
	h.oracle.On("RequestRandomness", mock.Anything, mock.Anything).Return(requestID, nil).Once()
	id, err := h.engine.PerformUpkeep(context.Background())
	require.NoError(t, err)
	require.Equal(t, requestID, id)
}

func TestRaffleEngine_NewCreatesFirstRound(t *testing.T) {
	h := newEngineHarness(t, testRaffleConfig())

	assert.Equal(t, entities.PhaseOpen, h.engine.Phase())
	assert.Equal(t, int64(1), h.engine.RoundID())
	assert.Equal(t, 0, h.engine.PlayerCount())
	assert.Equal(t, int64(0), h.engine.PoolBalance())
	assert.Equal(t, testStart, h.engine.LastDrawTimestamp())
	assert.Equal(t, int64(100), h.engine.EntranceFee())
	assert.Equal(t, 60*time.Second, h.engine.RoundInterval())

	_, ok := h.engine.RecentWinner()
	assert.False(t, ok)
	_, ok = h.engine.PendingRequestID()
	assert.False(t, ok)

	cfg := h.engine.Config()
	assert.Equal(t, entities.DefaultRequestConfirmations, cfg.RequestConfirmations)
	assert.Equal(t, entities.DefaultNumWords, cfg.NumWords)
}

func TestRaffleEngine_NewRejectsInvalidConfig(t *testing.T) {
	cfg := testRaffleConfig()
	cfg.EntranceFee = 0

	_, err := NewRaffleEngine(context.Background(), cfg, new(testhelpers.MockUnitOfWorkFactory), new(testhelpers.MockRandomnessOracle), nil)
	assert.Error(t, err)
}

func TestRaffleEngine_NewRestoresExistingRound(t *testing.T) {
	uow := testhelpers.NewMockUnitOfWork()
	factory := new(testhelpers.MockUnitOfWorkFactory)
	factory.On("Create").Return(uow)
	uow.On("Begin", mock.Anything).Return(nil)
	uow.On("Commit").Return(nil)
	uow.On("Rollback").Return(nil)

	pending := int64(3)
	requestedAt := testStart.Add(-time.Minute)
	uow.RoundRepo.On("GetCurrent", mock.Anything).Return(&entities.Round{
		ID:               7,
		Phase:            entities.PhaseDrawing,
		PoolBalance:      300,
		LastDrawAt:       testStart.Add(-time.Hour),
		PendingRequestID: &pending,
		DrawRequestedAt:  &requestedAt,
	}, nil)
	uow.EntryRepo.On("GetByRound", mock.Anything, int64(7)).Return([]*entities.Entry{
		{RoundID: 7, Slot: 0, ParticipantID: "alice", Contribution: 100},
		{RoundID: 7, Slot: 1, ParticipantID: "bob", Contribution: 100},
		{RoundID: 7, Slot: 2, ParticipantID: "alice", Contribution: 100},
	}, nil)
	winner := "carol"
	uow.RoundRepo.On("GetLatestCompleted", mock.Anything).Return(&entities.Round{ID: 6, WinnerID: &winner}, nil)

	engine, err := NewRaffleEngine(context.Background(), testRaffleConfig(), factory, new(testhelpers.MockRandomnessOracle), testhelpers.NewFakeClock(testStart))
	require.NoError(t, err)

	assert.Equal(t, int64(7), engine.RoundID())
	assert.Equal(t, entities.PhaseDrawing, engine.Phase())
	assert.Equal(t, 3, engine.PlayerCount())
	assert.Equal(t, int64(300), engine.PoolBalance())

	p, err := engine.Player(2)
	require.NoError(t, err)
	assert.Equal(t, "alice", p)

	id, ok := engine.PendingRequestID()
	assert.True(t, ok)
	assert.Equal(t, int64(3), id)

	w, ok := engine.RecentWinner()
	assert.True(t, ok)
	assert.Equal(t, "carol", w)

	uow.AssertAllExpectations(t)
}

func TestRaffleEngine_Enter(t *testing.T) {
	t.Run("below entrance fee is rejected and nothing changes", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())

		err := h.engine.Enter(context.Background(), "alice", 99)

		assert.ErrorIs(t, err, ErrInsufficientContribution)
		assert.Equal(t, 0, h.engine.PlayerCount())
		assert.Equal(t, int64(0), h.engine.PoolBalance())
		h.uow.EntryRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("exact fee adds a player slot and grows the pool", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.allowEntries()

		require.NoError(t, h.engine.Enter(context.Background(), "alice", 100))

		assert.Equal(t, 1, h.engine.PlayerCount())
		assert.Equal(t, int64(100), h.engine.PoolBalance())
		p, err := h.engine.Player(0)
		require.NoError(t, err)
		assert.Equal(t, "alice", p)

		entered := h.publishedOfType(events.EventTypeEntered)
		require.Len(t, entered, 1)
		ev := entered[0].(events.EnteredEvent)
		assert.Equal(t, int64(1), ev.RoundID)
		assert.Equal(t, "alice", ev.ParticipantID)
		assert.Equal(t, 0, ev.Slot)
		assert.Equal(t, int64(100), ev.PoolBalance)
	})

	t.Run("over-payment is retained", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.allowEntries()

		require.NoError(t, h.engine.Enter(context.Background(), "alice", 250))

		assert.Equal(t, int64(250), h.engine.PoolBalance())
		h.uow.RoundRepo.AssertCalled(t, "AddToPool", mock.Anything, int64(1), int64(250))
	})

	t.Run("same participant may hold several slots", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.allowEntries()

		h.enterAll(t, "alice", "bob", "alice")

		assert.Equal(t, 3, h.engine.PlayerCount())
		p, err := h.engine.Player(2)
		require.NoError(t, err)
		assert.Equal(t, "alice", p)
		require.Len(t, h.entries, 3)
		for i, entry := range h.entries {
			assert.Equal(t, i, entry.Slot)
		}
	})

	t.Run("empty participant id is rejected", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())

		err := h.engine.Enter(context.Background(), "", 100)

		assert.ErrorIs(t, err, ErrInvalidParticipant)
		assert.Equal(t, 0, h.engine.PlayerCount())
	})

	t.Run("storage failure leaves the round unchanged", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.uow.EntryRepo.On("Create", mock.Anything, mock.Anything).Return(errors.New("connection reset"))

		err := h.engine.Enter(context.Background(), "alice", 100)

		assert.Error(t, err)
		assert.Equal(t, 0, h.engine.PlayerCount())
		assert.Equal(t, int64(0), h.engine.PoolBalance())
		assert.Empty(t, h.publishedOfType(events.EventTypeEntered))
	})

	t.Run("rejected while drawing", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.openDraw(t, 1, "alice")

		err := h.engine.Enter(context.Background(), "bob", 100)

		assert.ErrorIs(t, err, ErrRoundNotOpen)
		assert.Equal(t, 1, h.engine.PlayerCount())
		assert.Equal(t, int64(100), h.engine.PoolBalance())
	})

	t.Run("fee is checked before phase", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.openDraw(t, 1, "alice")

		err := h.engine.Enter(context.Background(), "bob", 1)

		assert.ErrorIs(t, err, ErrInsufficientContribution)
	})
}

func TestRaffleEngine_CheckUpkeep(t *testing.T) {
	t.Run("false before the interval elapses", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.allowEntries()
		h.enterAll(t, "alice")
		h.clock.Advance(59 * time.Second)

		status := h.engine.UpkeepStatus()
		assert.False(t, h.engine.CheckUpkeep())
		assert.True(t, status.IsOpen)
		assert.False(t, status.IntervalElapsed)
		assert.True(t, status.HasBalance)
		assert.True(t, status.HasPlayers)
	})

	t.Run("true exactly at the interval", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.allowEntries()
		h.enterAll(t, "alice")
		h.clock.Advance(60 * time.Second)

		assert.True(t, h.engine.CheckUpkeep())
	})

	t.Run("false without players or balance", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.clock.Advance(time.Hour)

		status := h.engine.UpkeepStatus()
		assert.False(t, h.engine.CheckUpkeep())
		assert.True(t, status.IntervalElapsed)
		assert.False(t, status.HasBalance)
		assert.False(t, status.HasPlayers)
	})

	t.Run("false while drawing", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.openDraw(t, 1, "alice")

		status := h.engine.UpkeepStatus()
		assert.False(t, h.engine.CheckUpkeep())
		assert.False(t, status.IsOpen)
	})
}

func TestRaffleEngine_PerformUpkeep(t *testing.T) {
	t.Run("rejected when upkeep is not needed", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.allowEntries()
		h.enterAll(t, "alice")

		_, err := h.engine.PerformUpkeep(context.Background())

		assert.ErrorIs(t, err, ErrUpkeepNotNeeded)
		assert.True(t, IsUpkeepNotNeeded(err))
		var notNeeded *UpkeepNotNeededError
		require.ErrorAs(t, err, &notNeeded)
		assert.Equal(t, int64(100), notNeeded.PoolBalance)
		assert.Equal(t, 1, notNeeded.PlayerCount)
		assert.Equal(t, entities.PhaseOpen, notNeeded.Phase)
		assert.Equal(t, entities.PhaseOpen, h.engine.Phase())
		h.oracle.AssertNotCalled(t, "RequestRandomness", mock.Anything, mock.Anything)
	})

	t.Run("requests randomness and moves to drawing", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.allowEntries()
		h.allowDraws()
		h.enterAll(t, "alice", "bob")
		h.clock.Advance(61 * time.Second)

		expected := interfaces.RandomnessRequest{
			GasLane:              testRaffleConfig().GasLane,
			SubscriptionID:       1,
			RequestConfirmations: 3,
			CallbackGasLimit:     500000,
			NumWords:             1,
		}
		h.oracle.On("RequestRandomness", mock.Anything, expected).Return(int64(1), nil).Once()

		id, err := h.engine.PerformUpkeep(context.Background())

		require.NoError(t, err)
		assert.Equal(t, int64(1), id)
		assert.Equal(t, entities.PhaseDrawing, h.engine.Phase())
		pending, ok := h.engine.PendingRequestID()
		assert.True(t, ok)
		assert.Equal(t, int64(1), pending)
		h.uow.RoundRepo.AssertCalled(t, "MarkDrawing", mock.Anything, int64(1), int64(1), h.clock.Now())

		requested := h.publishedOfType(events.EventTypeDrawRequested)
		require.Len(t, requested, 1)
		ev := requested[0].(events.DrawRequestedEvent)
		assert.Equal(t, 2, ev.PlayerCount)
		assert.Equal(t, int64(200), ev.PoolBalance)
		assert.False(t, ev.Redraw)
		h.oracle.AssertExpectations(t)
	})

	t.Run("second call while drawing is rejected", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.openDraw(t, 1, "alice")

		_, err := h.engine.PerformUpkeep(context.Background())

		assert.ErrorIs(t, err, ErrUpkeepNotNeeded)
		pending, _ := h.engine.PendingRequestID()
		assert.Equal(t, int64(1), pending)
	})

	t.Run("oracle failure leaves the round open", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.allowEntries()
		h.enterAll(t, "alice")
		h.clock.Advance(time.Hour)
		h.oracle.On("RequestRandomness", mock.Anything, mock.Anything).Return(int64(0), errors.New("subscription underfunded"))

		_, err := h.engine.PerformUpkeep(context.Background())

		assert.Error(t, err)
		assert.Equal(t, entities.PhaseOpen, h.engine.Phase())
		_, ok := h.engine.PendingRequestID()
		assert.False(t, ok)
		assert.True(t, h.engine.CheckUpkeep())
	})
}

func TestRaffleEngine_OnRandomnessDelivered(t *testing.T) {
	t.Run("single player receives the whole pool", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.openDraw(t, 1, "alice")
		h.clock.Advance(5 * time.Second)
		h.uow.AccountRepo.On("Credit", mock.Anything, "alice", int64(100)).Return(int64(100), nil).Once()

		err := h.engine.OnRandomnessDelivered(context.Background(), 1, big.NewInt(7))

		require.NoError(t, err)
		winner, ok := h.engine.RecentWinner()
		assert.True(t, ok)
		assert.Equal(t, "alice", winner)
		assert.Equal(t, 0, h.engine.PlayerCount())
		assert.Equal(t, int64(0), h.engine.PoolBalance())
		assert.Equal(t, entities.PhaseOpen, h.engine.Phase())
		assert.Equal(t, h.clock.Now(), h.engine.LastDrawTimestamp())
		assert.Equal(t, int64(2), h.engine.RoundID())
		_, ok = h.engine.PendingRequestID()
		assert.False(t, ok)
		h.uow.AccountRepo.AssertExpectations(t)

		// The new round is empty, so no draw even after the interval
		h.clock.Advance(time.Hour)
		assert.False(t, h.engine.CheckUpkeep())
		_, err = h.engine.PerformUpkeep(context.Background())
		assert.ErrorIs(t, err, ErrUpkeepNotNeeded)
	})

	t.Run("winner index is value mod player count", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.openDraw(t, 1, "p1", "p2", "p3", "p4", "p5")
		h.uow.AccountRepo.On("Credit", mock.Anything, "p3", int64(500)).Return(int64(1500), nil).Once()

		err := h.engine.OnRandomnessDelivered(context.Background(), 1, big.NewInt(12))

		require.NoError(t, err)
		winner, _ := h.engine.RecentWinner()
		assert.Equal(t, "p3", winner)

		picked := h.publishedOfType(events.EventTypeWinnerPicked)
		require.Len(t, picked, 1)
		ev := picked[0].(events.WinnerPickedEvent)
		assert.Equal(t, int64(1), ev.RoundID)
		assert.Equal(t, int64(1), ev.RequestID)
		assert.Equal(t, "p3", ev.Winner)
		assert.Equal(t, 2, ev.WinnerIndex)
		assert.Equal(t, int64(500), ev.Amount)
		assert.Equal(t, int64(2), ev.NextRoundID)

		changes := h.publishedOfType(events.EventTypeBalanceChange)
		require.Len(t, changes, 1)
		change := changes[0].(events.BalanceChangeEvent)
		assert.Equal(t, int64(1000), change.OldBalance)
		assert.Equal(t, int64(1500), change.NewBalance)

		h.uow.BalanceHistoryRepo.AssertCalled(t, "Record", mock.Anything, mock.MatchedBy(func(bh *entities.BalanceHistory) bool {
			return bh.ParticipantID == "p3" && bh.ChangeAmount == 500 && bh.TransactionType == entities.TransactionTypeRaffleWin
		}))
		h.uow.RoundRepo.AssertCalled(t, "Complete", mock.Anything, mock.MatchedBy(func(r *entities.Round) bool {
			return r.ID == 1 && *r.WinnerID == "p3" && *r.PayoutAmount == 500 && *r.RandomValue == "12"
		}))
	})

	t.Run("random values wider than 64 bits", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.openDraw(t, 1, "p1", "p2", "p3")
		value, ok := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
		require.True(t, ok)
		// 2^256-1 is divisible by 3
		h.uow.AccountRepo.On("Credit", mock.Anything, "p1", int64(300)).Return(int64(300), nil).Once()

		require.NoError(t, h.engine.OnRandomnessDelivered(context.Background(), 1, value))

		winner, _ := h.engine.RecentWinner()
		assert.Equal(t, "p1", winner)
	})

	t.Run("unknown request id is rejected", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.openDraw(t, 1, "alice", "bob")
		before := h.engine.Snapshot()

		err := h.engine.OnRandomnessDelivered(context.Background(), 2, big.NewInt(1))

		assert.ErrorIs(t, err, ErrUnknownRequest)
		assert.Equal(t, before, h.engine.Snapshot())
		h.uow.AccountRepo.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("delivery while open is rejected", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.allowEntries()
		h.enterAll(t, "alice")

		err := h.engine.OnRandomnessDelivered(context.Background(), 1, big.NewInt(1))

		assert.ErrorIs(t, err, ErrUnknownRequest)
		assert.Equal(t, 1, h.engine.PlayerCount())
	})

	t.Run("duplicate delivery is rejected", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.openDraw(t, 1, "alice")
		h.uow.AccountRepo.On("Credit", mock.Anything, "alice", int64(100)).Return(int64(100), nil).Once()
		require.NoError(t, h.engine.OnRandomnessDelivered(context.Background(), 1, big.NewInt(3)))

		err := h.engine.OnRandomnessDelivered(context.Background(), 1, big.NewInt(3))

		assert.ErrorIs(t, err, ErrUnknownRequest)
		h.uow.AccountRepo.AssertNumberOfCalls(t, "Credit", 1)
	})

	t.Run("nil value is rejected", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.openDraw(t, 1, "alice")

		err := h.engine.OnRandomnessDelivered(context.Background(), 1, nil)

		assert.ErrorIs(t, err, ErrInvalidRandomValue)
		assert.Equal(t, entities.PhaseDrawing, h.engine.Phase())
	})

	t.Run("payout failure keeps the round drawing", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.openDraw(t, 1, "alice", "bob")
		before := h.engine.Snapshot()
		h.uow.AccountRepo.On("Credit", mock.Anything, "bob", int64(200)).Return(int64(0), interfaces.ErrPayoutRejected).Once()

		err := h.engine.OnRandomnessDelivered(context.Background(), 1, big.NewInt(1))

		assert.ErrorIs(t, err, ErrPayoutTransferFailed)
		assert.ErrorIs(t, err, interfaces.ErrPayoutRejected)

		after := h.engine.Snapshot()
		require.NotNil(t, after.DeliveredAt)
		assert.Equal(t, h.clock.Now(), *after.DeliveredAt)
		after.DeliveredAt = nil
		assert.Equal(t, before, after)
		h.uow.RoundRepo.AssertCalled(t, "MarkDelivered", mock.Anything, int64(1), int64(1), h.clock.Now())
		_, ok := h.engine.RecentWinner()
		assert.False(t, ok)
		assert.Empty(t, h.publishedOfType(events.EventTypeWinnerPicked))

		// The same delivery succeeds once the account accepts payouts
		h.uow.AccountRepo.On("Credit", mock.Anything, "bob", int64(200)).Return(int64(200), nil).Once()
		require.NoError(t, h.engine.OnRandomnessDelivered(context.Background(), 1, big.NewInt(1)))
		winner, _ := h.engine.RecentWinner()
		assert.Equal(t, "bob", winner)
	})

	t.Run("next round accepts entries", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.openDraw(t, 1, "alice")
		h.uow.AccountRepo.On("Credit", mock.Anything, "alice", int64(100)).Return(int64(100), nil).Once()
		require.NoError(t, h.engine.OnRandomnessDelivered(context.Background(), 1, big.NewInt(0)))

		require.NoError(t, h.engine.Enter(context.Background(), "bob", 100))

		assert.Equal(t, 1, h.engine.PlayerCount())
		assert.Equal(t, int64(2), h.engine.RoundID())
	})
}

func TestRaffleEngine_RequestRedraw(t *testing.T) {
	cfg := testRaffleConfig()
	cfg.DrawTimeout = 5 * time.Minute

	t.Run("not allowed while open", func(t *testing.T) {
		h := newEngineHarness(t, cfg)

		_, err := h.engine.RequestRedraw(context.Background())

		assert.ErrorIs(t, err, ErrRedrawNotAllowed)
	})

	t.Run("not allowed before the timeout", func(t *testing.T) {
		h := newEngineHarness(t, cfg)
		h.openDraw(t, 1, "alice")
		h.clock.Advance(4 * time.Minute)

		assert.False(t, h.engine.RedrawDue())
		_, err := h.engine.RequestRedraw(context.Background())

		assert.ErrorIs(t, err, ErrRedrawNotAllowed)
	})

	t.Run("not allowed when disabled", func(t *testing.T) {
		h := newEngineHarness(t, testRaffleConfig())
		h.openDraw(t, 1, "alice")
		h.clock.Advance(24 * time.Hour)

		_, err := h.engine.RequestRedraw(context.Background())

		assert.ErrorIs(t, err, ErrRedrawNotAllowed)
	})

	t.Run("not allowed after a failed payout", func(t *testing.T) {
		h := newEngineHarness(t, cfg)
		h.openDraw(t, 1, "alice", "bob")
		h.uow.AccountRepo.On("Credit", mock.Anything, "bob", int64(200)).Return(int64(0), errors.New("connection reset")).Once()
		require.ErrorIs(t, h.engine.OnRandomnessDelivered(context.Background(), 1, big.NewInt(1)), ErrPayoutTransferFailed)

		h.clock.Advance(10 * time.Minute)

		assert.False(t, h.engine.RedrawDue())
		_, err := h.engine.RequestRedraw(context.Background())
		assert.ErrorIs(t, err, ErrRedrawNotAllowed)
		h.oracle.AssertNumberOfCalls(t, "RequestRandomness", 1)

		// Redelivering the original request still pays the drawn winner
		h.uow.AccountRepo.On("Credit", mock.Anything, "bob", int64(200)).Return(int64(200), nil).Once()
		require.NoError(t, h.engine.OnRandomnessDelivered(context.Background(), 1, big.NewInt(1)))
		winner, _ := h.engine.RecentWinner()
		assert.Equal(t, "bob", winner)
		assert.Nil(t, h.engine.Snapshot().DeliveredAt)
	})

	t.Run("delivery marker survives a storage failure", func(t *testing.T) {
		h := newEngineHarness(t, cfg)
		h.allowEntries()
		h.enterAll(t, "alice")
		h.uow.RoundRepo.On("MarkDrawing", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
		h.uow.RoundRepo.On("MarkDelivered", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("database down")).Once()
		h.clock.Advance(h.engine.RoundInterval() + time.Second)
		h.oracle.On("RequestRandomness", mock.Anything, mock.Anything).Return(int64(1), nil).Once()
		_, err := h.engine.PerformUpkeep(context.Background())
		require.NoError(t, err)
		h.uow.AccountRepo.On("Credit", mock.Anything, "alice", int64(100)).Return(int64(0), errors.New("database down")).Once()

		require.Error(t, h.engine.OnRandomnessDelivered(context.Background(), 1, big.NewInt(0)))
		h.clock.Advance(10 * time.Minute)

		assert.False(t, h.engine.RedrawDue())
	})

	t.Run("restored delivery blocks redraws", func(t *testing.T) {
		requestedAt := testStart.Add(-time.Hour)
		deliveredAt := testStart.Add(-30 * time.Minute)
		requestID := int64(4)

		uow := testhelpers.NewMockUnitOfWork()
		factory := new(testhelpers.MockUnitOfWorkFactory)
		factory.On("Create").Return(uow)
		uow.On("Begin", mock.Anything).Return(nil)
		uow.On("Commit").Return(nil)
		uow.On("Rollback").Return(nil).Maybe()
		uow.RoundRepo.On("GetCurrent", mock.Anything).Return(&entities.Round{
			ID:               3,
			Phase:            entities.PhaseDrawing,
			PoolBalance:      100,
			LastDrawAt:       requestedAt,
			PendingRequestID: &requestID,
			DrawRequestedAt:  &requestedAt,
			DeliveredAt:      &deliveredAt,
		}, nil)
		uow.EntryRepo.On("GetByRound", mock.Anything, int64(3)).Return([]*entities.Entry{{RoundID: 3, Slot: 0, ParticipantID: "alice"}}, nil)
		uow.RoundRepo.On("GetLatestCompleted", mock.Anything).Return(nil, nil)

		engine, err := NewRaffleEngine(context.Background(), cfg, factory, new(testhelpers.MockRandomnessOracle), testhelpers.NewFakeClock(testStart))
		require.NoError(t, err)

		assert.False(t, engine.RedrawDue())
	})

	t.Run("replaces the pending request", func(t *testing.T) {
		h := newEngineHarness(t, cfg)
		h.openDraw(t, 1, "alice", "bob")
		h.clock.Advance(5 * time.Minute)
		h.oracle.On("RequestRandomness", mock.Anything, mock.Anything).Return(int64(2), nil).Once()

		assert.True(t, h.engine.RedrawDue())
		id, err := h.engine.RequestRedraw(context.Background())

		require.NoError(t, err)
		assert.Equal(t, int64(2), id)
		pending, _ := h.engine.PendingRequestID()
		assert.Equal(t, int64(2), pending)

		requested := h.publishedOfType(events.EventTypeDrawRequested)
		require.Len(t, requested, 2)
		assert.True(t, requested[1].(events.DrawRequestedEvent).Redraw)

		err = h.engine.OnRandomnessDelivered(context.Background(), 1, big.NewInt(0))
		assert.ErrorIs(t, err, ErrUnknownRequest)

		h.uow.AccountRepo.On("Credit", mock.Anything, "alice", int64(200)).Return(int64(200), nil).Once()
		require.NoError(t, h.engine.OnRandomnessDelivered(context.Background(), 2, big.NewInt(0)))
		assert.Equal(t, entities.PhaseOpen, h.engine.Phase())
	})
}

func TestRaffleEngine_Player(t *testing.T) {
	h := newEngineHarness(t, testRaffleConfig())
	h.allowEntries()
	h.enterAll(t, "alice")

	_, err := h.engine.Player(1)
	assert.ErrorIs(t, err, ErrPlayerIndexOutOfRange)
	_, err = h.engine.Player(-1)
	assert.ErrorIs(t, err, ErrPlayerIndexOutOfRange)
}

func TestRaffleEngine_SnapshotIsACopy(t *testing.T) {
	h := newEngineHarness(t, testRaffleConfig())
	h.allowEntries()
	h.enterAll(t, "alice")

	snap := h.engine.Snapshot()
	snap.Players[0] = "mallory"

	p, err := h.engine.Player(0)
	require.NoError(t, err)
	assert.Equal(t, "alice", p)
}

func TestRaffleEngine_ConcurrentEntries(t *testing.T) {
	h := newEngineHarness(t, testRaffleConfig())
	h.allowEntries()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, h.engine.Enter(context.Background(), fmt.Sprintf("player-%d", i), 100))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, h.engine.PlayerCount())
	assert.Equal(t, int64(n*100), h.engine.PoolBalance())

	slots := make(map[int]bool)
	for _, entry := range h.entries {
		slots[entry.Slot] = true
	}
	assert.Len(t, slots, n)
}

func TestRaffleEngine_ConcurrentUpkeepRequestsOnce(t *testing.T) {
	h := newEngineHarness(t, testRaffleConfig())
	h.allowEntries()
	h.allowDraws()
	h.enterAll(t, "alice")
	h.clock.Advance(time.Hour)
	h.oracle.On("RequestRandomness", mock.Anything, mock.Anything).Return(int64(1), nil).Once()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.engine.PerformUpkeep(context.Background()); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrUpkeepNotNeeded)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	h.oracle.AssertNumberOfCalls(t, "RequestRandomness", 1)
}
