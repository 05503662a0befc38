package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"raffler/domain/entities"
	"raffler/domain/events"
	"raffler/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// RaffleEngine runs the raffle state machine. The current round is held in
// memory and written through to storage; the in-memory round only changes
// after the backing transaction commits, so a rejected call leaves it intact.
// The one exception is the delivery marker, which is kept in memory even when
// persisting it fails.
type RaffleEngine struct {
	mu sync.Mutex

	cfg        entities.RaffleConfig
	uowFactory interfaces.UnitOfWorkFactory
	oracle     interfaces.RandomnessOracle
	clock      interfaces.Clock

	round        *entities.Round
	recentWinner *string
}

// NewRaffleEngine restores the current round from storage, creating the first
// open round when none exists.
func NewRaffleEngine(
	ctx context.Context,
	cfg entities.RaffleConfig,
	uowFactory interfaces.UnitOfWorkFactory,
	oracle interfaces.RandomnessOracle,
	clock interfaces.Clock,
) (*RaffleEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid raffle config: %w", err)
	}
	if cfg.RequestConfirmations == 0 {
		cfg.RequestConfirmations = entities.DefaultRequestConfirmations
	}
	cfg.NumWords = entities.DefaultNumWords
	if clock == nil {
		clock = interfaces.SystemClock{}
	}

	e := &RaffleEngine{
		cfg:        cfg,
		uowFactory: uowFactory,
		oracle:     oracle,
		clock:      clock,
	}
	if err := e.restore(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *RaffleEngine) restore(ctx context.Context) error {
	uow := e.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	round, err := uow.RoundRepository().GetCurrent(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current round: %w", err)
	}

	if round == nil {
		round = entities.NewRound(e.clock.Now())
		if err := uow.RoundRepository().Create(ctx, round); err != nil {
			return fmt.Errorf("failed to create round: %w", err)
		}
		log.WithField("round_id", round.ID).Info("Created first raffle round")
	} else {
		entries, err := uow.EntryRepository().GetByRound(ctx, round.ID)
		if err != nil {
			return fmt.Errorf("failed to get round entries: %w", err)
		}
		round.Players = make([]string, 0, len(entries))
		for _, entry := range entries {
			round.Players = append(round.Players, entry.ParticipantID)
		}
	}

	last, err := uow.RoundRepository().GetLatestCompleted(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest completed round: %w", err)
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	e.round = round
	if last != nil && last.WinnerID != nil {
		winner := *last.WinnerID
		e.recentWinner = &winner
	}

	log.WithFields(log.Fields{
		"round_id":     round.ID,
		"phase":        round.Phase,
		"players":      round.PlayerCount(),
		"pool_balance": round.PoolBalance,
	}).Info("Raffle engine restored")
	return nil
}

// Enter adds one player slot for participantID and adds the contribution to the pool.
// Contributions above the entrance fee are kept in full.
func (e *RaffleEngine) Enter(ctx context.Context, participantID string, contribution int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if contribution < e.cfg.EntranceFee {
		return fmt.Errorf("%w: got %d, need %d", ErrInsufficientContribution, contribution, e.cfg.EntranceFee)
	}
	if !e.round.IsOpen() {
		return ErrRoundNotOpen
	}
	if participantID == "" {
		return ErrInvalidParticipant
	}

	now := e.clock.Now()
	entry := &entities.Entry{
		RoundID:       e.round.ID,
		Slot:          e.round.PlayerCount(),
		ParticipantID: participantID,
		Contribution:  contribution,
		EnteredAt:     now,
	}

	uow := e.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if err := uow.EntryRepository().Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to create entry: %w", err)
	}
	if err := uow.RoundRepository().AddToPool(ctx, e.round.ID, contribution); err != nil {
		return fmt.Errorf("failed to update pool: %w", err)
	}
	if _, err := uow.AccountRepository().EnsureAccount(ctx, participantID); err != nil {
		return fmt.Errorf("failed to ensure account: %w", err)
	}

	if err := uow.EventBus().Publish(events.EnteredEvent{
		RoundID:       e.round.ID,
		ParticipantID: participantID,
		Contribution:  contribution,
		Slot:          entry.Slot,
		PoolBalance:   e.round.PoolBalance + contribution,
	}); err != nil {
		return fmt.Errorf("failed to publish entered event: %w", err)
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	e.round.AddEntry(participantID, contribution)

	log.WithFields(log.Fields{
		"round_id":       e.round.ID,
		"participant_id": participantID,
		"contribution":   contribution,
		"slot":           entry.Slot,
		"pool_balance":   e.round.PoolBalance,
	}).Info("Raffle entered")
	return nil
}

// CheckUpkeep reports whether a draw may be triggered now
func (e *RaffleEngine) CheckUpkeep() bool {
	return e.UpkeepStatus().Needed()
}

// UpkeepStatus returns each draw condition evaluated at the current time
func (e *RaffleEngine) UpkeepStatus() entities.UpkeepCheck {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round.CheckUpkeep(e.clock.Now(), e.cfg.RoundInterval)
}

// PerformUpkeep closes entry and requests randomness for the draw.
// Returns the oracle request id.
func (e *RaffleEngine) PerformUpkeep(ctx context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if !e.round.CheckUpkeep(now, e.cfg.RoundInterval).Needed() {
		return 0, &UpkeepNotNeededError{
			PoolBalance: e.round.PoolBalance,
			PlayerCount: e.round.PlayerCount(),
			Phase:       e.round.Phase,
		}
	}

	requestID, err := e.requestDraw(ctx, now, false)
	if err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"round_id":     e.round.ID,
		"request_id":   requestID,
		"players":      e.round.PlayerCount(),
		"pool_balance": e.round.PoolBalance,
	}).Info("Raffle draw requested")
	return requestID, nil
}

// RequestRedraw replaces a pending request that has outlived the draw timeout.
// Deliveries for the replaced request are rejected afterwards.
func (e *RaffleEngine) RequestRedraw(ctx context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if !e.redrawDue(now) {
		return 0, ErrRedrawNotAllowed
	}

	previous := *e.round.PendingRequestID
	requestID, err := e.requestDraw(ctx, now, true)
	if err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"round_id":            e.round.ID,
		"request_id":          requestID,
		"replaced_request_id": previous,
	}).Warn("Raffle draw re-requested after timeout")
	return requestID, nil
}

// RedrawDue reports whether RequestRedraw would be accepted now
func (e *RaffleEngine) RedrawDue() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.redrawDue(e.clock.Now())
}

func (e *RaffleEngine) redrawDue(now time.Time) bool {
	if !e.cfg.RedrawEnabled() || !e.round.IsDrawing() || e.round.DrawRequestedAt == nil {
		return false
	}
	// Only a lost callback is redrawn. A delivered value must not be re-rolled.
	if e.round.HasDelivery() {
		return false
	}
	return now.Sub(*e.round.DrawRequestedAt) >= e.cfg.DrawTimeout
}

// requestDraw must be called with mu held
func (e *RaffleEngine) requestDraw(ctx context.Context, now time.Time, redraw bool) (int64, error) {
	requestID, err := e.oracle.RequestRandomness(ctx, interfaces.RandomnessRequest{
		GasLane:              e.cfg.GasLane,
		SubscriptionID:       e.cfg.SubscriptionID,
		RequestConfirmations: e.cfg.RequestConfirmations,
		CallbackGasLimit:     e.cfg.CallbackGasLimit,
		NumWords:             e.cfg.NumWords,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to request randomness: %w", err)
	}

	uow := e.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if err := uow.RoundRepository().MarkDrawing(ctx, e.round.ID, requestID, now); err != nil {
		return 0, fmt.Errorf("failed to mark round drawing: %w", err)
	}

	if err := uow.EventBus().Publish(events.DrawRequestedEvent{
		RoundID:     e.round.ID,
		RequestID:   requestID,
		PlayerCount: e.round.PlayerCount(),
		PoolBalance: e.round.PoolBalance,
		Redraw:      redraw,
	}); err != nil {
		return 0, fmt.Errorf("failed to publish draw requested event: %w", err)
	}

	if err := uow.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	e.round.StartDrawing(requestID, now)
	return requestID, nil
}

// OnRandomnessDelivered resolves the pending draw: the player at
// value mod playerCount receives the whole pool and a new round opens.
func (e *RaffleEngine) OnRandomnessDelivered(ctx context.Context, requestID int64, value *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.round.IsPendingRequest(requestID) {
		log.WithFields(log.Fields{
			"request_id": requestID,
			"phase":      e.round.Phase,
		}).Warn("Rejected randomness for unknown request")
		return fmt.Errorf("%w: %d", ErrUnknownRequest, requestID)
	}
	if value == nil {
		return ErrInvalidRandomValue
	}

	now := e.clock.Now()
	next, picked, err := e.resolveDraw(ctx, requestID, value, now)
	if err != nil {
		e.recordDelivery(ctx, requestID, now)
		return err
	}

	e.round = next
	e.recentWinner = &picked.Winner

	log.WithFields(log.Fields{
		"round_id":      picked.RoundID,
		"request_id":    requestID,
		"winner":        picked.Winner,
		"winner_index":  picked.WinnerIndex,
		"amount":        picked.Amount,
		"next_round_id": picked.NextRoundID,
	}).Info("Raffle winner picked")
	return nil
}

// resolveDraw pays the winner, completes the round and opens the next one in
// a single transaction. It does not touch in-memory state. Must be called with mu held.
func (e *RaffleEngine) resolveDraw(ctx context.Context, requestID int64, value *big.Int, now time.Time) (*entities.Round, events.WinnerPickedEvent, error) {
	playerCount := e.round.PlayerCount()
	winnerIndex := entities.WinnerIndex(value, playerCount)
	winner := e.round.Players[winnerIndex]
	payout := e.round.PoolBalance

	uow := e.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, events.WinnerPickedEvent{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	newBalance, err := uow.AccountRepository().Credit(ctx, winner, payout)
	if err != nil {
		log.WithFields(log.Fields{
			"round_id":   e.round.ID,
			"request_id": requestID,
			"winner":     winner,
			"amount":     payout,
		}).WithError(err).Error("Raffle payout failed")
		return nil, events.WinnerPickedEvent{}, fmt.Errorf("%w: %w", ErrPayoutTransferFailed, err)
	}

	history := &entities.BalanceHistory{
		ParticipantID:   winner,
		RoundID:         e.round.ID,
		BalanceBefore:   newBalance - payout,
		BalanceAfter:    newBalance,
		ChangeAmount:    payout,
		TransactionType: entities.TransactionTypeRaffleWin,
		TransactionMetadata: map[string]any{
			"round_id":     e.round.ID,
			"request_id":   requestID,
			"winner_index": winnerIndex,
			"player_count": playerCount,
			"random_value": value.String(),
		},
		CreatedAt: now,
	}
	if err := uow.BalanceHistoryRepository().Record(ctx, history); err != nil {
		return nil, events.WinnerPickedEvent{}, fmt.Errorf("failed to record balance history: %w", err)
	}
	if err := uow.EventBus().Publish(events.BalanceChangeEvent{
		ParticipantID:   winner,
		OldBalance:      history.BalanceBefore,
		NewBalance:      history.BalanceAfter,
		TransactionType: history.TransactionType,
		ChangeAmount:    payout,
	}); err != nil {
		return nil, events.WinnerPickedEvent{}, fmt.Errorf("failed to publish balance change event: %w", err)
	}

	completed := e.round.Clone()
	completed.Complete(winner, payout, value, now)
	if err := uow.RoundRepository().Complete(ctx, completed); err != nil {
		return nil, events.WinnerPickedEvent{}, fmt.Errorf("failed to complete round: %w", err)
	}

	next := entities.NewRound(now)
	if err := uow.RoundRepository().Create(ctx, next); err != nil {
		return nil, events.WinnerPickedEvent{}, fmt.Errorf("failed to create next round: %w", err)
	}

	picked := events.WinnerPickedEvent{
		RoundID:     completed.ID,
		RequestID:   requestID,
		Winner:      winner,
		WinnerIndex: winnerIndex,
		Amount:      payout,
		PlayerCount: playerCount,
		NextRoundID: next.ID,
	}
	if err := uow.EventBus().Publish(picked); err != nil {
		return nil, events.WinnerPickedEvent{}, fmt.Errorf("failed to publish winner picked event: %w", err)
	}

	if err := uow.Commit(); err != nil {
		return nil, events.WinnerPickedEvent{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return next, picked, nil
}

// recordDelivery marks the pending request as answered so it is never replaced
// by a redraw; the round then waits for the same request to be delivered again.
// Must be called with mu held.
func (e *RaffleEngine) recordDelivery(ctx context.Context, requestID int64, now time.Time) {
	if e.round.HasDelivery() {
		return
	}
	e.round.MarkDelivered(now)

	fields := log.Fields{
		"round_id":   e.round.ID,
		"request_id": requestID,
	}

	// The failed resolution may have been caused by cancellation
	ctx = context.WithoutCancel(ctx)
	uow := e.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		log.WithFields(fields).WithError(err).Error("Failed to begin transaction for delivery marker")
		return
	}
	defer uow.Rollback()

	if err := uow.RoundRepository().MarkDelivered(ctx, e.round.ID, requestID, now); err != nil {
		log.WithFields(fields).WithError(err).Error("Failed to persist delivery marker")
		return
	}
	if err := uow.Commit(); err != nil {
		log.WithFields(fields).WithError(err).Error("Failed to commit delivery marker")
		return
	}

	log.WithFields(fields).Warn("Randomness delivered but draw not resolved; redraws disabled for this request")
}

// Phase returns the phase of the current round
func (e *RaffleEngine) Phase() entities.Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round.Phase
}

// EntranceFee returns the minimum contribution
func (e *RaffleEngine) EntranceFee() int64 {
	return e.cfg.EntranceFee
}

// RoundInterval returns the minimum time between draws
func (e *RaffleEngine) RoundInterval() time.Duration {
	return e.cfg.RoundInterval
}

// Config returns the engine configuration
func (e *RaffleEngine) Config() entities.RaffleConfig {
	return e.cfg
}

// LastDrawTimestamp returns when the current round started
func (e *RaffleEngine) LastDrawTimestamp() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round.LastDrawAt
}

// Player returns the participant in slot i of the current round
func (e *RaffleEngine) Player(i int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i < 0 || i >= len(e.round.Players) {
		return "", fmt.Errorf("%w: %d", ErrPlayerIndexOutOfRange, i)
	}
	return e.round.Players[i], nil
}

// PlayerCount returns the number of slots in the current round
func (e *RaffleEngine) PlayerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round.PlayerCount()
}

// RecentWinner returns the winner of the last completed round
func (e *RaffleEngine) RecentWinner() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.recentWinner == nil {
		return "", false
	}
	return *e.recentWinner, true
}

// PoolBalance returns the amount the next winner receives
func (e *RaffleEngine) PoolBalance() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round.PoolBalance
}

// PendingRequestID returns the outstanding request id while drawing
func (e *RaffleEngine) PendingRequestID() (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.round.PendingRequestID == nil || !e.round.IsDrawing() {
		return 0, false
	}
	return *e.round.PendingRequestID, true
}

// RoundID returns the id of the current round
func (e *RaffleEngine) RoundID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round.ID
}

// Snapshot returns a deep copy of the current round
func (e *RaffleEngine) Snapshot() entities.Round {
	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.round.Clone()
}

// IsUpkeepNotNeeded reports whether err is a rejected draw trigger
func IsUpkeepNotNeeded(err error) bool {
	return errors.Is(err, ErrUpkeepNotNeeded)
}
