package infrastructure

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"raffler/domain/interfaces"
	"raffler/domain/services"

	log "github.com/sirupsen/logrus"
)

// ErrNonexistentRequest is returned when fulfilling an id that was never issued or is already fulfilled
var ErrNonexistentRequest = errors.New("nonexistent request")

// maxRandomValue bounds generated values to 256 bits
var maxRandomValue = new(big.Int).Lsh(big.NewInt(1), 256)

// LocalOracle is an in-process randomness coordinator. Request ids start at 1.
// Delivery happens on Fulfill or, when auto-fulfil is enabled, on a background
// goroutine after a delay; never from inside RequestRandomness.
type LocalOracle struct {
	mu       sync.Mutex
	nextID   int64
	pending  map[int64]interfaces.RandomnessRequest
	consumer interfaces.RandomnessConsumer

	autoFulfilDelay time.Duration
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
}

// LocalOracleOption configures a LocalOracle
type LocalOracleOption func(*LocalOracle)

// WithAutoFulfil delivers every request after delay
func WithAutoFulfil(delay time.Duration) LocalOracleOption {
	return func(o *LocalOracle) {
		o.autoFulfilDelay = delay
	}
}

// NewLocalOracle creates a local oracle
func NewLocalOracle(opts ...LocalOracleOption) *LocalOracle {
	ctx, cancel := context.WithCancel(context.Background())
	o := &LocalOracle{
		pending: make(map[int64]interfaces.RandomnessRequest),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetConsumer sets the receiver of delivered values
func (o *LocalOracle) SetConsumer(consumer interfaces.RandomnessConsumer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.consumer = consumer
}

// RequestRandomness records the request and returns its id
func (o *LocalOracle) RequestRandomness(ctx context.Context, req interfaces.RandomnessRequest) (int64, error) {
	if req.NumWords == 0 {
		return 0, fmt.Errorf("num words must be positive")
	}

	o.mu.Lock()
	o.nextID++
	requestID := o.nextID
	o.pending[requestID] = req
	o.mu.Unlock()

	log.WithFields(log.Fields{
		"request_id":         requestID,
		"gas_lane":           req.GasLane,
		"subscription_id":    req.SubscriptionID,
		"callback_gas_limit": req.CallbackGasLimit,
	}).Info("Local oracle received randomness request")

	if o.autoFulfilDelay > 0 {
		o.wg.Add(1)
		go o.autoFulfil(requestID)
	}

	return requestID, nil
}

func (o *LocalOracle) autoFulfil(requestID int64) {
	defer o.wg.Done()

	timer := time.NewTimer(o.autoFulfilDelay)
	defer timer.Stop()

	select {
	case <-o.ctx.Done():
		return
	case <-timer.C:
	}

	if err := o.Fulfill(o.ctx, requestID); err != nil {
		log.WithFields(log.Fields{
			"request_id": requestID,
			"error":      err,
		}).Warn("Local oracle auto-fulfil failed")
	}
}

// Fulfill delivers a random 256-bit value for requestID
func (o *LocalOracle) Fulfill(ctx context.Context, requestID int64) error {
	value, err := rand.Int(rand.Reader, maxRandomValue)
	if err != nil {
		return fmt.Errorf("failed to generate random value: %w", err)
	}
	return o.FulfillWithValue(ctx, requestID, value)
}

// FulfillWithValue delivers value for requestID. A request the consumer fails
// to process stays pending unless the consumer no longer knows it.
func (o *LocalOracle) FulfillWithValue(ctx context.Context, requestID int64, value *big.Int) error {
	o.mu.Lock()
	req, ok := o.pending[requestID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNonexistentRequest, requestID)
	}
	consumer := o.consumer
	if consumer == nil {
		o.mu.Unlock()
		return fmt.Errorf("no randomness consumer registered")
	}
	delete(o.pending, requestID)
	o.mu.Unlock()

	err := consumer.OnRandomnessDelivered(ctx, requestID, value)
	if err != nil && !errors.Is(err, services.ErrUnknownRequest) {
		o.mu.Lock()
		o.pending[requestID] = req
		o.mu.Unlock()
	}
	if err != nil {
		return fmt.Errorf("consumer rejected request %d: %w", requestID, err)
	}

	log.WithField("request_id", requestID).Info("Local oracle fulfilled randomness request")
	return nil
}

// PendingRequests returns the unfulfilled request ids in ascending order
func (o *LocalOracle) PendingRequests() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	ids := make([]int64, 0, len(o.pending))
	for id := range o.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close stops pending auto-fulfilment
func (o *LocalOracle) Close() {
	o.cancel()
	o.wg.Wait()
}
