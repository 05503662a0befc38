package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"raffler/domain/interfaces"
	"raffler/domain/services"
	"raffler/infrastructure/observability"

	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	SubjectOracleRequested = "oracle.randomness.requested"
	SubjectOracleFulfilled = "oracle.randomness.fulfilled"

	// OracleStream holds both request and fulfilment subjects
	OracleStream = "oracle_randomness"
)

// OracleRequestMessage is published for every randomness request
type OracleRequestMessage struct {
	KeyHash              string                 `json:"key_hash"`
	SubscriptionID       uint64                 `json:"subscription_id"`
	RequestConfirmations uint16                 `json:"request_confirmations"`
	CallbackGasLimit     uint32                 `json:"callback_gas_limit"`
	NumWords             uint32                 `json:"num_words"`
	Consumer             string                 `json:"consumer"`
	RequestedAt          *timestamppb.Timestamp `json:"requested_at"`
}

// OracleFulfilmentMessage is consumed from the fulfilment subject.
// Random words are decimal strings since they exceed 64 bits.
type OracleFulfilmentMessage struct {
	RequestID   int64    `json:"request_id"`
	RandomWords []string `json:"random_words"`
}

// NATSOracle requests randomness over JetStream. The request id is the stream
// sequence of the published request, so ids are unique per stream.
type NATSOracle struct {
	publisher SequencedPublisher

	mu       sync.RWMutex
	consumer interfaces.RandomnessConsumer
}

// NewNATSOracle creates an oracle client publishing through publisher
func NewNATSOracle(publisher SequencedPublisher) *NATSOracle {
	return &NATSOracle{publisher: publisher}
}

// SetConsumer sets the receiver of delivered values
func (o *NATSOracle) SetConsumer(consumer interfaces.RandomnessConsumer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.consumer = consumer
}

// RequestRandomness publishes the request and returns its stream sequence
func (o *NATSOracle) RequestRandomness(ctx context.Context, req interfaces.RandomnessRequest) (int64, error) {
	data, err := json.Marshal(&OracleRequestMessage{
		KeyHash:              req.GasLane,
		SubscriptionID:       req.SubscriptionID,
		RequestConfirmations: req.RequestConfirmations,
		CallbackGasLimit:     req.CallbackGasLimit,
		NumWords:             req.NumWords,
		Consumer:             sourceService,
		RequestedAt:          timestamppb.Now(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal randomness request: %w", err)
	}

	seq, err := o.publisher.PublishSequenced(ctx, SubjectOracleRequested, data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish randomness request: %w", err)
	}

	log.WithFields(log.Fields{
		"request_id":      seq,
		"subscription_id": req.SubscriptionID,
	}).Info("Published randomness request to NATS")
	return int64(seq), nil
}

// Start subscribes to fulfilments
func (o *NATSOracle) Start(subscriber MessageSubscriber) error {
	return subscriber.Subscribe(SubjectOracleFulfilled, o.HandleFulfilment)
}

// HandleFulfilment forwards a fulfilment to the consumer. Malformed messages
// and requests the consumer does not recognize are dropped; other consumer
// errors are returned so the message is redelivered.
func (o *NATSOracle) HandleFulfilment(data []byte) error {
	if metrics := observability.GetMetrics(); metrics != nil {
		metrics.RecordNATSMessageReceived(SubjectOracleFulfilled)
	}

	var msg OracleFulfilmentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.WithError(err).Error("Dropping malformed randomness fulfilment")
		return nil
	}
	if len(msg.RandomWords) == 0 {
		log.WithField("request_id", msg.RequestID).Error("Dropping randomness fulfilment without words")
		return nil
	}

	value, ok := new(big.Int).SetString(msg.RandomWords[0], 10)
	if !ok {
		log.WithFields(log.Fields{
			"request_id": msg.RequestID,
			"word":       msg.RandomWords[0],
		}).Error("Dropping randomness fulfilment with invalid word")
		return nil
	}

	o.mu.RLock()
	consumer := o.consumer
	o.mu.RUnlock()
	if consumer == nil {
		return fmt.Errorf("no randomness consumer registered")
	}

	err := consumer.OnRandomnessDelivered(context.Background(), msg.RequestID, value)
	if errors.Is(err, services.ErrUnknownRequest) {
		log.WithField("request_id", msg.RequestID).Warn("Dropping fulfilment for unknown request")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to deliver randomness for request %d: %w", msg.RequestID, err)
	}

	return nil
}

// EnsureOracleStream ensures the stream backing request ids exists
func EnsureOracleStream(client *NATSClient) error {
	return client.EnsureStream(OracleStream, []string{SubjectOracleRequested, SubjectOracleFulfilled}, "Randomness oracle requests and fulfilments")
}
