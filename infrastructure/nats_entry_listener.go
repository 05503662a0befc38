package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"raffler/domain/services"
	"raffler/infrastructure/observability"

	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const (
	SubjectEnterCommand  = "raffle.commands.enter"
	SubjectEnterRejected = "raffle.commands.enter_rejected"

	// CommandStream holds inbound entry commands and their rejections
	CommandStream = "raffle_commands"
)

// EnterCommandMessage asks the raffle to enter a participant
type EnterCommandMessage struct {
	ParticipantID string `json:"participant_id"`
	Contribution  int64  `json:"contribution"`
}

// EnterRejectedMessage reports an entry the raffle refused
type EnterRejectedMessage struct {
	ParticipantID string                 `json:"participant_id"`
	Contribution  int64                  `json:"contribution"`
	Reason        string                 `json:"reason"`
	RejectedAt    *timestamppb.Timestamp `json:"rejected_at"`
}

// Entrant accepts raffle entries
type Entrant interface {
	Enter(ctx context.Context, participantID string, contribution int64) error
}

// EntryListener turns entry commands from JetStream into raffle entries.
// Delivery is at least once: a command whose ack is lost is entered again.
type EntryListener struct {
	entrant   Entrant
	publisher MessagePublisher
}

// NewEntryListener creates a listener entering through entrant and reporting
// rejections through publisher
func NewEntryListener(entrant Entrant, publisher MessagePublisher) *EntryListener {
	return &EntryListener{
		entrant:   entrant,
		publisher: publisher,
	}
}

// Start subscribes to entry commands
func (l *EntryListener) Start(subscriber MessageSubscriber) error {
	if err := subscriber.Subscribe(SubjectEnterCommand, l.HandleEnter); err != nil {
		return err
	}
	log.WithField("subject", SubjectEnterCommand).Info("Listening for raffle entry commands")
	return nil
}

// HandleEnter enters the participant named in the command. Malformed commands
// are dropped and refused entries are published as rejections; only storage
// failures are returned for redelivery.
func (l *EntryListener) HandleEnter(data []byte) error {
	if metrics := observability.GetMetrics(); metrics != nil {
		metrics.RecordNATSMessageReceived(SubjectEnterCommand)
	}

	var cmd EnterCommandMessage
	if err := json.Unmarshal(data, &cmd); err != nil {
		log.WithError(err).Error("Dropping malformed entry command")
		return nil
	}

	ctx := context.Background()
	err := l.entrant.Enter(ctx, cmd.ParticipantID, cmd.Contribution)
	if err == nil {
		return nil
	}
	if isEntryRejection(err) {
		log.WithFields(log.Fields{
			"participant_id": cmd.ParticipantID,
			"contribution":   cmd.Contribution,
			"reason":         err.Error(),
		}).Info("Entry command rejected")
		return l.publishRejection(ctx, cmd, err)
	}
	return fmt.Errorf("failed to enter %s: %w", cmd.ParticipantID, err)
}

func (l *EntryListener) publishRejection(ctx context.Context, cmd EnterCommandMessage, reason error) error {
	data, err := json.Marshal(&EnterRejectedMessage{
		ParticipantID: cmd.ParticipantID,
		Contribution:  cmd.Contribution,
		Reason:        reason.Error(),
		RejectedAt:    timestamppb.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal entry rejection: %w", err)
	}

	// The rejection is informational. The command itself is done.
	if err := l.publisher.Publish(ctx, SubjectEnterRejected, data); err != nil {
		log.WithError(err).WithField("participant_id", cmd.ParticipantID).Error("Failed to publish entry rejection")
		return nil
	}
	if metrics := observability.GetMetrics(); metrics != nil {
		metrics.RecordNATSMessagePublished(SubjectEnterRejected)
	}
	return nil
}

func isEntryRejection(err error) bool {
	return errors.Is(err, services.ErrInsufficientContribution) ||
		errors.Is(err, services.ErrRoundNotOpen) ||
		errors.Is(err, services.ErrInvalidParticipant)
}

// EnsureEntryStream ensures the stream backing entry commands exists
func EnsureEntryStream(client *NATSClient) error {
	return client.EnsureStream(CommandStream, []string{SubjectEnterCommand, SubjectEnterRejected}, "Raffle entry commands and rejections")
}
