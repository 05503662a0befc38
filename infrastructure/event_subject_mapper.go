package infrastructure

import (
	"fmt"

	"raffler/domain/events"
)

const (
	SubjectRaffleEntered        = "raffle.entered"
	SubjectRaffleDrawRequested  = "raffle.draw_requested"
	SubjectRaffleWinnerPicked   = "raffle.winner_picked"
	SubjectAccountBalanceChange = "accounts.balance_changed"
)

// EventSubjectMapper handles mapping between domain events and NATS subjects
type EventSubjectMapper struct{}

// NewEventSubjectMapper creates a new event subject mapper
func NewEventSubjectMapper() *EventSubjectMapper {
	return &EventSubjectMapper{}
}

// MapEventToSubject converts a domain event to its corresponding NATS subject
func (m *EventSubjectMapper) MapEventToSubject(event events.Event) string {
	switch event.Type() {
	case events.EventTypeEntered:
		return SubjectRaffleEntered
	case events.EventTypeDrawRequested:
		return SubjectRaffleDrawRequested
	case events.EventTypeWinnerPicked:
		return SubjectRaffleWinnerPicked
	case events.EventTypeBalanceChange:
		return SubjectAccountBalanceChange
	default:
		return fmt.Sprintf("unknown.%s", event.Type())
	}
}

// MapSubjectToEventType converts a NATS subject back to an event type
func (m *EventSubjectMapper) MapSubjectToEventType(subject string) events.EventType {
	switch subject {
	case SubjectRaffleEntered:
		return events.EventTypeEntered
	case SubjectRaffleDrawRequested:
		return events.EventTypeDrawRequested
	case SubjectRaffleWinnerPicked:
		return events.EventTypeWinnerPicked
	case SubjectAccountBalanceChange:
		return events.EventTypeBalanceChange
	default:
		return events.EventType(subject)
	}
}

// GetAllSubjects returns all subjects that this service publishes to
func (m *EventSubjectMapper) GetAllSubjects() []string {
	return []string{
		SubjectRaffleEntered,
		SubjectRaffleDrawRequested,
		SubjectRaffleWinnerPicked,
		SubjectAccountBalanceChange,
	}
}

// GetAllEventTypes returns the event types forwarded to NATS
func (m *EventSubjectMapper) GetAllEventTypes() []events.EventType {
	subjects := m.GetAllSubjects()
	types := make([]events.EventType, 0, len(subjects))
	for _, s := range subjects {
		types = append(types, m.MapSubjectToEventType(s))
	}
	return types
}
