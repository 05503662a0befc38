package infrastructure

import (
	"context"
)

// MessagePublisher defines the interface for publishing messages to a message bus
type MessagePublisher interface {
	// Publish publishes a message to the specified subject
	Publish(ctx context.Context, subject string, data []byte) error
}

// SequencedPublisher publishes to a persistent stream and returns the
// sequence number the stream assigned to the message
type SequencedPublisher interface {
	PublishSequenced(ctx context.Context, subject string, data []byte) (uint64, error)
}

// MessageSubscriber registers durable handlers. A handler error NAKs the message.
type MessageSubscriber interface {
	Subscribe(subject string, handler func([]byte) error) error
}
