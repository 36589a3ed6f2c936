package domain

import (
	"context"
)

// EventBus is the asynchronous publish/subscribe channel coupling the
// pipeline stages. Delivery is fan-out: every subscription bound to a topic
// receives a copy of every message published to it. Stages filter by decoded
// event type themselves. Delivery is at-least-once; handlers must be
// idempotent.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages. Messages for one subscription
// are delivered in publish order.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is a raw bus message; Payload holds an encoded Envelope.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// TopicEvents is the single fan-out topic carrying every pipeline event.
const TopicEvents = "harrier.events"
