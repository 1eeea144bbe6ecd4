package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (community) or NATS (pro). Execution-history and
// export notifications flow through it fire-and-forget: the calculator's
// success never depends on a subscriber succeeding.
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

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
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
	Type string `env:"HARRIER_BUS_TYPE"`

	// Channel settings (community tier)
	ChannelBufferSize int `env:"HARRIER_BUS_BUFFER"`

	// NATS settings (pro tier)
	NATSUrl           string `env:"HARRIER_NATS_URL"`
	NATSToken         string `env:"HARRIER_NATS_TOKEN"`
	NATSMaxReconnects int    `env:"HARRIER_NATS_MAX_RECONNECTS"`
	NATSReconnectWait int    `env:"HARRIER_NATS_RECONNECT_WAIT"` // seconds
}

// Standard topic names for the calculation pipeline.
const (
	TopicHistoryRecorded = "harrier.history.recorded"
	TopicRunCompleted    = "harrier.run.completed"
	TopicRunLocked       = "harrier.run.locked"
	TopicExportCompleted = "harrier.export.completed"
	TopicReplayVerified  = "harrier.replay.verified"
)
