// Package broker defines the contract between the liquidbus engine and the
// queueing system it runs against. Each backend (sqs, sns, kafka, nats,
// rabbitmq, channel, gochannel) lives in its own sub-package and registers
// itself with the broker registry.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
)

// QueueHandle is the broker-issued identity of a resolved queue or topic.
// For SQS this is the queue URL, for topic-based brokers it is usually the
// topic name itself. Handles are resolved once per consumer and cached.
type QueueHandle string

// Envelope is one unit of data received from a queue: the raw body, the
// broker metadata attributes, and the receipt handle required to delete this
// specific delivery. Envelopes are owned by the broker until deleted; the
// engine holds a transient reference while a pipeline is in flight.
type Envelope struct {
	Body          []byte
	Attributes    map[string]string
	MessageID     string
	ReceiptHandle string
}

var (
	// ErrReceiveUnsupported is returned by publish-only backends such as SNS.
	ErrReceiveUnsupported = errors.New("liquidbus: broker does not support receiving")

	// ErrUnknownReceiptHandle is returned by Delete when the handle does not
	// identify an in-flight delivery (already deleted, or lease expired).
	ErrUnknownReceiptHandle = errors.New("liquidbus: unknown receipt handle")

	// ErrClosed is returned by all operations after Close.
	ErrClosed = errors.New("liquidbus: broker client is closed")
)

// Client is the transport seam used by consumers and producers. All methods
// must be safe for concurrent use; Receive is expected to honour context
// cancellation and return promptly once the context is done.
type Client interface {
	// ResolveQueue maps a logical queue name to a broker handle.
	ResolveQueue(ctx context.Context, name string) (QueueHandle, error)

	// Receive returns up to batchSize envelopes. An empty slice is a normal
	// outcome of a poll that timed out with no messages.
	Receive(ctx context.Context, handle QueueHandle, batchSize int) ([]Envelope, error)

	// Delete acknowledges one delivery. The receipt handle is valid for at
	// most one Delete call.
	Delete(ctx context.Context, handle QueueHandle, receiptHandle string) error

	// Publish sends one message with the given attribute set.
	Publish(ctx context.Context, handle QueueHandle, body []byte, attributes map[string]string) error

	Close() error
}

// Config provides the settings broker builders need. The interface keeps
// backend sub-packages decoupled from the engine's config package.
type Config interface {
	// GetBrokerSystem returns the backend name used for registry lookup.
	GetBrokerSystem() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string

	// Polling behaviour shared by backends that emulate long polling.
	GetWaitTime() time.Duration
	GetVisibilityTimeout() time.Duration
}

// Builder is the function signature for creating a broker client from config.
// Builders must not begin any network polling; the consumer's Start does.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Client, error)
