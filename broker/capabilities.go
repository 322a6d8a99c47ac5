package broker

// Capabilities describes the delivery features of a broker backend. The
// engine assumes at-least-once delivery; capabilities let callers check how
// unacknowledged messages come back.
type Capabilities struct {
	// SupportsDelete indicates the backend supports per-delivery
	// acknowledgment through Delete. Publish-only backends report false.
	SupportsDelete bool

	// SupportsRedelivery indicates an unacknowledged message is redelivered
	// by the broker (visibility timeout, nack, or equivalent).
	SupportsRedelivery bool

	// SupportsBatching indicates Receive can return more than one envelope
	// per poll.
	SupportsBatching bool

	// SupportsDelay indicates the backend can natively delay delivery.
	SupportsDelay bool

	// MaxMessageSize is the maximum body size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the backend.
	Name string
}

// Predefined capability sets for the built-in backends.
var (
	// SQSCapabilities for the native AWS SQS backend.
	SQSCapabilities = Capabilities{
		Name:               "sqs",
		SupportsDelete:     true,
		SupportsRedelivery: true,
		SupportsBatching:   true,
		SupportsDelay:      true,
		MaxMessageSize:     262144, // 256KB
	}

	// SNSCapabilities for the publish-only AWS SNS backend.
	SNSCapabilities = Capabilities{
		Name:           "sns",
		MaxMessageSize: 262144,
	}

	// ChannelCapabilities for the in-memory lease-based backend.
	ChannelCapabilities = Capabilities{
		Name:               "channel",
		SupportsDelete:     true,
		SupportsRedelivery: true,
		SupportsBatching:   true,
	}

	// GoChannelCapabilities for the Watermill gochannel bridge.
	GoChannelCapabilities = Capabilities{
		Name:               "gochannel",
		SupportsDelete:     true,
		SupportsRedelivery: true,
		SupportsBatching:   true,
	}

	// KafkaCapabilities for the Watermill Kafka bridge.
	KafkaCapabilities = Capabilities{
		Name:               "kafka",
		SupportsDelete:     true,
		SupportsRedelivery: false,
		SupportsBatching:   true,
		MaxMessageSize:     1048576, // Default 1MB
	}

	// NATSCapabilities for the Watermill NATS Core bridge.
	NATSCapabilities = Capabilities{
		Name:             "nats",
		SupportsDelete:   true,
		SupportsBatching: true,
		MaxMessageSize:   1048576,
	}

	// RabbitMQCapabilities for the Watermill AMQP bridge.
	RabbitMQCapabilities = Capabilities{
		Name:               "rabbitmq",
		SupportsDelete:     true,
		SupportsRedelivery: true,
		SupportsBatching:   true,
		SupportsDelay:      true,
	}
)

// GetCapabilities returns the capabilities for a backend by name, using the
// default registry. Returns a zero Capabilities struct for unknown names.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}
