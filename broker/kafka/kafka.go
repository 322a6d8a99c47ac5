// Package kafka provides a Kafka backend for liquidbus, bridged through
// Watermill. Kafka has no per-message delete; acknowledgment advances the
// consumer group offset instead, so redelivery of a single skipped message is
// not available.
package kafka

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/liquidbus/liquidbus/broker"
	"github.com/liquidbus/liquidbus/broker/wmbridge"
)

// BrokerName is the name used to register this backend.
const BrokerName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	broker.RegisterWithCapabilities(BrokerName, Build, broker.KafkaCapabilities)
}

// Build creates a Kafka broker client from the shared config.
func Build(_ context.Context, cfg broker.Config, logger watermill.LoggerAdapter) (broker.Client, error) {
	brokers := cfg.GetKafkaBrokers()
	consumerGroup := cfg.GetKafkaConsumerGroup()

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:       brokers,
			Unmarshaler:   kafka.DefaultMarshaler{},
			ConsumerGroup: consumerGroup,
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	return wmbridge.New(publisher, subscriber, logger,
		wmbridge.WithVisibilityTimeout(cfg.GetVisibilityTimeout())), nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() broker.Capabilities {
	return broker.KafkaCapabilities
}
