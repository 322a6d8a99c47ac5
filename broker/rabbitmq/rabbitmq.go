// Package rabbitmq provides a RabbitMQ/AMQP backend for liquidbus, bridged
// through Watermill. A nacked delivery is requeued by the broker, so lease
// expiry in the bridge maps onto real redelivery.
package rabbitmq

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/liquidbus/liquidbus/broker"
	"github.com/liquidbus/liquidbus/broker/wmbridge"
)

// BrokerName is the name used to register this backend.
const BrokerName = "rabbitmq"

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	broker.RegisterWithCapabilities(BrokerName, Build, broker.RabbitMQCapabilities)
}

// Build creates a RabbitMQ broker client from the shared config.
func Build(_ context.Context, cfg broker.Config, logger watermill.LoggerAdapter) (broker.Client, error) {
	url := cfg.GetRabbitMQURL()

	amqpConfig := amqp.NewDurablePubSubConfig(
		url,
		amqp.GenerateQueueNameTopicName,
	)

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return nil, err
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		return nil, err
	}

	return wmbridge.New(publisher, subscriber, logger,
		wmbridge.WithVisibilityTimeout(cfg.GetVisibilityTimeout())), nil
}

// Capabilities returns the capabilities of this backend.
func Capabilities() broker.Capabilities {
	return broker.RabbitMQCapabilities
}
