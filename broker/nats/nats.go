// Package nats provides a NATS Core backend for liquidbus, bridged through
// Watermill. Core NATS is fire-and-forget: an unacknowledged message is lost,
// not redelivered.
package nats

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/liquidbus/liquidbus/broker"
	"github.com/liquidbus/liquidbus/broker/wmbridge"
)

// BrokerName is the name used to register this backend.
const BrokerName = "nats"

// connectionName identifies liquidbus connections in NATS server monitoring.
const connectionName = "liquidbus"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	broker.RegisterWithCapabilities(BrokerName, Build, broker.NATSCapabilities)
}

// Build creates a NATS broker client from the shared config.
func Build(_ context.Context, cfg broker.Config, logger watermill.LoggerAdapter) (broker.Client, error) {
	url := cfg.GetNATSURL()
	marshaler := &nats.NATSMarshaler{}
	natsOptions := []natsgo.Option{
		natsgo.Name(connectionName),
		natsgo.RetryOnFailedConnect(true),
	}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: natsOptions,
			Marshaler:   marshaler,
		},
		logger,
	)
	if err != nil {
		return nil, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:         url,
			NatsOptions: natsOptions,
			Unmarshaler: marshaler,
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
	return broker.NATSCapabilities
}
