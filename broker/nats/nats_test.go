package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liquidbus/liquidbus/broker"
)

type stubPublisher struct{}

func (stubPublisher) Publish(string, ...*message.Message) error { return nil }
func (stubPublisher) Close() error                              { return nil }

type stubSubscriber struct{}

func (stubSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return nil, nil
}
func (stubSubscriber) Close() error { return nil }

func TestBuildWiresFactories(t *testing.T) {
	originalPublisher := PublisherFactory
	originalSubscriber := SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = originalPublisher
		SubscriberFactory = originalSubscriber
	})

	var pubCfg wmnats.PublisherConfig
	var subCfg wmnats.SubscriberConfig
	PublisherFactory = func(cfg wmnats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		pubCfg = cfg
		return stubPublisher{}, nil
	}
	SubscriberFactory = func(cfg wmnats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		subCfg = cfg
		return stubSubscriber{}, nil
	}

	client, err := Build(context.Background(), natsTestConfig{url: "nats://localhost:4222"}, watermill.NopLogger{})
	require.NoError(t, err)
	require.NotNil(t, client)
	t.Cleanup(func() { _ = client.Close() })

	assert.Equal(t, "nats://localhost:4222", pubCfg.URL)
	assert.Len(t, pubCfg.NatsOptions, 2)
	assert.IsType(t, &wmnats.NATSMarshaler{}, pubCfg.Marshaler)

	assert.Equal(t, "nats://localhost:4222", subCfg.URL)
	assert.Len(t, subCfg.NatsOptions, 2)
	assert.IsType(t, &wmnats.NATSMarshaler{}, subCfg.Unmarshaler)
}

func TestBuildPropagatesFactoryErrors(t *testing.T) {
	originalPublisher := PublisherFactory
	originalSubscriber := SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = originalPublisher
		SubscriberFactory = originalSubscriber
	})

	boom := errors.New("connection refused")
	PublisherFactory = func(cfg wmnats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return nil, boom
	}

	_, err := Build(context.Background(), natsTestConfig{}, watermill.NopLogger{})
	assert.ErrorIs(t, err, boom)
}

func TestRegisteredInDefaultRegistry(t *testing.T) {
	assert.True(t, broker.DefaultRegistry.Has(BrokerName))
	assert.Equal(t, broker.NATSCapabilities, Capabilities())
	assert.Equal(t, broker.NATSCapabilities, broker.GetCapabilities(BrokerName))
}

type natsTestConfig struct {
	url string
}

func (c natsTestConfig) GetBrokerSystem() string             { return BrokerName }
func (c natsTestConfig) GetKafkaBrokers() []string           { return nil }
func (c natsTestConfig) GetKafkaConsumerGroup() string       { return "" }
func (c natsTestConfig) GetRabbitMQURL() string              { return "" }
func (c natsTestConfig) GetNATSURL() string                  { return c.url }
func (c natsTestConfig) GetAWSRegion() string                { return "" }
func (c natsTestConfig) GetAWSAccountID() string             { return "" }
func (c natsTestConfig) GetAWSAccessKeyID() string           { return "" }
func (c natsTestConfig) GetAWSSecretAccessKey() string       { return "" }
func (c natsTestConfig) GetAWSEndpoint() string              { return "" }
func (c natsTestConfig) GetWaitTime() time.Duration          { return 0 }
func (c natsTestConfig) GetVisibilityTimeout() time.Duration { return time.Minute }
