// Package sqs provides the native AWS SQS broker backend for liquidbus.
// Unlike topic-based backends it exposes the real SQS receipt handles, so the
// engine's acknowledgment policy maps one-to-one onto DeleteMessage calls.
package sqs

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/liquidbus/liquidbus/broker"
)

// BrokerName is the name used to register this backend.
const BrokerName = "sqs"

// maxReceiveBatch is the SQS-imposed ceiling on MaxNumberOfMessages.
const maxReceiveBatch = 10

// API is the subset of the SQS client used by this backend. It exists so
// tests can substitute a recording fake.
type API interface {
	GetQueueUrl(ctx context.Context, params *amazonsqs.GetQueueUrlInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.GetQueueUrlOutput, error)
	ReceiveMessage(ctx context.Context, params *amazonsqs.ReceiveMessageInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *amazonsqs.DeleteMessageInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *amazonsqs.SendMessageInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.SendMessageOutput, error)
}

// AWSDefaultConfigLoader allows overriding the AWS config loading for testing.
var AWSDefaultConfigLoader = awsconfig.LoadDefaultConfig

// ClientFactory allows overriding the SQS client creation for testing.
var ClientFactory = func(cfg aws.Config, optFns ...func(*amazonsqs.Options)) API {
	return amazonsqs.NewFromConfig(cfg, optFns...)
}

func init() {
	broker.RegisterWithCapabilities(BrokerName, Build, broker.SQSCapabilities)
}

// client implements broker.Client on top of the SQS API.
type client struct {
	api               API
	waitSeconds       int32
	visibilitySeconds int32
}

// New wraps an SQS API client as a broker.Client. waitSeconds and
// visibilitySeconds of zero leave the queue defaults in effect.
func New(api API, waitSeconds, visibilitySeconds int32) broker.Client {
	return &client{api: api, waitSeconds: waitSeconds, visibilitySeconds: visibilitySeconds}
}

// Build creates an SQS broker client from the shared config.
func Build(ctx context.Context, cfg broker.Config, logger watermill.LoggerAdapter) (broker.Client, error) {
	awsCfg, err := createAWSConfig(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	var optFns []func(*amazonsqs.Options)
	if cfg.GetAWSEndpoint() != "" {
		resolver, err := newStaticEndpointResolver(cfg.GetAWSEndpoint())
		if err != nil {
			return nil, err
		}
		logger.Info("Using custom SQS endpoint", watermill.LogFields{"endpoint": cfg.GetAWSEndpoint()})
		optFns = append(optFns, amazonsqs.WithEndpointResolverV2(resolver))
	}

	return New(
		ClientFactory(*awsCfg, optFns...),
		int32(cfg.GetWaitTime().Seconds()),
		int32(cfg.GetVisibilityTimeout().Seconds()),
	), nil
}

func createAWSConfig(ctx context.Context, cfg broker.Config, logger watermill.LoggerAdapter) (*aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.GetAWSRegion() != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.GetAWSRegion()))
	}
	if cfg.GetAWSAccessKeyID() != "" && cfg.GetAWSSecretAccessKey() != "" {
		logger.Info("Using static AWS credentials from config", watermill.LogFields{})
		opts = append(opts, awsconfig.WithCredentialsProvider(
			staticCredentialsProvider(cfg.GetAWSAccessKeyID(), cfg.GetAWSSecretAccessKey())))
	}

	awsCfg, err := AWSDefaultConfigLoader(ctx, opts...)
	if err != nil {
		logger.Error("Failed to load AWS default config", err, watermill.LogFields{
			"requested_region": cfg.GetAWSRegion(),
		})
		return nil, err
	}
	// Ensure region is set even if the loader ignores options (e.g. in tests).
	if cfg.GetAWSRegion() != "" {
		awsCfg.Region = cfg.GetAWSRegion()
	}

	return &awsCfg, nil
}

func (c *client) ResolveQueue(ctx context.Context, name string) (broker.QueueHandle, error) {
	out, err := c.api.GetQueueUrl(ctx, &amazonsqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", err
	}
	return broker.QueueHandle(aws.ToString(out.QueueUrl)), nil
}

func (c *client) Receive(ctx context.Context, handle broker.QueueHandle, batchSize int) ([]broker.Envelope, error) {
	if batchSize <= 0 || batchSize > maxReceiveBatch {
		batchSize = maxReceiveBatch
	}

	out, err := c.api.ReceiveMessage(ctx, &amazonsqs.ReceiveMessageInput{
		QueueUrl:              aws.String(string(handle)),
		MaxNumberOfMessages:   int32(batchSize),
		WaitTimeSeconds:       c.waitSeconds,
		VisibilityTimeout:     c.visibilitySeconds,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, err
	}

	envelopes := make([]broker.Envelope, 0, len(out.Messages))
	for _, msg := range out.Messages {
		envelopes = append(envelopes, broker.Envelope{
			Body:          []byte(aws.ToString(msg.Body)),
			Attributes:    fromMessageAttributes(msg.MessageAttributes),
			MessageID:     aws.ToString(msg.MessageId),
			ReceiptHandle: aws.ToString(msg.ReceiptHandle),
		})
	}
	return envelopes, nil
}

func (c *client) Delete(ctx context.Context, handle broker.QueueHandle, receiptHandle string) error {
	_, err := c.api.DeleteMessage(ctx, &amazonsqs.DeleteMessageInput{
		QueueUrl:      aws.String(string(handle)),
		ReceiptHandle: aws.String(receiptHandle),
	})
	return err
}

func (c *client) Publish(ctx context.Context, handle broker.QueueHandle, body []byte, attributes map[string]string) error {
	_, err := c.api.SendMessage(ctx, &amazonsqs.SendMessageInput{
		QueueUrl:          aws.String(string(handle)),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: toMessageAttributes(attributes),
	})
	return err
}

func (c *client) Close() error { return nil }

func fromMessageAttributes(attrs map[string]types.MessageAttributeValue) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for key, value := range attrs {
		out[key] = aws.ToString(value.StringValue)
	}
	return out
}

func toMessageAttributes(attrs map[string]string) map[string]types.MessageAttributeValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]types.MessageAttributeValue, len(attrs))
	for key, value := range attrs {
		out[key] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(value),
		}
	}
	return out
}

type staticEndpointResolver struct {
	endpoint url.URL
}

func newStaticEndpointResolver(rawURL string) (staticEndpointResolver, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return staticEndpointResolver{}, fmt.Errorf("failed to parse SQS endpoint: %w", err)
	}
	return staticEndpointResolver{endpoint: *parsed}, nil
}

func (r staticEndpointResolver) ResolveEndpoint(_ context.Context, _ amazonsqs.EndpointParameters) (smithyendpoints.Endpoint, error) {
	return smithyendpoints.Endpoint{URI: r.endpoint}, nil
}

func staticCredentialsProvider(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
		}, nil
	})
}
