// Package sns provides a publish-only AWS SNS backend for liquidbus
// producers. Consumers cannot poll a topic; Receive and Delete report
// broker.ErrReceiveUnsupported.
package sns

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/liquidbus/liquidbus/broker"
)

// BrokerName is the name used to register this backend.
const BrokerName = "sns"

// API is the subset of the SNS client used by this backend.
type API interface {
	Publish(ctx context.Context, params *amazonsns.PublishInput, optFns ...func(*amazonsns.Options)) (*amazonsns.PublishOutput, error)
}

// AWSDefaultConfigLoader allows overriding the AWS config loading for testing.
var AWSDefaultConfigLoader = awsconfig.LoadDefaultConfig

// ClientFactory allows overriding the SNS client creation for testing.
var ClientFactory = func(cfg aws.Config, optFns ...func(*amazonsns.Options)) API {
	return amazonsns.NewFromConfig(cfg, optFns...)
}

func init() {
	broker.RegisterWithCapabilities(BrokerName, Build, broker.SNSCapabilities)
}

type client struct {
	api       API
	accountID string
	region    string
}

// New wraps an SNS API client as a publish-only broker.Client. The account id
// and region are used to build topic ARNs from logical names.
func New(api API, accountID, region string) broker.Client {
	return &client{api: api, accountID: accountID, region: region}
}

// Build creates an SNS broker client from the shared config.
func Build(ctx context.Context, cfg broker.Config, logger watermill.LoggerAdapter) (broker.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.GetAWSRegion() != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.GetAWSRegion()))
	}

	awsCfg, err := AWSDefaultConfigLoader(ctx, opts...)
	if err != nil {
		logger.Error("Failed to load AWS default config", err, watermill.LogFields{})
		return nil, err
	}
	if cfg.GetAWSRegion() != "" {
		awsCfg.Region = cfg.GetAWSRegion()
	}

	var optFns []func(*amazonsns.Options)
	if cfg.GetAWSEndpoint() != "" {
		endpoint := cfg.GetAWSEndpoint()
		optFns = append(optFns, func(o *amazonsns.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	return New(ClientFactory(awsCfg, optFns...), cfg.GetAWSAccountID(), awsCfg.Region), nil
}

// ResolveQueue accepts either a full topic ARN or a logical topic name. Names
// are expanded into an ARN from the configured account id and region.
func (c *client) ResolveQueue(_ context.Context, name string) (broker.QueueHandle, error) {
	if strings.HasPrefix(name, "arn:") {
		return broker.QueueHandle(name), nil
	}
	if c.accountID == "" || c.region == "" {
		return "", fmt.Errorf("liquidbus: sns topic %q needs an account id and region to build an ARN", name)
	}
	return broker.QueueHandle(fmt.Sprintf("arn:aws:sns:%s:%s:%s", c.region, c.accountID, name)), nil
}

func (c *client) Receive(context.Context, broker.QueueHandle, int) ([]broker.Envelope, error) {
	return nil, broker.ErrReceiveUnsupported
}

func (c *client) Delete(context.Context, broker.QueueHandle, string) error {
	return broker.ErrReceiveUnsupported
}

func (c *client) Publish(ctx context.Context, handle broker.QueueHandle, body []byte, attributes map[string]string) error {
	_, err := c.api.Publish(ctx, &amazonsns.PublishInput{
		TopicArn:          aws.String(string(handle)),
		Message:           aws.String(string(body)),
		MessageAttributes: toMessageAttributes(attributes),
	})
	return err
}

func (c *client) Close() error { return nil }

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
