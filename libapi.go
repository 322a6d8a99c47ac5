package liquidbus

import (
	"google.golang.org/protobuf/proto"

	"github.com/liquidbus/liquidbus/broker"
	runtimepkg "github.com/liquidbus/liquidbus/internal/runtime"
	codecpkg "github.com/liquidbus/liquidbus/internal/runtime/codec"
	configpkg "github.com/liquidbus/liquidbus/internal/runtime/config"
	errspkg "github.com/liquidbus/liquidbus/internal/runtime/errors"
	idspkg "github.com/liquidbus/liquidbus/internal/runtime/ids"
	loggingpkg "github.com/liquidbus/liquidbus/internal/runtime/logging"
	"github.com/liquidbus/liquidbus/internal/runtime/propagation"
	telemetrypkg "github.com/liquidbus/liquidbus/internal/runtime/telemetry"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	Consumer             = runtimepkg.Consumer
	ConsumerRegistration = runtimepkg.ConsumerRegistration
	ConsumerState        = runtimepkg.State
	Handler              = runtimepkg.Handler
	DecodeFunc           = runtimepkg.DecodeFunc
	Producer             = runtimepkg.Producer

	JSONConsumerRegistration[T any]            = runtimepkg.JSONConsumerRegistration[T]
	JSONMessageContext[T any]                  = runtimepkg.JSONMessageContext[T]
	JSONMessageHandler[T any]                  = runtimepkg.JSONMessageHandler[T]
	ProtoConsumerRegistration[T proto.Message] = runtimepkg.ProtoConsumerRegistration[T]
	ProtoMessageContext[T proto.Message]       = runtimepkg.ProtoMessageContext[T]
	ProtoMessageHandler[T proto.Message]       = runtimepkg.ProtoMessageHandler[T]

	MessageContext = propagation.MessageContext

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	Codec     = codecpkg.Codec
	Telemetry = telemetrypkg.Telemetry
	Session   = telemetrypkg.Session

	ConsumerInfo      = runtimepkg.ConsumerInfo
	ConsumerStats     = runtimepkg.ConsumerStats
	MessageCompletion = runtimepkg.MessageCompletion

	// Message lifecycle hooks
	MessageInfo      = runtimepkg.MessageInfo
	PipelineHooks    = runtimepkg.PipelineHooks
	ProcessingStage  = runtimepkg.ProcessingStage
	ProcessingResult = runtimepkg.ProcessingResult
	ResultCollector  = runtimepkg.ResultCollector

	// Failure classification
	QueueResolutionError = runtimepkg.QueueResolutionError
	ReceiveError         = runtimepkg.ReceiveError
	DecodeError          = runtimepkg.DecodeError
	AckError             = runtimepkg.AckError

	// Broker abstraction (custom backends implement broker.Client)
	BrokerClient       = broker.Client
	BrokerConfig       = broker.Config
	BrokerBuilder      = broker.Builder
	BrokerRegistry     = broker.Registry
	BrokerCapabilities = broker.Capabilities
	QueueHandle        = broker.QueueHandle
	Envelope           = broker.Envelope
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	ValidateConfig = configpkg.ValidateConfig

	RegisterConsumer = runtimepkg.RegisterConsumer
	NewProducer      = runtimepkg.NewProducer

	// Message lifecycle hooks
	LoggingHooks       = runtimepkg.LoggingHooks
	MetricsHooks       = runtimepkg.MetricsHooks
	AlertingHooks      = runtimepkg.AlertingHooks
	NewResultCollector = runtimepkg.NewResultCollector

	// Telemetry backends
	NewLoggerTelemetry     = telemetrypkg.NewLogger
	NewPrometheusTelemetry = telemetrypkg.NewPrometheus
	NewOTelTelemetry       = telemetrypkg.NewOTel
	NewMultiTelemetry      = telemetrypkg.NewMulti

	// Broker registry (custom backends register through here)
	// Import individual backends via: _ "github.com/liquidbus/liquidbus/broker/sqs"
	DefaultBrokerRegistry = broker.DefaultRegistry
	RegisterBroker        = broker.Register
	BuildBroker           = broker.Build
	GetBrokerCapabilities = broker.GetCapabilities

	// Payload compression helpers
	Compress   = codecpkg.Compress
	Decompress = codecpkg.Decompress

	ErrServiceRequired      = errspkg.ErrServiceRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrQueueRequired        = errspkg.ErrQueueRequired
	ErrConsumerNameRequired = errspkg.ErrConsumerNameRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrPayloadRequired      = errspkg.ErrPayloadRequired
	ErrPayloadPointerNeeded = errspkg.ErrPayloadPointerNeeded
	ErrConsumerStarted      = errspkg.ErrConsumerStarted
	ErrConsumerNotStarted   = errspkg.ErrConsumerNotStarted

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger

	NewMessageContext  = propagation.New
	MessageFromContext = propagation.FromContext

	CreateULID       = idspkg.CreateULID
	NewCorrelationID = idspkg.NewCorrelationID
)

// Header keys - use these constants for the reserved propagation headers.
const (
	HeaderCulture               = propagation.HeaderCulture
	HeaderChannel               = propagation.HeaderChannel
	HeaderCorrelationID         = propagation.HeaderCorrelationID
	HeaderBusinessCorrelationID = propagation.HeaderBusinessCorrelationID
	HeaderAggregationID         = propagation.HeaderAggregationID
	HeaderContentType           = propagation.HeaderContentType
)

// Content types recorded in the contentType header.
const (
	ContentTypeJSON  = codecpkg.ContentTypeJSON
	ContentTypeGzip  = codecpkg.ContentTypeGzip
	ContentTypeProto = codecpkg.ContentTypeProto
)

// Consumer lifecycle states.
const (
	StateCreated    = runtimepkg.StateCreated
	StateStarting   = runtimepkg.StateStarting
	StatePolling    = runtimepkg.StatePolling
	StateProcessing = runtimepkg.StateProcessing
	StateStopping   = runtimepkg.StateStopping
	StateStopped    = runtimepkg.StateStopped
)

// Processing stages reported by ResultCollector.
const (
	StageDecode  = runtimepkg.StageDecode
	StageHandler = runtimepkg.StageHandler
	StageAck     = runtimepkg.StageAck
)

func RegisterJSONConsumer[T any](svc *Service, cfg JSONConsumerRegistration[T]) (*Consumer, error) {
	return runtimepkg.RegisterJSONConsumer(svc, cfg)
}

func RegisterProtoConsumer[T proto.Message](svc *Service, cfg ProtoConsumerRegistration[T]) (*Consumer, error) {
	return runtimepkg.RegisterProtoConsumer(svc, cfg)
}
