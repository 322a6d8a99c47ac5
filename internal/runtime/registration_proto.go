package runtime

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/proto"

	codecpkg "github.com/liquidbus/liquidbus/internal/runtime/codec"
	errspkg "github.com/liquidbus/liquidbus/internal/runtime/errors"
	loggingpkg "github.com/liquidbus/liquidbus/internal/runtime/logging"
)

// ProtoConsumerRegistration wires a typed protobuf consumer. T must be a
// pointer to a generated proto message.
type ProtoConsumerRegistration[T proto.Message] struct {
	Name         string
	Queue        string
	AutoComplete bool
	BatchSize    int
	Hooks        PipelineHooks
	Handler      ProtoMessageHandler[T]
}

// ProtoMessageContext exposes the decoded payload and headers to proto
// handlers.
type ProtoMessageContext[T proto.Message] struct {
	Payload T
	Headers map[string]string
	Logger  loggingpkg.ServiceLogger
}

// ProtoMessageHandler processes a proto payload. The returned bool reports
// whether the message should be deleted from the queue.
type ProtoMessageHandler[T proto.Message] func(ctx context.Context, msg ProtoMessageContext[T]) (bool, error)

// RegisterProtoConsumer converts the typed proto handler into a raw consumer
// and registers it. An empty Name defaults to "<payload type>-Consumer".
func RegisterProtoConsumer[T proto.Message](svc *Service, cfg ProtoConsumerRegistration[T]) (*Consumer, error) {
	if svc == nil {
		return nil, errspkg.ErrServiceRequired
	}
	if cfg.Handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	prototypeFactory, err := pointerPrototypeFactory[T]()
	if err != nil {
		return nil, err
	}

	if cfg.Name == "" {
		cfg.Name = fmt.Sprintf("%T-Consumer", prototypeFactory())
	}

	protoCodec := codecpkg.Proto{}
	decode := func(data []byte) (any, error) {
		typed := prototypeFactory()
		if err := protoCodec.Decode(data, typed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal proto payload: %w", err)
		}
		return typed, nil
	}

	handler := func(ctx context.Context, payload any, headers map[string]string) (bool, error) {
		typed, ok := payload.(T)
		if !ok {
			return false, fmt.Errorf("liquidbus: unexpected payload type %T", payload)
		}
		return cfg.Handler(ctx, ProtoMessageContext[T]{
			Payload: typed,
			Headers: headers,
			Logger:  svc.Logger,
		})
	}

	return svc.registerConsumer(ConsumerRegistration{
		Name:         cfg.Name,
		Queue:        cfg.Queue,
		AutoComplete: cfg.AutoComplete,
		BatchSize:    cfg.BatchSize,
		Decode:       decode,
		Handler:      handler,
		Hooks:        cfg.Hooks,
	})
}
