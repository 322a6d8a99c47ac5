package runtime

import (
	"context"
	"fmt"

	codecpkg "github.com/liquidbus/liquidbus/internal/runtime/codec"
	errspkg "github.com/liquidbus/liquidbus/internal/runtime/errors"
	loggingpkg "github.com/liquidbus/liquidbus/internal/runtime/logging"
)

// JSONConsumerRegistration wires a typed JSON consumer. T must be a pointer
// to the payload struct.
type JSONConsumerRegistration[T any] struct {
	Name         string
	Queue        string
	AutoComplete bool
	BatchSize    int
	Hooks        PipelineHooks
	Handler      JSONMessageHandler[T]
}

// JSONMessageContext exposes the decoded payload and headers to JSON
// handlers.
type JSONMessageContext[T any] struct {
	Payload T
	Headers map[string]string
	Logger  loggingpkg.ServiceLogger
}

// JSONMessageHandler processes a JSON payload. The returned bool reports
// whether the message should be deleted from the queue.
type JSONMessageHandler[T any] func(ctx context.Context, msg JSONMessageContext[T]) (bool, error)

// RegisterJSONConsumer converts the typed JSON handler into a raw consumer
// and registers it. An empty Name defaults to "<payload type>-Consumer".
func RegisterJSONConsumer[T any](svc *Service, cfg JSONConsumerRegistration[T]) (*Consumer, error) {
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

	jsonCodec := codecpkg.JSON{}
	decode := func(data []byte) (any, error) {
		typed := prototypeFactory()
		if err := jsonCodec.Decode(data, typed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON payload: %w", err)
		}
		return typed, nil
	}

	handler := func(ctx context.Context, payload any, headers map[string]string) (bool, error) {
		typed, ok := payload.(T)
		if !ok {
			return false, fmt.Errorf("liquidbus: unexpected payload type %T", payload)
		}
		return cfg.Handler(ctx, JSONMessageContext[T]{
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
