package runtime

import (
	"reflect"

	errspkg "github.com/liquidbus/liquidbus/internal/runtime/errors"
	loggingpkg "github.com/liquidbus/liquidbus/internal/runtime/logging"
)

// ConsumerRegistration wires a raw handler to a queue without typed helpers.
type ConsumerRegistration struct {
	Name         string
	Queue        string
	AutoComplete bool
	BatchSize    int
	Decode       DecodeFunc
	Handler      Handler
	Hooks        PipelineHooks
}

// RegisterConsumer creates a consumer on the service. The consumer does not
// poll until the service (or the consumer itself) is started.
func RegisterConsumer(svc *Service, cfg ConsumerRegistration) (*Consumer, error) {
	if svc == nil {
		return nil, errspkg.ErrServiceRequired
	}
	return svc.registerConsumer(cfg)
}

func (s *Service) registerConsumer(cfg ConsumerRegistration) (*Consumer, error) {
	if cfg.Handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if cfg.Queue == "" {
		return nil, errspkg.ErrQueueRequired
	}
	if cfg.Name == "" {
		return nil, errspkg.ErrConsumerNameRequired
	}
	if cfg.Decode == nil {
		// Raw consumers get the body as-is.
		cfg.Decode = func(data []byte) (any, error) { return data, nil }
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = s.Conf.BatchSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}

	consumer := &Consumer{
		name:         cfg.Name,
		queue:        cfg.Queue,
		autoComplete: cfg.AutoComplete,
		batchSize:    cfg.BatchSize,
		decode:       cfg.Decode,
		handler:      cfg.Handler,
		hooks:        s.hooks.Merge(cfg.Hooks),
		client:       s.client,
		telemetry:    s.telemetry,
		logger:       s.Logger,
		grace:        s.Conf.ShutdownGracePeriod,
		done:         make(chan struct{}),
		stats:        newConsumerStats(cfg.Name, cfg.Queue, s.getResourceTracker()),
	}

	s.consumersMu.Lock()
	s.consumers = append(s.consumers, consumer)
	s.consumersMu.Unlock()

	s.Logger.Info("Consumer registered", loggingpkg.LogFields{
		"consumer":      cfg.Name,
		"queue":         cfg.Queue,
		"auto_complete": cfg.AutoComplete,
		"batch_size":    cfg.BatchSize,
	})
	return consumer, nil
}

// pointerPrototypeFactory builds fresh *Elem values for a pointer type T so
// each message decodes into its own instance.
func pointerPrototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrPayloadTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrPayloadPointerNeeded
	}
	elem := typ.Elem()
	return func() T {
		clone := reflect.New(elem).Interface()
		return clone.(T)
	}, nil
}
