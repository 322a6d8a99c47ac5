package runtime

import (
	"context"
	"reflect"
	"sync"

	"github.com/liquidbus/liquidbus/broker"
	codecpkg "github.com/liquidbus/liquidbus/internal/runtime/codec"
	errspkg "github.com/liquidbus/liquidbus/internal/runtime/errors"
	loggingpkg "github.com/liquidbus/liquidbus/internal/runtime/logging"
	"github.com/liquidbus/liquidbus/internal/runtime/propagation"
)

// Producer publishes payloads to one queue. Outgoing headers inherit the
// business context of the message currently being processed, so publishes
// from inside a handler stay correlated.
type Producer struct {
	client   broker.Client
	queue    string
	codec    codecpkg.Codec
	compress bool
	logger   loggingpkg.ServiceLogger

	resolveOnce sync.Once
	resolveErr  error
	handle      broker.QueueHandle
}

// NewProducer creates a producer bound to a queue on the service's broker.
func NewProducer(svc *Service, queue string) (*Producer, error) {
	if svc == nil {
		return nil, errspkg.ErrServiceRequired
	}
	if queue == "" {
		return nil, errspkg.ErrQueueRequired
	}
	return &Producer{
		client:   svc.client,
		queue:    queue,
		codec:    svc.codec,
		compress: svc.Conf.Compression,
		logger:   svc.Logger,
	}, nil
}

// Queue returns the queue this producer publishes to.
func (p *Producer) Queue() string { return p.queue }

// Send encodes the payload and publishes it. A nil payload fails before any
// network call. Publish errors from the broker are returned unwrapped.
func (p *Producer) Send(ctx context.Context, payload any, headers map[string]string) error {
	if isNilPayload(payload) {
		return errspkg.ErrPayloadRequired
	}

	body, err := p.codec.Encode(payload)
	if err != nil {
		return err
	}

	contentType := p.codec.ContentType()
	if p.compress {
		body, err = codecpkg.Compress(body)
		if err != nil {
			return err
		}
		contentType = codecpkg.ContentTypeGzip
	}

	outgoing := make(map[string]string, len(headers)+6)
	for key, value := range headers {
		outgoing[key] = value
	}
	if mc, ok := propagation.FromContext(ctx); ok {
		propagation.Outbound(mc, outgoing)
	}
	outgoing[propagation.HeaderContentType] = contentType

	handle, err := p.resolveHandle(ctx)
	if err != nil {
		return err
	}

	p.logger.Debug("Publishing message", loggingpkg.LogFields{
		"queue":        p.queue,
		"content_type": contentType,
		"body_bytes":   len(body),
	})
	return p.client.Publish(ctx, handle, body, outgoing)
}

func (p *Producer) resolveHandle(ctx context.Context) (broker.QueueHandle, error) {
	p.resolveOnce.Do(func() {
		p.handle, p.resolveErr = p.client.ResolveQueue(ctx, p.queue)
	})
	return p.handle, p.resolveErr
}

// isNilPayload catches both untyped nil and typed nil pointers, which would
// otherwise encode as "null" and publish an empty message.
func isNilPayload(payload any) bool {
	if payload == nil {
		return true
	}
	v := reflect.ValueOf(payload)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}
