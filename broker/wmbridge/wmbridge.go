// Package wmbridge adapts a Watermill publisher/subscriber pair into a
// broker.Client. Watermill hides delivery tokens behind Ack/Nack; the bridge
// restores receipt-handle semantics by parking each received message until it
// is deleted (Ack) or its lease expires (Nack, so the backend redelivers
// where it supports that).
package wmbridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/liquidbus/liquidbus/broker"
)

// GoChannelBrokerName registers the in-process Watermill gochannel backend.
const GoChannelBrokerName = "gochannel"

// drainWindow bounds how long Receive keeps collecting messages after the
// first one, so batches fill without stalling the poll loop.
const drainWindow = 10 * time.Millisecond

// GoChannelFactory allows overriding the gochannel creation for testing.
var GoChannelFactory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	broker.RegisterWithCapabilities(GoChannelBrokerName, buildGoChannel, broker.GoChannelCapabilities)
}

func buildGoChannel(_ context.Context, cfg broker.Config, logger watermill.LoggerAdapter) (broker.Client, error) {
	pub, sub := GoChannelFactory(gochannel.Config{}, logger)
	return New(pub, sub, logger, WithVisibilityTimeout(cfg.GetVisibilityTimeout())), nil
}

// Option configures a bridge client.
type Option func(*Client)

// WithVisibilityTimeout sets the lease duration for received messages. Zero
// or negative disables lease expiry: unacknowledged messages stay parked
// until Close nacks them.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(c *Client) { c.visibility = d }
}

type pending struct {
	msg   *message.Message
	timer *time.Timer
}

type stream struct {
	ch     <-chan *message.Message
	cancel context.CancelFunc
}

// Client bridges Watermill into the broker.Client contract.
type Client struct {
	pub    message.Publisher
	sub    message.Subscriber
	logger watermill.LoggerAdapter

	mu         sync.Mutex
	streams    map[broker.QueueHandle]*stream
	pending    map[string]*pending
	visibility time.Duration
	seq        atomic.Uint64
	closed     bool
}

// New wraps a Watermill publisher/subscriber pair. The pair may be the same
// object (as with gochannel).
func New(pub message.Publisher, sub message.Subscriber, logger watermill.LoggerAdapter, opts ...Option) *Client {
	c := &Client{
		pub:     pub,
		sub:     sub,
		logger:  logger,
		streams: make(map[broker.QueueHandle]*stream),
		pending: make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResolveQueue subscribes to the topic. The subscription lives until Close;
// repeated resolution of the same name reuses the existing stream.
func (c *Client) ResolveQueue(ctx context.Context, name string) (broker.QueueHandle, error) {
	handle := broker.QueueHandle(name)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", broker.ErrClosed
	}
	if _, ok := c.streams[handle]; ok {
		return handle, nil
	}

	// The subscription must outlive the resolving context: polls come later
	// with their own contexts.
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch, err := c.sub.Subscribe(subCtx, name)
	if err != nil {
		cancel()
		return "", err
	}
	c.streams[handle] = &stream{ch: ch, cancel: cancel}
	return handle, nil
}

// Receive blocks until at least one message arrives or the context is done,
// then drains the stream briefly to fill the batch.
func (c *Client) Receive(ctx context.Context, handle broker.QueueHandle, batchSize int) ([]broker.Envelope, error) {
	if batchSize <= 0 {
		batchSize = 1
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, broker.ErrClosed
	}
	s, ok := c.streams[handle]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("liquidbus: queue %q was not resolved", handle)
	}

	var envelopes []broker.Envelope

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, open := <-s.ch:
		if !open {
			return nil, broker.ErrClosed
		}
		envelopes = append(envelopes, c.park(msg))
	}

	timer := time.NewTimer(drainWindow)
	defer timer.Stop()
	for len(envelopes) < batchSize {
		select {
		case msg, open := <-s.ch:
			if !open {
				return envelopes, nil
			}
			envelopes = append(envelopes, c.park(msg))
		case <-timer.C:
			return envelopes, nil
		case <-ctx.Done():
			return envelopes, nil
		}
	}
	return envelopes, nil
}

// park holds a message until Delete acks it, starting the lease timer.
func (c *Client) park(msg *message.Message) broker.Envelope {
	receipt := fmt.Sprintf("%s/%d", msg.UUID, c.seq.Add(1))

	p := &pending{msg: msg}
	c.mu.Lock()
	c.pending[receipt] = p
	if c.visibility > 0 {
		p.timer = time.AfterFunc(c.visibility, func() { c.expire(receipt) })
	}
	c.mu.Unlock()

	return broker.Envelope{
		Body:          append([]byte(nil), msg.Payload...),
		Attributes:    metadataToAttributes(msg.Metadata),
		MessageID:     msg.UUID,
		ReceiptHandle: receipt,
	}
}

func (c *Client) expire(receipt string) {
	c.mu.Lock()
	p, ok := c.pending[receipt]
	if ok {
		delete(c.pending, receipt)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	p.msg.Nack()
	c.logger.Debug("Lease expired, message nacked", watermill.LogFields{"receipt": receipt})
}

// Delete acks the parked message for the given receipt handle.
func (c *Client) Delete(_ context.Context, _ broker.QueueHandle, receiptHandle string) error {
	c.mu.Lock()
	p, ok := c.pending[receiptHandle]
	if ok {
		delete(c.pending, receiptHandle)
	}
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return broker.ErrClosed
	}
	if !ok {
		return broker.ErrUnknownReceiptHandle
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.msg.Ack()
	return nil
}

// Publish sends one message with the attributes as Watermill metadata.
func (c *Client) Publish(ctx context.Context, handle broker.QueueHandle, body []byte, attributes map[string]string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return broker.ErrClosed
	}

	msg := message.NewMessage(watermill.NewUUID(), body)
	for key, value := range attributes {
		msg.Metadata.Set(key, value)
	}
	msg.SetContext(ctx)
	return c.pub.Publish(string(handle), msg)
}

// Close cancels all subscriptions, nacks parked messages so the backend can
// redeliver them, and closes the underlying publisher and subscriber.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	streams := c.streams
	parked := c.pending
	c.streams = make(map[broker.QueueHandle]*stream)
	c.pending = make(map[string]*pending)
	c.mu.Unlock()

	for _, s := range streams {
		s.cancel()
	}
	for _, p := range parked {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.msg.Nack()
	}

	pubErr := c.pub.Close()
	if sub, ok := c.sub.(interface{ Close() error }); ok {
		// gochannel reuses one object for both roles; its Close is idempotent.
		if err := sub.Close(); err != nil && pubErr == nil {
			pubErr = err
		}
	}
	return pubErr
}

func metadataToAttributes(metadata message.Metadata) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for key, value := range metadata {
		out[key] = value
	}
	return out
}
