// Package channel provides an in-memory broker backend with SQS-like
// semantics: receipt handles, per-delivery leases, and redelivery once a
// lease expires. It exists for tests and local development.
package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/liquidbus/liquidbus/broker"
)

// BrokerName is the name used to register this backend.
const BrokerName = "channel"

// DefaultVisibilityTimeout is used when the config leaves the lease duration
// unset.
const DefaultVisibilityTimeout = 30 * time.Second

func init() {
	broker.RegisterWithCapabilities(BrokerName, Build, broker.ChannelCapabilities)
}

// Build creates an in-memory broker client from the shared config.
func Build(_ context.Context, cfg broker.Config, _ watermill.LoggerAdapter) (broker.Client, error) {
	return New(cfg.GetVisibilityTimeout(), cfg.GetWaitTime()), nil
}

type delivery struct {
	envelope   broker.Envelope
	leaseUntil time.Time
}

type queue struct {
	ready    []*delivery
	inflight map[string]*delivery
}

// Client is an in-memory broker.Client. Queues spring into existence on first
// use; an unacknowledged delivery returns to the front of its queue once its
// lease expires.
type Client struct {
	mu         sync.Mutex
	queues     map[string]*queue
	visibility time.Duration
	waitTime   time.Duration
	notify     chan struct{}
	seq        atomic.Uint64
	closed     bool
}

// New creates an in-memory broker. Zero visibility falls back to
// DefaultVisibilityTimeout; zero waitTime makes Receive return immediately
// when no messages are ready.
func New(visibility, waitTime time.Duration) *Client {
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	return &Client{
		queues:     make(map[string]*queue),
		visibility: visibility,
		waitTime:   waitTime,
		notify:     make(chan struct{}, 1),
	}
}

func (c *Client) getQueue(name string) *queue {
	q, ok := c.queues[name]
	if !ok {
		q = &queue{inflight: make(map[string]*delivery)}
		c.queues[name] = q
	}
	return q
}

// ResolveQueue returns the queue name itself; in-memory queues have no
// broker-side identity.
func (c *Client) ResolveQueue(_ context.Context, name string) (broker.QueueHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", broker.ErrClosed
	}
	c.getQueue(name)
	return broker.QueueHandle(name), nil
}

// Receive pops up to batchSize ready deliveries, leasing each one under a
// fresh receipt handle. With no ready messages it waits up to the configured
// wait time for a publish, honouring context cancellation.
func (c *Client) Receive(ctx context.Context, handle broker.QueueHandle, batchSize int) ([]broker.Envelope, error) {
	if batchSize <= 0 {
		batchSize = 1
	}

	deadline := time.Now().Add(c.waitTime)
	for {
		envelopes, err := c.take(string(handle), batchSize)
		if err != nil {
			return nil, err
		}
		if len(envelopes) > 0 {
			return envelopes, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-c.notify:
			timer.Stop()
		case <-timer.C:
			return nil, nil
		}
	}
}

func (c *Client) take(name string, batchSize int) ([]broker.Envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, broker.ErrClosed
	}

	q := c.getQueue(name)
	c.reclaimExpired(q)

	count := min(batchSize, len(q.ready))
	if count == 0 {
		return nil, nil
	}

	envelopes := make([]broker.Envelope, 0, count)
	for _, d := range q.ready[:count] {
		receipt := fmt.Sprintf("%s/%d", name, c.seq.Add(1))
		d.leaseUntil = time.Now().Add(c.visibility)
		d.envelope.ReceiptHandle = receipt
		q.inflight[receipt] = d
		envelopes = append(envelopes, d.envelope)
	}
	q.ready = append([]*delivery{}, q.ready[count:]...)
	return envelopes, nil
}

// reclaimExpired moves deliveries with lapsed leases back to the front of the
// queue, mimicking broker-driven redelivery. Caller holds the lock.
func (c *Client) reclaimExpired(q *queue) {
	now := time.Now()
	var expired []*delivery
	for receipt, d := range q.inflight {
		if now.After(d.leaseUntil) {
			delete(q.inflight, receipt)
			d.envelope.ReceiptHandle = ""
			expired = append(expired, d)
		}
	}
	if len(expired) > 0 {
		q.ready = append(expired, q.ready...)
	}
}

// Delete acknowledges one leased delivery. Deleting an unknown or expired
// receipt handle is an error, matching real broker behaviour.
func (c *Client) Delete(_ context.Context, handle broker.QueueHandle, receiptHandle string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return broker.ErrClosed
	}

	q := c.getQueue(string(handle))
	c.reclaimExpired(q)
	if _, ok := q.inflight[receiptHandle]; !ok {
		return broker.ErrUnknownReceiptHandle
	}
	delete(q.inflight, receiptHandle)
	return nil
}

// Publish appends one message to the queue and wakes a waiting Receive.
func (c *Client) Publish(_ context.Context, handle broker.QueueHandle, body []byte, attributes map[string]string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return broker.ErrClosed
	}

	q := c.getQueue(string(handle))
	q.ready = append(q.ready, &delivery{
		envelope: broker.Envelope{
			Body:       append([]byte(nil), body...),
			Attributes: cloneAttributes(attributes),
			MessageID:  fmt.Sprintf("%s-%d", handle, c.seq.Add(1)),
		},
	})
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close drops all queues. In-flight deliveries are discarded.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.queues = make(map[string]*queue)
	return nil
}

// Depth reports the number of ready (not in-flight) messages in a queue.
func (c *Client) Depth(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[name]
	if !ok {
		return 0
	}
	c.reclaimExpired(q)
	return len(q.ready)
}

func cloneAttributes(attrs map[string]string) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
