package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/liquidbus/liquidbus/broker"
	"github.com/liquidbus/liquidbus/internal/runtime/codec"
	errspkg "github.com/liquidbus/liquidbus/internal/runtime/errors"
	idspkg "github.com/liquidbus/liquidbus/internal/runtime/ids"
	loggingpkg "github.com/liquidbus/liquidbus/internal/runtime/logging"
	"github.com/liquidbus/liquidbus/internal/runtime/propagation"
	telemetrypkg "github.com/liquidbus/liquidbus/internal/runtime/telemetry"
)

// State describes the consumer lifecycle. Transitions only move forward:
// Created, Starting, Polling/Processing, Stopping, Stopped.
type State int32

const (
	StateCreated State = iota
	StateStarting
	StatePolling
	StateProcessing
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StatePolling:
		return "polling"
	case StateProcessing:
		return "processing"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Handler processes one decoded message. The returned bool reports whether
// the message was handled and should be deleted from the queue; with
// autoComplete the message is deleted regardless. The error never stops the
// consumer.
type Handler func(ctx context.Context, payload any, headers map[string]string) (bool, error)

// DecodeFunc turns a raw message body into the payload value handed to the
// handler.
type DecodeFunc func(data []byte) (any, error)

// MessageCompletion is the outcome payload recorded with the pipeline
// measurement when a message finishes.
type MessageCompletion struct {
	Queue                 string            `json:"queue"`
	PayloadType           string            `json:"payload_type"`
	MessageID             string            `json:"message_id"`
	CorrelationID         string            `json:"correlation_id,omitempty"`
	BusinessCorrelationID string            `json:"business_correlation_id,omitempty"`
	AggregationID         string            `json:"aggregation_id,omitempty"`
	Payload               any               `json:"payload,omitempty"`
	Processed             bool              `json:"processed"`
	AutoComplete          bool              `json:"auto_complete"`
	Headers               map[string]string `json:"headers,omitempty"`
}

// Consumer polls one queue and runs the per-message pipeline: decode, context
// propagation, telemetry, handler, acknowledgment. Per-message failures are
// contained; only queue resolution and receive failures stop the loop.
type Consumer struct {
	name         string
	queue        string
	autoComplete bool
	batchSize    int
	decode       DecodeFunc
	handler      Handler
	hooks        PipelineHooks

	client    broker.Client
	telemetry telemetrypkg.Telemetry
	logger    loggingpkg.ServiceLogger
	grace     time.Duration

	state   atomic.Int32
	handle  broker.QueueHandle
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup
	stats   *ConsumerStats
	fatalMu sync.Mutex
	fatal   error
}

// Name returns the consumer name.
func (c *Consumer) Name() string { return c.name }

// Queue returns the queue this consumer polls.
func (c *Consumer) Queue() string { return c.queue }

// State returns the current lifecycle state.
func (c *Consumer) State() State { return State(c.state.Load()) }

// Stats returns the live stats for this consumer.
func (c *Consumer) Stats() *ConsumerStats { return c.stats }

// Err returns the fatal error that stopped the poll loop, if any.
func (c *Consumer) Err() error {
	c.fatalMu.Lock()
	defer c.fatalMu.Unlock()
	return c.fatal
}

func (c *Consumer) setFatal(err error) {
	c.fatalMu.Lock()
	c.fatal = err
	c.fatalMu.Unlock()
}

// Start resolves the queue and launches the poll loop. It returns an error
// if the consumer was already started or the queue cannot be resolved; loop
// failures after that surface through Wait and Err.
func (c *Consumer) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return errspkg.ErrConsumerStarted
	}

	handle, err := c.client.ResolveQueue(ctx, c.queue)
	if err != nil {
		c.state.Store(int32(StateStopped))
		close(c.done)
		resolution := &QueueResolutionError{Queue: c.queue, Err: err}
		c.setFatal(resolution)
		c.logger.Error("Failed to resolve queue", err, loggingpkg.LogFields{
			"consumer": c.name,
			"queue":    c.queue,
		})
		return resolution
	}
	c.handle = handle

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.logger.Info("Consumer started", loggingpkg.LogFields{
		"consumer": c.name,
		"queue":    c.queue,
		"handle":   string(handle),
	})

	go c.run(runCtx)
	return nil
}

// Stop cancels the poll loop and waits for in-flight messages, bounded by
// the shutdown grace period and the provided context.
func (c *Consumer) Stop(ctx context.Context) error {
	if c.State() == StateCreated {
		return errspkg.ErrConsumerNotStarted
	}
	if c.cancel != nil {
		c.cancel()
	}

	var graceCh <-chan time.Time
	if c.grace > 0 {
		timer := time.NewTimer(c.grace)
		defer timer.Stop()
		graceCh = timer.C
	}

	select {
	case <-c.done:
		return nil
	case <-graceCh:
		c.logger.Error("Shutdown grace period elapsed with messages in flight", nil, loggingpkg.LogFields{
			"consumer": c.name,
			"queue":    c.queue,
		})
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the poll loop has fully stopped and returns the fatal
// error that stopped it, or nil for a clean shutdown.
func (c *Consumer) Wait() error {
	<-c.done
	return c.Err()
}

func (c *Consumer) run(ctx context.Context) {
	defer func() {
		c.state.Store(int32(StateStopped))
		close(c.done)
		c.logger.Info("Consumer stopped", loggingpkg.LogFields{
			"consumer": c.name,
			"queue":    c.queue,
		})
	}()

	for {
		c.state.Store(int32(StatePolling))

		envelopes, err := c.client.Receive(ctx, c.handle, c.batchSize)
		if ctx.Err() != nil {
			c.state.Store(int32(StateStopping))
			c.wg.Wait()
			return
		}
		if err != nil {
			receive := &ReceiveError{Queue: c.queue, Err: err}
			c.setFatal(receive)
			c.logger.Error("Failed to receive messages", err, loggingpkg.LogFields{
				"consumer": c.name,
				"queue":    c.queue,
			})
			c.state.Store(int32(StateStopping))
			c.wg.Wait()
			return
		}
		if len(envelopes) == 0 {
			continue
		}

		// Pipelines run detached: the next receive goes out while these
		// are still in flight. The WaitGroup is only drained on shutdown.
		c.state.Store(int32(StateProcessing))
		for _, envelope := range envelopes {
			c.wg.Add(1)
			go func(env broker.Envelope) {
				defer c.wg.Done()
				c.process(ctx, env)
			}(envelope)
		}
	}
}

// process runs the full pipeline for one message. Nothing that happens here
// stops the poll loop.
func (c *Consumer) process(ctx context.Context, env broker.Envelope) {
	messageID := env.MessageID
	if messageID == "" {
		messageID = idspkg.CreateULID()
	}

	// Hooks and telemetry backends are caller-supplied, so any pipeline step
	// can panic, not just the handler. The panic stays inside this message.
	started, finished := false, false
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		panicErr := fmt.Errorf("liquidbus: message pipeline panicked: %v", r)
		c.logger.Error("Message pipeline panicked", panicErr, loggingpkg.LogFields{
			"consumer":   c.name,
			"queue":      c.queue,
			"message_id": messageID,
		})
		if !started {
			c.stats.onMessageStart()
		}
		if !finished {
			c.stats.onMessageFinish(0, false, failureOther, panicErr)
		}
	}()

	payload, err := c.decodeBody(env)
	if err != nil {
		decodeErr := &DecodeError{MessageID: messageID, Err: err}
		c.logger.Error("Failed to decode message", err, loggingpkg.LogFields{
			"consumer":   c.name,
			"queue":      c.queue,
			"message_id": messageID,
		})
		c.stats.onDecodeFailure(decodeErr)
		started, finished = true, true
		c.hooks.fail(MessageInfo{
			Consumer:  c.name,
			Queue:     c.queue,
			MessageID: messageID,
			Headers:   env.Attributes,
			StartedAt: time.Now(),
		}, decodeErr)
		return
	}

	mc := propagation.New()
	propagation.Inbound(mc, env.Attributes)
	mc.SetMessageID(messageID)
	ctx = propagation.NewContext(ctx, mc)

	session := c.telemetry.Open()
	contextTag := fmt.Sprintf("%T_%s", payload, c.queue)
	measurementKey := fmt.Sprintf("Consumer_%s", c.queue)
	session.AddContext("context", contextTag)
	session.StartMeasurement(measurementKey)
	defer session.Flush()
	defer session.RemoveContext("context")

	startedAt := time.Now()
	info := MessageInfo{
		Consumer:      c.name,
		Queue:         c.queue,
		MessageID:     messageID,
		CorrelationID: correlationString(mc),
		Headers:       env.Attributes,
		StartedAt:     startedAt,
	}
	c.hooks.start(info)
	c.stats.onMessageStart()
	started = true

	processed, handlerErr := c.invokeHandler(ctx, payload, env.Attributes)
	duration := time.Since(startedAt)
	info.Duration = duration
	info.Processed = processed

	if handlerErr != nil {
		session.AddEvent("handler_error", handlerErr.Error())
		c.logger.Error("Handler returned an error", handlerErr, loggingpkg.LogFields{
			"consumer":   c.name,
			"queue":      c.queue,
			"message_id": messageID,
		})
	}

	acked := false
	var ackErr error
	if processed || c.autoComplete {
		// Acknowledgment must survive shutdown cancellation: the handler
		// already ran, so failing to delete would cause a duplicate delivery.
		if err := c.client.Delete(context.WithoutCancel(ctx), c.handle, env.ReceiptHandle); err != nil {
			ackErr = &AckError{Queue: c.queue, MessageID: messageID, Err: err}
			session.AddEvent("ack_error", err.Error())
			c.logger.Error("Failed to delete message", err, loggingpkg.LogFields{
				"consumer":   c.name,
				"queue":      c.queue,
				"message_id": messageID,
			})
		} else {
			acked = true
		}
	}
	info.Acknowledged = acked

	session.StopMeasurement(measurementKey, MessageCompletion{
		Queue:                 c.queue,
		PayloadType:           fmt.Sprintf("%T", payload),
		MessageID:             messageID,
		CorrelationID:         correlationString(mc),
		BusinessCorrelationID: businessCorrelationString(mc),
		AggregationID:         mc.AggregationID(),
		Payload:               payload,
		Processed:             processed,
		AutoComplete:          c.autoComplete,
		Headers:               env.Attributes,
	})

	finished = true
	switch {
	case handlerErr != nil:
		c.stats.onMessageFinish(duration, acked, failureHandler, handlerErr)
		c.hooks.fail(info, handlerErr)
	case ackErr != nil:
		c.stats.onMessageFinish(duration, acked, failureAck, ackErr)
		c.hooks.fail(info, ackErr)
	default:
		c.stats.onMessageFinish(duration, acked, failureNone, nil)
		c.hooks.done(info)
	}
}

func (c *Consumer) decodeBody(env broker.Envelope) (any, error) {
	body := env.Body
	if env.Attributes[propagation.HeaderContentType] == codec.ContentTypeGzip {
		decompressed, err := codec.Decompress(body)
		if err != nil {
			return nil, err
		}
		body = decompressed
	}
	return c.decode(body)
}

// invokeHandler shields the poll loop from handler panics.
func (c *Consumer) invokeHandler(ctx context.Context, payload any, headers map[string]string) (processed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			processed = false
			err = fmt.Errorf("liquidbus: handler panicked: %v", r)
		}
	}()
	return c.handler(ctx, payload, headers)
}

func correlationString(mc *propagation.MessageContext) string {
	if id := mc.CorrelationID(); id != uuid.Nil {
		return id.String()
	}
	return ""
}

func businessCorrelationString(mc *propagation.MessageContext) string {
	if id := mc.BusinessCorrelationID(); id != uuid.Nil {
		return id.String()
	}
	return ""
}
