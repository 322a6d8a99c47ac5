package runtime

import (
	"errors"
	"time"

	loggingpkg "github.com/liquidbus/liquidbus/internal/runtime/logging"
)

// MessageInfo provides information about a message execution to hooks.
type MessageInfo struct {
	// Consumer is the name of the consumer processing the message.
	Consumer string
	// Queue is the queue the message was received from.
	Queue string
	// MessageID is the unique identifier of the message.
	MessageID string
	// CorrelationID is the correlation id from the message headers, if any.
	CorrelationID string
	// Headers contains the message headers.
	Headers map[string]string
	// StartedAt is when processing started.
	StartedAt time.Time
	// Duration is how long processing took (only set in done/error hooks).
	Duration time.Duration
	// Processed reports the handler's verdict (only set in done hooks).
	Processed bool
	// Acknowledged reports whether the message was deleted from the queue.
	Acknowledged bool
}

// PipelineHooks defines callbacks for message lifecycle events.
// All hooks are optional - nil hooks are simply not called.
type PipelineHooks struct {
	// OnMessageStart is called when a consumer begins processing a message,
	// before the handler function is invoked.
	OnMessageStart func(info MessageInfo)

	// OnMessageDone is called when processing completes without error.
	// Duration, Processed, and Acknowledged are set.
	OnMessageDone func(info MessageInfo)

	// OnMessageError is called when decoding, the handler, or the
	// acknowledgment fails. The error is passed as the second argument.
	OnMessageError func(info MessageInfo, err error)
}

// Merge combines two PipelineHooks, creating hooks that call both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h PipelineHooks) Merge(other PipelineHooks) PipelineHooks {
	return PipelineHooks{
		OnMessageStart: chainInfoHooks(h.OnMessageStart, other.OnMessageStart),
		OnMessageDone:  chainInfoHooks(h.OnMessageDone, other.OnMessageDone),
		OnMessageError: chainErrorHooks(h.OnMessageError, other.OnMessageError),
	}
}

func chainInfoHooks(a, b func(MessageInfo)) func(MessageInfo) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info MessageInfo) {
		a(info)
		b(info)
	}
}

func chainErrorHooks(a, b func(MessageInfo, error)) func(MessageInfo, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info MessageInfo, err error) {
		a(info, err)
		b(info, err)
	}
}

func (h PipelineHooks) start(info MessageInfo) {
	if h.OnMessageStart != nil {
		h.OnMessageStart(info)
	}
}

func (h PipelineHooks) done(info MessageInfo) {
	if h.OnMessageDone != nil {
		h.OnMessageDone(info)
	}
}

func (h PipelineHooks) fail(info MessageInfo, err error) {
	if h.OnMessageError != nil {
		h.OnMessageError(info, err)
	}
}

// LoggingHooks returns pre-built hooks that log message lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) PipelineHooks {
	return PipelineHooks{
		OnMessageStart: func(info MessageInfo) {
			logger.Debug("Message processing started", loggingpkg.LogFields{
				"consumer":       info.Consumer,
				"queue":          info.Queue,
				"message_id":     info.MessageID,
				"correlation_id": info.CorrelationID,
			})
		},
		OnMessageDone: func(info MessageInfo) {
			logger.Info("Message processing completed", loggingpkg.LogFields{
				"consumer":     info.Consumer,
				"queue":        info.Queue,
				"message_id":   info.MessageID,
				"duration_ms":  info.Duration.Milliseconds(),
				"processed":    info.Processed,
				"acknowledged": info.Acknowledged,
			})
		},
		OnMessageError: func(info MessageInfo, err error) {
			logger.Error("Message processing failed", err, loggingpkg.LogFields{
				"consumer":    info.Consumer,
				"queue":       info.Queue,
				"message_id":  info.MessageID,
				"duration_ms": info.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns pre-built hooks that record message counts.
func MetricsHooks(onStart, onDone, onError func(consumer, queue string)) PipelineHooks {
	return PipelineHooks{
		OnMessageStart: func(info MessageInfo) {
			if onStart != nil {
				onStart(info.Consumer, info.Queue)
			}
		},
		OnMessageDone: func(info MessageInfo) {
			if onDone != nil {
				onDone(info.Consumer, info.Queue)
			}
		},
		OnMessageError: func(info MessageInfo, err error) {
			if onError != nil {
				onError(info.Consumer, info.Queue)
			}
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on errors.
func AlertingHooks(alertFunc func(info MessageInfo, err error)) PipelineHooks {
	return PipelineHooks{
		OnMessageError: alertFunc,
	}
}

// ProcessingStage identifies where in the pipeline a result was produced.
type ProcessingStage string

const (
	StageDecode  ProcessingStage = "decode"
	StageHandler ProcessingStage = "handler"
	StageAck     ProcessingStage = "ack"
)

// ProcessingResult is one observable outcome of a message pipeline run.
type ProcessingResult struct {
	Info  MessageInfo
	Stage ProcessingStage
	Err   error
}

// ResultCollector gathers processing results on a bounded channel so tests
// and supervisors can observe outcomes without blocking the pipeline. When
// the buffer is full new results are dropped.
type ResultCollector struct {
	results chan ProcessingResult
}

// NewResultCollector creates a collector with the given buffer size.
func NewResultCollector(size int) *ResultCollector {
	if size <= 0 {
		size = 64
	}
	return &ResultCollector{results: make(chan ProcessingResult, size)}
}

// Results exposes the stream of collected outcomes.
func (rc *ResultCollector) Results() <-chan ProcessingResult {
	return rc.results
}

// Hooks returns PipelineHooks that feed this collector.
func (rc *ResultCollector) Hooks() PipelineHooks {
	return PipelineHooks{
		OnMessageDone: func(info MessageInfo) {
			rc.offer(ProcessingResult{Info: info, Stage: StageHandler})
		},
		OnMessageError: func(info MessageInfo, err error) {
			rc.offer(ProcessingResult{Info: info, Stage: stageOf(err), Err: err})
		},
	}
}

// stageOf maps the pipeline's typed failures onto processing stages; anything
// untyped came from the handler.
func stageOf(err error) ProcessingStage {
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return StageDecode
	}
	var ackErr *AckError
	if errors.As(err, &ackErr) {
		return StageAck
	}
	return StageHandler
}

func (rc *ResultCollector) offer(result ProcessingResult) {
	select {
	case rc.results <- result:
	default:
	}
}
