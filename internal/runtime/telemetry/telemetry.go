// Package telemetry defines the per-message instrumentation surface. Each
// processed message opens one Session; the pipeline guarantees Flush runs
// exactly once per message, whatever the handler did.
package telemetry

import (
	"time"

	"github.com/liquidbus/liquidbus/internal/runtime/logging"
)

// Telemetry produces sessions. Implementations must be safe for concurrent
// use; Open is called once per message from the consumer pipeline.
type Telemetry interface {
	Open() Session
}

// Session instruments the processing of one message. Sessions are used from a
// single goroutine.
type Session interface {
	// AddContext tags the session, e.g. with the payload type and queue.
	AddContext(key, value string)

	// RemoveContext removes a tag added earlier.
	RemoveContext(key string)

	// StartMeasurement begins timing the named unit of work.
	StartMeasurement(key string)

	// StopMeasurement ends the timing and records the outcome payload.
	StopMeasurement(key string, payload any)

	// AddEvent records a point-in-time occurrence.
	AddEvent(kind, message string)

	// Flush exports everything collected. Runs exactly once per session.
	Flush()
}

// Nop discards all telemetry.
type Nop struct{}

func (Nop) Open() Session { return nopSession{} }

type nopSession struct{}

func (nopSession) AddContext(string, string) {}
func (nopSession) RemoveContext(string) {}
func (nopSession) StartMeasurement(string) {}
func (nopSession) StopMeasurement(string, any) {}
func (nopSession) AddEvent(string, string) {}
func (nopSession) Flush() {}

// Logger emits sessions as structured log lines. It is the default telemetry
// backend when nothing else is configured.
type Logger struct {
	Log logging.ServiceLogger
}

// NewLogger creates a log-backed telemetry.
func NewLogger(log logging.ServiceLogger) *Logger {
	return &Logger{Log: log}
}

func (l *Logger) Open() Session {
	return &loggerSession{
		log:     l.Log,
		tags:    make(map[string]string),
		started: make(map[string]time.Time),
	}
}

type measurement struct {
	Key      string
	Duration time.Duration
	Payload  any
}

type event struct {
	Kind    string
	Message string
}

type loggerSession struct {
	log          logging.ServiceLogger
	tags         map[string]string
	started      map[string]time.Time
	measurements []measurement
	events       []event
	flushed      bool
}

func (s *loggerSession) AddContext(key, value string) { s.tags[key] = value }
func (s *loggerSession) RemoveContext(key string) { delete(s.tags, key) }

func (s *loggerSession) StartMeasurement(key string) {
	s.started[key] = time.Now()
}

func (s *loggerSession) StopMeasurement(key string, payload any) {
	start, ok := s.started[key]
	if !ok {
		return
	}
	delete(s.started, key)
	s.measurements = append(s.measurements, measurement{
		Key:      key,
		Duration: time.Since(start),
		Payload:  payload,
	})
}

func (s *loggerSession) AddEvent(kind, message string) {
	s.events = append(s.events, event{Kind: kind, Message: message})
}

func (s *loggerSession) Flush() {
	if s.flushed {
		return
	}
	s.flushed = true

	fields := logging.LogFields{}
	for key, value := range s.tags {
		fields[key] = value
	}
	for _, m := range s.measurements {
		s.log.Info("Measurement completed", mergeFields(fields, logging.LogFields{
			"measurement": m.Key,
			"duration_ms": m.Duration.Milliseconds(),
			"payload":     m.Payload,
		}))
	}
	for _, e := range s.events {
		s.log.Info("Telemetry event", mergeFields(fields, logging.LogFields{
			"kind":    e.Kind,
			"message": e.Message,
		}))
	}
}

func mergeFields(base, extra logging.LogFields) logging.LogFields {
	out := logging.LogFields{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Multi fans every session call out to several backends.
type Multi struct {
	backends []Telemetry
}

// NewMulti combines telemetry backends. Nil entries are skipped.
func NewMulti(backends ...Telemetry) *Multi {
	m := &Multi{}
	for _, b := range backends {
		if b != nil {
			m.backends = append(m.backends, b)
		}
	}
	return m
}

func (m *Multi) Open() Session {
	sessions := make([]Session, 0, len(m.backends))
	for _, b := range m.backends {
		sessions = append(sessions, b.Open())
	}
	return multiSession{sessions: sessions}
}

type multiSession struct {
	sessions []Session
}

func (m multiSession) AddContext(key, value string) {
	for _, s := range m.sessions {
		s.AddContext(key, value)
	}
}

func (m multiSession) RemoveContext(key string) {
	for _, s := range m.sessions {
		s.RemoveContext(key)
	}
}

func (m multiSession) StartMeasurement(key string) {
	for _, s := range m.sessions {
		s.StartMeasurement(key)
	}
}

func (m multiSession) StopMeasurement(key string, payload any) {
	for _, s := range m.sessions {
		s.StopMeasurement(key, payload)
	}
}

func (m multiSession) AddEvent(kind, message string) {
	for _, s := range m.sessions {
		s.AddEvent(kind, message)
	}
}

func (m multiSession) Flush() {
	for _, s := range m.sessions {
		s.Flush()
	}
}
