package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/liquidbus/liquidbus/broker"
	configpkg "github.com/liquidbus/liquidbus/internal/runtime/config"
	loggingpkg "github.com/liquidbus/liquidbus/internal/runtime/logging"
	telemetrypkg "github.com/liquidbus/liquidbus/internal/runtime/telemetry"
)

// fakeBroker serves scripted envelope batches and records every call. After
// the script runs out, Receive blocks until the context is cancelled, like a
// long poll against an empty queue.
type fakeBroker struct {
	mu       sync.Mutex
	batches  [][]broker.Envelope
	deleted  []string
	sent     []sentMessage
	resolved []string

	resolveErr error
	receiveErr error
	deleteErr  error
	publishErr error
	closed     bool
}

type sentMessage struct {
	queue      string
	body       []byte
	attributes map[string]string
}

func (f *fakeBroker) ResolveQueue(_ context.Context, name string) (broker.QueueHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	f.resolved = append(f.resolved, name)
	return broker.QueueHandle("resolved/" + name), nil
}

func (f *fakeBroker) Receive(ctx context.Context, _ broker.QueueHandle, _ int) ([]broker.Envelope, error) {
	f.mu.Lock()
	if f.receiveErr != nil {
		err := f.receiveErr
		f.mu.Unlock()
		return nil, err
	}
	if len(f.batches) > 0 {
		batch := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return batch, nil
	}
	f.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fakeBroker) Delete(_ context.Context, _ broker.QueueHandle, receiptHandle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, receiptHandle)
	return nil
}

func (f *fakeBroker) Publish(_ context.Context, handle broker.QueueHandle, body []byte, attributes map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	clone := make(map[string]string, len(attributes))
	for k, v := range attributes {
		clone[k] = v
	}
	f.sent = append(f.sent, sentMessage{queue: string(handle), body: body, attributes: clone})
	return nil
}

func (f *fakeBroker) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBroker) deletedHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := make([]string, len(f.deleted))
	copy(clone, f.deleted)
	return clone
}

func (f *fakeBroker) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeBroker) resolvedQueues() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := make([]string, len(f.resolved))
	copy(clone, f.resolved)
	return clone
}

func (f *fakeBroker) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := make([]sentMessage, len(f.sent))
	copy(clone, f.sent)
	return clone
}

// capturingLogger records log entries for assertions.
type capturingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

func (l *capturingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger { return l }

func (l *capturingLogger) Debug(msg string, fields loggingpkg.LogFields) {
	l.record("debug", msg, nil, fields)
}

func (l *capturingLogger) Info(msg string, fields loggingpkg.LogFields) {
	l.record("info", msg, nil, fields)
}

func (l *capturingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	l.record("error", msg, err, fields)
}

func (l *capturingLogger) Trace(msg string, fields loggingpkg.LogFields) {
	l.record("trace", msg, nil, fields)
}

func (l *capturingLogger) record(level, msg string, err error, fields loggingpkg.LogFields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, err: err, fields: fields})
}

func (l *capturingLogger) hasError(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == "error" && e.msg == msg {
			return true
		}
	}
	return false
}

// fakeTelemetry records session activity across goroutines.
type fakeTelemetry struct {
	mu       sync.Mutex
	sessions []*fakeSession
}

func (f *fakeTelemetry) Open() telemetrypkg.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSession{tags: make(map[string]string)}
	f.sessions = append(f.sessions, s)
	return s
}

func (f *fakeTelemetry) allSessions() []*fakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := make([]*fakeSession, len(f.sessions))
	copy(clone, f.sessions)
	return clone
}

type fakeSession struct {
	mu          sync.Mutex
	tags        map[string]string
	started     []string
	stopped     map[string]any
	events      []string
	flushCount  int
	removedTags []string
}

func (s *fakeSession) AddContext(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[key] = value
}

func (s *fakeSession) RemoveContext(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removedTags = append(s.removedTags, key)
}

func (s *fakeSession) StartMeasurement(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, key)
}

func (s *fakeSession) StopMeasurement(key string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped == nil {
		s.stopped = make(map[string]any)
	}
	s.stopped[key] = payload
}

func (s *fakeSession) AddEvent(kind, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, kind)
}

func (s *fakeSession) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushCount++
}

func (s *fakeSession) flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushCount
}

func (s *fakeSession) completion(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.stopped[key]
	return payload, ok
}

func testConfig() *configpkg.Config {
	return &configpkg.Config{
		BrokerSystem:        "channel",
		WaitTime:            10 * time.Millisecond,
		ShutdownGracePeriod: time.Second,
	}
}

func newTestService(t *testing.T, client broker.Client) (*Service, *capturingLogger, *fakeTelemetry) {
	t.Helper()

	logger := &capturingLogger{}
	tel := &fakeTelemetry{}

	svc, err := TryNewService(context.Background(), testConfig(), logger, ServiceDependencies{
		Client:    client,
		Telemetry: tel,
	})
	if err != nil {
		t.Fatalf("expected service, got error: %v", err)
	}
	return svc, logger, tel
}
