package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/liquidbus/liquidbus"

// OTel records measurements as OpenTelemetry spans and events as span events.
// It uses the globally configured tracer provider.
type OTel struct {
	tracer trace.Tracer
	once   sync.Once
}

// NewOTel creates an OpenTelemetry telemetry backend.
func NewOTel() *OTel {
	return &OTel{}
}

func (o *OTel) Open() Session {
	o.once.Do(func() {
		o.tracer = otel.Tracer(tracerName)
	})
	return &otelSession{
		tracer: o.tracer,
		tags:   make(map[string]string),
		spans:  make(map[string]trace.Span),
	}
}

type otelSession struct {
	tracer trace.Tracer
	tags   map[string]string
	spans  map[string]trace.Span
	last   trace.Span
}

func (s *otelSession) AddContext(key, value string) { s.tags[key] = value }
func (s *otelSession) RemoveContext(key string)     { delete(s.tags, key) }

func (s *otelSession) StartMeasurement(key string) {
	_, span := s.tracer.Start(context.Background(), key)
	for tagKey, tagValue := range s.tags {
		span.SetAttributes(attribute.String(tagKey, tagValue))
	}
	s.spans[key] = span
	s.last = span
}

func (s *otelSession) StopMeasurement(key string, _ any) {
	span, ok := s.spans[key]
	if !ok {
		return
	}
	delete(s.spans, key)
	span.End()
}

func (s *otelSession) AddEvent(kind, message string) {
	if s.last == nil {
		return
	}
	s.last.AddEvent(kind, trace.WithAttributes(attribute.String("message", message)))
}

// Flush ends any measurements left open so no span leaks.
func (s *otelSession) Flush() {
	for key, span := range s.spans {
		delete(s.spans, key)
		span.End()
	}
}
