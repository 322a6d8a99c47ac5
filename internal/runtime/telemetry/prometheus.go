package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus exports measurement durations and events as Prometheus metrics.
type Prometheus struct {
	durations *prometheus.HistogramVec
	events    *prometheus.CounterVec

	registerOnce sync.Once
	registerErr  error
	registerer   prometheus.Registerer
}

// NewPrometheus creates a Prometheus telemetry backend. Collectors are
// registered lazily on the first session so constructing the backend never
// fails.
func NewPrometheus(registerer prometheus.Registerer) *Prometheus {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Prometheus{
		registerer: registerer,
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "liquidbus",
				Subsystem: "telemetry",
				Name:      "measurement_duration_seconds",
				Help:      "Duration of telemetry measurements by key.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"key"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "liquidbus",
				Subsystem: "telemetry",
				Name:      "events_total",
				Help:      "Telemetry events by kind.",
			},
			[]string{"kind"},
		),
	}
}

func (p *Prometheus) register() {
	p.registerOnce.Do(func() {
		if err := p.registerer.Register(p.durations); err != nil {
			p.registerErr = err
			return
		}
		if err := p.registerer.Register(p.events); err != nil {
			p.registerErr = err
		}
	})
}

func (p *Prometheus) Open() Session {
	p.register()
	if p.registerErr != nil {
		return nopSession{}
	}
	return &prometheusSession{
		backend: p,
		started: make(map[string]time.Time),
	}
}

type prometheusSession struct {
	backend *Prometheus
	started map[string]time.Time
}

func (s *prometheusSession) AddContext(string, string) {}
func (s *prometheusSession) RemoveContext(string)      {}

func (s *prometheusSession) StartMeasurement(key string) {
	s.started[key] = time.Now()
}

func (s *prometheusSession) StopMeasurement(key string, _ any) {
	start, ok := s.started[key]
	if !ok {
		return
	}
	delete(s.started, key)
	s.backend.durations.WithLabelValues(key).Observe(time.Since(start).Seconds())
}

func (s *prometheusSession) AddEvent(kind, _ string) {
	s.backend.events.WithLabelValues(kind).Inc()
}

// Flush is a no-op; observations are recorded as they happen.
func (s *prometheusSession) Flush() {}
