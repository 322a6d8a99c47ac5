package runtime

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/liquidbus/liquidbus/internal/runtime/codec"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// failureKind classifies where in the pipeline a message failed.
type failureKind int

const (
	failureNone failureKind = iota
	failureDecode
	failureHandler
	failureAck
	failureOther
)

// ConsumerStats aggregates per-consumer processing metrics. All exported
// fields are snapshots; use the accessor methods for live values.
type ConsumerStats struct {
	mu sync.Mutex `json:"-"`

	consumerName string `json:"-"`
	queue        string `json:"-"`

	MessagesProcessed   uint64    `json:"messages_processed"`
	MessagesFailed      uint64    `json:"messages_failed"`
	MessagesAcked       uint64    `json:"messages_acked"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time `json:"last_processed_at"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Resource   ResourceUsage     `json:"resource"`
	Backlog    BacklogMetrics    `json:"backlog"`

	latencyWindow    *latencyWindow    `json:"-"`
	throughputWindow *throughputWindow `json:"-"`
	resourceSampler  *resourceTracker  `json:"-"`
}

// ConsumerInfo describes one registered consumer and its live stats.
type ConsumerInfo struct {
	Name         string         `json:"name"`
	Queue        string         `json:"queue"`
	AutoComplete bool           `json:"auto_complete"`
	State        string         `json:"state"`
	Stats        *ConsumerStats `json:"stats"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
	TotalMessages    uint64  `json:"total_messages"`
}

type ErrorBreakdown struct {
	Decode    uint64 `json:"decode"`
	Handler   uint64 `json:"handler"`
	Ack       uint64 `json:"ack"`
	Other     uint64 `json:"other"`
	LastError string `json:"last_error,omitempty"`
}

type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

type BacklogMetrics struct {
	InFlight    uint64 `json:"in_flight"`
	MaxInFlight uint64 `json:"max_in_flight"`
}

func newConsumerStats(name, queue string, sampler *resourceTracker) *ConsumerStats {
	return &ConsumerStats{
		consumerName:     name,
		queue:            queue,
		resourceSampler:  sampler,
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
	}
}

func (s *ConsumerStats) onMessageStart() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Backlog.InFlight++
	if s.Backlog.InFlight > s.Backlog.MaxInFlight {
		s.Backlog.MaxInFlight = s.Backlog.InFlight
	}
}

func (s *ConsumerStats) onMessageFinish(duration time.Duration, acked bool, kind failureKind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Backlog.InFlight > 0 {
		s.Backlog.InFlight--
	}

	s.MessagesProcessed++
	if err != nil {
		s.MessagesFailed++
	}
	if acked {
		s.MessagesAcked++
	}
	s.TotalProcessingTime += int64(duration)
	s.LastProcessedAt = time.Now().UTC()

	if s.latencyWindow != nil {
		s.latencyWindow.Add(duration)
		snapshot := s.latencyWindow.Snapshot()
		snapshot.LastNs = int64(duration)
		if s.MessagesProcessed > 0 {
			snapshot.AverageNs = s.TotalProcessingTime / int64(s.MessagesProcessed)
		}
		s.Latency = snapshot
	}

	if s.throughputWindow != nil {
		snapshot := s.throughputWindow.AddAndSnapshot(time.Now())
		s.Throughput.CurrentRPS = snapshot.CurrentRPS
		s.Throughput.WindowSeconds = snapshot.WindowSeconds
		s.Throughput.MessagesInWindow = uint64(snapshot.Count)
	}
	s.Throughput.TotalMessages = s.MessagesProcessed

	s.Errors.record(kind, err)

	if s.resourceSampler != nil {
		s.Resource = s.resourceSampler.Snapshot()
	}
}

// onDecodeFailure records a message that never entered the pipeline proper.
// It stays out of MessagesProcessed and the latency window so undecodable
// messages do not drag the percentiles toward zero.
func (s *ConsumerStats) onDecodeFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.MessagesFailed++
	s.LastProcessedAt = time.Now().UTC()
	s.Errors.record(failureDecode, err)
}

// ErrorCounts returns a copy of the current error breakdown.
func (s *ConsumerStats) ErrorCounts() ErrorBreakdown {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Errors
}

// Processed returns the number of messages that finished the pipeline.
func (s *ConsumerStats) Processed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.MessagesProcessed
}

// MarshalJSON takes the lock so snapshots are consistent.
func (s *ConsumerStats) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type Alias ConsumerStats
	return codec.JSON{}.Encode((*Alias)(s))
}

func (e *ErrorBreakdown) record(kind failureKind, err error) {
	switch kind {
	case failureNone:
		if err == nil {
			return
		}
		e.Other++
	case failureDecode:
		e.Decode++
	case failureHandler:
		e.Handler++
	case failureAck:
		e.Ack++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var metrics LatencyMetrics
	if lw == nil {
		return metrics
	}
	if lw.filled == 0 {
		metrics.LastNs = lw.last
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	metrics.LastNs = lw.last
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	if tw == nil {
		return throughputSnapshot{}
	}
	tw.samples = append(tw.samples, now)
	tw.cleanup(now)
	return tw.snapshot(now)
}

func (tw *throughputWindow) cleanup(now time.Time) {
	if tw == nil || len(tw.samples) == 0 {
		return
	}
	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		copy(tw.samples, tw.samples[idx:])
		tw.samples = tw.samples[:len(tw.samples)-idx]
	}
}

func (tw *throughputWindow) snapshot(now time.Time) throughputSnapshot {
	if tw == nil || len(tw.samples) == 0 {
		return throughputSnapshot{}
	}
	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}
