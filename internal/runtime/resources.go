package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// Metric names read on every sample, in this order.
const (
	cpuSecondsMetric = "/cpu/classes/total:cpu-seconds"
	memoryMetric     = "/memory/classes/total:bytes"
	goroutinesMetric = "/sched/goroutines:goroutines"
)

// minSampleInterval caps how often the runtime is queried. Stats snapshots
// can be requested far more often than resource usage meaningfully changes.
const minSampleInterval = time.Second

// resourceTracker reads process-level usage from runtime/metrics for
// inclusion in consumer stats snapshots. Safe for concurrent use; a nil
// tracker yields zero usage.
type resourceTracker struct {
	mu sync.Mutex

	samples  [3]metrics.Sample
	numCPU   float64
	prevCPU  float64
	prevAt   time.Time
	cached   ResourceUsage
	cachedAt time.Time
}

func newResourceTracker() *resourceTracker {
	t := &resourceTracker{numCPU: float64(runtime.NumCPU())}
	t.samples[0].Name = cpuSecondsMetric
	t.samples[1].Name = memoryMetric
	t.samples[2].Name = goroutinesMetric
	return t
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if !r.cachedAt.IsZero() && now.Sub(r.cachedAt) < minSampleInterval {
		return r.cached
	}

	metrics.Read(r.samples[:])

	var usage ResourceUsage
	if v := r.samples[1].Value; v.Kind() == metrics.KindUint64 {
		usage.MemoryBytes = v.Uint64()
	}
	if v := r.samples[2].Value; v.Kind() == metrics.KindUint64 {
		usage.Goroutines = int(v.Uint64())
	}
	if v := r.samples[0].Value; v.Kind() == metrics.KindFloat64 {
		cpuSeconds := v.Float64()
		if !r.prevAt.IsZero() && r.numCPU > 0 {
			if wall := now.Sub(r.prevAt).Seconds(); wall > 0 {
				usage.CPUPercent = (cpuSeconds - r.prevCPU) / wall / r.numCPU * 100
			}
		}
		// The runtime's CPU accounting is an estimate and can run
		// slightly backwards between reads.
		if usage.CPUPercent < 0 {
			usage.CPUPercent = 0
		}
		r.prevCPU = cpuSeconds
		r.prevAt = now
	}

	r.cached = usage
	r.cachedAt = now
	return usage
}
