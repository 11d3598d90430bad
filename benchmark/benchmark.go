// Package benchmark - Measures detection latency and throughput of an engine.
package benchmark

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference"
)

// Scenario defines a specific test configuration.
type Scenario struct {
	Name string `json:"name"`
	// Iterations is the number of measured Detect calls.
	Iterations int `json:"iterations"`
	// WarmupRuns are unmeasured calls made before the first measured one.
	WarmupRuns int `json:"warmup_runs"`
	// Concurrency is the number of goroutines issuing calls. Zero means one.
	Concurrency int `json:"concurrency"`
}

// Validate checks the scenario.
func (s Scenario) Validate() error {
	if s.Iterations <= 0 {
		return errors.Errorf("iterations must be positive, got %d", s.Iterations)
	}
	if s.WarmupRuns < 0 {
		return errors.Errorf("warmup runs must not be negative, got %d", s.WarmupRuns)
	}
	if s.Concurrency < 0 {
		return errors.Errorf("concurrency must not be negative, got %d", s.Concurrency)
	}
	return nil
}

// PerformanceMetrics captures detailed performance data.
type PerformanceMetrics struct {
	Scenario        Scenario       `json:"scenario"`
	Timestamp       time.Time      `json:"timestamp"`
	TotalDuration   time.Duration  `json:"total_duration"`
	Latency         LatencyMetrics `json:"latency"`
	FramesPerSecond float64        `json:"frames_per_second"`
	MemoryStats     MemoryMetrics  `json:"memory_stats"`
	DetectionCount  int            `json:"detection_count"`
	Errors          int            `json:"errors"`
	ErrorRate       float64        `json:"error_rate"`
}

// LatencyMetrics summarizes per-call latency of successful calls.
type LatencyMetrics struct {
	Min  time.Duration `json:"min"`
	Mean time.Duration `json:"mean"`
	P50  time.Duration `json:"p50"`
	P95  time.Duration `json:"p95"`
	P99  time.Duration `json:"p99"`
	Max  time.Duration `json:"max"`
}

// MemoryMetrics captures memory usage statistics.
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
}

// Run executes a scenario against the engine, cycling through imgs.
//
// Failed calls count towards the error rate and are excluded from the latency summary.
//
// Arguments:
//   - ctx: Cancels the run between calls.
//   - engine: The engine under test.
//   - imgs: The decoded inputs, reused round-robin.
//   - scenario: The iteration, warm-up and concurrency settings.
//
// Returns:
//   - *PerformanceMetrics: The measurements.
//   - error: An error if the scenario is invalid, there are no images or ctx is done.
func Run(ctx context.Context, engine inference.Engine, imgs []*images.Image, scenario Scenario) (*PerformanceMetrics, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	if len(imgs) == 0 {
		return nil, errors.New("no images to benchmark")
	}
	workers := max(1, scenario.Concurrency)

	for i := 0; i < scenario.WarmupRuns; i++ {
		// Warm-up errors surface again in the measured calls.
		_, _ = engine.Detect(ctx, imgs[i%len(imgs)])
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	var (
		mu         sync.Mutex
		latencies  = make([]time.Duration, 0, scenario.Iterations)
		detections int
		failures   int
		next       = make(chan int)
		wg         sync.WaitGroup
	)

	start := time.Now()
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				t := time.Now()
				dets, err := engine.Detect(ctx, imgs[i%len(imgs)])
				elapsed := time.Since(t)

				mu.Lock()
				if err != nil {
					failures++
				} else {
					latencies = append(latencies, elapsed)
					detections += len(dets)
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for i := 0; i < scenario.Iterations; i++ {
		select {
		case next <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(next)
	wg.Wait()
	total := time.Since(start)

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "benchmark interrupted")
	}

	var endMem runtime.MemStats
	runtime.ReadMemStats(&endMem)

	metrics := &PerformanceMetrics{
		Scenario:       scenario,
		Timestamp:      start,
		TotalDuration:  total,
		Latency:        summarize(latencies),
		DetectionCount: detections,
		Errors:         failures,
		ErrorRate:      float64(failures) / float64(scenario.Iterations),
		MemoryStats: MemoryMetrics{
			AllocBytes:      endMem.Alloc,
			TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
			SysBytes:        endMem.Sys,
			NumGC:           endMem.NumGC - startMem.NumGC,
			HeapAllocBytes:  endMem.HeapAlloc,
		},
	}
	if total > 0 {
		metrics.FramesPerSecond = float64(len(latencies)) / total.Seconds()
	}
	return metrics, nil
}

func summarize(latencies []time.Duration) LatencyMetrics {
	if len(latencies) == 0 {
		return LatencyMetrics{}
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	return LatencyMetrics{
		Min:  sorted[0],
		Mean: sum / time.Duration(len(sorted)),
		P50:  percentile(sorted, 50),
		P95:  percentile(sorted, 95),
		P99:  percentile(sorted, 99),
		Max:  sorted[len(sorted)-1],
	}
}

// percentile uses the nearest-rank method on sorted input.
func percentile(sorted []time.Duration, p int) time.Duration {
	rank := (p*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
