// Package profiler - Runtime and pipeline stage profiling with periodic log reports.
package profiler

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MetricsCollector defines the interface for collecting custom metrics.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// RuntimeProfiler tracks system resources, custom metrics and operation timings and logs a
// status report at a fixed interval. It is safe for concurrent use.
type RuntimeProfiler struct {
	// Configuration
	reportInterval time.Duration
	sampleInterval time.Duration
	logger         *logrus.Logger

	// State management
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	startTime time.Time
	running   bool

	// System metrics
	memStats    runtime.MemStats
	samples     []runtimeSample
	maxSamples  int
	lastGCCount uint32

	// Custom metrics
	customMetrics map[string]*MetricTracker
	collectors    []MetricsCollector

	// Performance tracking
	operationTimes map[string]*TimeTracker
}

// runtimeSample represents one scheduler sample.
type runtimeSample struct {
	timestamp  time.Time
	goroutines int
	cgoCalls   int64
}

// MetricTracker tracks statistics for a custom metric over a sliding window.
type MetricTracker struct {
	values   []float64
	sum      float64
	min      float64
	max      float64
	count    int64
	lastTime time.Time
}

// TimeTracker tracks operation timing statistics over a sliding window.
type TimeTracker struct {
	durations []time.Duration
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// ProfilingOptions configures the runtime profiler.
type ProfilingOptions struct {
	// ReportInterval specifies how often to emit status reports (default: 30s)
	ReportInterval time.Duration `json:"report_interval" yaml:"report_interval"`
	// SampleInterval specifies how often to collect samples (default: 1s)
	SampleInterval time.Duration `json:"sample_interval" yaml:"sample_interval"`
	// MaxSamples specifies maximum number of samples kept per series (default: 600)
	MaxSamples int `json:"max_samples" yaml:"max_samples"`
}

// DefaultProfilingOptions returns the intervals used by the server.
func DefaultProfilingOptions() ProfilingOptions {
	return ProfilingOptions{
		ReportInterval: 30 * time.Second,
		SampleInterval: time.Second,
		MaxSamples:     600,
	}
}

// NewRuntimeProfiler creates a new runtime profiler with the specified options.
//
// Arguments:
// - opts: Configuration options for the profiler
// - logger: Destination for status reports. Nil uses the logrus standard logger.
//
// Returns:
// - A configured RuntimeProfiler instance
func NewRuntimeProfiler(opts ProfilingOptions, logger *logrus.Logger) *RuntimeProfiler {
	defaults := DefaultProfilingOptions()
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = defaults.ReportInterval
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = defaults.SampleInterval
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = defaults.MaxSamples
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &RuntimeProfiler{
		reportInterval: opts.ReportInterval,
		sampleInterval: opts.SampleInterval,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
		maxSamples:     opts.MaxSamples,
		samples:        make([]runtimeSample, 0, opts.MaxSamples),
		customMetrics:  make(map[string]*MetricTracker),
		operationTimes: make(map[string]*TimeTracker),
	}
}

// Start begins sampling and reporting in background goroutines. Calling it again while
// running does nothing.
func (rp *RuntimeProfiler) Start() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	if rp.running {
		return
	}

	rp.running = true
	rp.startTime = time.Now()

	rp.wg.Add(2)
	go rp.sampleLoop()
	go rp.reportLoop()
}

// Stop stops the profiler and waits for its goroutines to exit. A stopped profiler cannot be
// restarted.
func (rp *RuntimeProfiler) Stop() {
	rp.mu.Lock()
	if !rp.running {
		rp.mu.Unlock()
		return
	}
	rp.running = false
	rp.mu.Unlock()

	rp.cancel()
	rp.wg.Wait()
}

// AddMetricsCollector registers a collector that is polled on every sample.
func (rp *RuntimeProfiler) AddMetricsCollector(collector MetricsCollector) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.collectors = append(rp.collectors, collector)
}

// RecordMetric records a custom metric value.
//
// Arguments:
// - name: The name of the metric
// - value: The metric value to record
func (rp *RuntimeProfiler) RecordMetric(name string, value float64) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	rp.recordMetricLocked(name, value)
}

func (rp *RuntimeProfiler) recordMetricLocked(name string, value float64) {
	tracker, exists := rp.customMetrics[name]
	if !exists {
		tracker = &MetricTracker{
			values: make([]float64, 0, rp.maxSamples),
			min:    value,
			max:    value,
		}
		rp.customMetrics[name] = tracker
	}

	tracker.values = append(tracker.values, value)
	tracker.sum += value
	if len(tracker.values) > rp.maxSamples {
		tracker.sum -= tracker.values[0]
		tracker.values = tracker.values[1:]
	}
	tracker.count++
	tracker.lastTime = time.Now()

	if value < tracker.min {
		tracker.min = value
	}
	if value > tracker.max {
		tracker.max = value
	}
}

// StartOperation begins timing an operation.
//
// Arguments:
// - name: The name of the operation to track
//
// Returns:
// - A function to call when the operation completes
//
// @example
// done := profiler.StartOperation("nms")
// defer done()
func (rp *RuntimeProfiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		rp.RecordOperation(name, time.Since(start))
	}
}

// RecordOperation records the completion time of an operation.
func (rp *RuntimeProfiler) RecordOperation(name string, duration time.Duration) {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	tracker, exists := rp.operationTimes[name]
	if !exists {
		tracker = &TimeTracker{
			minTime: duration,
			maxTime: duration,
		}
		rp.operationTimes[name] = tracker
	}

	tracker.durations = append(tracker.durations, duration)
	tracker.totalTime += duration
	if len(tracker.durations) > rp.maxSamples {
		tracker.totalTime -= tracker.durations[0]
		tracker.durations = tracker.durations[1:]
	}
	tracker.count++

	if duration < tracker.minTime {
		tracker.minTime = duration
	}
	if duration > tracker.maxTime {
		tracker.maxTime = duration
	}
}

func (rp *RuntimeProfiler) sampleLoop() {
	defer rp.wg.Done()

	ticker := time.NewTicker(rp.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rp.ctx.Done():
			return
		case <-ticker.C:
			rp.sample()
		}
	}
}

func (rp *RuntimeProfiler) reportLoop() {
	defer rp.wg.Done()

	ticker := time.NewTicker(rp.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rp.ctx.Done():
			return
		case <-ticker.C:
			rp.emitStatusReport()
		}
	}
}

// sample collects scheduler and memory stats and polls the registered collectors.
func (rp *RuntimeProfiler) sample() {
	rp.mu.RLock()
	collectors := append([]MetricsCollector(nil), rp.collectors...)
	rp.mu.RUnlock()

	collected := make([]map[string]float64, 0, len(collectors))
	for _, collector := range collectors {
		collected = append(collected, collector.CollectMetrics())
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	rp.mu.Lock()
	defer rp.mu.Unlock()

	rp.memStats = mem
	rp.samples = append(rp.samples, runtimeSample{
		timestamp:  time.Now(),
		goroutines: runtime.NumGoroutine(),
		cgoCalls:   runtime.NumCgoCall(),
	})
	if len(rp.samples) > rp.maxSamples {
		rp.samples = rp.samples[1:]
	}

	for _, metrics := range collected {
		for name, value := range metrics {
			rp.recordMetricLocked(name, value)
		}
	}
}

// emitStatusReport logs one entry with the runtime summary and one per tracked series.
func (rp *RuntimeProfiler) emitStatusReport() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	fields := logrus.Fields{
		"uptime":     time.Since(rp.startTime).Truncate(time.Millisecond).String(),
		"goroutines": runtime.NumGoroutine(),
		"cgo_calls":  runtime.NumCgoCall(),
		"alloc":      formatBytes(rp.memStats.Alloc),
		"sys":        formatBytes(rp.memStats.Sys),
		"heap_alloc": formatBytes(rp.memStats.HeapAlloc),
		"heap_objs":  rp.memStats.HeapObjects,
	}
	if rp.memStats.NumGC > rp.lastGCCount {
		fields["gc_cycles"] = rp.memStats.NumGC
		fields["gc_new"] = rp.memStats.NumGC - rp.lastGCCount
		fields["gc_cpu_pct"] = fmt.Sprintf("%.4f", rp.memStats.GCCPUFraction*100)
		rp.lastGCCount = rp.memStats.NumGC
	}
	rp.logger.WithFields(fields).Info("runtime profiler status")

	for _, name := range sortedKeys(rp.customMetrics) {
		tracker := rp.customMetrics[name]
		if len(tracker.values) == 0 {
			continue
		}
		rp.logger.WithFields(logrus.Fields{
			"metric":  name,
			"avg":     fmt.Sprintf("%.2f", tracker.sum/float64(len(tracker.values))),
			"min":     tracker.min,
			"max":     tracker.max,
			"samples": len(tracker.values),
		}).Debug("custom metric")
	}

	for _, name := range sortedKeys(rp.operationTimes) {
		tracker := rp.operationTimes[name]
		if len(tracker.durations) == 0 {
			continue
		}
		rp.logger.WithFields(logrus.Fields{
			"operation": name,
			"avg":       (tracker.totalTime / time.Duration(len(tracker.durations))).Truncate(time.Microsecond).String(),
			"min":       tracker.minTime.Truncate(time.Microsecond).String(),
			"max":       tracker.maxTime.Truncate(time.Microsecond).String(),
			"count":     tracker.count,
		}).Info("operation timing")
	}
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetCurrentStats returns the current profiling statistics as a snapshot.
//
// Returns:
// - A map containing runtime, memory, custom metric and operation timing statistics
func (rp *RuntimeProfiler) GetCurrentStats() map[string]interface{} {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	rp.mu.RLock()
	defer rp.mu.RUnlock()

	stats := make(map[string]interface{})

	stats["uptime_seconds"] = time.Since(rp.startTime).Seconds()
	stats["goroutines"] = runtime.NumGoroutine()
	stats["cgo_calls"] = runtime.NumCgoCall()

	stats["memory"] = map[string]interface{}{
		"alloc":           mem.Alloc,
		"total_alloc":     mem.TotalAlloc,
		"sys":             mem.Sys,
		"heap_alloc":      mem.HeapAlloc,
		"heap_sys":        mem.HeapSys,
		"heap_objects":    mem.HeapObjects,
		"gc_cycles":       mem.NumGC,
		"gc_cpu_fraction": mem.GCCPUFraction,
	}

	customStats := make(map[string]interface{})
	for name, tracker := range rp.customMetrics {
		if len(tracker.values) > 0 {
			customStats[name] = map[string]interface{}{
				"avg":     tracker.sum / float64(len(tracker.values)),
				"min":     tracker.min,
				"max":     tracker.max,
				"last":    tracker.values[len(tracker.values)-1],
				"samples": len(tracker.values),
			}
		}
	}
	stats["custom_metrics"] = customStats

	operations := make(map[string]interface{})
	for name, tracker := range rp.operationTimes {
		if len(tracker.durations) > 0 {
			avg := tracker.totalTime / time.Duration(len(tracker.durations))
			operations[name] = map[string]interface{}{
				"avg_ms": float64(avg) / float64(time.Millisecond),
				"min_ms": float64(tracker.minTime) / float64(time.Millisecond),
				"max_ms": float64(tracker.maxTime) / float64(time.Millisecond),
				"count":  tracker.count,
			}
		}
	}
	stats["operations"] = operations

	return stats
}
