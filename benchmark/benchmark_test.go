package benchmark

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-detect/common"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/models"
)

// fakeEngine fails every failEvery-th call and returns one detection otherwise.
type fakeEngine struct {
	calls     atomic.Int64
	failEvery int64
	delay     time.Duration
}

func (e *fakeEngine) Detect(ctx context.Context, _ *images.Image) ([]common.FinalDetection, error) {
	n := e.calls.Add(1)
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.failEvery > 0 && n%e.failEvery == 0 {
		return nil, common.ErrInferenceFailure
	}
	return []common.FinalDetection{{Label: "person", Confidence: 0.9}}, nil
}

func (e *fakeEngine) Classes() *models.ClassSet { return nil }

func (e *fakeEngine) Close() error { return nil }

func TestRun(t *testing.T) {
	engine := &fakeEngine{}
	imgs := []*images.Image{images.NewImage(8, 8), images.NewImage(16, 16)}

	metrics, err := Run(context.Background(), engine, imgs, Scenario{Name: "cpu", Iterations: 20, WarmupRuns: 3, Concurrency: 4})
	require.NoError(t, err)

	assert.Equal(t, int64(23), engine.calls.Load())
	assert.Equal(t, 20, metrics.DetectionCount)
	assert.Zero(t, metrics.Errors)
	assert.Zero(t, metrics.ErrorRate)
	assert.Greater(t, metrics.FramesPerSecond, 0.0)
	assert.LessOrEqual(t, metrics.Latency.Min, metrics.Latency.P50)
	assert.LessOrEqual(t, metrics.Latency.P50, metrics.Latency.P95)
	assert.LessOrEqual(t, metrics.Latency.P95, metrics.Latency.Max)
}

func TestRun_Errors(t *testing.T) {
	engine := &fakeEngine{failEvery: 4}
	imgs := []*images.Image{images.NewImage(8, 8)}

	metrics, err := Run(context.Background(), engine, imgs, Scenario{Iterations: 8})
	require.NoError(t, err)
	assert.Equal(t, 2, metrics.Errors)
	assert.InDelta(t, 0.25, metrics.ErrorRate, 1e-9)
	assert.Equal(t, 6, metrics.DetectionCount)
}

func TestRun_InvalidInput(t *testing.T) {
	imgs := []*images.Image{images.NewImage(8, 8)}

	tests := []struct {
		name     string
		imgs     []*images.Image
		scenario Scenario
		errMsg   string
	}{
		{"no iterations", imgs, Scenario{}, "iterations must be positive"},
		{"negative warmup", imgs, Scenario{Iterations: 1, WarmupRuns: -1}, "warmup runs"},
		{"negative concurrency", imgs, Scenario{Iterations: 1, Concurrency: -2}, "concurrency"},
		{"no images", nil, Scenario{Iterations: 1}, "no images"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(context.Background(), &fakeEngine{}, tt.imgs, tt.scenario)
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, &fakeEngine{}, []*images.Image{images.NewImage(8, 8)}, Scenario{Iterations: 100})
	assert.ErrorContains(t, err, "benchmark interrupted")
}

func TestSummarize(t *testing.T) {
	var latencies []time.Duration
	for i := 100; i >= 1; i-- {
		latencies = append(latencies, time.Duration(i)*time.Millisecond)
	}

	got := summarize(latencies)
	assert.Equal(t, time.Millisecond, got.Min)
	assert.Equal(t, 50*time.Millisecond, got.P50)
	assert.Equal(t, 95*time.Millisecond, got.P95)
	assert.Equal(t, 99*time.Millisecond, got.P99)
	assert.Equal(t, 100*time.Millisecond, got.Max)
	assert.Equal(t, 50500*time.Microsecond, got.Mean)
	assert.Equal(t, 100*time.Millisecond, latencies[0], "input must stay unsorted")

	assert.Equal(t, LatencyMetrics{}, summarize(nil))
}
