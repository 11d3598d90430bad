package postprocess

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-detect/common"
)

// raw builds a candidate whose confidence is exactly conf for the given class.
func raw(x1, y1, x2, y2, conf float32, class, numClasses int) common.RawDetection {
	scores := make([]float32, numClasses)
	scores[class] = 1
	return common.RawDetection{
		Box:         common.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
		Objectness:  conf,
		ClassScores: scores,
	}
}

// toRaw feeds detections back into suppression with their confidence preserved.
func toRaw(dets []common.Detection, numClasses int) []common.RawDetection {
	out := make([]common.RawDetection, len(dets))
	for i, d := range dets {
		out[i] = raw(d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2, d.Confidence, d.ClassID, numClasses)
	}
	return out
}

func randomCandidates(seed int64, n, numClasses int) []common.RawDetection {
	rng := rand.New(rand.NewSource(seed))
	out := make([]common.RawDetection, n)
	for i := range out {
		x := rng.Float32() * 600
		y := rng.Float32() * 600
		w := 10 + rng.Float32()*120
		h := 10 + rng.Float32()*120
		scores := make([]float32, numClasses)
		for c := range scores {
			scores[c] = rng.Float32()
		}
		out[i] = common.RawDetection{
			Box:         common.BoundingBox{X1: x, Y1: y, X2: x + w, Y2: y + h},
			Objectness:  rng.Float32(),
			ClassScores: scores,
		}
	}
	return out
}

func TestNonMaxSuppression_OverlappingPair(t *testing.T) {
	input := []common.RawDetection{
		raw(100, 100, 300, 300, 0.9, 0, 1),
		raw(110, 110, 310, 310, 0.6, 0, 1),
	}

	dets, err := NonMaxSuppression(input, DefaultNMSConfig())
	require.NoError(t, err)
	require.Len(t, dets, 1)

	assert.Equal(t, common.BoundingBox{X1: 100, Y1: 100, X2: 300, Y2: 300}, dets[0].Box)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	assert.Equal(t, 0, dets[0].ClassID)
}

func TestNonMaxSuppression_EmptyInput(t *testing.T) {
	for _, input := range [][]common.RawDetection{nil, {}} {
		dets, err := NonMaxSuppression(input, DefaultNMSConfig())
		require.NoError(t, err)
		assert.NotNil(t, dets)
		assert.Empty(t, dets)
	}
}

func TestNonMaxSuppression_Filtering(t *testing.T) {
	tests := []struct {
		name  string
		input []common.RawDetection
		want  int
	}{
		{
			name:  "below confidence threshold",
			input: []common.RawDetection{raw(0, 0, 10, 10, 0.2, 0, 1)},
			want:  0,
		},
		{
			name:  "exactly at confidence threshold is kept",
			input: []common.RawDetection{raw(0, 0, 10, 10, 0.25, 0, 1)},
			want:  1,
		},
		{
			name: "confidence is objectness times class score",
			input: []common.RawDetection{{
				Box:         common.BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10},
				Objectness:  0.5,
				ClassScores: []float32{0.1, 0.45},
			}},
			want: 0,
		},
		{
			name: "zero width box",
			input: []common.RawDetection{
				raw(10, 0, 10, 10, 0.9, 0, 1),
			},
			want: 0,
		},
		{
			name: "inverted box",
			input: []common.RawDetection{
				raw(20, 20, 10, 30, 0.9, 0, 1),
			},
			want: 0,
		},
		{
			name:  "no class scores",
			input: []common.RawDetection{{Box: common.BoundingBox{X2: 10, Y2: 10}, Objectness: 0.9}},
			want:  0,
		},
		{
			name: "touching boxes both survive",
			input: []common.RawDetection{
				raw(0, 0, 10, 10, 0.9, 0, 1),
				raw(10, 0, 20, 10, 0.8, 0, 1),
			},
			want: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dets, err := NonMaxSuppression(tt.input, DefaultNMSConfig())
			require.NoError(t, err)
			assert.Len(t, dets, tt.want)
		})
	}
}

func TestNonMaxSuppression_NonFinite(t *testing.T) {
	tests := []struct {
		name string
		r    common.RawDetection
	}{
		{"nan coordinate", raw(math32.NaN(), 0, 10, 10, 0.9, 0, 1)},
		{"infinite coordinate", raw(0, 0, math32.Inf(1), 10, 0.9, 0, 1)},
		{"nan objectness", raw(0, 0, 10, 10, math32.NaN(), 0, 1)},
		{"nan class score", common.RawDetection{
			Box:         common.BoundingBox{X2: 10, Y2: 10},
			Objectness:  0.9,
			ClassScores: []float32{math32.NaN()},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NonMaxSuppression([]common.RawDetection{raw(0, 0, 5, 5, 0.9, 0, 1), tt.r}, DefaultNMSConfig())
			assert.ErrorIs(t, err, common.ErrInferenceFailure)
		})
	}
}

func TestNonMaxSuppression_PerClass(t *testing.T) {
	input := []common.RawDetection{
		raw(100, 100, 300, 300, 0.9, 0, 2),
		raw(100, 100, 300, 300, 0.8, 1, 2),
		raw(105, 105, 305, 305, 0.7, 1, 2),
	}

	dets, err := NonMaxSuppression(input, DefaultNMSConfig())
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.Equal(t, 0, dets[0].ClassID)
	assert.Equal(t, 1, dets[1].ClassID)

	cfg := DefaultNMSConfig()
	cfg.ClassAgnostic = true

	dets, err = NonMaxSuppression(input, cfg)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 0, dets[0].ClassID)
}

func TestNonMaxSuppression_OrderAndTies(t *testing.T) {
	input := []common.RawDetection{
		raw(0, 0, 10, 10, 0.5, 0, 3),
		raw(100, 100, 110, 110, 0.7, 1, 3),
		raw(200, 200, 210, 210, 0.5, 2, 3),
		raw(300, 300, 310, 310, 0.5, 0, 3),
	}

	dets, err := NonMaxSuppression(input, DefaultNMSConfig())
	require.NoError(t, err)
	require.Len(t, dets, 4)

	assert.Equal(t, float32(100), dets[0].Box.X1)
	assert.Equal(t, float32(0), dets[1].Box.X1)
	assert.Equal(t, float32(200), dets[2].Box.X1)
	assert.Equal(t, float32(300), dets[3].Box.X1)
}

func TestNonMaxSuppression_IdenticalScoresKeepFirst(t *testing.T) {
	input := []common.RawDetection{
		raw(0, 0, 100, 100, 0.8, 0, 1),
		raw(1, 1, 101, 101, 0.8, 0, 1),
	}

	dets, err := NonMaxSuppression(input, DefaultNMSConfig())
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, float32(0), dets[0].Box.X1)
}

func TestNonMaxSuppression_MaxDetections(t *testing.T) {
	var input []common.RawDetection
	for i := 0; i < 50; i++ {
		x := float32(i * 20)
		input = append(input, raw(x, 0, x+10, 10, 0.3+float32(i)*0.01, i%3, 3))
	}

	cfg := DefaultNMSConfig()
	cfg.MaxDetections = 10

	dets, err := NonMaxSuppression(input, cfg)
	require.NoError(t, err)
	require.Len(t, dets, 10)

	for i, d := range dets {
		assert.InDelta(t, 0.3+float32(49-i)*0.01, d.Confidence, 1e-5, "detection %d", i)
	}
}

func TestNonMaxSuppression_MaxCandidates(t *testing.T) {
	input := []common.RawDetection{
		raw(0, 0, 10, 10, 0.9, 0, 1),
		raw(100, 0, 110, 10, 0.8, 0, 1),
		raw(200, 0, 210, 10, 0.7, 0, 1),
	}

	cfg := DefaultNMSConfig()
	cfg.MaxCandidates = 2

	dets, err := NonMaxSuppression(input, cfg)
	require.NoError(t, err)
	require.Len(t, dets, 2)
	assert.InDelta(t, 0.8, dets[1].Confidence, 1e-6)
}

func TestNonMaxSuppression_Idempotent(t *testing.T) {
	for _, agnostic := range []bool{false, true} {
		for seed := int64(1); seed <= 5; seed++ {
			t.Run(fmt.Sprintf("seed=%d/agnostic=%v", seed, agnostic), func(t *testing.T) {
				cfg := DefaultNMSConfig()
				cfg.ClassAgnostic = agnostic

				first, err := NonMaxSuppression(randomCandidates(seed, 400, 4), cfg)
				require.NoError(t, err)
				require.NotEmpty(t, first)

				second, err := NonMaxSuppression(toRaw(first, 4), cfg)
				require.NoError(t, err)
				assert.Equal(t, first, second)
			})
		}
	}
}

func TestNonMaxSuppression_ParallelMatchesSequential(t *testing.T) {
	input := randomCandidates(42, 2000, 10)

	sequential, err := NonMaxSuppression(input, DefaultNMSConfig())
	require.NoError(t, err)

	for _, workers := range []int{2, 4, 16} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			cfg := DefaultNMSConfig()
			cfg.NumWorkers = workers

			parallel, err := NonMaxSuppression(input, cfg)
			require.NoError(t, err)
			assert.Equal(t, sequential, parallel)
		})
	}
}

// chainFreeClusters builds well separated clusters of five boxes sliding right in growing
// steps. Greedy NMS over them keeps 1, 2, 3, 4 and finally 5 boxes per cluster as the IoU
// threshold rises, so a suppressed box never frees another one.
func chainFreeClusters() []common.RawDetection {
	var out []common.RawDetection
	for c := 0; c < 6; c++ {
		base := float32(c * 400)
		out = append(out,
			raw(base, 0, base+100, 100, 0.95-float32(c)*0.05, 0, 1),
			raw(base+5, 0, base+105, 100, 0.70, 0, 1),
			raw(base+25, 0, base+125, 100, 0.55, 0, 1),
			raw(base+45, 0, base+145, 100, 0.40, 0, 1),
			raw(base+70, 0, base+170, 100, 0.30, 0, 1),
		)
	}
	return out
}

func TestNonMaxSuppression_IoUThresholdMonotonic(t *testing.T) {
	input := chainFreeClusters()

	prev := -1
	for _, iou := range []float32{0.05, 0.1, 0.2, 0.3, 0.45, 0.6, 0.8, 0.95} {
		cfg := DefaultNMSConfig()
		cfg.IoUThreshold = iou

		dets, err := NonMaxSuppression(input, cfg)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(dets), prev, "iou threshold %v", iou)
		prev = len(dets)
	}
}

func TestNonMaxSuppression_ConfidenceThresholdMonotonic(t *testing.T) {
	inputs := map[string][]common.RawDetection{
		"clusters": chainFreeClusters(),
		"random":   randomCandidates(7, 500, 3),
	}

	for name, input := range inputs {
		t.Run(name, func(t *testing.T) {
			prev := len(input) + 1
			for _, conf := range []float32{0.01, 0.1, 0.25, 0.35, 0.5, 0.6, 0.75, 0.9, 0.99} {
				cfg := DefaultNMSConfig()
				cfg.ConfidenceThreshold = conf
				if name == "clusters" {
					cfg.IoUThreshold = 0.3
				}

				dets, err := NonMaxSuppression(input, cfg)
				require.NoError(t, err)
				if name == "clusters" {
					assert.LessOrEqual(t, len(dets), prev, "confidence threshold %v", conf)
				}
				for _, d := range dets {
					assert.GreaterOrEqual(t, d.Confidence, conf)
				}
				prev = len(dets)
			}
		})
	}
}

func TestNonMaxSuppression_NoSurvivorsOverlap(t *testing.T) {
	cfg := DefaultNMSConfig()

	dets, err := NonMaxSuppression(randomCandidates(3, 1000, 2), cfg)
	require.NoError(t, err)

	for i := range dets {
		for j := i + 1; j < len(dets); j++ {
			if dets[i].ClassID != dets[j].ClassID {
				continue
			}
			assert.LessOrEqual(t, dets[i].Box.IoU(dets[j].Box), cfg.IoUThreshold)
		}
		if i > 0 {
			assert.GreaterOrEqual(t, dets[i-1].Confidence, dets[i].Confidence)
		}
	}
}

func TestNMSConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(c *NMSConfig)
	}{
		{"zero confidence", func(c *NMSConfig) { c.ConfidenceThreshold = 0 }},
		{"confidence of one", func(c *NMSConfig) { c.ConfidenceThreshold = 1 }},
		{"nan confidence", func(c *NMSConfig) { c.ConfidenceThreshold = math32.NaN() }},
		{"negative iou", func(c *NMSConfig) { c.IoUThreshold = -0.1 }},
		{"iou above one", func(c *NMSConfig) { c.IoUThreshold = 1.5 }},
		{"zero max detections", func(c *NMSConfig) { c.MaxDetections = 0 }},
		{"zero max candidates", func(c *NMSConfig) { c.MaxCandidates = 0 }},
		{"negative workers", func(c *NMSConfig) { c.NumWorkers = -1 }},
	}

	require.NoError(t, DefaultNMSConfig().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultNMSConfig()
			tt.mod(&cfg)
			assert.Error(t, cfg.Validate())

			_, err := NonMaxSuppression(nil, cfg)
			assert.Error(t, err)
		})
	}
}

func BenchmarkNonMaxSuppression(b *testing.B) {
	for _, n := range []int{100, 1000, 8400} {
		input := randomCandidates(int64(n), n, 80)
		for _, workers := range []int{1, 4} {
			b.Run(fmt.Sprintf("n=%d/workers=%d", n, workers), func(b *testing.B) {
				cfg := DefaultNMSConfig()
				cfg.ConfidenceThreshold = 0.01
				cfg.NumWorkers = workers

				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if _, err := NonMaxSuppression(input, cfg); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}
