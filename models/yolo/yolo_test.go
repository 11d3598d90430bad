package yolo

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/common"
	"github.com/nvr-ai/go-detect/models/model"
)

func dense(data []float32, shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

func TestNewV5_Validation(t *testing.T) {
	_, err := NewV5(model.NewModelArgs{})
	assert.Error(t, err)

	_, err = NewV5(model.NewModelArgs{Path: "m.onnx", NumClasses: -1})
	assert.Error(t, err)

	m, err := NewV5(model.NewModelArgs{Path: "m.onnx", NumClasses: 2})
	require.NoError(t, err)
	assert.Equal(t, model.ModelNameYOLOv5, m.Options().Name)
	assert.Equal(t, model.ModelFamilyYOLO, m.Options().Family)

	m, err = NewV5(model.NewModelArgs{Name: model.ModelNameYOLOv3, Path: "m.onnx"})
	require.NoError(t, err)
	assert.Equal(t, model.ModelNameYOLOv3, m.Options().Name)
}

func TestV5_Decode(t *testing.T) {
	m, err := NewV5(model.NewModelArgs{Path: "m.onnx", NumClasses: 2})
	require.NoError(t, err)

	output := dense([]float32{
		// cx, cy, w, h, obj, c0, c1
		200, 200, 200, 200, 0.9, 0.1, 0.95,
		50, 60, 20, 40, 0.1, 0.9, 0.1,
		320, 320, 64, 32, 0.5, 0.7, 0.2,
	}, 1, 3, 7)

	raw, err := m.Decode(output, 0.25)
	require.NoError(t, err)
	require.Len(t, raw, 2)

	assert.Equal(t, common.BoundingBox{X1: 100, Y1: 100, X2: 300, Y2: 300}, raw[0].Box)
	assert.InDelta(t, 0.9, raw[0].Objectness, 1e-6)
	assert.Equal(t, []float32{0.1, 0.95}, raw[0].ClassScores)

	class, _ := raw[0].BestClass()
	assert.Equal(t, 1, class)

	assert.Equal(t, common.BoundingBox{X1: 288, Y1: 304, X2: 352, Y2: 336}, raw[1].Box)
	assert.InDelta(t, 0.35, raw[1].Confidence(), 1e-6)
}

func TestV5_DecodeMalformed(t *testing.T) {
	m, err := NewV5(model.NewModelArgs{Path: "m.onnx", NumClasses: 80})
	require.NoError(t, err)

	tests := []struct {
		name   string
		output *tensor.Dense
	}{
		{"nil output", nil},
		{"rank two", dense(make([]float32, 85*2), 2, 85)},
		{"batch of two", dense(make([]float32, 2*85), 2, 1, 85)},
		{"wrong class count", dense(make([]float32, 3*7), 1, 3, 7)},
		{"float64 output", tensor.New(tensor.WithShape(1, 1, 85), tensor.WithBacking(make([]float64, 85)))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Decode(tt.output, 0.25)
			assert.ErrorIs(t, err, common.ErrInferenceFailure)
		})
	}
}

func TestV5_DecodeWithoutClassCount(t *testing.T) {
	m, err := NewV5(model.NewModelArgs{Path: "m.onnx"})
	require.NoError(t, err)

	raw, err := m.Decode(dense([]float32{10, 10, 4, 4, 0.8, 0.3, 0.6, 0.1}, 1, 1, 8), 0.25)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Len(t, raw[0].ClassScores, 3)

	_, err = m.Decode(dense([]float32{10, 10, 4, 4, 0.8}, 1, 1, 5), 0.25)
	assert.ErrorIs(t, err, common.ErrInferenceFailure)
}

func TestV8_Decode(t *testing.T) {
	m, err := NewV8(model.NewModelArgs{Path: "m.onnx", NumClasses: 2})
	require.NoError(t, err)
	assert.Equal(t, model.ModelNameYOLOv8, m.Options().Name)

	// Three anchors, attribute-major.
	output := dense([]float32{
		200, 50, 320, // cx
		200, 60, 320, // cy
		200, 20, 64, // w
		200, 40, 32, // h
		0.1, 0.2, 0.7, // class 0
		0.9, 0.1, 0.3, // class 1
	}, 1, 6, 3)

	raw, err := m.Decode(output, 0.25)
	require.NoError(t, err)
	require.Len(t, raw, 2)

	assert.Equal(t, common.BoundingBox{X1: 100, Y1: 100, X2: 300, Y2: 300}, raw[0].Box)
	assert.Equal(t, float32(1), raw[0].Objectness)
	assert.Equal(t, []float32{0.1, 0.9}, raw[0].ClassScores)
	assert.InDelta(t, 0.9, raw[0].Confidence(), 1e-6)

	assert.Equal(t, common.BoundingBox{X1: 288, Y1: 304, X2: 352, Y2: 336}, raw[1].Box)
	class, score := raw[1].BestClass()
	assert.Equal(t, 0, class)
	assert.InDelta(t, 0.7, score, 1e-6)
}

func TestV8_DecodeMalformed(t *testing.T) {
	m, err := NewV8(model.NewModelArgs{Path: "m.onnx", NumClasses: 2})
	require.NoError(t, err)

	_, err = m.Decode(dense(make([]float32, 7*3), 1, 7, 3), 0.25)
	assert.ErrorIs(t, err, common.ErrInferenceFailure)

	_, err = m.Decode(dense(make([]float32, 4*3), 1, 4, 3), 0.25)
	assert.ErrorIs(t, err, common.ErrInferenceFailure)

	data := make([]float32, 6*2)
	data[4*2+1] = math32.NaN()
	_, err = m.Decode(dense(data, 1, 6, 2), 0.25)
	assert.ErrorIs(t, err, common.ErrInferenceFailure)
}
