package onnx

import (
	"context"
	"os"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// testModel returns the model named by DETECT_TEST_MODEL, skipping the test when unset.
func testModel(t *testing.T) string {
	t.Helper()
	path := os.Getenv("DETECT_TEST_MODEL")
	if path == "" {
		t.Skip("DETECT_TEST_MODEL not set")
	}
	if _, err := os.Stat(path); err != nil {
		t.Skipf("model %s not available: %v", path, err)
	}
	return path
}

func TestNewDNNRunner_MissingModel(t *testing.T) {
	_, err := NewDNNRunner(Config{ModelPath: "does-not-exist.onnx"}, nil)
	assert.ErrorContains(t, err, "model file not found")
}

func TestFloat32Bytes(t *testing.T) {
	b := float32Bytes([]float32{1, 0})
	require.Len(t, b, 8)
	assert.Equal(t, []byte{0, 0, 0, 0}, b[4:])
}

func TestDNNRunner_Run(t *testing.T) {
	logger, _ := test.NewNullLogger()
	r, err := NewDNNRunner(Config{ModelPath: testModel(t), Backend: "opencv", Target: "cpu"}, logger)
	require.NoError(t, err)
	defer r.Close()

	input := tensor.New(tensor.WithShape(1, 3, 640, 640), tensor.WithBacking(make([]float32, 3*640*640)))
	out, err := r.Run(context.Background(), input)
	require.NoError(t, err)
	assert.Len(t, out.Shape(), 3)
	assert.Equal(t, 1, out.Shape()[0])

	require.NoError(t, r.Close())
	_, err = r.Run(context.Background(), input)
	assert.Error(t, err)
}
