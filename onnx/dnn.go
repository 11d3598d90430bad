// Package onnx - OpenCV DNN runner for ONNX detection models.
package onnx

import (
	"context"
	"os"
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"
)

// Config for the OpenCV DNN runner.
type Config struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// Backend is the OpenCV DNN backend: default, opencv, openvino, cuda, vulkan or halide.
	Backend string `json:"backend" yaml:"backend"`
	// Target is the OpenCV DNN target: cpu, fp32, fp16, vpu, vulkan, fpga, cuda or cuda_fp16.
	Target string `json:"target" yaml:"target"`
	// OutputName selects the output layer. Empty runs up to the last layer.
	OutputName string `json:"output_name" yaml:"output_name"`
}

// DNNRunner runs an ONNX model with OpenCV's DNN module.
//
// A gocv.Net keeps its input between SetInput and Forward, so calls are serialized.
type DNNRunner struct {
	mu     sync.Mutex
	net    gocv.Net
	config Config
	closed bool
}

// NewDNNRunner loads the model and selects the backend and target.
//
// Arguments:
//   - config: The runner configuration.
//   - logger: The logger for the load event.
//
// Returns:
//   - *DNNRunner: The runner.
//   - error: An error if the model is missing or cannot be parsed.
func NewDNNRunner(config Config, logger *logrus.Logger) (*DNNRunner, error) {
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model file not found: %s", config.ModelPath)
	}

	net := gocv.ReadNetFromONNX(config.ModelPath)
	if net.Empty() {
		return nil, errors.Errorf("failed to load ONNX model: %s", config.ModelPath)
	}

	net.SetPreferableBackend(gocv.ParseNetBackend(config.Backend))
	net.SetPreferableTarget(gocv.ParseNetTarget(config.Target))

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"model":   config.ModelPath,
			"backend": config.Backend,
			"target":  config.Target,
		}).Info("opencv dnn runner ready")
	}

	return &DNNRunner{net: net, config: config}, nil
}

// Run feeds one float32 NCHW tensor and returns a copy of the output.
func (r *DNNRunner) Run(ctx context.Context, input *tensor.Dense) (*tensor.Dense, error) {
	data, ok := input.Data().([]float32)
	if !ok || len(data) == 0 {
		return nil, errors.Errorf("expected non-empty float32 input, got %v", input.Dtype())
	}

	blob, err := gocv.NewMatWithSizesFromBytes(input.Shape().Clone(), gocv.MatTypeCV32F, float32Bytes(data))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input blob")
	}
	defer blob.Close()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.New("runner is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.net.SetInput(blob, "")
	output := r.net.Forward(r.config.OutputName)
	defer output.Close()

	if output.Empty() {
		return nil, errors.New("forward pass returned no output")
	}

	values, err := output.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "error reading output")
	}
	backing := make([]float32, len(values))
	copy(backing, values)

	return tensor.New(tensor.WithShape(output.Size()...), tensor.WithBacking(backing)), nil
}

// Close releases the network.
func (r *DNNRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.net.Close()
}

// float32Bytes views data as its native-endian bytes without copying.
func float32Bytes(data []float32) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*4)
}
