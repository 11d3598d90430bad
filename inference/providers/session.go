// Package providers - onnxruntime environment and session lifecycle.
package providers

import (
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

var runtimeMu sync.Mutex

// InitializeRuntime loads the onnxruntime shared library and initializes the environment once
// per process. Later calls are no-ops.
//
// Arguments:
//   - libPath: The path to the onnxruntime shared library.
//
// Returns:
//   - error: An error if the environment could not be initialized.
func InitializeRuntime(libPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrapf(err, "error initializing onnxruntime environment from %s", libPath)
	}
	return nil
}

// DestroyRuntime tears down the onnxruntime environment. Every session must be closed first.
func DestroyRuntime() error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// SessionArgs names the model file and its graph endpoints.
type SessionArgs struct {
	// ModelPath is the path to the ONNX model file.
	ModelPath string
	// Inputs lists the graph input names. Only the first one is fed.
	Inputs []string
	// Outputs lists the graph output names. Only the first one is read.
	Outputs []string
}

// Validate checks that the model path and graph endpoints are set.
func (a SessionArgs) Validate() error {
	if a.ModelPath == "" {
		return errors.New("model path is required")
	}
	if len(a.Inputs) == 0 || len(a.Outputs) == 0 {
		return errors.Errorf("model %s needs at least one input and one output name", a.ModelPath)
	}
	return nil
}

// inferenceSession is one loaded copy of the model. It is used by a single goroutine at a time.
type inferenceSession interface {
	Run(input *tensor.Dense) (*tensor.Dense, error)
	Close() error
}

// Session represents an onnxruntime session whose tensors are allocated per call, so any input
// size the model accepts can be fed.
type Session struct {
	session *ort.DynamicAdvancedSession
	outputs int
}

// NewSession creates a new session for the model with the given options.
//
// Arguments:
//   - args: The model path and graph endpoints.
//   - options: The session options. They may be destroyed once NewSession returns.
//
// Returns:
//   - *Session: The new session.
//   - error: An error if the model could not be loaded.
func NewSession(args SessionArgs, options *ort.SessionOptions) (*Session, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(args.ModelPath, args.Inputs, args.Outputs, options)
	if err != nil {
		return nil, errors.Wrapf(err, "error creating session for %s", args.ModelPath)
	}

	return &Session{session: session, outputs: len(args.Outputs)}, nil
}

// Run feeds one float32 NCHW tensor and returns a copy of the first output.
//
// The native tensors are destroyed before Run returns, so the result owns its memory.
func (s *Session) Run(input *tensor.Dense) (*tensor.Dense, error) {
	data, ok := input.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("expected float32 input, got %v", input.Dtype())
	}

	shape := input.Shape()
	dims := make([]int64, len(shape))
	for i, d := range shape {
		dims[i] = int64(d)
	}

	in, err := ort.NewTensor(ort.NewShape(dims...), data)
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	defer in.Destroy()

	outputs := make([]ort.Value, s.outputs)
	if err := s.session.Run([]ort.Value{in}, outputs); err != nil {
		return nil, errors.Wrap(err, "error running session")
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errors.Errorf("expected float32 output, got %T", outputs[0])
	}

	outShape := out.GetShape()
	ints := make([]int, len(outShape))
	for i, d := range outShape {
		ints[i] = int(d)
	}
	backing := make([]float32, len(out.GetData()))
	copy(backing, out.GetData())

	return tensor.New(tensor.WithShape(ints...), tensor.WithBacking(backing)), nil
}

// Close releases the native session.
func (s *Session) Close() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
