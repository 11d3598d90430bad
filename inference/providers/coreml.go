// Package providers - CoreML based execution provider.
package providers

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// CoreMLProviderBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
)

// CoreML flags accepted by the CoreML execution provider.
// See: https://onnxruntime.ai/docs/execution-providers/CoreML-ExecutionProvider.html
const (
	// CoreMLFlagUseCPUOnly limits CoreML to running on CPU only.
	CoreMLFlagUseCPUOnly uint32 = 0x001
	// CoreMLFlagEnableOnSubgraph lets CoreML run inside control flow operators.
	CoreMLFlagEnableOnSubgraph uint32 = 0x002
	// CoreMLFlagOnlyEnableDeviceWithANE only enables CoreML on devices with a Neural Engine.
	CoreMLFlagOnlyEnableDeviceWithANE uint32 = 0x004
	// CoreMLFlagOnlyAllowStaticInputShapes only lets CoreML take nodes with static input shapes.
	CoreMLFlagOnlyAllowStaticInputShapes uint32 = 0x008
	// CoreMLFlagCreateMLProgram creates an MLProgram instead of a NeuralNetwork model.
	CoreMLFlagCreateMLProgram uint32 = 0x010
)

// CoreMLProvider implements the ExecutionProvider interface.
type CoreMLProvider struct {
	options CoreMLOptions
}

// CoreMLOptions contains arguments for the CoreML provider.
type CoreMLOptions struct {
	// Limit CoreML to running on CPU only.
	CPUOnly bool `json:"cpu_only" yaml:"cpu_only"`
	// Enable CoreML EP to run on a subgraph in the body of a control flow operator (i.e. a Loop, Scan
	// or If operator).
	EnableOnSubgraphs bool `json:"enable_on_subgraphs" yaml:"enable_on_subgraphs"`
	// Only enable CoreML on Apple devices with a compatible Apple Neural Engine (ANE).
	RequireANE bool `json:"require_ane" yaml:"require_ane"`
	// Only allow the CoreML EP to take nodes with inputs that have static shapes.
	RequireStaticInputShapes bool `json:"require_static_input_shapes" yaml:"require_static_input_shapes"`
	// Create an MLProgram format model. Requires Core ML 5 or later (iOS 15+ or macOS 12+).
	MLProgram bool `json:"ml_program" yaml:"ml_program"`
}

func (CoreMLOptions) isProviderOptions() {}

// Flags folds the options into the CoreML flag bitmask.
func (o CoreMLOptions) Flags() uint32 {
	var flags uint32
	if o.CPUOnly {
		flags |= CoreMLFlagUseCPUOnly
	}
	if o.EnableOnSubgraphs {
		flags |= CoreMLFlagEnableOnSubgraph
	}
	if o.RequireANE {
		flags |= CoreMLFlagOnlyEnableDeviceWithANE
	}
	if o.RequireStaticInputShapes {
		flags |= CoreMLFlagOnlyAllowStaticInputShapes
	}
	if o.MLProgram {
		flags |= CoreMLFlagCreateMLProgram
	}
	return flags
}

// Backend returns the backend of the CoreML provider.
func (p *CoreMLProvider) Backend() ProviderBackend {
	return CoreMLProviderBackend
}

// Options returns the options of the CoreML provider.
func (p *CoreMLProvider) Options() ProviderOptions {
	return p.options
}

// Apply registers CoreML on the session options.
func (p *CoreMLProvider) Apply(options *ort.SessionOptions) error {
	if err := options.AppendExecutionProviderCoreML(p.options.Flags()); err != nil {
		return errors.Wrap(err, "error enabling CoreML")
	}
	return nil
}

// NewCoreMLProvider creates a new CoreML provider.
func NewCoreMLProvider(options CoreMLOptions) *CoreMLProvider {
	return &CoreMLProvider{
		options: options,
	}
}
