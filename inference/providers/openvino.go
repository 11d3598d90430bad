// Package providers - OpenVINO based execution provider.
package providers

import (
	"fmt"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// OpenVINOProviderBackend uses Intel OpenVINO for inference optimization.
	OpenVINOProviderBackend ProviderBackend = "openvino"
)

// Precision is the inference precision OpenVINO compiles the model for.
type Precision string

const (
	// PrecisionAccuracy keeps the model's own input precision.
	PrecisionAccuracy Precision = "ACCURACY"
	PrecisionFP32     Precision = "FP32"
	PrecisionFP16     Precision = "FP16"
)

// Validate accepts an empty precision, which leaves the device default in place.
func (p Precision) Validate() error {
	switch p {
	case "", PrecisionAccuracy, PrecisionFP32, PrecisionFP16:
		return nil
	}
	return errors.Errorf("unsupported openvino precision %q", string(p))
}

// OpenVINOProvider implements the ExecutionProvider interface.
type OpenVINOProvider struct {
	options OpenVINOOptions
}

// OpenVINOOptions contains arguments for the OpenVINO provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
type OpenVINOOptions struct {
	// Overrides the accelerator hardware type (CPU, GPU, NPU) at runtime. If this option is not
	// explicitly set, default hardware specified during build is used.
	DeviceType string `json:"device_type" yaml:"device_type"`
	// Supported precisions for HW {CPU:FP32, GPU:[FP32, FP16, ACCURACY], NPU:FP16}. To execute the
	// model with the default input precision, select ACCURACY precision type.
	Precision Precision `json:"precision" yaml:"precision"`
	// Overrides the accelerator default value of number of threads with this value at runtime.
	NumOfThreads int `json:"num_of_threads" yaml:"num_of_threads"`
	// Overrides the accelerator default streams with this value at runtime.
	NumStreams int `json:"num_streams" yaml:"num_streams"`
	// This option enables rewriting dynamic shaped models to static shape at runtime and execute.
	DisableDynamicShapes bool `json:"disable_dynamic_shapes" yaml:"disable_dynamic_shapes"`
	// The directory compiled blobs are cached in.
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`
}

// isProviderOptions is a marker function to ensure the options are valid.
func (OpenVINOOptions) isProviderOptions() {}

// ToMap renders the options with the key names onnxruntime expects. Unset options are left out
// so the OpenVINO defaults apply.
func (o OpenVINOOptions) ToMap() map[string]string {
	m := map[string]string{}
	if o.DeviceType != "" {
		m["device_type"] = o.DeviceType
	}
	if o.Precision != "" {
		m["precision"] = string(o.Precision)
	}
	if o.NumOfThreads > 0 {
		m["num_of_threads"] = fmt.Sprintf("%d", o.NumOfThreads)
	}
	if o.NumStreams > 0 {
		m["num_streams"] = fmt.Sprintf("%d", o.NumStreams)
	}
	if o.DisableDynamicShapes {
		m["disable_dynamic_shapes"] = "true"
	}
	if o.CacheDir != "" {
		m["cache_dir"] = o.CacheDir
	}
	return m
}

// Backend returns the backend of the OpenVINO provider.
func (p *OpenVINOProvider) Backend() ProviderBackend {
	return OpenVINOProviderBackend
}

// Options returns the options of the OpenVINO provider.
func (p *OpenVINOProvider) Options() ProviderOptions {
	return p.options
}

// Apply registers OpenVINO on the session options.
func (p *OpenVINOProvider) Apply(options *ort.SessionOptions) error {
	if err := options.AppendExecutionProviderOpenVINO(p.options.ToMap()); err != nil {
		return errors.Wrap(err, "error enabling OpenVINO")
	}
	return nil
}

// NewOpenVINOProvider creates a new OpenVINO provider.
func NewOpenVINOProvider(args OpenVINOOptions) *OpenVINOProvider {
	return &OpenVINOProvider{
		options: args,
	}
}
