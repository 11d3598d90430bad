// Package providers - Execution providers, session options and pooled onnxruntime sessions.
package providers

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend represents different ONNX Runtime execution providers.
type ProviderBackend string

// ProviderOptions is a marker interface for provider-specific config.
type ProviderOptions interface {
	isProviderOptions()
}

// ExecutionProvider represents the contract that all execution providers must implement.
//
// A provider never picks hardware on its own: the backend is fixed by configuration and Apply
// only registers it on a set of session options.
type ExecutionProvider interface {
	// Backend returns the backend identifier.
	Backend() ProviderBackend
	// Options returns the provider-specific options.
	Options() ProviderOptions
	// Apply registers the provider on the session options.
	Apply(options *ort.SessionOptions) error
}

// NewProvider creates a new provider for the configured backend.
//
// Arguments:
//   - cfg: The provider configuration. Only the section matching cfg.Backend is used.
//
// Returns:
//   - ExecutionProvider: The new provider.
//   - error: An error if the backend is unknown.
func NewProvider(cfg Config) (ExecutionProvider, error) {
	switch cfg.Backend {
	case CPUProviderBackend, "":
		return NewCPUProvider(), nil
	case CoreMLProviderBackend:
		return NewCoreMLProvider(cfg.CoreML), nil
	case OpenVINOProviderBackend:
		return NewOpenVINOProvider(cfg.OpenVINO), nil
	case CUDAProviderBackend:
		return NewCUDAProvider(cfg.CUDA), nil
	default:
		return nil, errors.Errorf("no matching provider backend registered: %s", cfg.Backend)
	}
}

// Backends lists every backend accepted by NewProvider.
func Backends() []ProviderBackend {
	return []ProviderBackend{CPUProviderBackend, CUDAProviderBackend, CoreMLProviderBackend, OpenVINOProviderBackend}
}
