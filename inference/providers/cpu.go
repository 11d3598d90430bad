// Package providers - CPU based execution provider.
package providers

import ort "github.com/yalue/onnxruntime_go"

const (
	// CPUProviderBackend runs on the default onnxruntime CPU kernels.
	CPUProviderBackend ProviderBackend = "cpu"
)

// CPUOptions carries no settings; threading is configured on the session.
type CPUOptions struct{}

func (CPUOptions) isProviderOptions() {}

// CPUProvider implements the ExecutionProvider interface.
type CPUProvider struct{}

// NewCPUProvider creates a new CPU provider.
func NewCPUProvider() *CPUProvider {
	return &CPUProvider{}
}

// Backend returns the backend of the CPU provider.
func (p *CPUProvider) Backend() ProviderBackend {
	return CPUProviderBackend
}

// Options returns the options of the CPU provider.
func (p *CPUProvider) Options() ProviderOptions {
	return CPUOptions{}
}

// Apply is a no-op: the CPU provider is always registered by onnxruntime.
func (p *CPUProvider) Apply(*ort.SessionOptions) error {
	return nil
}
