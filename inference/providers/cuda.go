// Package providers - CUDA based execution provider.
package providers

import (
	"fmt"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// CUDAProviderBackend uses NVIDIA CUDA for inference optimization.
	CUDAProviderBackend ProviderBackend = "cuda"
)

// CUDAProvider implements the ExecutionProvider interface.
type CUDAProvider struct {
	options CUDAOptions
}

// CUDAOptions contains arguments for the CUDA provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAOptions struct {
	// The device ID.
	DeviceID int `json:"device_id" yaml:"device_id"`
	// The size limit of the device memory arena in bytes. Zero leaves the onnxruntime default.
	GPUMemLimit int64 `json:"gpu_mem_limit" yaml:"gpu_mem_limit"`
	// The strategy for extending the device memory arena.
	// 0: kNextPowerOfTwo - subsequent extensions extend by larger amounts (multiplied by powers of
	// two)
	// 1: kSameAsRequested - extend by the requested amount
	ArenaExtendStrategy int `json:"arena_extend_strategy" yaml:"arena_extend_strategy"`
	// The type of search done for cuDNN convolution algorithms.
	// 0: EXHAUSTIVE - expensive exhaustive benchmarking using cudnnFindConvolutionForwardAlgorithmEx
	// 1: HEURISTIC - lightweight heuristic based search using cudnnGetConvolutionForwardAlgorithm_v7
	// 2: DEFAULT - default algorithm using CUDNN_CONVOLUTION_FWD_ALGO_IMPLICIT_PRECOMP_GEMM
	CudnnConvAlgoSearch int `json:"cudnn_conv_algo_search" yaml:"cudnn_conv_algo_search"`
	// Whether to do copies in the default stream or use separate streams.
	DoCopyInDefaultStream bool `json:"do_copy_in_default_stream" yaml:"do_copy_in_default_stream"`
	// TF32 lets float32 convolutions run on tensor cores with reduced precision (Ampere and later).
	UseTF32 bool `json:"use_tf32" yaml:"use_tf32"`
	// If enabled, the execution provider prefers NHWC operators over NCHW.
	PreferNHWC bool `json:"prefer_nhwc" yaml:"prefer_nhwc"`
}

// isProviderOptions is a marker function to ensure the options are valid.
func (CUDAOptions) isProviderOptions() {}

// ToMap renders the options with the key names onnxruntime expects.
func (o CUDAOptions) ToMap() map[string]string {
	m := map[string]string{
		"device_id":                 fmt.Sprintf("%d", o.DeviceID),
		"arena_extend_strategy":     arenaStrategy(o.ArenaExtendStrategy),
		"cudnn_conv_algo_search":    convAlgoSearch(o.CudnnConvAlgoSearch),
		"do_copy_in_default_stream": boolFlag(o.DoCopyInDefaultStream),
		"use_tf32":                  boolFlag(o.UseTF32),
		"prefer_nhwc":               boolFlag(o.PreferNHWC),
	}
	if o.GPUMemLimit > 0 {
		m["gpu_mem_limit"] = fmt.Sprintf("%d", o.GPUMemLimit)
	}
	return m
}

// ToNativeProviderOptions converts the CUDA options to native CUDA provider options. The caller
// must destroy the result.
func (o CUDAOptions) ToNativeProviderOptions() (*ort.CUDAProviderOptions, error) {
	opts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating CUDA provider options")
	}

	if err := opts.Update(o.ToMap()); err != nil {
		opts.Destroy()
		return nil, errors.Wrap(err, "error updating CUDA provider options")
	}

	return opts, nil
}

// Backend returns the backend of the CUDA provider.
func (p *CUDAProvider) Backend() ProviderBackend {
	return CUDAProviderBackend
}

// Options returns the options of the CUDA provider.
func (p *CUDAProvider) Options() ProviderOptions {
	return p.options
}

// Apply registers CUDA on the session options.
func (p *CUDAProvider) Apply(options *ort.SessionOptions) error {
	cuda, err := p.options.ToNativeProviderOptions()
	if err != nil {
		return err
	}
	defer cuda.Destroy()

	if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
		return errors.Wrap(err, "error enabling CUDA")
	}
	return nil
}

// NewCUDAProvider creates a new CUDA provider.
func NewCUDAProvider(args CUDAOptions) *CUDAProvider {
	return &CUDAProvider{
		options: args,
	}
}

func arenaStrategy(v int) string {
	if v == 1 {
		return "kSameAsRequested"
	}
	return "kNextPowerOfTwo"
}

func convAlgoSearch(v int) string {
	switch v {
	case 1:
		return "HEURISTIC"
	case 2:
		return "DEFAULT"
	default:
		return "EXHAUSTIVE"
	}
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
