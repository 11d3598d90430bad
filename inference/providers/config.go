// Package providers - Runtime configuration for pooled onnxruntime sessions.
package providers

import (
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultPoolSize is the number of sessions kept warm when none is configured.
	DefaultPoolSize = 2
	// DefaultAcquireTimeout bounds how long a request waits for a free session.
	DefaultAcquireTimeout = 5 * time.Second
)

// Config represents the onnxruntime configuration for one model.
//
// The backend is fixed for the life of the process: a provider is never chosen at runtime from
// what the host happens to offer.
type Config struct {
	// Backend specifies the execution provider to register.
	Backend ProviderBackend `json:"backend" yaml:"backend"`
	// LibraryPath points at the onnxruntime shared library. Empty selects the platform default.
	LibraryPath string `json:"library_path" yaml:"library_path"`
	// PoolSize is the number of sessions, and therefore the number of concurrent inferences.
	PoolSize int `json:"pool_size" yaml:"pool_size"`
	// AcquireTimeout bounds the wait for a free session.
	AcquireTimeout time.Duration `json:"acquire_timeout" yaml:"acquire_timeout"`
	// Optimization holds the graph and threading settings shared by every session.
	Optimization OptimizationConfig `json:"optimization" yaml:"optimization"`
	// CUDA holds the options used when Backend is cuda.
	CUDA CUDAOptions `json:"cuda" yaml:"cuda"`
	// CoreML holds the options used when Backend is coreml.
	CoreML CoreMLOptions `json:"coreml" yaml:"coreml"`
	// OpenVINO holds the options used when Backend is openvino.
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino"`
}

// DefaultConfig returns a CPU configuration with sensible defaults.
//
// @example
// cfg := DefaultConfig()
// cfg.Backend = CUDAProviderBackend
// pool, err := NewSessionPool(args, cfg, logger)
func DefaultConfig() Config {
	return Config{
		Backend:        CPUProviderBackend,
		PoolSize:       DefaultPoolSize,
		AcquireTimeout: DefaultAcquireTimeout,
		Optimization:   DefaultOptimizationConfig(),
	}
}

// Validate checks the configuration before any native resource is created.
func (c Config) Validate() error {
	known := false
	for _, b := range Backends() {
		if c.Backend == b {
			known = true
			break
		}
	}
	if !known {
		return errors.Errorf("unknown provider backend %q", c.Backend)
	}
	if c.PoolSize < 0 {
		return errors.Errorf("pool size must not be negative, got %d", c.PoolSize)
	}
	if c.AcquireTimeout < 0 {
		return errors.Errorf("acquire timeout must not be negative, got %s", c.AcquireTimeout)
	}
	if c.Backend == OpenVINOProviderBackend {
		if err := c.OpenVINO.Precision.Validate(); err != nil {
			return err
		}
	}
	return c.Optimization.Validate()
}
