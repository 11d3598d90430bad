// Package providers - Graph optimization and threading options for onnxruntime sessions.
package providers

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// OptimizationConfig contains the onnxruntime session tuning knobs.
type OptimizationConfig struct {
	// GraphOptimizationLevel is one of disable, basic, extended or all.
	GraphOptimizationLevel string `json:"graph_optimization_level" yaml:"graph_optimization_level"`
	// ExecutionMode is sequential or parallel.
	ExecutionMode string `json:"execution_mode" yaml:"execution_mode"`
	// IntraOpNumThreads sets threads for parallelizing ops. Zero lets onnxruntime decide.
	IntraOpNumThreads int `json:"intra_op_num_threads" yaml:"intra_op_num_threads"`
	// InterOpNumThreads sets threads for parallelizing independent ops. Zero lets onnxruntime decide.
	InterOpNumThreads int `json:"inter_op_num_threads" yaml:"inter_op_num_threads"`
}

var graphOptimizationLevels = map[string]ort.GraphOptimizationLevel{
	"disable":  ort.GraphOptimizationLevelDisableAll,
	"basic":    ort.GraphOptimizationLevelEnableBasic,
	"extended": ort.GraphOptimizationLevelEnableExtended,
	"all":      ort.GraphOptimizationLevelEnableAll,
}

var executionModes = map[string]ort.ExecutionMode{
	"sequential": ort.ExecutionModeSequential,
	"parallel":   ort.ExecutionModeParallel,
}

// DefaultOptimizationConfig returns extended graph optimization with sequential execution.
func DefaultOptimizationConfig() OptimizationConfig {
	return OptimizationConfig{
		GraphOptimizationLevel: "extended",
		ExecutionMode:          "sequential",
	}
}

// Validate checks the level and mode names and the thread counts.
func (c OptimizationConfig) Validate() error {
	if _, ok := graphOptimizationLevels[c.GraphOptimizationLevel]; !ok {
		return errors.Errorf("unknown graph optimization level %q", c.GraphOptimizationLevel)
	}
	if _, ok := executionModes[c.ExecutionMode]; !ok {
		return errors.Errorf("unknown execution mode %q", c.ExecutionMode)
	}
	if c.IntraOpNumThreads < 0 || c.InterOpNumThreads < 0 {
		return errors.Errorf("thread counts must not be negative, got intra=%d inter=%d",
			c.IntraOpNumThreads, c.InterOpNumThreads)
	}
	return nil
}

// NewSessionOptions creates onnxruntime session options with the optimization settings applied
// and the provider registered.
//
// Arguments:
//   - config: The optimization settings.
//   - provider: The execution provider to append. Nil leaves the default CPU provider.
//
// Returns:
//   - *ort.SessionOptions: Configured session options. The caller must destroy them.
//   - error: An error if any option is rejected.
//
// @example
// options, err := NewSessionOptions(DefaultOptimizationConfig(), NewCPUProvider())
// if err != nil {
// return err
// }
// defer options.Destroy()
func NewSessionOptions(config OptimizationConfig, provider ExecutionProvider) (*ort.SessionOptions, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating session options")
	}

	if err := applyOptimization(options, config); err != nil {
		options.Destroy()
		return nil, err
	}

	if provider != nil {
		if err := provider.Apply(options); err != nil {
			options.Destroy()
			return nil, errors.Wrapf(err, "error applying %s provider", provider.Backend())
		}
	}

	return options, nil
}

func applyOptimization(options *ort.SessionOptions, config OptimizationConfig) error {
	if err := options.SetGraphOptimizationLevel(graphOptimizationLevels[config.GraphOptimizationLevel]); err != nil {
		return errors.Wrap(err, "error setting graph optimization level")
	}
	if err := options.SetExecutionMode(executionModes[config.ExecutionMode]); err != nil {
		return errors.Wrap(err, "error setting execution mode")
	}
	if err := options.SetIntraOpNumThreads(config.IntraOpNumThreads); err != nil {
		return errors.Wrap(err, "error setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(config.InterOpNumThreads); err != nil {
		return errors.Wrap(err, "error setting inter-op threads")
	}
	return nil
}
