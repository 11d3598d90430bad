// Package inference - Model runners, the inference adapter and the detection engine.
package inference

import (
	"context"

	"gorgonia.org/tensor"
)

// Runner executes one forward pass of a detection network.
//
// Implementations must be safe for concurrent use: the engine calls Run from every in-flight
// request. Run receives a [1, 3, H, W] float32 tensor and returns the first model output.
type Runner interface {
	Run(ctx context.Context, input *tensor.Dense) (*tensor.Dense, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, input *tensor.Dense) (*tensor.Dense, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, input *tensor.Dense) (*tensor.Dense, error) {
	return f(ctx, input)
}
