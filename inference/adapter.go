package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/common"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/models/model"
)

// Adapter turns a letterboxed image into raw candidate boxes by running the network and
// decoding its output.
type Adapter struct {
	// Runner executes the network.
	Runner Runner
	// Model decodes the network output.
	Model model.Model
	// MinScore drops candidates whose objectness is below it before suppression.
	MinScore float32
	// Timeout bounds one invocation. Zero disables it.
	Timeout time.Duration
}

type runResult struct {
	output *tensor.Dense
	err    error
}

// Infer runs the network on the letterboxed canvas.
//
// The runner is invoked on its own goroutine. When the timeout fires Infer returns
// common.ErrInferenceTimeout straight away, while the runner finishes in the background and
// hands its session back to the pool on its own.
//
// Arguments:
//   - ctx: The request context.
//   - lb: The letterboxed image.
//
// Returns:
//   - []common.RawDetection: Candidates in canvas coordinates, in no particular order.
//   - error: common.ErrInferenceFailure or common.ErrInferenceTimeout.
func (a *Adapter) Infer(ctx context.Context, lb *images.LetterboxResult) ([]common.RawDetection, error) {
	if lb == nil || lb.Canvas == nil {
		return nil, errors.Wrap(common.ErrInferenceFailure, "no letterboxed input")
	}

	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	input := lb.Tensor()
	done := make(chan runResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runResult{err: errors.Wrapf(common.ErrInferenceFailure, "runner panicked: %v", r)}
			}
		}()
		out, err := a.Runner.Run(ctx, input)
		done <- runResult{output: out, err: err}
	}()

	var res runResult
	select {
	case res = <-done:
	case <-ctx.Done():
		return nil, contextError(ctx, a.Timeout)
	}

	if res.err != nil {
		if ctx.Err() != nil {
			return nil, contextError(ctx, a.Timeout)
		}
		return nil, failure(res.err)
	}

	raw, err := a.Model.Decode(res.output, a.MinScore)
	if err != nil {
		return nil, failure(err)
	}
	return raw, nil
}

func contextError(ctx context.Context, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if timeout <= 0 {
			return errors.Wrap(common.ErrInferenceTimeout, "request deadline exceeded")
		}
		return errors.Wrapf(common.ErrInferenceTimeout, "model did not answer within %s", timeout)
	}
	return errors.Wrap(common.ErrInferenceFailure, ctx.Err().Error())
}

// failure classifies err as an inference failure unless it already carries a pipeline class.
func failure(err error) error {
	if errors.Is(err, common.ErrInferenceFailure) || errors.Is(err, common.ErrInferenceTimeout) {
		return err
	}
	return errors.Wrap(common.ErrInferenceFailure, fmt.Sprint(err))
}
