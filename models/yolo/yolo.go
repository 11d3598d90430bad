// Package yolo - Output decoders for YOLO detection heads.
package yolo

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/common"
	"github.com/nvr-ai/go-detect/models/model"
)

// validate checks that args describe a YOLO model and returns its base options.
func validate(args model.NewModelArgs) (model.BaseModel, error) {
	if args.Path == "" {
		return model.BaseModel{}, errors.New("NewModel requires path to be set")
	}
	if args.NumClasses < 0 {
		return model.BaseModel{}, errors.Errorf("NewModel requires a non-negative class count, got %d", args.NumClasses)
	}
	if args.InputSize < 0 {
		return model.BaseModel{}, errors.Errorf("NewModel requires a non-negative input size, got %d", args.InputSize)
	}

	family := args.Family
	if family == "" {
		family = model.ModelFamilyYOLO
	}

	return model.BaseModel{
		Name:       args.Name,
		Family:     family,
		Path:       args.Path,
		Inputs:     args.Inputs,
		Outputs:    args.Outputs,
		InputSize:  args.InputSize,
		NumClasses: args.NumClasses,
	}, nil
}

// outputData returns the float32 backing of a [1, rows, cols] tensor.
func outputData(output *tensor.Dense) ([]float32, int, int, error) {
	if output == nil {
		return nil, 0, 0, errors.Wrap(common.ErrInferenceFailure, "model returned no output")
	}

	shape := output.Shape()
	if len(shape) != 3 || shape[0] != 1 {
		return nil, 0, 0, errors.Wrapf(common.ErrInferenceFailure, "expected output shape [1, rows, cols], got %v", shape)
	}

	data, ok := output.Data().([]float32)
	if !ok {
		return nil, 0, 0, errors.Wrapf(common.ErrInferenceFailure, "expected float32 output, got %v", output.Dtype())
	}
	if len(data) != shape[1]*shape[2] {
		return nil, 0, 0, errors.Wrapf(common.ErrInferenceFailure,
			"output holds %d values for shape %v", len(data), shape)
	}

	return data, shape[1], shape[2], nil
}

// xywh converts a centre/size box into corners.
func xywh(cx, cy, w, h float32) common.BoundingBox {
	return common.BoundingBox{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}
