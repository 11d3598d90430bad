package yolo

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/common"
	"github.com/nvr-ai/go-detect/models/model"
)

// V5 decodes anchor-based heads exported by YOLOv3 and YOLOv5.
//
// The output is [1, N, 5+C]: each row holds the box centre and size, the objectness and C
// class scores, all already passed through a sigmoid.
type V5 struct {
	options model.BaseModel
}

// NewV5 creates a YOLOv5-style decoder.
//
// Arguments:
//   - args: The arguments for creating a new model.
//
// Returns:
//   - *V5: The decoder.
//   - error: An error if args are incomplete.
func NewV5(args model.NewModelArgs) (*V5, error) {
	options, err := validate(args)
	if err != nil {
		return nil, err
	}
	if options.Name == "" {
		options.Name = model.ModelNameYOLOv5
	}
	return &V5{options: options}, nil
}

// Options returns the options for the model.
func (m *V5) Options() model.BaseModel {
	return m.options
}

// Decode implements model.Model.
//
// The class scores of each candidate alias the output tensor, which must stay untouched
// until suppression has run.
func (m *V5) Decode(output *tensor.Dense, minScore float32) ([]common.RawDetection, error) {
	data, rows, cols, err := outputData(output)
	if err != nil {
		return nil, err
	}

	if cols < 6 {
		return nil, errors.Wrapf(common.ErrInferenceFailure, "expected at least 6 values per row, got %d", cols)
	}
	if n := m.options.NumClasses; n > 0 && cols != 5+n {
		return nil, errors.Wrapf(common.ErrInferenceFailure, "expected %d values per row for %d classes, got %d", 5+n, n, cols)
	}

	results := make([]common.RawDetection, 0, 64)
	for i := 0; i < rows; i++ {
		row := data[i*cols : (i+1)*cols]

		objectness := row[4]
		if objectness < minScore {
			continue
		}

		results = append(results, common.RawDetection{
			Box:         xywh(row[0], row[1], row[2], row[3]),
			Objectness:  objectness,
			ClassScores: row[5:cols:cols],
		})
	}

	return results, nil
}
