package yolo

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/common"
	"github.com/nvr-ai/go-detect/models/model"
)

// V8 decodes the anchor-free head exported by YOLOv8.
//
// The output is [1, 4+C, N]: attribute-major, with the box centre and size followed by C
// class scores for each of the N anchors. There is no objectness row, so every candidate
// reports an objectness of 1 and its best class score is its confidence.
type V8 struct {
	options model.BaseModel
}

// NewV8 creates a YOLOv8 decoder.
func NewV8(args model.NewModelArgs) (*V8, error) {
	options, err := validate(args)
	if err != nil {
		return nil, err
	}
	if options.Name == "" {
		options.Name = model.ModelNameYOLOv8
	}
	return &V8{options: options}, nil
}

// Options returns the options for the model.
func (m *V8) Options() model.BaseModel {
	return m.options
}

// Decode implements model.Model. Anchors whose best class score is below minScore are
// dropped.
func (m *V8) Decode(output *tensor.Dense, minScore float32) ([]common.RawDetection, error) {
	data, attrs, anchors, err := outputData(output)
	if err != nil {
		return nil, err
	}

	if attrs < 5 {
		return nil, errors.Wrapf(common.ErrInferenceFailure, "expected at least 5 attributes per anchor, got %d", attrs)
	}
	if n := m.options.NumClasses; n > 0 && attrs != 4+n {
		return nil, errors.Wrapf(common.ErrInferenceFailure, "expected %d attributes for %d classes, got %d", 4+n, n, attrs)
	}

	numClasses := attrs - 4
	at := func(attr, anchor int) float32 { return data[attr*anchors+anchor] }

	results := make([]common.RawDetection, 0, 64)
	for i := 0; i < anchors; i++ {
		best := float32(0)
		for c := 0; c < numClasses; c++ {
			s := at(4+c, i)
			if math32.IsNaN(s) || math32.IsInf(s, 0) {
				return nil, errors.Wrapf(common.ErrInferenceFailure, "anchor %d has a non-finite class score", i)
			}
			if s > best {
				best = s
			}
		}
		if best < minScore {
			continue
		}

		scores := make([]float32, numClasses)
		for c := range scores {
			scores[c] = at(4+c, i)
		}

		results = append(results, common.RawDetection{
			Box:         xywh(at(0, i), at(1, i), at(2, i), at(3, i)),
			Objectness:  1,
			ClassScores: scores,
		})
	}

	return results, nil
}
