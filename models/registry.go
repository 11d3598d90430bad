// Package models - registry for models.
package models

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/yolo"
)

// NewModel creates a new detection model decoder based on the specified model name.
//
// YOLOv3 and YOLOv5 share the same exported head and decode with yolo.V5; YOLOv8 decodes with
// yolo.V8.
//
// Arguments:
//   - args: Configuration parameters specifying the model type and location.
//
// Returns:
//   - model.Model: A configured model implementing the Model interface.
//   - error: An error if the model name is unsupported or args are incomplete.
//
// Example:
//
// ```go
//
//	m, err := NewModel(model.NewModelArgs{
//	    Name:       model.ModelNameYOLOv5,
//	    Path:       "/models/yolov5s.onnx",
//	    NumClasses: 80,
//	})
//	if err != nil {
//	    log.Fatalf("Failed to create detection model: %v", err)
//	}
//
// ```
func NewModel(args model.NewModelArgs) (model.Model, error) {
	switch args.Name {
	case model.ModelNameYOLOv3, model.ModelNameYOLOv5:
		m, err := yolo.NewV5(args)
		if err != nil {
			return nil, err
		}
		return m, nil
	case model.ModelNameYOLOv8:
		m, err := yolo.NewV8(args)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, errors.Errorf("unsupported model name: %s", args.Name)
	}
}

// SupportedModels lists every name accepted by NewModel.
func SupportedModels() []model.Name {
	return []model.Name{model.ModelNameYOLOv3, model.ModelNameYOLOv5, model.ModelNameYOLOv8}
}
