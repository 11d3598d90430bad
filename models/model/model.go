// Package model - Definitions shared by every detection model decoder.
package model

import (
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/common"
)

// Family is the family of models.
type Family string

const (
	// ModelFamilyYOLO is the YOLO model family. Class IDs index the zero-based COCO-80 list.
	ModelFamilyYOLO Family = "yolo"
)

// Name is the unique identifier of a model.
type Name string

const (
	// ModelNameYOLOv3 is the name of the YOLOv3 model. Its exported head matches YOLOv5.
	ModelNameYOLOv3 Name = "yolov3"
	// ModelNameYOLOv5 is the name of the YOLOv5 model.
	ModelNameYOLOv5 Name = "yolov5"
	// ModelNameYOLOv8 is the name of the anchor-free YOLOv8 model.
	ModelNameYOLOv8 Name = "yolov8"
)

// BaseModel is the base model for all models.
type BaseModel struct {
	Name       Name     `json:"name" yaml:"name"`
	Family     Family   `json:"family" yaml:"family"`
	Path       string   `json:"path" yaml:"path"`
	Inputs     []string `json:"inputs" yaml:"inputs"`
	Outputs    []string `json:"outputs" yaml:"outputs"`
	InputSize  int      `json:"input_size" yaml:"input_size"`
	NumClasses int      `json:"num_classes" yaml:"num_classes"`
}

// Model decodes the raw output tensor of a detection network into candidate boxes.
type Model interface {
	// Options returns the static description of the model.
	Options() BaseModel
	// Decode converts one output tensor into candidates in model input coordinates.
	// Rows whose objectness is below minScore are dropped.
	Decode(output *tensor.Dense, minScore float32) ([]common.RawDetection, error)
}

// NewModelArgs is the arguments for creating a new model.
type NewModelArgs struct {
	Name       Name     `json:"name" yaml:"name"`
	Path       string   `json:"path" yaml:"path"`
	Family     Family   `json:"family" yaml:"family"`
	Inputs     []string `json:"inputs" yaml:"inputs"`
	Outputs    []string `json:"outputs" yaml:"outputs"`
	InputSize  int      `json:"input_size" yaml:"input_size"`
	NumClasses int      `json:"num_classes" yaml:"num_classes"`
}
