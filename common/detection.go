package common

import (
	"fmt"

	"github.com/chewxy/math32"
)

// RawDetection is one candidate box produced by the inference adapter, in letterboxed
// canvas coordinates. It is consumed only by non-maximum suppression.
type RawDetection struct {
	// Box is the candidate region on the letterboxed canvas.
	Box BoundingBox
	// Objectness is the model's confidence that the region contains any object, in [0, 1].
	Objectness float32
	// ClassScores holds the per-class confidence, indexed by class ID.
	ClassScores []float32
}

// BestClass returns the class with the highest score. Ties resolve to the lowest class ID.
// A detection without class scores returns (-1, 0).
func (r RawDetection) BestClass() (int, float32) {
	best, score := -1, float32(0)
	for i, s := range r.ClassScores {
		if best < 0 || s > score {
			best, score = i, s
		}
	}
	if best < 0 {
		return -1, 0
	}
	return best, score
}

// Confidence returns objectness multiplied by the best class score.
func (r RawDetection) Confidence() float32 {
	_, score := r.BestClass()
	return r.Objectness * score
}

// IsFinite reports whether the box and every score are finite numbers.
func (r RawDetection) IsFinite() bool {
	if !r.Box.IsFinite() || !finite(r.Objectness) {
		return false
	}
	for _, s := range r.ClassScores {
		if !finite(s) {
			return false
		}
	}
	return true
}

// Detection is a candidate that survived suppression. Its box is still in letterboxed
// canvas coordinates.
type Detection struct {
	Box        BoundingBox
	Confidence float32
	ClassID    int
}

// FinalDetection is a detection mapped back into original image pixels, ready to render.
type FinalDetection struct {
	Box        BoundingBox `json:"box"`
	Confidence float32     `json:"confidence"`
	ClassID    int         `json:"class_id"`
	Label      string      `json:"label"`
}

// Caption returns the text drawn next to the box, e.g. "person 0.87".
func (d FinalDetection) Caption() string {
	return fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
}

func (d FinalDetection) String() string {
	return fmt.Sprintf("Object %s (confidence %f): %s", d.Label, d.Confidence, d.Box)
}

func finite(v float32) bool {
	return !math32.IsNaN(v) && !math32.IsInf(v, 0)
}
