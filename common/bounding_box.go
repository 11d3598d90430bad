package common

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
)

// BoundingBox is an axis-aligned box given by its top-left (X1, Y1) and bottom-right (X2, Y2)
// corners. Coordinates are continuous; X2 and Y2 are not required to be pixel aligned.
type BoundingBox struct {
	X1, Y1, X2, Y2 float32
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%.2f, %.2f), (%.2f, %.2f)", b.X1, b.Y1, b.X2, b.Y2)
}

// Width returns the horizontal extent of the box. It is negative for inverted boxes.
func (b BoundingBox) Width() float32 {
	return b.X2 - b.X1
}

// Height returns the vertical extent of the box. It is negative for inverted boxes.
func (b BoundingBox) Height() float32 {
	return b.Y2 - b.Y1
}

// Area returns the area of the box, or 0 when the box is degenerate.
func (b BoundingBox) Area() float32 {
	if b.IsDegenerate() {
		return 0
	}
	return b.Width() * b.Height()
}

// IsDegenerate reports whether the box has no positive width or height.
func (b BoundingBox) IsDegenerate() bool {
	return !(b.Width() > 0) || !(b.Height() > 0)
}

// IsFinite reports whether all four coordinates are finite numbers.
func (b BoundingBox) IsFinite() bool {
	for _, v := range [4]float32{b.X1, b.Y1, b.X2, b.Y2} {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Intersection calculates the intersection area between two bounding boxes.
//
// Arguments:
//   - other: The other bounding box to calculate intersection with.
//
// Returns:
//   - The area of intersection as float32, 0 when the boxes do not overlap.
//
// @example
// box1 := BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100}
// box2 := BoundingBox{X1: 50, Y1: 50, X2: 150, Y2: 150}
// area := box1.Intersection(box2) // Returns 2500.0 (50x50 overlap)
func (b BoundingBox) Intersection(other BoundingBox) float32 {
	w := math32.Min(b.X2, other.X2) - math32.Max(b.X1, other.X1)
	h := math32.Min(b.Y2, other.Y2) - math32.Max(b.Y1, other.Y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Union calculates the union area between two bounding boxes.
//
// @example
// box1 := BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100}
// box2 := BoundingBox{X1: 50, Y1: 50, X2: 150, Y2: 150}
// area := box1.Union(box2) // Returns 17500.0
func (b BoundingBox) Union(other BoundingBox) float32 {
	return b.Area() + other.Area() - b.Intersection(other)
}

// IoU calculates the Intersection over Union between two bounding boxes.
//
// The overlap ratio is area(A ∩ B) / (area(A) + area(B) - area(A ∩ B)). A degenerate box
// (zero width or height) has an IoU of 0 against anything, including itself.
//
// Arguments:
//   - other: The other bounding box to calculate IoU with.
//
// Returns:
//   - The IoU value between 0 and 1.
//
// @example
// box1 := BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100}
// box2 := BoundingBox{X1: 50, Y1: 50, X2: 150, Y2: 150}
// iou := box1.IoU(box2) // Returns ~0.143 (2500/17500)
func (b BoundingBox) IoU(other BoundingBox) float32 {
	if b.IsDegenerate() || other.IsDegenerate() {
		return 0
	}
	inter := b.Intersection(other)
	if inter == 0 {
		return 0
	}
	return inter / (b.Area() + other.Area() - inter)
}

// ToRect converts the bounding box to an image.Rectangle.
//
// Coordinates are truncated toward zero, so fractional pixels around the edges are lost.
//
// @example
// box := BoundingBox{X1: 100.5, Y1: 100.5, X2: 200.5, Y2: 300.5}
// rect := box.ToRect() // (100,100)-(200,300)
func (b BoundingBox) ToRect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2)).Canon()
}
