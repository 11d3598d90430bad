package images

import (
	"image"
	"image/color"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/nvr-ai/go-detect/common"
)

const (
	// DefaultBoxThickness is the outline width in pixels.
	DefaultBoxThickness = 2
	// labelPadding is the space above and below the caption inside its background.
	labelPadding = 10
	// labelBaselineOffset is the distance from the bottom of the label background to the text
	// baseline.
	labelBaselineOffset = 5
)

var (
	// DefaultBoxColor is the outline and label background color.
	DefaultBoxColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	// DefaultTextColor is the caption color.
	DefaultTextColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Annotator draws detection boxes and captions onto images.
//
// An Annotator holds no per-image state and may be shared between goroutines, provided each
// goroutine renders onto its own Image.
type Annotator struct {
	// BoxColor is used for the outline and the label background.
	BoxColor color.RGBA
	// TextColor is used for the caption.
	TextColor color.RGBA
	// Thickness is the outline width in pixels.
	Thickness int
	// Face is the caption font.
	Face font.Face
}

// NewAnnotator returns an annotator drawing green 2px boxes with white 7x13 captions.
func NewAnnotator() *Annotator {
	return &Annotator{
		BoxColor:  DefaultBoxColor,
		TextColor: DefaultTextColor,
		Thickness: DefaultBoxThickness,
		Face:      basicfont.Face7x13,
	}
}

// Render draws every detection onto img in place.
//
// Each detection gets a rectangle outline and a filled caption "<label> <confidence>" placed
// above the box. A caption that would leave the top of the image is drawn just inside the
// box instead, and one that would leave the right edge is shifted left.
//
// Arguments:
//   - img: The caller-owned image to draw on.
//   - dets: Detections in img's pixel coordinates.
//
// Returns:
//   - error: common.ErrInvalidImage for a bad buffer, common.ErrInternalConsistency for a
//     detection with non-finite coordinates. Nothing is drawn when an error is returned.
func (a *Annotator) Render(img *Image, dets []common.FinalDetection) error {
	if err := img.Validate(); err != nil {
		return err
	}
	for i, d := range dets {
		if !d.Box.IsFinite() || !finite(d.Confidence) {
			return errors.Wrapf(common.ErrInternalConsistency, "detection %d has non-finite values: %s", i, d.Box)
		}
	}

	for _, d := range dets {
		r := d.Box.ToRect()
		a.drawOutline(img, r)
		a.drawLabel(img, r, d.Caption())
	}

	return nil
}

// LabelRect returns where the caption background for a box at r is placed on an image of
// the given width.
func (a *Annotator) LabelRect(r image.Rectangle, caption string, imageWidth int) image.Rectangle {
	tw := font.MeasureString(a.Face, caption).Ceil()
	th := a.Face.Metrics().Ascent.Ceil() + labelPadding

	top := r.Min.Y - th
	if top < 0 {
		top = r.Min.Y
	}

	left := r.Min.X
	if left+tw > imageWidth {
		left = imageWidth - tw
	}
	if left < 0 {
		left = 0
	}

	return image.Rect(left, top, left+tw, top+th)
}

func (a *Annotator) drawOutline(img *Image, r image.Rectangle) {
	t := max(1, a.Thickness)
	half := t / 2

	img.FillRect(image.Rect(r.Min.X-half, r.Min.Y-half, r.Max.X-half+t, r.Min.Y-half+t), a.BoxColor)
	img.FillRect(image.Rect(r.Min.X-half, r.Max.Y-half, r.Max.X-half+t, r.Max.Y-half+t), a.BoxColor)
	img.FillRect(image.Rect(r.Min.X-half, r.Min.Y-half, r.Min.X-half+t, r.Max.Y-half+t), a.BoxColor)
	img.FillRect(image.Rect(r.Max.X-half, r.Min.Y-half, r.Max.X-half+t, r.Max.Y-half+t), a.BoxColor)
}

func (a *Annotator) drawLabel(img *Image, r image.Rectangle, caption string) {
	bg := a.LabelRect(r, caption, img.Width)
	img.FillRect(bg, a.BoxColor)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(a.TextColor),
		Face: a.Face,
		Dot:  fixed.P(bg.Min.X, bg.Max.Y-labelBaselineOffset),
	}
	d.DrawString(caption)
}

func finite(v float32) bool {
	return !math32.IsNaN(v) && !math32.IsInf(v, 0)
}
