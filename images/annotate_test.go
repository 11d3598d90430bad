package images

import (
	"image"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-detect/common"
)

func rgb(img *Image, x, y int) [3]uint8 {
	r, g, b := img.RGBAt(x, y)
	return [3]uint8{r, g, b}
}

var (
	green = [3]uint8{0, 255, 0}
	gray  = [3]uint8{50, 50, 50}
)

func TestAnnotator_Render(t *testing.T) {
	img := NewFilledImage(400, 300, 50)
	pix := &img.Pix[0]

	det := common.FinalDetection{
		Box:        common.BoundingBox{X1: 100, Y1: 100, X2: 200, Y2: 250},
		Confidence: 0.87,
		ClassID:    0,
		Label:      "person",
	}

	a := NewAnnotator()
	require.NoError(t, a.Render(img, []common.FinalDetection{det}))

	assert.Same(t, pix, &img.Pix[0], "render must draw into the caller's buffer")
	assert.Equal(t, 400, img.Width)
	assert.Equal(t, 300, img.Height)

	// Outline.
	assert.Equal(t, green, rgb(img, 150, 100))
	assert.Equal(t, green, rgb(img, 150, 99))
	assert.Equal(t, green, rgb(img, 100, 200))
	assert.Equal(t, green, rgb(img, 200, 200))
	assert.Equal(t, green, rgb(img, 150, 250))

	// Interior and surroundings untouched.
	assert.Equal(t, gray, rgb(img, 150, 175))
	assert.Equal(t, gray, rgb(img, 50, 50))
	assert.Equal(t, gray, rgb(img, 300, 280))

	// Label background sits on top of the box.
	label := a.LabelRect(det.Box.ToRect(), det.Caption(), img.Width)
	assert.Equal(t, 100, label.Max.Y)
	assert.Equal(t, 100, label.Min.X)
	assert.Equal(t, len("person 0.87")*7, label.Dx())
	assert.Equal(t, green, rgb(img, label.Min.X+1, label.Min.Y+1))

	white := 0
	for y := label.Min.Y; y < label.Max.Y; y++ {
		for x := label.Min.X; x < label.Max.X; x++ {
			if rgb(img, x, y) == [3]uint8{255, 255, 255} {
				white++
			}
		}
	}
	assert.Greater(t, white, 0, "caption text must be drawn")
}

func TestAnnotator_LabelRect(t *testing.T) {
	a := NewAnnotator()
	caption := "car 0.50"
	w := len(caption) * 7
	h := a.Face.Metrics().Ascent.Ceil() + 10

	tests := []struct {
		name string
		box  image.Rectangle
		want image.Rectangle
	}{
		{
			name: "above the box",
			box:  image.Rect(50, 100, 150, 200),
			want: image.Rect(50, 100-h, 50+w, 100),
		},
		{
			name: "box at the top edge flips inside",
			box:  image.Rect(50, 5, 150, 200),
			want: image.Rect(50, 5, 50+w, 5+h),
		},
		{
			name: "box at the right edge shifts left",
			box:  image.Rect(380, 100, 399, 200),
			want: image.Rect(400-w, 100-h, 400, 100),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.LabelRect(tt.box, caption, 400)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.In(image.Rect(0, 0, 400, 300)), "label must stay on the canvas")
		})
	}
}

func TestAnnotator_RenderEmpty(t *testing.T) {
	img := NewFilledImage(10, 10, 50)
	before := img.Clone()

	require.NoError(t, NewAnnotator().Render(img, nil))
	assert.Equal(t, before.Pix, img.Pix)
}

func TestAnnotator_RenderNonFinite(t *testing.T) {
	img := NewFilledImage(100, 100, 50)
	before := img.Clone()

	dets := []common.FinalDetection{
		{Box: common.BoundingBox{X1: 10, Y1: 10, X2: 20, Y2: 20}, Confidence: 0.9, Label: "dog"},
		{Box: common.BoundingBox{X1: math32.NaN(), Y1: 10, X2: 20, Y2: 20}, Confidence: 0.9, Label: "dog"},
	}

	err := NewAnnotator().Render(img, dets)
	assert.ErrorIs(t, err, common.ErrInternalConsistency)
	assert.Equal(t, before.Pix, img.Pix, "nothing is drawn when a detection is rejected")
}

func TestAnnotator_RenderInvalidImage(t *testing.T) {
	err := NewAnnotator().Render(&Image{}, nil)
	assert.ErrorIs(t, err, common.ErrInvalidImage)
}
