// Package images - Image buffers, codecs, letterboxing and annotation.
package images

import (
	"image"
	"image/color"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/common"
)

// Channels is the number of interleaved channels in an Image buffer.
const Channels = 3

// Image is a 3-channel RGB pixel buffer.
//
// Pixels are stored row-major and interleaved in R, G, B order, so the pixel at (x, y)
// starts at Pix[(y*Width+x)*3]. An Image belongs to exactly one request and is never shared.
// It implements draw.Image so text and shapes can be drawn onto it in place.
type Image struct {
	// Pix holds the interleaved RGB samples.
	Pix []uint8
	// Width is the number of pixel columns.
	Width int
	// Height is the number of pixel rows.
	Height int
}

// NewImage allocates a black image of the given size.
func NewImage(width, height int) *Image {
	return &Image{
		Pix:    make([]uint8, width*height*Channels),
		Width:  width,
		Height: height,
	}
}

// NewFilledImage allocates an image with every channel set to value.
func NewFilledImage(width, height int, value uint8) *Image {
	img := NewImage(width, height)
	for i := range img.Pix {
		img.Pix[i] = value
	}
	return img
}

// FromImage copies any image.Image into a new RGB buffer.
//
// Alpha is discarded without premultiplying, the same way an RGB decoder drops the alpha
// plane of a PNG.
//
// Arguments:
//   - src: The decoded source image.
//
// Returns:
//   - *Image: An RGB copy of src with its origin moved to (0, 0).
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	dst := NewImage(b.Dx(), b.Dy())

	if nrgba, ok := src.(*image.NRGBA); ok {
		for y := 0; y < dst.Height; y++ {
			row := nrgba.Pix[(y+b.Min.Y-nrgba.Rect.Min.Y)*nrgba.Stride+(b.Min.X-nrgba.Rect.Min.X)*4:]
			out := dst.Pix[y*dst.Width*Channels:]
			for x := 0; x < dst.Width; x++ {
				out[x*3+0] = row[x*4+0]
				out[x*3+1] = row[x*4+1]
				out[x*3+2] = row[x*4+2]
			}
		}
		return dst
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			dst.Pix[i+0] = c.R
			dst.Pix[i+1] = c.G
			dst.Pix[i+2] = c.B
			i += 3
		}
	}
	return dst
}

// Validate checks that the buffer describes a non-empty 3-channel image.
//
// Returns:
//   - error: common.ErrInvalidImage with context when the buffer is unusable.
func (m *Image) Validate() error {
	if m == nil {
		return errors.Wrap(common.ErrInvalidImage, "image is nil")
	}
	if len(m.Pix) == 0 {
		return errors.Wrap(common.ErrInvalidImage, "image data is empty")
	}
	if m.Width <= 0 || m.Height <= 0 {
		return errors.Wrapf(common.ErrInvalidImage, "invalid image dimensions: %dx%d", m.Width, m.Height)
	}
	if pixels := m.Width * m.Height; len(m.Pix)%pixels != 0 || len(m.Pix)/pixels != Channels {
		return errors.Wrapf(common.ErrInvalidImage,
			"expected %d channels, buffer holds %d bytes for %dx%d pixels", Channels, len(m.Pix), m.Width, m.Height)
	}
	return nil
}

// Clone returns a deep copy of the image.
func (m *Image) Clone() *Image {
	pix := make([]uint8, len(m.Pix))
	copy(pix, m.Pix)
	return &Image{Pix: pix, Width: m.Width, Height: m.Height}
}

// ColorModel implements image.Image.
func (m *Image) ColorModel() color.Model { return color.RGBAModel }

// Bounds implements image.Image.
func (m *Image) Bounds() image.Rectangle { return image.Rect(0, 0, m.Width, m.Height) }

// At implements image.Image.
func (m *Image) At(x, y int) color.Color {
	if !(image.Point{x, y}.In(m.Bounds())) {
		return color.RGBA{}
	}
	i := m.offset(x, y)
	return color.RGBA{R: m.Pix[i], G: m.Pix[i+1], B: m.Pix[i+2], A: 0xff}
}

// Set implements draw.Image. Colors are composited over black when translucent.
func (m *Image) Set(x, y int, c color.Color) {
	if !(image.Point{x, y}.In(m.Bounds())) {
		return
	}
	rgba := color.RGBAModel.Convert(c).(color.RGBA)
	m.SetRGB(x, y, rgba.R, rgba.G, rgba.B)
}

// SetRGB writes one pixel, ignoring points outside the image.
func (m *Image) SetRGB(x, y int, r, g, b uint8) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	i := m.offset(x, y)
	m.Pix[i], m.Pix[i+1], m.Pix[i+2] = r, g, b
}

// RGBAt returns the samples of one pixel. The point must lie inside the image.
func (m *Image) RGBAt(x, y int) (r, g, b uint8) {
	i := m.offset(x, y)
	return m.Pix[i], m.Pix[i+1], m.Pix[i+2]
}

// FillRect paints the intersection of rect and the image with a solid color.
func (m *Image) FillRect(rect image.Rectangle, c color.RGBA) {
	rect = rect.Intersect(m.Bounds())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		i := m.offset(rect.Min.X, y)
		for x := rect.Min.X; x < rect.Max.X; x++ {
			m.Pix[i], m.Pix[i+1], m.Pix[i+2] = c.R, c.G, c.B
			i += 3
		}
	}
}

// Paste copies src into m with src's origin placed at (left, top). Pixels falling outside m
// are clipped.
func (m *Image) Paste(src *Image, left, top int) {
	dst := image.Rect(left, top, left+src.Width, top+src.Height).Intersect(m.Bounds())
	if dst.Empty() {
		return
	}
	n := dst.Dx() * Channels
	for y := dst.Min.Y; y < dst.Max.Y; y++ {
		si := src.offset(dst.Min.X-left, y-top)
		di := m.offset(dst.Min.X, y)
		copy(m.Pix[di:di+n], src.Pix[si:si+n])
	}
}

func (m *Image) offset(x, y int) int {
	return (y*m.Width + x) * Channels
}

// NRGBA returns an opaque *image.NRGBA copy, the layout the resampling libraries work on
// fastest.
func (m *Image) NRGBA() *image.NRGBA {
	dst := image.NewNRGBA(m.Bounds())
	for i, j := 0, 0; i < len(m.Pix); i, j = i+3, j+4 {
		dst.Pix[j+0] = m.Pix[i+0]
		dst.Pix[j+1] = m.Pix[i+1]
		dst.Pix[j+2] = m.Pix[i+2]
		dst.Pix[j+3] = 0xff
	}
	return dst
}
