package images

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-detect/common"
)

const (
	// DefaultLetterboxSize is the square model input edge in pixels.
	DefaultLetterboxSize = 640
	// DefaultLetterboxStride is the downsampling factor of the detection head.
	DefaultLetterboxStride = 32
	// DefaultLetterboxFill is the mid-gray written into every padded pixel on all three channels.
	// Models trained with YOLO augmentation expect exactly this value in the borders.
	DefaultLetterboxFill uint8 = 114
)

// Interpolation selects the resampling kernel used when resizing into the canvas.
type Interpolation string

const (
	// InterpolationAuto averages source pixels when shrinking and interpolates linearly when
	// enlarging.
	InterpolationAuto Interpolation = "auto"
	// InterpolationLanczos uses a Lanczos3 kernel in both directions.
	InterpolationLanczos Interpolation = "lanczos"
)

// LetterboxOptions defines how an image is fitted onto the model canvas.
type LetterboxOptions struct {
	// Size is the target edge S of the canvas.
	Size int `json:"size" yaml:"size"`
	// Stride is the multiple T every padded dimension is rounded up to in Auto mode.
	Stride int `json:"stride" yaml:"stride"`
	// Auto pads only to the next stride multiple instead of the full Size x Size canvas.
	Auto bool `json:"auto" yaml:"auto"`
	// ScaleUp allows ratios above 1 for images smaller than the canvas.
	ScaleUp bool `json:"scale_up" yaml:"scale_up"`
	// Fill is the padding value for every channel.
	Fill uint8 `json:"fill" yaml:"fill"`
	// Interpolation is the resampling policy.
	Interpolation Interpolation `json:"interpolation" yaml:"interpolation"`
}

// DefaultLetterboxOptions returns a fixed 640x640 canvas with stride 32 and fill 114.
func DefaultLetterboxOptions() LetterboxOptions {
	return LetterboxOptions{
		Size:          DefaultLetterboxSize,
		Stride:        DefaultLetterboxStride,
		Fill:          DefaultLetterboxFill,
		Interpolation: InterpolationAuto,
	}
}

// Validate checks the canvas size, stride and interpolation.
//
// Returns:
//   - error: common.ErrInvalidImage describing the first invalid option.
func (o LetterboxOptions) Validate() error {
	if o.Size <= 0 {
		return errors.Wrapf(common.ErrInvalidImage, "letterbox size must be positive, got %d", o.Size)
	}
	if o.Stride <= 0 {
		return errors.Wrapf(common.ErrInvalidImage, "letterbox stride must be positive, got %d", o.Stride)
	}
	if o.Size%o.Stride != 0 {
		return errors.Wrapf(common.ErrInvalidImage, "letterbox size %d is not a multiple of stride %d", o.Size, o.Stride)
	}
	switch o.Interpolation {
	case "", InterpolationAuto, InterpolationLanczos:
	default:
		return errors.Wrapf(common.ErrInvalidImage, "unknown interpolation %q", o.Interpolation)
	}
	return nil
}

// LetterboxGeometry is the exact scale and offset applied by a letterbox transform.
//
// Per axis: ScaledWidth + PadLeft + PadRight == Width, and likewise for the vertical axis.
type LetterboxGeometry struct {
	// Ratio is the uniform resize factor.
	Ratio float64
	// PadX is the number of padding columns on the left of the resized image.
	PadX int
	// PadY is the number of padding rows above the resized image.
	PadY int
	// PadRight is the number of padding columns on the right. It is PadX or PadX+1.
	PadRight int
	// PadBottom is the number of padding rows below. It is PadY or PadY+1.
	PadBottom int
	// ScaledWidth is round(SourceWidth * Ratio).
	ScaledWidth int
	// ScaledHeight is round(SourceHeight * Ratio).
	ScaledHeight int
	// SourceWidth is the width of the original image.
	SourceWidth int
	// SourceHeight is the height of the original image.
	SourceHeight int
	// Width is the canvas width.
	Width int
	// Height is the canvas height.
	Height int
}

// NewLetterboxGeometry computes the letterbox geometry for a source of the given size.
//
// Arguments:
//   - width: The source image width.
//   - height: The source image height.
//   - opts: The letterbox options.
//
// Returns:
//   - LetterboxGeometry: The ratio, padding and canvas size.
//   - error: common.ErrInvalidImage if the size or options are invalid.
//
// @example
// geo, _ := NewLetterboxGeometry(1280, 720, DefaultLetterboxOptions())
// // geo.Ratio == 0.5, geo.ScaledHeight == 360, geo.PadY == 140, geo.PadBottom == 140
func NewLetterboxGeometry(width, height int, opts LetterboxOptions) (LetterboxGeometry, error) {
	if err := opts.Validate(); err != nil {
		return LetterboxGeometry{}, err
	}
	if width <= 0 || height <= 0 {
		return LetterboxGeometry{}, errors.Wrapf(common.ErrInvalidImage, "invalid image dimensions: %dx%d", width, height)
	}

	s := float64(opts.Size)
	ratio := math.Min(s/float64(width), s/float64(height))
	if !opts.ScaleUp {
		ratio = math.Min(ratio, 1.0)
	}

	scaledW := max(1, int(math.Round(float64(width)*ratio)))
	scaledH := max(1, int(math.Round(float64(height)*ratio)))

	canvasW, canvasH := opts.Size, opts.Size
	if opts.Auto {
		canvasW = ceilMultiple(scaledW, opts.Stride)
		canvasH = ceilMultiple(scaledH, opts.Stride)
	}

	padW, padH := canvasW-scaledW, canvasH-scaledH

	return LetterboxGeometry{
		Ratio:        ratio,
		PadX:         padW / 2,
		PadY:         padH / 2,
		PadRight:     padW - padW/2,
		PadBottom:    padH - padH/2,
		ScaledWidth:  scaledW,
		ScaledHeight: scaledH,
		SourceWidth:  width,
		SourceHeight: height,
		Width:        canvasW,
		Height:       canvasH,
	}, nil
}

// ToCanvas maps a point in source pixels onto the canvas.
func (g LetterboxGeometry) ToCanvas(x, y float64) (float64, float64) {
	return x*g.Ratio + float64(g.PadX), y*g.Ratio + float64(g.PadY)
}

// ToSource maps a point on the canvas back to source pixels without clamping.
func (g LetterboxGeometry) ToSource(x, y float64) (float64, float64) {
	return (x - float64(g.PadX)) / g.Ratio, (y - float64(g.PadY)) / g.Ratio
}

// LetterboxResult is the padded canvas together with the geometry used to build it.
type LetterboxResult struct {
	LetterboxGeometry
	// Canvas is the resized and padded RGB image.
	Canvas *Image
}

// Letterbox resizes img to fit the canvas while preserving aspect ratio and pads the rest
// with opts.Fill. The source image is never modified.
//
// Arguments:
//   - img: The source image.
//   - opts: The letterbox options.
//
// Returns:
//   - *LetterboxResult: The canvas and its geometry.
//   - error: common.ErrInvalidImage if the image or options are invalid.
func Letterbox(img *Image, opts LetterboxOptions) (*LetterboxResult, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}

	geo, err := NewLetterboxGeometry(img.Width, img.Height, opts)
	if err != nil {
		return nil, err
	}

	scaled := img
	if geo.ScaledWidth != img.Width || geo.ScaledHeight != img.Height {
		scaled = FromImage(resample(img, geo.ScaledWidth, geo.ScaledHeight, opts.Interpolation))
	}

	canvas := NewFilledImage(geo.Width, geo.Height, opts.Fill)
	canvas.Paste(scaled, geo.PadX, geo.PadY)

	return &LetterboxResult{LetterboxGeometry: geo, Canvas: canvas}, nil
}

// Tensor converts the canvas into a contiguous [1, 3, H, W] float32 tensor in RGB order with
// every value scaled to [0, 1].
func (r *LetterboxResult) Tensor() *tensor.Dense {
	w, h := r.Canvas.Width, r.Canvas.Height
	plane := w * h
	data := make([]float32, 3*plane)

	for i := 0; i < plane; i++ {
		p := r.Canvas.Pix[i*3:]
		data[i] = float32(p[0]) / 255.0
		data[plane+i] = float32(p[1]) / 255.0
		data[2*plane+i] = float32(p[2]) / 255.0
	}

	return tensor.New(tensor.WithShape(1, 3, h, w), tensor.Of(tensor.Float32), tensor.WithBacking(data))
}

func resample(img *Image, width, height int, mode Interpolation) image.Image {
	src := img.NRGBA()
	if mode == InterpolationLanczos {
		return resize.Resize(uint(width), uint(height), src, resize.Lanczos3)
	}
	if width < img.Width || height < img.Height {
		return imaging.Resize(src, width, height, imaging.Box)
	}
	return imaging.Resize(src, width, height, imaging.Linear)
}

func ceilMultiple(v, m int) int {
	return (v + m - 1) / m * m
}
