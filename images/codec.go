package images

import (
	"bytes"
	"image"
	"image/jpeg"
	"io"

	// Register the PNG decoder with image.Decode.
	_ "image/png"

	// Register the WebP decoder with image.Decode.
	_ "github.com/chai2010/webp"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/common"
)

// DefaultJPEGQuality is the quality used when encoding annotated results.
const DefaultJPEGQuality = 95

// Decode reads a JPEG, PNG or WebP image into an RGB buffer.
//
// Arguments:
//   - data: The encoded image bytes.
//
// Returns:
//   - *Image: The decoded RGB image.
//   - ImageFormat: The format the bytes were encoded in.
//   - error: common.ErrInvalidImage when the bytes cannot be decoded.
func Decode(data []byte) (*Image, ImageFormat, error) {
	if len(data) == 0 {
		return nil, "", errors.Wrap(common.ErrInvalidImage, "image data is empty")
	}

	src, name, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", errors.Wrapf(common.ErrInvalidImage, "failed to decode image: %v", err)
	}

	img := FromImage(src)
	if err := img.Validate(); err != nil {
		return nil, "", err
	}

	return img, ImageFormat(name), nil
}

// DecodeReader reads all of r and decodes it with Decode.
func DecodeReader(r io.Reader) (*Image, ImageFormat, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", errors.Wrapf(common.ErrInvalidImage, "failed to read image: %v", err)
	}
	return Decode(data)
}

// EncodeJPEG writes img to w as a baseline JPEG.
//
// Arguments:
//   - w: The destination writer.
//   - img: The image to encode.
//   - quality: JPEG quality in [1, 100]; out-of-range values fall back to DefaultJPEGQuality.
//
// Returns:
//   - error: An error if the image is invalid or the write fails.
func EncodeJPEG(w io.Writer, img *Image, quality int) error {
	if err := img.Validate(); err != nil {
		return err
	}
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return errors.Wrap(err, "failed to encode jpeg")
	}
	return nil
}
