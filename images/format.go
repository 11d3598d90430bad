package images

import (
	"path/filepath"
	"strings"
)

// ImageFormat represents supported image formats
type ImageFormat string

const (
	FormatJPEG ImageFormat = "jpeg"
	FormatWebP ImageFormat = "webp"
	FormatPNG  ImageFormat = "png"
)

// ContentType returns the MIME type served for the format.
func (f ImageFormat) ContentType() string {
	return "image/" + string(f)
}

// FormatFromFilename guesses the format from a file extension.
//
// Returns:
//   - ImageFormat: The matching format.
//   - bool: False when the extension is not a supported image type.
func FormatFromFilename(name string) (ImageFormat, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return FormatJPEG, true
	case ".png":
		return FormatPNG, true
	case ".webp":
		return FormatWebP, true
	}
	return "", false
}
