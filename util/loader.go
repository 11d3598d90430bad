// Package util - File loading helpers for the offline tools.
package util

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/images"
)

// ImageFile represents an image file.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Data is the raw bytes of the image file.
	Data []byte
	// Frame is the number parsed from a "frame-<n>" file name, or -1.
	Frame int
}

// LoadImageFiles reads one image file, or every supported image in a directory.
//
// Arguments:
//   - path: An image file or a directory.
//
// Returns:
//   - []ImageFile: The images, ordered as LoadDirectoryImageFiles orders them.
//   - error: Error if the path is missing, unsupported or unreadable.
func LoadImageFiles(path string) ([]ImageFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return LoadDirectoryImageFiles(path)
	}
	if _, ok := images.FormatFromFilename(path); !ok {
		return nil, errors.Errorf("unsupported image file: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return []ImageFile{{Path: path, Data: data, Frame: frameNumber(filepath.Base(path))}}, nil
}

// LoadDirectoryImageFiles reads all image files from a directory.
//
// Frames named "frame-<n>" sort numerically ahead of other files, which sort by name.
// Subdirectories and files of other types are skipped.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: Slice of ImageFile, each containing the raw bytes of an image file.
// - error: Error if loading fails.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var loaded []ImageFile
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if _, ok := images.FormatFromFilename(file.Name()); !ok {
			continue
		}

		imgPath := filepath.Join(dir, file.Name())
		data, readErr := os.ReadFile(imgPath)
		if readErr != nil {
			return nil, readErr
		}
		loaded = append(loaded, ImageFile{
			Path:  imgPath,
			Data:  data,
			Frame: frameNumber(file.Name()),
		})
	}

	sort.SliceStable(loaded, func(i, j int) bool {
		a, b := loaded[i], loaded[j]
		switch {
		case a.Frame >= 0 && b.Frame >= 0 && a.Frame != b.Frame:
			return a.Frame < b.Frame
		case (a.Frame >= 0) != (b.Frame >= 0):
			return a.Frame >= 0
		}
		return a.Path < b.Path
	})

	return loaded, nil
}

func frameNumber(name string) int {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if !strings.HasPrefix(base, "frame-") {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimPrefix(base, "frame-"))
	if err != nil || n < 0 {
		return -1
	}
	return n
}
