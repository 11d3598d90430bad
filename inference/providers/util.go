// Package providers - Utility functions.
package providers

import (
	"path/filepath"
	"runtime"
)

// DefaultLibraryDir is where the onnxruntime shared libraries are looked up by default.
const DefaultLibraryDir = "third_party"

// GetSharedLibPath returns the path to the shared library for the current platform.
//
// Arguments:
//   - dir: The directory holding the libraries. Empty selects DefaultLibraryDir.
//
// Returns:
//   - string: The path to the shared library.
func GetSharedLibPath(dir string) string {
	if dir == "" {
		dir = DefaultLibraryDir
	}
	return filepath.Join(dir, sharedLibName(runtime.GOOS, runtime.GOARCH))
}

func sharedLibName(goos, goarch string) string {
	switch goos {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.1.23.0.dylib"
	default:
		if goarch == "arm64" {
			return "onnxruntime_arm64.so"
		}
		return "onnxruntime.so"
	}
}
