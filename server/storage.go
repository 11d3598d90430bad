package server

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Storage keeps the transient upload and output files of in-flight requests.
type Storage struct {
	uploadDir string
	outputDir string
	keep      bool
}

// NewStorage creates both directories if they are missing.
//
// Arguments:
//   - uploadDir: Where uploads are written.
//   - outputDir: Where annotated images are written.
//   - keep: Keep the files after the request instead of removing them.
//
// Returns:
//   - *Storage: The storage.
//   - error: An error if a directory cannot be created.
func NewStorage(uploadDir, outputDir string, keep bool) (*Storage, error) {
	for _, dir := range []string{uploadDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	return &Storage{uploadDir: uploadDir, outputDir: outputDir, keep: keep}, nil
}

// SaveUpload writes src to <uploadDir>/<requestID>_<base of filename>.
func (s *Storage) SaveUpload(requestID, filename string, src io.Reader) (string, error) {
	path := filepath.Join(s.uploadDir, requestID+"_"+baseName(filename))

	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, "failed to create upload file")
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		os.Remove(path)
		return "", errors.Wrap(err, "failed to save upload")
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", errors.Wrap(err, "failed to save upload")
	}
	return path, nil
}

// OutputPath returns <outputDir>/result_<requestID>_<base of filename>.
func (s *Storage) OutputPath(requestID, filename string) string {
	return filepath.Join(s.outputDir, "result_"+requestID+"_"+baseName(filename))
}

// Cleanup removes the given files unless the storage keeps them. Missing files are ignored.
func (s *Storage) Cleanup(paths ...string) error {
	if s.keep {
		return nil
	}
	var first error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && first == nil {
			first = err
		}
	}
	return first
}

// baseName strips any client-supplied directories so uploads cannot escape the storage root.
func baseName(filename string) string {
	name := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(filename, "\\", "/")))
	if name == "/" || name == "." || name == "" {
		return "upload"
	}
	return name
}
