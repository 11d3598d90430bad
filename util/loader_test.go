package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
}

func TestLoadDirectoryImages(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "frame-10.jpg", "frame-2.png", "notes.txt", "b.webp", "a.JPEG", "frame-x.jpg")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.jpg"), 0o755))

	files, err := LoadDirectoryImageFiles(dir)
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f.Path))
		assert.Equal(t, filepath.Base(f.Path), string(f.Data))
	}
	assert.Equal(t, []string{"frame-2.png", "frame-10.jpg", "a.JPEG", "b.webp", "frame-x.jpg"}, names)
	assert.Equal(t, 2, files[0].Frame)
	assert.Equal(t, 10, files[1].Frame)
	assert.Equal(t, -1, files[4].Frame)
}

func TestLoadImageFiles(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "street.png", "readme.md")

	files, err := LoadImageFiles(filepath.Join(dir, "street.png"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "street.png", string(files[0].Data))

	_, err = LoadImageFiles(filepath.Join(dir, "readme.md"))
	assert.ErrorContains(t, err, "unsupported image file")

	_, err = LoadImageFiles(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)

	files, err = LoadImageFiles(dir)
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestFrameNumber(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"frame-0.jpg", 0},
		{"frame-42.png", 42},
		{"frame-.png", -1},
		{"frame--3.png", -1},
		{"clip.jpg", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, frameNumber(tt.name))
		})
	}
}
