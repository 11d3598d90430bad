package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-detect/benchmark"
	"github.com/nvr-ai/go-detect/common"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/models"
	"github.com/nvr-ai/go-detect/util"
)

type stubEngine struct {
	dets []common.FinalDetection
	err  error
}

func (e *stubEngine) Detect(context.Context, *images.Image) ([]common.FinalDetection, error) {
	return e.dets, e.err
}

func (e *stubEngine) Classes() *models.ClassSet { return nil }

func (e *stubEngine) Close() error { return nil }

func pngFile(t *testing.T, name string) util.ImageFile {
	t.Helper()
	src := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for i := range src.Pix {
		src.Pix[i] = 200
	}
	src.Set(0, 0, color.NRGBA{A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))
	return util.ImageFile{Path: filepath.Join("in", name), Data: buf.Bytes(), Frame: -1}
}

func TestAnnotate(t *testing.T) {
	out := t.TempDir()
	engine := &stubEngine{dets: []common.FinalDetection{{
		Box:        common.BoundingBox{X1: 10, Y1: 20, X2: 40, Y2: 40},
		Confidence: 0.75,
		ClassID:    2,
		Label:      "car",
	}}}

	res := annotate(context.Background(), engine, images.NewAnnotator(), pngFile(t, "street.png"), out, 90)
	require.Empty(t, res.Error)
	assert.Equal(t, filepath.Join(out, "result_street.jpg"), res.Output)
	assert.Len(t, res.Detections, 1)

	data, err := os.ReadFile(res.Output)
	require.NoError(t, err)
	img, format, err := images.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, images.FormatJPEG, format)
	assert.Equal(t, 64, img.Width)
	assert.Equal(t, 48, img.Height)
}

func TestAnnotate_Errors(t *testing.T) {
	out := t.TempDir()

	res := annotate(context.Background(), &stubEngine{}, images.NewAnnotator(),
		util.ImageFile{Path: "broken.png", Data: []byte("not an image")}, out, 90)
	assert.Contains(t, res.Error, "invalid image")
	assert.Empty(t, res.Output)

	res = annotate(context.Background(), &stubEngine{err: common.ErrInferenceFailure}, images.NewAnnotator(),
		pngFile(t, "a.png"), out, 90)
	assert.Equal(t, "inference failure", res.Error)

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunBenchmark(t *testing.T) {
	logger, hook := test.NewNullLogger()
	engine := &stubEngine{dets: []common.FinalDetection{{Label: "person", Confidence: 0.9}}}

	err := runBenchmark(logger, engine, []util.ImageFile{pngFile(t, "a.png")}, benchmark.Scenario{Name: "stub", Iterations: 3})
	require.NoError(t, err)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "benchmark complete", hook.LastEntry().Message)

	err = runBenchmark(logger, engine, []util.ImageFile{{Path: "bad.png", Data: []byte("x")}}, benchmark.Scenario{Iterations: 1})
	assert.ErrorContains(t, err, "failed to decode bad.png")
}
