package postprocess

import (
	"math"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/common"
	"github.com/nvr-ai/go-detect/images"
)

// Rescale maps detections from the letterboxed canvas back onto the source image.
//
// Each coordinate becomes (v - pad) / ratio, is clamped to the last valid pixel index of its
// axis and rounded to a whole pixel. Coordinates overshooting the image are clamped without
// error. Labels are left empty.
//
// Arguments:
//   - dets: Detections in canvas coordinates.
//   - geo: The geometry returned by the letterbox transform.
//
// Returns:
//   - []common.FinalDetection: Detections in source pixels, in input order.
//   - error: common.ErrInternalConsistency for a non-positive ratio, an empty source or a
//     non-finite coordinate.
func Rescale(dets []common.Detection, geo images.LetterboxGeometry) ([]common.FinalDetection, error) {
	if !(geo.Ratio > 0) || math.IsInf(geo.Ratio, 0) {
		return nil, errors.Wrapf(common.ErrInternalConsistency, "invalid letterbox ratio %v", geo.Ratio)
	}
	if geo.SourceWidth <= 0 || geo.SourceHeight <= 0 {
		return nil, errors.Wrapf(common.ErrInternalConsistency,
			"invalid source dimensions %dx%d", geo.SourceWidth, geo.SourceHeight)
	}

	maxX := float64(geo.SourceWidth - 1)
	maxY := float64(geo.SourceHeight - 1)

	out := make([]common.FinalDetection, len(dets))
	for i, d := range dets {
		if !d.Box.IsFinite() {
			return nil, errors.Wrapf(common.ErrInternalConsistency, "detection %d has non-finite box %s", i, d.Box)
		}

		x1, y1 := geo.ToSource(float64(d.Box.X1), float64(d.Box.Y1))
		x2, y2 := geo.ToSource(float64(d.Box.X2), float64(d.Box.Y2))

		out[i] = common.FinalDetection{
			Box: common.BoundingBox{
				X1: clampRound(x1, maxX),
				Y1: clampRound(y1, maxY),
				X2: clampRound(x2, maxX),
				Y2: clampRound(y2, maxY),
			},
			Confidence: d.Confidence,
			ClassID:    d.ClassID,
		}
	}

	return out, nil
}

func clampRound(v, upper float64) float32 {
	return float32(math.Round(math.Max(0, math.Min(v, upper))))
}
