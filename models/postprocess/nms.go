// Package postprocess - Non-maximum suppression and coordinate rescaling for detection results.
package postprocess

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-detect/common"
)

const (
	// DefaultConfidenceThreshold discards candidates whose objectness x class score is lower.
	DefaultConfidenceThreshold float32 = 0.25
	// DefaultIoUThreshold suppresses candidates overlapping an accepted box by more than this.
	DefaultIoUThreshold float32 = 0.45
	// DefaultMaxDetections caps the number of boxes returned per image.
	DefaultMaxDetections = 300
	// DefaultMaxCandidates caps the number of boxes entering suppression.
	DefaultMaxCandidates = 30000
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	// ConfidenceThreshold is the minimum objectness x class score, in (0, 1).
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// IoUThreshold is the overlap above which a lower-scored box is suppressed, in (0, 1).
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// ClassAgnostic lets boxes of different classes suppress each other.
	ClassAgnostic bool `json:"class_agnostic" yaml:"class_agnostic"`
	// MaxDetections bounds the output size. Lower-confidence survivors beyond it are dropped.
	MaxDetections int `json:"max_detections" yaml:"max_detections"`
	// MaxCandidates bounds the number of confident candidates that enter suppression.
	MaxCandidates int `json:"max_candidates" yaml:"max_candidates"`
	// NumWorkers is the number of goroutines suppressing class groups concurrently.
	// Values below 2 run sequentially.
	NumWorkers int `json:"num_workers" yaml:"num_workers"`
}

// DefaultNMSConfig returns per-class suppression with thresholds 0.25 / 0.45.
func DefaultNMSConfig() NMSConfig {
	return NMSConfig{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		IoUThreshold:        DefaultIoUThreshold,
		MaxDetections:       DefaultMaxDetections,
		MaxCandidates:       DefaultMaxCandidates,
		NumWorkers:          1,
	}
}

// Validate checks that both thresholds lie in (0, 1) and the caps are positive.
func (c NMSConfig) Validate() error {
	if !(c.ConfidenceThreshold > 0 && c.ConfidenceThreshold < 1) {
		return errors.Errorf("confidence threshold must be in (0, 1), got %v", c.ConfidenceThreshold)
	}
	if !(c.IoUThreshold > 0 && c.IoUThreshold < 1) {
		return errors.Errorf("iou threshold must be in (0, 1), got %v", c.IoUThreshold)
	}
	if c.MaxDetections <= 0 {
		return errors.Errorf("max detections must be positive, got %d", c.MaxDetections)
	}
	if c.MaxCandidates <= 0 {
		return errors.Errorf("max candidates must be positive, got %d", c.MaxCandidates)
	}
	if c.NumWorkers < 0 {
		return errors.Errorf("num workers must not be negative, got %d", c.NumWorkers)
	}
	return nil
}

// candidate is a confident detection remembering its position in the adapter output, which
// breaks confidence ties.
type candidate struct {
	common.Detection
	order int
}

// NonMaxSuppression filters raw candidates down to a non-overlapping detection set.
//
// Candidates are scored as objectness x best class score and discarded below the confidence
// threshold. The rest are stably sorted by confidence and suppressed greedily within each class
// (or across all classes when ClassAgnostic is set): the best remaining box is accepted and
// every box overlapping it by more than IoUThreshold is removed. Cost is O(n²) per class.
//
// Arguments:
//   - raw: Candidates in letterboxed coordinates, in any order.
//   - cfg: Thresholds and caps.
//
// Returns:
//   - []common.Detection: Survivors ordered by descending confidence, ties in input order.
//   - error: A configuration error, or common.ErrInferenceFailure when a candidate carries
//     non-finite values.
//
// @example
// raw := []common.RawDetection{
// 	{Box: common.BoundingBox{X1: 100, Y1: 100, X2: 300, Y2: 300}, Objectness: 0.9, ClassScores: []float32{1}},
// 	{Box: common.BoundingBox{X1: 110, Y1: 110, X2: 310, Y2: 310}, Objectness: 0.6, ClassScores: []float32{1}},
// }
// dets, _ := NonMaxSuppression(raw, DefaultNMSConfig()) // only the first box survives
func NonMaxSuppression(raw []common.RawDetection, cfg NMSConfig) ([]common.Detection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid nms config")
	}

	candidates, err := filterCandidates(raw, cfg.ConfidenceThreshold)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []common.Detection{}, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > cfg.MaxCandidates {
		candidates = candidates[:cfg.MaxCandidates]
	}

	groups := groupByClass(candidates, cfg.ClassAgnostic)
	kept := make([][]candidate, len(groups))

	if cfg.NumWorkers > 1 && len(groups) > 1 {
		suppressParallel(groups, kept, cfg)
	} else {
		for i, g := range groups {
			kept[i] = suppress(g, cfg.IoUThreshold, cfg.MaxDetections)
		}
	}

	return merge(kept, cfg.MaxDetections), nil
}

func filterCandidates(raw []common.RawDetection, threshold float32) ([]candidate, error) {
	candidates := make([]candidate, 0, len(raw))

	for i, r := range raw {
		if !r.IsFinite() {
			return nil, errors.Wrapf(common.ErrInferenceFailure, "candidate %d has non-finite values", i)
		}
		if r.Box.IsDegenerate() {
			continue
		}

		class, score := r.BestClass()
		if class < 0 {
			continue
		}

		conf := r.Objectness * score
		if conf < threshold {
			continue
		}

		candidates = append(candidates, candidate{
			Detection: common.Detection{Box: r.Box, Confidence: conf, ClassID: class},
			order:     i,
		})
	}

	return candidates, nil
}

// groupByClass splits sorted candidates into per-class groups, each still sorted. Groups are
// ordered by first appearance so the result does not depend on map iteration.
func groupByClass(candidates []candidate, agnostic bool) [][]candidate {
	if agnostic {
		return [][]candidate{candidates}
	}

	index := make(map[int]int)
	var groups [][]candidate
	for _, c := range candidates {
		gi, ok := index[c.ClassID]
		if !ok {
			gi = len(groups)
			index[c.ClassID] = gi
			groups = append(groups, nil)
		}
		groups[gi] = append(groups[gi], c)
	}
	return groups
}

// suppress runs greedy NMS over candidates sorted by descending confidence.
func suppress(sorted []candidate, iouThreshold float32, limit int) []candidate {
	kept := make([]candidate, 0, min(len(sorted), limit))
	used := make([]bool, len(sorted))

	for i := range sorted {
		if used[i] {
			continue
		}

		anchor := sorted[i]
		kept = append(kept, anchor)
		if len(kept) == limit {
			break
		}

		for j := i + 1; j < len(sorted); j++ {
			if used[j] {
				continue
			}
			if anchor.Box.IoU(sorted[j].Box) > iouThreshold {
				used[j] = true
			}
		}
	}

	return kept
}

// suppressParallel fans class groups out to a fixed pool of workers. Each worker writes only
// its own slot of kept.
func suppressParallel(groups, kept [][]candidate, cfg NMSConfig) {
	jobs := make(chan int, len(groups))
	for i := range groups {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < min(cfg.NumWorkers, len(groups)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				kept[i] = suppress(groups[i], cfg.IoUThreshold, cfg.MaxDetections)
			}
		}()
	}
	wg.Wait()
}

func merge(kept [][]candidate, limit int) []common.Detection {
	var all []candidate
	for _, k := range kept {
		all = append(all, k...)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Confidence != all[j].Confidence {
			return all[i].Confidence > all[j].Confidence
		}
		return all[i].order < all[j].order
	})

	if len(all) > limit {
		all = all[:limit]
	}

	out := make([]common.Detection, len(all))
	for i, c := range all {
		out[i] = c.Detection
	}
	return out
}
