// Package detectors - Builds detection engines and annotators from the service configuration.
package detectors

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-detect/config"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/models"
	"github.com/nvr-ai/go-detect/onnx"
	"github.com/nvr-ai/go-detect/profiler"
)

// New builds the engine described by cfg.
//
// The model runs on a pool of onnxruntime sessions or on OpenCV's DNN module, depending on
// cfg.Runner. A labels file, when configured, replaces the family's default class names.
//
// Arguments:
//   - cfg: The validated service configuration.
//   - logger: The engine logger.
//   - p: The profiler receiving stage timings. May be nil.
//
// Returns:
//   - inference.Engine: The engine. The caller must Close it.
//   - error: An error if the labels, the model or the runtime cannot be loaded.
//
// @example
// cfg, _ := config.Load("detect.yaml")
// engine, err := detectors.New(cfg, logger, nil)
//
//	if err != nil {
//		return err
//	}
//
// defer engine.Close()
func New(cfg config.Config, logger *logrus.Logger, p *profiler.RuntimeProfiler) (inference.Engine, error) {
	builder := inference.NewEngineBuilder().
		WithLogger(logger).
		WithModel(cfg.Model.NewModelArgs).
		WithLetterbox(cfg.Letterbox).
		WithNMS(cfg.NMS).
		WithTimeout(cfg.Inference.Timeout).
		WithProfiler(p)

	if cfg.Model.ClassesFile != "" {
		classes, err := models.LoadClassSet(cfg.Model.ClassesFile, cfg.Model.Family)
		if err != nil {
			return nil, err
		}
		builder.WithClasses(classes)
	}

	switch cfg.Runner {
	case config.RunnerOpenCV:
		runner, err := onnx.NewDNNRunner(onnx.Config{
			ModelPath:  cfg.Model.Path,
			Backend:    cfg.OpenCV.Backend,
			Target:     cfg.OpenCV.Target,
			OutputName: cfg.OpenCV.OutputName,
		}, logger)
		if err != nil {
			return nil, err
		}
		builder.WithRunner(runner)
	case config.RunnerONNXRuntime, "":
		builder.WithProvider(cfg.Provider)
	default:
		return nil, errors.Errorf("unknown runner %q", cfg.Runner)
	}

	return builder.Build()
}

// NewAnnotator returns an annotator drawing with the configured thickness.
func NewAnnotator(cfg config.RenderConfig) *images.Annotator {
	a := images.NewAnnotator()
	if cfg.Thickness > 0 {
		a.Thickness = cfg.Thickness
	}
	return a
}

// WarmUp runs the engine on a blank size x size image so the first request does not pay for
// lazy runtime allocations.
//
// Arguments:
//   - ctx: Bounds the whole warm-up.
//   - engine: The engine to warm.
//   - size: The side of the blank image.
//   - runs: The number of passes. Zero does nothing.
//
// Returns:
//   - error: The first detection error.
func WarmUp(ctx context.Context, engine inference.Engine, size, runs int) error {
	if runs <= 0 {
		return nil
	}
	blank := images.NewFilledImage(size, size, images.DefaultLetterboxFill)
	for i := 0; i < runs; i++ {
		if _, err := engine.Detect(ctx, blank); err != nil {
			return errors.Wrapf(err, "warm-up run %d", i+1)
		}
	}
	return nil
}

// Timed runs WarmUp and logs how long it took.
func Timed(ctx context.Context, logger *logrus.Logger, engine inference.Engine, size, runs int) error {
	start := time.Now()
	if err := WarmUp(ctx, engine, size, runs); err != nil {
		return err
	}
	if runs > 0 {
		logger.WithFields(logrus.Fields{
			"runs":     runs,
			"duration": time.Since(start).Round(time.Millisecond).String(),
		}).Info("engine warmed up")
	}
	return nil
}
