package inference

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-detect/common"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference/providers"
	"github.com/nvr-ai/go-detect/models"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/postprocess"
	"github.com/nvr-ai/go-detect/profiler"
)

// Stage names recorded on the profiler.
const (
	StageLetterbox = "letterbox"
	StageInference = "inference"
	StageNMS       = "nms"
	StageRescale   = "rescale"
	StageDetect    = "detect"
)

// Engine runs the detection pipeline on one image at a time. It is built once, is immutable
// afterwards and is safe for concurrent use.
type Engine interface {
	// Detect returns the detections of img in original image pixels, labelled.
	Detect(ctx context.Context, img *images.Image) ([]common.FinalDetection, error)
	// Classes returns the labels detections are named with.
	Classes() *models.ClassSet
	// Close releases the runner.
	Close() error
}

// EngineBuilder helps build an engine with a fluent API. The first error is kept and every
// later call is skipped.
type EngineBuilder struct {
	logger    *logrus.Logger
	runner    Runner
	model     model.Model
	classes   *models.ClassSet
	letterbox images.LetterboxOptions
	nms       postprocess.NMSConfig
	timeout   time.Duration
	profiler  *profiler.RuntimeProfiler
	err       error
}

// NewEngineBuilder creates a new engine builder with the default letterbox and suppression
// settings.
//
// Returns:
//   - *EngineBuilder: The engine builder.
//
// @example
// engine, err := NewEngineBuilder().
// WithModel(model.NewModelArgs{Name: model.ModelNameYOLOv5, Path: "yolov5s.onnx"}).
// WithProvider(providers.DefaultConfig()).
// Build()
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{
		logger:    logrus.StandardLogger(),
		letterbox: images.DefaultLetterboxOptions(),
		nms:       postprocess.DefaultNMSConfig(),
	}
}

// WithLogger sets the logger used by the engine and the session pool.
func (b *EngineBuilder) WithLogger(logger *logrus.Logger) *EngineBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

// WithModel sets the model decoder.
//
// Arguments:
//   - args: The model arguments.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithModel(args model.NewModelArgs) *EngineBuilder {
	if b.HasError() {
		return b
	}
	m, err := models.NewModel(args)
	if err != nil {
		b.err = err
		return b
	}
	b.model = m
	return b
}

// WithProvider loads the model into a pool of onnxruntime sessions and uses it as the runner.
// WithModel must be called first.
//
// Arguments:
//   - cfg: The onnxruntime configuration.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithProvider(cfg providers.Config) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if b.model == nil {
		b.err = errors.New("model must be configured before the provider")
		return b
	}

	opts := b.model.Options()
	pool, err := providers.NewSessionPool(providers.SessionArgs{
		ModelPath: opts.Path,
		Inputs:    opts.Inputs,
		Outputs:   opts.Outputs,
	}, cfg, b.logger)
	if err != nil {
		b.err = err
		return b
	}
	b.runner = pool
	if b.profiler != nil {
		b.profiler.AddMetricsCollector(pool)
	}
	return b
}

// WithRunner sets the runner directly. The engine takes ownership and closes it on Close when
// it implements io.Closer.
func (b *EngineBuilder) WithRunner(runner Runner) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.runner = runner
	return b
}

// WithClasses overrides the labels of the model family.
func (b *EngineBuilder) WithClasses(classes *models.ClassSet) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.classes = classes
	return b
}

// WithLetterbox sets the letterbox options.
func (b *EngineBuilder) WithLetterbox(opts images.LetterboxOptions) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.letterbox = opts
	return b
}

// WithNMS sets the suppression settings.
func (b *EngineBuilder) WithNMS(cfg postprocess.NMSConfig) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.nms = cfg
	return b
}

// WithTimeout bounds each model invocation. Zero disables the bound.
func (b *EngineBuilder) WithTimeout(timeout time.Duration) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if timeout < 0 {
		b.err = errors.Errorf("inference timeout must not be negative, got %s", timeout)
		return b
	}
	b.timeout = timeout
	return b
}

// WithProfiler records stage timings on p. A session pool built by WithProvider after this
// call is registered as a metrics collector.
func (b *EngineBuilder) WithProfiler(p *profiler.RuntimeProfiler) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.profiler = p
	if collector, ok := b.runner.(profiler.MetricsCollector); ok && p != nil {
		p.AddMetricsCollector(collector)
	}
	return b
}

// HasError checks if the engine builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// MustBuild builds the engine and panics if there is an error.
//
// Returns:
//   - Engine: The engine.
func (b *EngineBuilder) MustBuild() Engine {
	e, err := b.Build()
	if err != nil {
		panic(err)
	}
	return e
}

// Build validates the configuration and builds the engine.
//
// Returns:
//   - Engine: The engine.
//   - error: The first error recorded by the builder, or a configuration error. The runner
//     is closed when the build fails.
func (b *EngineBuilder) Build() (Engine, error) {
	e, err := b.build()
	if err != nil {
		if closer, ok := b.runner.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, err
	}
	return e, nil
}

func (b *EngineBuilder) build() (Engine, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.model == nil {
		return nil, errors.New("model not configured")
	}
	if b.runner == nil {
		return nil, errors.New("runner not configured")
	}
	if err := b.letterbox.Validate(); err != nil {
		return nil, err
	}
	if err := b.nms.Validate(); err != nil {
		return nil, err
	}

	opts := b.model.Options()
	if opts.InputSize > 0 && !b.letterbox.Auto && opts.InputSize != b.letterbox.Size {
		return nil, errors.Errorf("model %s expects %dx%d input, letterbox produces %dx%d",
			opts.Name, opts.InputSize, opts.InputSize, b.letterbox.Size, b.letterbox.Size)
	}

	classes := b.classes
	if classes == nil {
		var err error
		if classes, err = models.ClassSetFor(opts.Family); err != nil {
			return nil, err
		}
	}
	if opts.NumClasses > 0 && classes.Len() != opts.NumClasses {
		b.logger.WithFields(logrus.Fields{
			"model":   opts.Name,
			"classes": opts.NumClasses,
			"labels":  classes.Len(),
		}).Warn("label count does not match the model head, unknown ids render as class_<id>")
	}

	return &engine{
		adapter: &Adapter{
			Runner:   b.runner,
			Model:    b.model,
			MinScore: b.nms.ConfidenceThreshold,
			Timeout:  b.timeout,
		},
		classes:   classes,
		letterbox: b.letterbox,
		nms:       b.nms,
		profiler:  b.profiler,
		logger:    b.logger,
	}, nil
}

// engine implements the Engine interface.
type engine struct {
	adapter   *Adapter
	classes   *models.ClassSet
	letterbox images.LetterboxOptions
	nms       postprocess.NMSConfig
	profiler  *profiler.RuntimeProfiler
	logger    *logrus.Logger
}

// Detect runs letterbox, inference, suppression and rescaling on img. img is not modified.
//
// Arguments:
//   - ctx: The request context.
//   - img: The decoded image.
//
// Returns:
//   - []common.FinalDetection: Labelled detections in original image pixels, by descending
//     confidence.
//   - error: An error carrying one of the common error classes.
func (e *engine) Detect(ctx context.Context, img *images.Image) ([]common.FinalDetection, error) {
	defer e.track(StageDetect)()

	if err := img.Validate(); err != nil {
		return nil, err
	}

	done := e.track(StageLetterbox)
	lb, err := images.Letterbox(img, e.letterbox)
	done()
	if err != nil {
		return nil, err
	}

	done = e.track(StageInference)
	raw, err := e.adapter.Infer(ctx, lb)
	done()
	if err != nil {
		return nil, err
	}

	done = e.track(StageNMS)
	kept, err := postprocess.NonMaxSuppression(raw, e.nms)
	done()
	if err != nil {
		return nil, err
	}

	done = e.track(StageRescale)
	dets, err := postprocess.Rescale(kept, lb.LetterboxGeometry)
	done()
	if err != nil {
		return nil, err
	}

	for i := range dets {
		dets[i].Label = e.classes.Name(dets[i].ClassID)
	}

	e.logger.WithFields(logrus.Fields{
		"candidates": len(raw),
		"kept":       len(dets),
		"width":      img.Width,
		"height":     img.Height,
	}).Debug("detection finished")

	return dets, nil
}

func (e *engine) track(stage string) func() {
	if e.profiler == nil {
		return func() {}
	}
	return e.profiler.StartOperation(stage)
}

func (e *engine) Classes() *models.ClassSet {
	return e.classes
}

func (e *engine) Close() error {
	if closer, ok := e.adapter.Runner.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
