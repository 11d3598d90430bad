// Command detect annotates image files offline with the same pipeline the HTTP service runs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-detect/benchmark"
	"github.com/nvr-ai/go-detect/common"
	"github.com/nvr-ai/go-detect/config"
	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/inference/detectors"
	"github.com/nvr-ai/go-detect/util"
)

// result is one line of the -json report.
type result struct {
	Input      string                  `json:"input"`
	Output     string                  `json:"output,omitempty"`
	Detections []common.FinalDetection `json:"detections"`
	Error      string                  `json:"error,omitempty"`
}

func main() {
	var (
		configPath string
		input      string
		outputDir  string
		modelPath  string
		logLevel   string
		report     bool
		iterations int
		workers    int
	)
	flag.StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	flag.StringVar(&input, "input", "", "Image file or directory of images")
	flag.StringVar(&outputDir, "output-dir", "", "Directory for annotated images, defaults to the configured output_dir")
	flag.StringVar(&modelPath, "model", "", "Path to the ONNX model, overrides the configuration")
	flag.StringVar(&logLevel, "log-level", "", "Log level, overrides the configuration")
	flag.BoolVar(&report, "json", false, "Print one JSON result per image to stdout")
	flag.IntVar(&iterations, "benchmark", 0, "Run this many timed detections over the input instead of annotating")
	flag.IntVar(&workers, "concurrency", 1, "Concurrent detections in benchmark mode")
	flag.Parse()

	if input == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	if modelPath != "" {
		cfg.Model.Path = modelPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if outputDir == "" {
		outputDir = cfg.Server.OutputDir
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		logrus.WithError(err).Fatal("failed to create logger")
	}
	// Keep stdout for the JSON report.
	logger.SetOutput(os.Stderr)

	files, err := util.LoadImageFiles(input)
	if err != nil {
		logger.WithError(err).Fatal("failed to load images")
	}
	if len(files) == 0 {
		logger.WithField("input", input).Fatal("no images found")
	}

	engine, err := detectors.New(cfg, logger, nil)
	if err != nil {
		logger.WithError(err).Fatal("failed to build engine")
	}
	defer engine.Close()

	if iterations > 0 {
		if err := runBenchmark(logger, engine, files, benchmark.Scenario{
			Name:        string(cfg.Model.Name) + "/" + string(cfg.Runner),
			Iterations:  iterations,
			WarmupRuns:  cfg.Inference.WarmUpRuns,
			Concurrency: workers,
		}); err != nil {
			engine.Close()
			logger.WithError(err).Fatal("benchmark failed")
		}
		return
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		engine.Close()
		logger.WithError(err).Fatal("failed to create output directory")
	}

	annotator := detectors.NewAnnotator(cfg.Render)
	encoder := json.NewEncoder(os.Stdout)

	failed := 0
	for _, file := range files {
		res := annotate(context.Background(), engine, annotator, file, outputDir, cfg.Render.JPEGQuality)
		fields := logrus.Fields{"input": res.Input, "detections": len(res.Detections)}
		if res.Error != "" {
			failed++
			logger.WithFields(fields).WithField("error", res.Error).Error("failed to annotate image")
		} else {
			logger.WithFields(fields).WithField("output", res.Output).Info("annotated image")
			for _, d := range res.Detections {
				logger.Debug(d.String())
			}
		}
		if report {
			if err := encoder.Encode(res); err != nil {
				logger.WithError(err).Fatal("failed to write report")
			}
		}
	}

	logger.WithFields(logrus.Fields{"images": len(files), "failed": failed}).Info("done")
	if failed > 0 {
		engine.Close()
		os.Exit(1)
	}
}

func runBenchmark(logger *logrus.Logger, engine inference.Engine, files []util.ImageFile, scenario benchmark.Scenario) error {
	decoded := make([]*images.Image, 0, len(files))
	for _, file := range files {
		img, _, err := images.Decode(file.Data)
		if err != nil {
			return errors.Wrapf(err, "failed to decode %s", file.Path)
		}
		decoded = append(decoded, img)
	}

	metrics, err := benchmark.Run(context.Background(), engine, decoded, scenario)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"scenario":   scenario.Name,
		"iterations": scenario.Iterations,
		"fps":        metrics.FramesPerSecond,
		"p50":        metrics.Latency.P50.String(),
		"p95":        metrics.Latency.P95.String(),
		"error_rate": metrics.ErrorRate,
	}).Info("benchmark complete")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(metrics)
}

func annotate(ctx context.Context, engine inference.Engine, annotator *images.Annotator, file util.ImageFile, outputDir string, quality int) result {
	res := result{Input: file.Path}

	img, _, err := images.Decode(file.Data)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	dets, err := engine.Detect(ctx, img)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Detections = dets

	if err := annotator.Render(img, dets); err != nil {
		res.Error = err.Error()
		return res
	}

	base := filepath.Base(file.Path)
	res.Output = filepath.Join(outputDir, "result_"+strings.TrimSuffix(base, filepath.Ext(base))+".jpg")
	if err := writeJPEG(res.Output, img, quality); err != nil {
		res.Error = err.Error()
		res.Output = ""
	}
	return res
}

func writeJPEG(path string, img *images.Image, quality int) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create output file")
	}
	if err := images.EncodeJPEG(f, img, quality); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
