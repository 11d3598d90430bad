package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-detect/config"
	"github.com/nvr-ai/go-detect/inference/detectors"
	"github.com/nvr-ai/go-detect/inference/providers"
	"github.com/nvr-ai/go-detect/profiler"
	"github.com/nvr-ai/go-detect/server"
)

func main() {
	var (
		configPath string
		port       int
		modelPath  string
		logLevel   string
	)
	flag.StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	flag.IntVar(&port, "port", 0, "HTTP port, overrides the configuration")
	flag.StringVar(&modelPath, "model", "", "Path to the ONNX model, overrides the configuration")
	flag.StringVar(&logLevel, "log-level", "", "Log level, overrides the configuration")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if modelPath != "" {
		cfg.Model.Path = modelPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		logrus.WithError(err).Fatal("failed to create logger")
	}

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("detection service stopped")
	}
}

func run(cfg config.Config, logger *logrus.Logger) error {
	logger.WithFields(providers.DetectHost().Fields()).Info("host")

	var p *profiler.RuntimeProfiler
	if cfg.Profiler.Enabled {
		p = profiler.NewRuntimeProfiler(cfg.Profiler.ProfilingOptions, logger)
		p.Start()
		defer p.Stop()
	}

	engine, err := detectors.New(cfg, logger, p)
	if err != nil {
		return errors.Wrap(err, "failed to build engine")
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.WithError(err).Warn("failed to close engine")
		}
	}()

	logger.WithFields(logrus.Fields{
		"model":   cfg.Model.Name,
		"path":    cfg.Model.Path,
		"runner":  cfg.Runner,
		"classes": engine.Classes().Len(),
	}).Info("engine ready")

	if err := detectors.Timed(context.Background(), logger, engine, cfg.Letterbox.Size, cfg.Inference.WarmUpRuns); err != nil {
		return err
	}

	srv, err := server.New(engine, detectors.NewAnnotator(cfg.Render), server.Options{
		UploadDir:      cfg.Server.UploadDir,
		OutputDir:      cfg.Server.OutputDir,
		KeepFiles:      cfg.Server.KeepFiles,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		JPEGQuality:    cfg.Render.JPEGQuality,
	}, logger, p)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err, ok := <-serveErr:
		if ok {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "graceful shutdown failed")
	}
	return nil
}
