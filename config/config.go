// Package config - Service configuration loaded from defaults, YAML and the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference/providers"
	"github.com/nvr-ai/go-detect/models"
	"github.com/nvr-ai/go-detect/models/model"
	"github.com/nvr-ai/go-detect/models/postprocess"
	"github.com/nvr-ai/go-detect/profiler"
)

// Environment variables overriding the file.
const (
	EnvPort      = "PORT"
	EnvModelPath = "DETECT_MODEL_PATH"
	EnvLogLevel  = "DETECT_LOG_LEVEL"
)

// RunnerKind selects the inference runtime.
type RunnerKind string

const (
	// RunnerONNXRuntime runs the model on a pool of onnxruntime sessions.
	RunnerONNXRuntime RunnerKind = "onnxruntime"
	// RunnerOpenCV runs the model with OpenCV's DNN module.
	RunnerOpenCV RunnerKind = "opencv"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	Model     ModelConfig             `yaml:"model"`
	Runner    RunnerKind              `yaml:"runner"`
	Provider  providers.Config        `yaml:"provider"`
	OpenCV    OpenCVConfig            `yaml:"opencv"`
	Letterbox images.LetterboxOptions `yaml:"letterbox"`
	NMS       postprocess.NMSConfig   `yaml:"nms"`
	Inference InferenceConfig         `yaml:"inference"`
	Render    RenderConfig            `yaml:"render"`
	Log       LogConfig               `yaml:"log"`
	Profiler  ProfilerConfig          `yaml:"profiler"`
}

// ServerConfig configures the HTTP listener and transient storage.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	UploadDir       string        `yaml:"upload_dir"`
	OutputDir       string        `yaml:"output_dir"`
	KeepFiles       bool          `yaml:"keep_files"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// ModelConfig names the model and, optionally, a labels file replacing the family labels.
type ModelConfig struct {
	model.NewModelArgs `yaml:",inline"`
	ClassesFile        string `yaml:"classes_file"`
}

// OpenCVConfig selects the OpenCV DNN backend and target. The model path comes from the model
// section.
type OpenCVConfig struct {
	Backend    string `yaml:"backend"`
	Target     string `yaml:"target"`
	OutputName string `yaml:"output_name"`
}

// InferenceConfig bounds model invocations.
type InferenceConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// WarmUpRuns is the number of blank images pushed through the engine at startup.
	WarmUpRuns int `yaml:"warmup_runs"`
}

// RenderConfig configures the annotated output.
type RenderConfig struct {
	Thickness   int `yaml:"thickness"`
	JPEGQuality int `yaml:"jpeg_quality"`
}

// LogConfig configures the logger.
type LogConfig struct {
	// Level is any logrus level name.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// ProfilerConfig toggles the runtime profiler.
type ProfilerConfig struct {
	Enabled                   bool `yaml:"enabled"`
	profiler.ProfilingOptions `yaml:",inline"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            5000,
			UploadDir:       "uploads",
			OutputDir:       "outputs",
			MaxUploadBytes:  32 << 20,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Model: ModelConfig{
			NewModelArgs: model.NewModelArgs{
				Name:       model.ModelNameYOLOv5,
				Family:     model.ModelFamilyYOLO,
				Path:       "yolov5s.onnx",
				Inputs:     []string{"images"},
				Outputs:    []string{"output0"},
				InputSize:  images.DefaultLetterboxSize,
				NumClasses: 80,
			},
		},
		Runner:    RunnerONNXRuntime,
		Provider:  providers.DefaultConfig(),
		OpenCV:    OpenCVConfig{Backend: "opencv", Target: "cpu"},
		Letterbox: images.DefaultLetterboxOptions(),
		NMS:       postprocess.DefaultNMSConfig(),
		Inference: InferenceConfig{Timeout: 30 * time.Second, WarmUpRuns: 1},
		Render: RenderConfig{
			Thickness:   images.DefaultBoxThickness,
			JPEGQuality: images.DefaultJPEGQuality,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Profiler: ProfilerConfig{
			Enabled:          true,
			ProfilingOptions: profiler.DefaultProfilingOptions(),
		},
	}
}

// Load builds the configuration from the defaults, the YAML file at path (when not empty) and
// the environment, in that order, and validates the result.
//
// Arguments:
//   - path: The YAML file. Empty skips the file.
//
// Returns:
//   - Config: The merged configuration.
//   - error: An error if the file cannot be read or parsed or the result is invalid.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "failed to read config %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "failed to parse config %s", path)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s %q", EnvPort, v)
		}
		c.Server.Port = port
	}
	if v, ok := lookup(EnvModelPath); ok && v != "" {
		c.Model.Path = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.Errorf("server port out of range: %d", c.Server.Port)
	}
	if c.Server.UploadDir == "" || c.Server.OutputDir == "" {
		return errors.New("server upload_dir and output_dir are required")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.Errorf("server max_upload_bytes must be positive, got %d", c.Server.MaxUploadBytes)
	}
	if c.Model.Path == "" {
		return errors.New("model path is required")
	}
	if !supported(c.Model.Name) {
		return errors.Errorf("unsupported model %q, expected one of %v", c.Model.Name, models.SupportedModels())
	}

	switch c.Runner {
	case RunnerONNXRuntime:
		if err := c.Provider.Validate(); err != nil {
			return errors.Wrap(err, "provider")
		}
	case RunnerOpenCV:
	default:
		return errors.Errorf("unknown runner %q", c.Runner)
	}

	if err := c.Letterbox.Validate(); err != nil {
		return errors.Wrap(err, "letterbox")
	}
	if err := c.NMS.Validate(); err != nil {
		return errors.Wrap(err, "nms")
	}
	if c.Inference.Timeout < 0 {
		return errors.Errorf("inference timeout must not be negative, got %s", c.Inference.Timeout)
	}
	if c.Inference.WarmUpRuns < 0 {
		return errors.Errorf("inference warmup_runs must not be negative, got %d", c.Inference.WarmUpRuns)
	}
	if c.Render.Thickness <= 0 {
		return errors.Errorf("render thickness must be positive, got %d", c.Render.Thickness)
	}
	if c.Render.JPEGQuality < 1 || c.Render.JPEGQuality > 100 {
		return errors.Errorf("render jpeg_quality must be in [1, 100], got %d", c.Render.JPEGQuality)
	}
	if _, err := c.Log.NewLogger(); err != nil {
		return err
	}
	return nil
}

func supported(name model.Name) bool {
	for _, n := range models.SupportedModels() {
		if n == name {
			return true
		}
	}
	return false
}

// NewLogger builds a logger with the configured level and format.
func (l LogConfig) NewLogger() (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}

	logger := logrus.New()
	logger.SetLevel(level)

	switch l.Format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, errors.Errorf("unknown log format %q", l.Format)
	}
	return logger, nil
}
