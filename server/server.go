// Package server - HTTP endpoints that annotate uploaded images with detected objects.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-detect/images"
	"github.com/nvr-ai/go-detect/inference"
	"github.com/nvr-ai/go-detect/profiler"
)

// DefaultMaxUploadBytes bounds the request body when no limit is configured.
const DefaultMaxUploadBytes = 32 << 20

// Options configures the server.
type Options struct {
	// UploadDir receives the uploaded files.
	UploadDir string
	// OutputDir receives the annotated images.
	OutputDir string
	// KeepFiles keeps both files after the response instead of deleting them.
	KeepFiles bool
	// MaxUploadBytes bounds the request body.
	MaxUploadBytes int64
	// JPEGQuality is the quality of the annotated image.
	JPEGQuality int
}

// Server serves the detection endpoints. It holds no per-request state.
type Server struct {
	engine    inference.Engine
	annotator *images.Annotator
	storage   *Storage
	profiler  *profiler.RuntimeProfiler
	logger    *logrus.Logger
	opts      Options
}

// New creates the server and its transient storage directories.
//
// Arguments:
//   - engine: The detection engine, shared by every request.
//   - annotator: Draws the detections.
//   - opts: Storage and encoding options.
//   - logger: The request logger.
//   - p: The profiler reported by /metrics. May be nil.
//
// Returns:
//   - *Server: The server.
//   - error: An error if the storage directories cannot be created.
func New(engine inference.Engine, annotator *images.Annotator, opts Options, logger *logrus.Logger, p *profiler.RuntimeProfiler) (*Server, error) {
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if annotator == nil {
		annotator = images.NewAnnotator()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.JPEGQuality == 0 {
		opts.JPEGQuality = images.DefaultJPEGQuality
	}

	storage, err := NewStorage(opts.UploadDir, opts.OutputDir, opts.KeepFiles)
	if err != nil {
		return nil, err
	}

	return &Server{
		engine:    engine,
		annotator: annotator,
		storage:   storage,
		profiler:  p,
		logger:    logger,
		opts:      opts,
	}, nil
}

// Router returns the routes wrapped in the request ID, logging and recovery middleware.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware, s.loggingMiddleware, s.recoveryMiddleware)

	r.HandleFunc("/detect", s.handleDetect).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	return r
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
