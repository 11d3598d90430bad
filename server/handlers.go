package server

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-detect/images"
)

// Messages returned for rejected uploads.
const (
	msgNoFileUploaded = "No file uploaded"
	msgNoFileSelected = "No file selected"
)

// DetectionCountHeader reports how many objects were drawn.
const DetectionCountHeader = "X-Detection-Count"

// handleDetect annotates the image uploaded in the multipart field "file" and returns it as
// JPEG.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := RequestID(r.Context())
	log := s.logger.WithField("request_id", requestID)

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "An error occurred: upload exceeds "+
				strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
			return
		}
		log.WithError(err).Debug("request is not a multipart upload")
		writeError(w, http.StatusBadRequest, msgNoFileUploaded)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := uploadedFile(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer file.Close()

	log = log.WithField("filename", header.Filename)
	log.Debug("file received")

	uploadPath, err := s.storage.SaveUpload(requestID, header.Filename, file)
	if err != nil {
		s.fail(w, log, err)
		return
	}
	outputPath := s.storage.OutputPath(requestID, header.Filename)
	defer func() {
		if err := s.storage.Cleanup(uploadPath, outputPath); err != nil {
			log.WithError(err).Warn("failed to remove transient files")
		}
	}()

	data, err := os.ReadFile(uploadPath)
	if err != nil {
		s.fail(w, log, errors.Wrap(err, "failed to read upload"))
		return
	}

	img, format, err := images.Decode(data)
	if err != nil {
		s.fail(w, log, err)
		return
	}

	detectStart := time.Now()
	dets, err := s.engine.Detect(r.Context(), img)
	if err != nil {
		s.fail(w, log, err)
		return
	}
	detectTime := time.Since(detectStart)

	if err := s.annotator.Render(img, dets); err != nil {
		s.fail(w, log, err)
		return
	}

	var buf bytes.Buffer
	if err := images.EncodeJPEG(&buf, img, s.opts.JPEGQuality); err != nil {
		s.fail(w, log, err)
		return
	}
	if err := os.WriteFile(outputPath, buf.Bytes(), 0o644); err != nil {
		s.fail(w, log, errors.Wrap(err, "failed to save output image"))
		return
	}

	log.WithFields(logrus.Fields{
		"format":     format,
		"width":      img.Width,
		"height":     img.Height,
		"detections": len(dets),
		"detect":     detectTime.String(),
		"total":      time.Since(start).String(),
	}).Info("image annotated")

	w.Header().Set("Content-Type", images.FormatJPEG.ContentType())
	w.Header().Set(DetectionCountHeader, strconv.Itoa(len(dets)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// uploadedFile returns the "file" part, telling a missing field apart from an empty filename.
// A part sent with an empty filename is parsed as a plain form value.
func uploadedFile(r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	form := r.MultipartForm
	if headers := form.File["file"]; len(headers) > 0 {
		header := headers[0]
		if header.Filename == "" {
			return nil, nil, errors.New(msgNoFileSelected)
		}
		file, err := header.Open()
		if err != nil {
			return nil, nil, errors.New(msgNoFileUploaded)
		}
		return file, header, nil
	}
	if _, ok := form.Value["file"]; ok {
		return nil, nil, errors.New(msgNoFileSelected)
	}
	return nil, nil, errors.New(msgNoFileUploaded)
}

func (s *Server) fail(w http.ResponseWriter, log *logrus.Entry, err error) {
	log.WithError(err).Error("error during processing")
	writeError(w, http.StatusInternalServerError, "An error occurred: "+err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics reports the profiler snapshot, which includes the session pool counters when
// the engine runs on onnxruntime.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	response := map[string]interface{}{
		"classes": s.engine.Classes().Len(),
	}
	if s.profiler != nil {
		for k, v := range s.profiler.GetCurrentStats() {
			response[k] = v
		}
	}
	writeJSON(w, http.StatusOK, response)
}
