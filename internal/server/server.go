// Package server exposes the media library, its playback order and the
// interaction results over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"media-viewer/internal/logging"
	"media-viewer/internal/media"
	"media-viewer/internal/metrics"
	"media-viewer/internal/order"
	"media-viewer/internal/results"
	"media-viewer/internal/thumbnail"
)

const (
	maxBodyBytes = 10 << 20

	// gzipMinSize keeps small JSON answers uncompressed.
	gzipMinSize = 1000
)

// OriginChecker decides which cross-origin callers are allowed.
type OriginChecker interface {
	IsAllowedOrigin(origin string) bool
}

// Deps are the services the HTTP handlers delegate to.
type Deps struct {
	Sequences  *order.Service
	Media      *media.Responder
	Thumbnails *thumbnail.Generator
	Results    *results.Recorder
	Origins    OriginChecker
	Logger     *zap.Logger
}

type serverHandler struct {
	sequences *order.Service
	media     *media.Responder
	thumbs    *thumbnail.Generator
	results   *results.Recorder
	logger    *zap.Logger
	now       func() time.Time
}

// New creates the HTTP handler that exposes the viewer API.
func New(deps Deps) (http.Handler, error) {
	if deps.Sequences == nil || deps.Media == nil || deps.Thumbnails == nil || deps.Results == nil {
		return nil, errors.New("server: sequences, media, thumbnails and results are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &serverHandler{
		sequences: deps.Sequences,
		media:     deps.Media,
		thumbs:    deps.Thumbnails,
		results:   deps.Results,
		logger:    logger.Named("http"),
		now:       time.Now,
	}

	gzip, err := gzhttp.NewWrapper(gzhttp.MinSize(gzipMinSize))
	if err != nil {
		return nil, fmt.Errorf("gzip wrapper: %w", err)
	}
	api := func(fn http.HandlerFunc) http.Handler {
		return gzip(fn)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /{$}", api(h.handleRoot))
	mux.Handle("GET /health", api(h.handleHealth))
	mux.Handle("GET /metrics", metrics.Handler())

	// Media bytes are never compressed.
	mux.HandleFunc("GET /static/{path...}", h.handleStatic)
	mux.HandleFunc("GET /api/file/{name}", h.handleRawFile)
	mux.HandleFunc("GET /api/file/{name}/thumbnail", h.handleFileThumbnail)
	mux.HandleFunc("GET /api/thumbnail/{path...}", h.handleThumbnail)

	mux.Handle("GET /api/files", api(h.handleFiles))
	mux.Handle("GET /api/order", api(h.handleGetOrder))
	mux.Handle("POST /api/order", api(h.handlePostOrder))
	mux.Handle("GET /api/quiz-results", api(h.handleGetQuizResults))
	mux.Handle("POST /api/quiz-results", api(h.handlePostQuizResult))
	mux.Handle("POST /api/save-quiz-answer", api(h.handleSaveQuizAnswer))
	mux.Handle("GET /api/choice-results", api(h.handleGetChoiceResults))
	mux.Handle("POST /api/choice-results", api(h.handlePostChoiceResult))
	mux.Handle("POST /api/save-choice", api(h.handleSaveChoice))
	mux.Handle("GET /api/media-info/{path...}", api(h.handleMediaInfo))

	return logRequests(allowOrigins(mux, deps.Origins), h.logger), nil
}

func (h *serverHandler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Media Viewer API",
		"status":  "running",
	})
}

func (h *serverHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": h.now().Format(time.RFC3339Nano),
	})
}

// log returns the request-scoped logger.
func (h *serverHandler) log(r *http.Request) *zap.Logger {
	return logging.FromContext(r.Context(), h.logger)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, errorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeRawJSON(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}
