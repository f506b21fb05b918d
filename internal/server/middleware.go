package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"media-viewer/internal/logging"
	"media-viewer/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

const (
	corsMethods = "GET, POST, PUT, DELETE"
	corsExposed = "ETag, Last-Modified, Content-Length, Content-Range, Accept-Ranges, X-Thumbnail, X-Request-ID"
	corsMaxAge  = "600"
)

type statusWriter struct {
	http.ResponseWriter
	status      int
	size        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// headerWritten reports whether a response has already started, so handlers
// know whether an error can still be sent as JSON.
func headerWritten(w http.ResponseWriter) bool {
	if sw, ok := w.(*statusWriter); ok {
		return sw.wroteHeader
	}
	return false
}

func logRequests(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		reqLogger := logger.With(zap.String("request_id", id))
		r = r.WithContext(logging.WithLogger(r.Context(), reqLogger))

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		duration := time.Since(start)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(r.Method, route, sw.status, duration)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.Int("status", sw.status),
			zap.String("size", humanize.Bytes(uint64(sw.size))),
			zap.Duration("duration", duration),
		}
		if sw.status >= http.StatusInternalServerError {
			reqLogger.Warn("request", fields...)
			return
		}
		reqLogger.Info("request", fields...)
	})
}

// allowOrigins applies the cross-origin policy. Preflight requests from
// unknown origins are rejected; simple requests pass through without CORS
// headers.
func allowOrigins(next http.Handler, origins OriginChecker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := origin != "" && origins != nil && origins.IsAllowedOrigin(origin)

		header := w.Header()
		if origin != "" {
			header.Add("Vary", "Origin")
		}
		if allowed {
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")
			header.Set("Access-Control-Expose-Headers", corsExposed)
		}

		if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !allowed {
			writeError(w, http.StatusBadRequest, "Disallowed CORS origin")
			return
		}
		header.Set("Access-Control-Allow-Methods", corsMethods)
		if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
			header.Set("Access-Control-Allow-Headers", requested)
		}
		header.Set("Access-Control-Max-Age", corsMaxAge)
		w.WriteHeader(http.StatusNoContent)
	})
}
