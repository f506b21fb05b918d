package server

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"media-viewer/internal/cache"
	"media-viewer/internal/media"
	"media-viewer/internal/metrics"
	"media-viewer/internal/thumbnail"
)

func (h *serverHandler) handleStatic(w http.ResponseWriter, r *http.Request) {
	h.serveMedia(w, r, r.PathValue("path"))
}

func (h *serverHandler) serveMedia(w http.ResponseWriter, r *http.Request, rel string) {
	resp, err := h.media.Describe(rel, r)
	if err != nil {
		h.mediaError(w, r, rel, err)
		return
	}
	if err := resp.Write(w); err != nil {
		h.mediaError(w, r, rel, err)
	}
}

func (h *serverHandler) handleRawFile(w http.ResponseWriter, r *http.Request) {
	h.serveRaw(w, r, r.PathValue("name"))
}

func (h *serverHandler) serveRaw(w http.ResponseWriter, r *http.Request, rel string) {
	if err := h.media.ServeRaw(w, r, rel); err != nil {
		h.mediaError(w, r, rel, err)
	}
}

func (h *serverHandler) mediaError(w http.ResponseWriter, r *http.Request, rel string, err error) {
	if headerWritten(w) {
		h.log(r).Debug("media response aborted", zap.String("path", rel), zap.Error(err))
		return
	}
	if errors.Is(err, media.ErrNotFound) {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	h.log(r).Error("media response failed", zap.String("path", rel), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Error reading file")
}

// handleFileThumbnail serves a memory-cached thumbnail at the default quality.
func (h *serverHandler) handleFileThumbnail(w http.ResponseWriter, r *http.Request) {
	params, err := thumbnail.ParseParams(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	params.Quality = thumbnail.DefaultQuality
	h.serveThumbnail(w, r, r.PathValue("name"), params, false, h.serveRaw)
}

// handleThumbnail serves a thumbnail through the memory cache and the disk mirror.
func (h *serverHandler) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	params, err := thumbnail.ParseParams(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.serveThumbnail(w, r, r.PathValue("path"), params, true, h.serveMedia)
}

func (h *serverHandler) serveThumbnail(w http.ResponseWriter, r *http.Request, rel string, params thumbnail.Params, persist bool,
	fallback func(http.ResponseWriter, *http.Request, string)) {
	if !thumbnail.IsImage(rel) {
		fallback(w, r, rel)
		return
	}

	_, info, err := h.media.Locate(rel)
	if err != nil {
		h.mediaError(w, r, rel, err)
		return
	}

	etag := thumbnail.ETag(rel, params, info)
	header := w.Header()
	header.Set("ETag", etag)
	header.Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))
	header.Set("Cache-Control", media.ImmutableCacheControl)

	if cache.NotModified(r, etag, info.ModTime()) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	result, err := h.thumbs.Thumbnail(r.Context(), rel, params, persist)
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			h.mediaError(w, r, rel, err)
			return
		}
		if r.Context().Err() != nil {
			h.log(r).Debug("client went away during thumbnail generation", zap.String("path", rel))
			return
		}
		metrics.RecordThumbnailFallback()
		h.log(r).Warn("thumbnail failed, serving original",
			zap.String("path", rel),
			zap.Int("size", params.Size),
			zap.Error(err),
		)
		header.Del("ETag")
		header.Del("Last-Modified")
		header.Del("Cache-Control")
		fallback(w, r, rel)
		return
	}

	header.Set("Content-Type", "image/webp")
	header.Set("Content-Length", strconv.Itoa(len(result.Data)))
	header.Set("X-Thumbnail", "true")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(result.Data)
}
