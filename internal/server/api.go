package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"media-viewer/internal/cache"
	"media-viewer/internal/media"
	"media-viewer/internal/metadata"
	"media-viewer/internal/models"
	"media-viewer/internal/order"
	"media-viewer/internal/results"
)

func (h *serverHandler) handleFiles(w http.ResponseWriter, r *http.Request) {
	entry, err := h.sequences.Sequence(r.Context())
	if err != nil {
		h.log(r).Error("sequence resolution failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Error scanning contents: "+err.Error())
		return
	}

	header := w.Header()
	header.Set("ETag", entry.ETag)
	header.Set("Cache-Control", "no-cache")
	// The sequence has no meaningful modification time; only the tag counts.
	if cache.NotModified(r, entry.ETag, time.Time{}) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeRawJSON(w, http.StatusOK, entry.Body)
}

func (h *serverHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	doc, err := h.sequences.Store().Read()
	if err != nil {
		h.log(r).Error("order read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Error reading order: "+err.Error())
		return
	}
	writeRawJSON(w, http.StatusOK, doc)
}

func (h *serverHandler) handlePostOrder(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Error reading request body")
		return
	}

	manifest, err := h.sequences.Replace(body)
	if err != nil {
		if errors.Is(err, order.ErrInvalidDocument) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log(r).Error("order write failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Error saving order: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Order saved successfully",
		"order":   manifest.Order,
	})
}

func (h *serverHandler) handleGetQuizResults(w http.ResponseWriter, r *http.Request) {
	h.writeDocument(w, r, h.results.QuizResults)
}

func (h *serverHandler) handleGetChoiceResults(w http.ResponseWriter, r *http.Request) {
	h.writeDocument(w, r, h.results.ChoiceResults)
}

func (h *serverHandler) writeDocument(w http.ResponseWriter, r *http.Request, read func() (json.RawMessage, error)) {
	doc, err := read()
	if err != nil {
		h.log(r).Error("result read failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Error reading results: "+err.Error())
		return
	}
	writeRawJSON(w, http.StatusOK, doc)
}

func (h *serverHandler) handlePostQuizResult(w http.ResponseWriter, r *http.Request) {
	h.appendRecord(w, r, h.results.AppendQuizResult, "Quiz result saved successfully")
}

func (h *serverHandler) handlePostChoiceResult(w http.ResponseWriter, r *http.Request) {
	h.appendRecord(w, r, h.results.AppendChoiceResult, "Choice result saved successfully")
}

func (h *serverHandler) appendRecord(w http.ResponseWriter, r *http.Request, appendFn func(json.RawMessage) error, message string) {
	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Error reading request body")
		return
	}
	if err := appendFn(body); err != nil {
		h.recordError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": message,
		"result":  json.RawMessage(body),
	})
}

func (h *serverHandler) handleSaveQuizAnswer(w http.ResponseWriter, r *http.Request) {
	var answer models.QuizAnswer
	if err := decodeBody(w, r, &answer); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	result, err := h.results.SaveQuizAnswer(answer)
	if err != nil {
		h.recordError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Quiz answer saved successfully",
		"result":  result,
	})
}

func (h *serverHandler) handleSaveChoice(w http.ResponseWriter, r *http.Request) {
	var choice models.ChoiceResult
	if err := decodeBody(w, r, &choice); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	result, snapshot, err := h.results.SaveChoice(choice)
	if err != nil {
		h.recordError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Choice saved successfully",
		"result":    result,
		"cacheData": snapshot,
	})
}

func (h *serverHandler) recordError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, results.ErrManifestMissing):
		writeError(w, http.StatusNotFound, "order.json not found")
	case errors.Is(err, results.ErrInvalidRecord):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log(r).Error("result write failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Error saving result: "+err.Error())
	}
}

func (h *serverHandler) handleMediaInfo(w http.ResponseWriter, r *http.Request) {
	rel := r.PathValue("path")
	path, _, err := h.media.Locate(rel)
	if err != nil {
		h.mediaError(w, r, rel, err)
		return
	}

	info, err := metadata.Describe(path, h.media.Root(), media.ContentType(path))
	if err != nil {
		if errors.Is(err, metadata.ErrUnsupported) {
			writeError(w, http.StatusUnsupportedMediaType, err.Error())
			return
		}
		h.log(r).Error("media info failed", zap.String("path", rel), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Error reading media info")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
