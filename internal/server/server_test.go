package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"media-viewer/internal/cache"
	"media-viewer/internal/library"
	"media-viewer/internal/media"
	"media-viewer/internal/models"
	"media-viewer/internal/order"
	"media-viewer/internal/results"
	"media-viewer/internal/thumbnail"
)

type scanLister struct {
	root string
}

func (s scanLister) Files() ([]string, error) {
	return library.Scan(s.root, models.SupportedExtensions(), nil, nil)
}

type originSet map[string]bool

func (o originSet) IsAllowedOrigin(origin string) bool {
	return o[origin]
}

func newTestServer(t *testing.T) (http.Handler, string) {
	t.Helper()
	root := t.TempDir()
	logger := zaptest.NewLogger(t)

	responder, err := media.NewResponder(root, 0, logger)
	require.NoError(t, err)
	generator, err := thumbnail.NewGenerator(responder, cache.NewThumbnailCache(0, 0), thumbnail.Options{Dir: t.TempDir(), Workers: 2}, logger)
	require.NoError(t, err)

	handler, err := New(Deps{
		Sequences:  order.NewService(scanLister{root: root}, order.NewStore(root, logger), cache.NewSequenceCache(time.Minute), logger),
		Media:      responder,
		Thumbnails: generator,
		Results:    results.NewRecorder(root, logger),
		Origins:    originSet{"http://localhost:3000": true},
		Logger:     logger,
	})
	require.NoError(t, err)
	return handler, root
}

func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func writePNG(t *testing.T, root, rel string, width, height int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	writeFile(t, root, rel, buf.Bytes())
}

func do(t *testing.T, handler http.Handler, method, target string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	return payload
}

func TestBannerAndHealth(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := do(t, handler, http.MethodGet, "/", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", decodeJSON(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, handler, http.MethodGet, "/health", "", map[string]string{"X-Request-ID": "abc-123"})
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decodeJSON(t, rec)
	assert.Equal(t, "healthy", payload["status"])
	_, err := time.Parse(time.RFC3339Nano, payload["timestamp"].(string))
	assert.NoError(t, err)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = do(t, handler, http.MethodPost, "/health", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFilesFallbackAndOrder(t *testing.T) {
	handler, root := newTestServer(t)
	writeFile(t, root, "b.png", []byte("b"))
	writeFile(t, root, "a.png", []byte("a"))
	writeFile(t, root, "notes.txt", []byte("ignored"))

	rec := do(t, handler, http.MethodGet, "/api/files", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["a.png","b.png"]`, rec.Body.String())

	doc := `{"order":["a.png",{"type":"quiz","question":"Q?","options":["x","y"]},"b.png","c.png"]}`
	rec = do(t, handler, http.MethodPost, "/api/order", doc, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Order saved successfully", decodeJSON(t, rec)["message"])

	rec = do(t, handler, http.MethodGet, "/api/files", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["a.png",{"type":"quiz","question":"Q?","options":["x","y"]},"b.png"]`, rec.Body.String())
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	rec = do(t, handler, http.MethodGet, "/api/files", "", map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	// Posting the same document again yields the same sequence.
	rec = do(t, handler, http.MethodPost, "/api/order", doc, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, handler, http.MethodGet, "/api/files", "", nil)
	assert.Equal(t, etag, rec.Header().Get("ETag"))

	rec = do(t, handler, http.MethodGet, "/api/order", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, doc, rec.Body.String())
}

func TestOrderRejectsInvalidDocument(t *testing.T) {
	handler, root := newTestServer(t)

	for _, doc := range []string{`{"order":"a.png"}`, `[1,2]`, `not json`, `{"items":[]}`} {
		rec := do(t, handler, http.MethodPost, "/api/order", doc, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, doc)
		payload := decodeJSON(t, rec)
		assert.EqualValues(t, http.StatusBadRequest, payload["code"])
		assert.NotEmpty(t, payload["error"])
	}

	_, err := os.Stat(filepath.Join(root, order.ManifestName))
	assert.True(t, os.IsNotExist(err), "invalid documents must not be written")

	rec := do(t, handler, http.MethodGet, "/api/order", "", nil)
	assert.JSONEq(t, `{"order":[]}`, rec.Body.String())
}

func TestSymlinkOutsideRootIsNotServed(t *testing.T) {
	handler, root := newTestServer(t)
	outside := filepath.Join(t.TempDir(), "secret.png")
	require.NoError(t, os.WriteFile(outside, []byte("outside secret"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link.png")))

	for _, target := range []string{"/static/link.png", "/api/file/link.png", "/api/thumbnail/link.png"} {
		rec := do(t, handler, http.MethodGet, target, "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
		assert.NotContains(t, rec.Body.String(), "outside secret", target)
	}
}

func TestStaticRangeAndConditional(t *testing.T) {
	handler, root := newTestServer(t)
	data := bytes.Repeat([]byte("0123456789"), 1000)
	writeFile(t, root, "video/clip.mp4", data)

	rec := do(t, handler, http.MethodGet, "/static/video/clip.mp4", "", map[string]string{"Range": "bytes=0-99"})
	require.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, 100, rec.Body.Len())
	assert.Equal(t, "bytes 0-99/10000", rec.Header().Get("Content-Range"))
	assert.Equal(t, "100", rec.Header().Get("Content-Length"))
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Content-Encoding"))

	rec = do(t, handler, http.MethodGet, "/static/video/clip.mp4", "", map[string]string{"Accept-Encoding": "gzip"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, data, rec.Body.Bytes())
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	etag := rec.Header().Get("ETag")

	rec = do(t, handler, http.MethodGet, "/static/video/clip.mp4", "", map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	rec = do(t, handler, http.MethodHead, "/static/video/clip.mp4", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10000", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.Bytes())

	rec = do(t, handler, http.MethodGet, "/static/missing.mp4", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.EqualValues(t, http.StatusNotFound, decodeJSON(t, rec)["code"])
}

func TestRawFile(t *testing.T) {
	handler, root := newTestServer(t)
	writeFile(t, root, "song.mp3", []byte("ID3-not-really"))

	rec := do(t, handler, http.MethodGet, "/api/file/song.mp3", "", map[string]string{"Range": "bytes=0-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ID3-not-really", rec.Body.String())
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))

	rec = do(t, handler, http.MethodGet, "/api/file/nope.mp3", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestThumbnailEndpoints(t *testing.T) {
	handler, root := newTestServer(t)
	writePNG(t, root, "pics/wide.png", 400, 200)

	rec := do(t, handler, http.MethodGet, "/api/thumbnail/pics/wide.png?size=100&quality=60", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/webp", rec.Header().Get("Content-Type"))
	assert.Equal(t, "true", rec.Header().Get("X-Thumbnail"))
	assert.Equal(t, media.ImmutableCacheControl, rec.Header().Get("Cache-Control"))

	cfg, err := webp.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)

	etag := rec.Header().Get("ETag")
	rec = do(t, handler, http.MethodGet, "/api/thumbnail/pics/wide.png?size=100&quality=60", "", map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, rec.Code)

	rec = do(t, handler, http.MethodGet, "/api/thumbnail/pics/wide.png?size=100&quality=90", "", map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusOK, rec.Code, "another quality is another rendition")

	rec = do(t, handler, http.MethodGet, "/api/thumbnail/pics/wide.png?size=big", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, handler, http.MethodGet, "/api/thumbnail/pics/none.png", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	writePNG(t, root, "flat.png", 64, 64)
	rec = do(t, handler, http.MethodGet, "/api/file/flat.png/thumbnail?size=32", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg, err = webp.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Width)
}

func TestThumbnailFallsBackToOriginal(t *testing.T) {
	handler, root := newTestServer(t)
	writeFile(t, root, "broken.png", []byte("definitely not a png"))
	writeFile(t, root, "clip.mp4", []byte("movie bytes"))

	rec := do(t, handler, http.MethodGet, "/api/thumbnail/broken.png", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "definitely not a png", rec.Body.String())
	assert.Empty(t, rec.Header().Get("X-Thumbnail"))

	rec = do(t, handler, http.MethodGet, "/api/thumbnail/clip.mp4", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "movie bytes", rec.Body.String())
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
}

func TestSaveQuizAnswer(t *testing.T) {
	handler, root := newTestServer(t)

	quiz1 := `{"type":"quiz","question":"First?","options":["a","b"]}`
	quiz2 := `{"type":"quiz","question":"Second?","options":["yes","no","maybe"]}`
	answer := fmt.Sprintf(`{"quiz_item":%s,"selected_option_index":1}`, quiz2)

	rec := do(t, handler, http.MethodPost, "/api/save-quiz-answer", answer, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	writeFile(t, root, order.ManifestName, []byte(fmt.Sprintf(`{"order":[%s,"x.png",%s]}`, quiz1, quiz2)))

	rec = do(t, handler, http.MethodPost, "/api/save-quiz-answer", answer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeJSON(t, rec)["result"].(map[string]any)
	assert.EqualValues(t, 2, result["quiz_number"])
	assert.EqualValues(t, 2, result["option_number"])
	assert.Equal(t, "no", result["selected_option"])
	assert.Equal(t, "Second?", result["question"])

	// Answering again replaces the earlier record.
	rec = do(t, handler, http.MethodPost, "/api/save-quiz-answer", fmt.Sprintf(`{"quiz_item":%s,"selected_option_index":7}`, quiz2), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", decodeJSON(t, rec)["result"].(map[string]any)["selected_option"])

	rec = do(t, handler, http.MethodGet, "/api/quiz-results", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stored := decodeJSON(t, rec)["results"].([]any)
	require.Len(t, stored, 1)
	assert.EqualValues(t, 8, stored[0].(map[string]any)["option_number"])

	for _, body := range []string{`{"quiz_item":` + quiz1 + `}`, `{"selected_option_index":0}`, `{"quiz_item":` + quiz1 + `,"selected_option_index":-1}`, `nope`} {
		rec = do(t, handler, http.MethodPost, "/api/save-quiz-answer", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestResultsAppendAndChoiceUpsert(t *testing.T) {
	handler, _ := newTestServer(t)

	rec := do(t, handler, http.MethodGet, "/api/choice-results", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"choices":[]}`, rec.Body.String())

	rec = do(t, handler, http.MethodPost, "/api/quiz-results", `{"custom":true}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, handler, http.MethodPost, "/api/quiz-results", `["not","object"]`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, handler, http.MethodPost, "/api/save-choice", `{"choice_id":"c1","selected_id":"left"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, handler, http.MethodPost, "/api/save-choice", `{"choice_id":"c1","selected_id":"right","choice_index":3}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	payload := decodeJSON(t, rec)
	cacheData := payload["cacheData"].(map[string]any)["userChoices"].(map[string]any)
	assert.Equal(t, map[string]any{"c1": "right"}, cacheData["choices"])
	assert.EqualValues(t, 3, payload["result"].(map[string]any)["choice_index"])

	rec = do(t, handler, http.MethodGet, "/api/choice-results", "", nil)
	choices := decodeJSON(t, rec)["choices"].([]any)
	require.Len(t, choices, 1)
	assert.Equal(t, "right", choices[0].(map[string]any)["selected_id"])

	rec = do(t, handler, http.MethodPost, "/api/save-choice", `{"choice_id":"","selected_id":"x"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, handler, http.MethodPost, "/api/choice-results", `{"choice_id":"free-form"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, handler, http.MethodGet, "/api/choice-results", "", nil)
	assert.Len(t, decodeJSON(t, rec)["choices"].([]any), 2)
}

func TestMediaInfo(t *testing.T) {
	handler, root := newTestServer(t)
	writePNG(t, root, "info.png", 30, 20)

	rec := do(t, handler, http.MethodGet, "/api/media-info/info.png", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	payload := decodeJSON(t, rec)
	assert.Equal(t, "info.png", payload["path"])
	assert.Equal(t, "image", payload["kind"])
	assert.EqualValues(t, 30, payload["width"])
	assert.EqualValues(t, 20, payload["height"])

	writeFile(t, root, "notes.txt", []byte("x"))
	rec = do(t, handler, http.MethodGet, "/api/media-info/notes.txt", "", nil)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestCORS(t *testing.T) {
	handler, _ := newTestServer(t)

	preflight := map[string]string{
		"Origin":                         "http://localhost:3000",
		"Access-Control-Request-Method":  "POST",
		"Access-Control-Request-Headers": "Content-Type",
	}
	rec := do(t, handler, http.MethodOptions, "/api/order", "", preflight)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
	assert.Equal(t, "Content-Type", rec.Header().Get("Access-Control-Allow-Headers"))

	preflight["Origin"] = "http://evil.example"
	rec = do(t, handler, http.MethodOptions, "/api/order", "", preflight)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, handler, http.MethodGet, "/health", "", map[string]string{"Origin": "http://evil.example"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLargeJSONIsCompressed(t *testing.T) {
	handler, _ := newTestServer(t)

	nodes := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		nodes = append(nodes, fmt.Sprintf(`{"type":"quiz","question":"Question number %d?","options":["one","two","three"]}`, i))
	}
	doc := `{"order":[` + strings.Join(nodes, ",") + `]}`
	rec := do(t, handler, http.MethodPost, "/api/order", doc, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, handler, http.MethodGet, "/api/order", "", map[string]string{"Accept-Encoding": "gzip"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
}
