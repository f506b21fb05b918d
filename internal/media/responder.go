// Package media serves files from the contents root with conditional and
// range request support.
package media

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	pathpkg "path"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"media-viewer/internal/cache"
	"media-viewer/internal/metrics"
)

const (
	// DefaultStreamThreshold is the size from which full responses are streamed
	// instead of being read into memory first.
	DefaultStreamThreshold int64 = 1 << 20

	// ImmutableCacheControl is sent with every file response.
	ImmutableCacheControl = "public, max-age=31536000, immutable"

	chunkSize = 32 << 10
)

// ErrNotFound is returned for paths outside the root, missing files and directories.
var ErrNotFound = errors.New("media not found")

type bodyMode int

const (
	bodyNone bodyMode = iota
	bodyFull
	bodyStream
	bodyRange
)

func (m bodyMode) String() string {
	switch m {
	case bodyFull:
		return "full"
	case bodyStream:
		return "stream"
	case bodyRange:
		return "range"
	}
	return "none"
}

// Responder resolves request paths below a root directory.
type Responder struct {
	root      string
	realRoot  string
	threshold int64
	logger    *zap.Logger
}

// NewResponder creates a Responder. A non-positive threshold selects DefaultStreamThreshold.
func NewResponder(root string, threshold int64, logger *zap.Logger) (*Responder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 {
		threshold = DefaultStreamThreshold
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve media root: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(abs)
	if err != nil {
		realRoot = abs
	}
	return &Responder{root: abs, realRoot: realRoot, threshold: threshold, logger: logger.Named("media")}, nil
}

// Root returns the absolute contents root.
func (r *Responder) Root() string {
	return r.root
}

// Locate maps a forward-slash relative path to a regular file under the root.
// Symlinks are resolved and must stay inside the root.
func (r *Responder) Locate(rel string) (string, fs.FileInfo, error) {
	rel = pathpkg.Clean(strings.ReplaceAll(rel, "\\", "/"))
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || rel == "." {
		return "", nil, ErrNotFound
	}

	target := filepath.Join(r.root, filepath.FromSlash(rel))
	if !pathWithinRoot(r.root, target) {
		return "", nil, ErrNotFound
	}

	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil, ErrNotFound
		}
		return "", nil, fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return "", nil, ErrNotFound
	}

	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil, ErrNotFound
		}
		return "", nil, fmt.Errorf("resolve %s: %w", rel, err)
	}
	if !pathWithinRoot(r.realRoot, resolved) {
		r.logger.Debug("symlink leaves media root", zap.String("path", rel))
		return "", nil, ErrNotFound
	}
	return target, info, nil
}

// Response describes how a media request will be answered. Nothing is read
// from disk until Write is called.
type Response struct {
	Status int
	Header http.Header

	path   string
	offset int64
	length int64
	mode   bodyMode
	logger *zap.Logger
}

// Describe decides status, headers and body range for a request of rel.
func (r *Responder) Describe(rel string, req *http.Request) (*Response, error) {
	path, info, err := r.Locate(rel)
	if err != nil {
		return nil, err
	}

	size := info.Size()
	modTime := info.ModTime()
	etag := cache.Fingerprint(filepath.ToSlash(rel), modTime, size)

	header := make(http.Header)
	header.Set("ETag", etag)
	header.Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
	header.Set("Cache-Control", ImmutableCacheControl)

	resp := &Response{Header: header, path: path, logger: r.logger}

	if cache.NotModified(req, etag, modTime) {
		resp.Status = http.StatusNotModified
		return resp, nil
	}

	header.Set("Accept-Ranges", "bytes")
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set("Content-Type", ContentType(path))

	if start, length, ok := parseRange(req.Header.Get("Range"), size); ok {
		resp.Status = http.StatusPartialContent
		resp.offset = start
		resp.length = length
		resp.mode = bodyRange
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, start+length-1, size))
	} else {
		resp.Status = http.StatusOK
		resp.length = size
		resp.mode = bodyFull
		if size >= r.threshold {
			resp.mode = bodyStream
		}
	}
	header.Set("Content-Length", strconv.FormatInt(resp.length, 10))

	if req.Method == http.MethodHead {
		resp.mode = bodyNone
	}
	return resp, nil
}

// Write sends the response. Errors returned before any header is written can
// still be reported to the client by the caller.
func (resp *Response) Write(w http.ResponseWriter) error {
	if resp.mode == bodyNone {
		copyHeader(w.Header(), resp.Header)
		w.WriteHeader(resp.Status)
		return nil
	}

	if resp.mode == bodyFull {
		data, err := os.ReadFile(resp.path)
		if err != nil {
			return openError(err)
		}
		copyHeader(w.Header(), resp.Header)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(resp.Status)
		n, err := w.Write(data)
		metrics.RecordMediaBytes(resp.mode.String(), int64(n))
		return err
	}

	f, err := os.Open(resp.path)
	if err != nil {
		return openError(err)
	}
	defer f.Close()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.Status)

	n, err := copyChunks(w, io.NewSectionReader(f, resp.offset, resp.length))
	metrics.RecordMediaBytes(resp.mode.String(), n)
	if err != nil {
		resp.logger.Debug("media stream interrupted", zap.String("path", resp.path), zap.Int64("written", n), zap.Error(err))
	}
	return err
}

// ServeRaw writes rel with its content type and no conditional or range handling.
func (r *Responder) ServeRaw(w http.ResponseWriter, req *http.Request, rel string) error {
	path, info, err := r.Locate(rel)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return openError(err)
	}
	defer f.Close()

	w.Header().Set("Content-Type", ContentType(path))
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)
	if req.Method == http.MethodHead {
		return nil
	}

	n, err := copyChunks(w, io.LimitReader(f, info.Size()))
	metrics.RecordMediaBytes(bodyStream.String(), n)
	return err
}

func copyChunks(w io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := w.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// parseRange accepts a single "bytes=start-end" range. The end is optional
// and clamped to the last byte; suffix ranges, multiple ranges and ranges
// starting at or past the end are rejected.
func parseRange(header string, size int64) (start, length int64, ok bool) {
	const prefix = "bytes="
	if header == "" || !strings.HasPrefix(header, prefix) {
		return 0, 0, false
	}
	spec := strings.TrimSpace(header[len(prefix):])
	if strings.Contains(spec, ",") {
		return 0, 0, false
	}

	startText, endText, found := strings.Cut(spec, "-")
	if !found || startText == "" {
		return 0, 0, false
	}

	start, err := strconv.ParseInt(strings.TrimSpace(startText), 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, false
	}

	end := size - 1
	if endText = strings.TrimSpace(endText); endText != "" {
		parsed, err := strconv.ParseInt(endText, 10, 64)
		if err != nil || parsed < start {
			return 0, 0, false
		}
		if parsed < end {
			end = parsed
		}
	}
	return start, end - start + 1, true
}

func openError(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func copyHeader(dst, src http.Header) {
	for key, values := range src {
		dst[key] = append([]string(nil), values...)
	}
}

func pathWithinRoot(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	return rel != ".." && !strings.HasPrefix(rel, "../")
}
