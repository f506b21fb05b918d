// Package thumbnail renders WebP thumbnails of images in the contents root.
package thumbnail

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"media-viewer/internal/cache"
	"media-viewer/internal/metrics"
	"media-viewer/internal/models"
)

// ErrNotImage is returned for sources that are not supported images.
var ErrNotImage = errors.New("not an image")

// Locator resolves a relative media path to a file on disk.
type Locator interface {
	Locate(rel string) (string, fs.FileInfo, error)
}

// Options configures a Generator.
type Options struct {
	// Dir is the persistent mirror directory. Empty disables the mirror.
	Dir string
	// Workers bounds concurrent encodes; zero means GOMAXPROCS.
	Workers int
}

// Source says where a thumbnail came from.
type Source string

const (
	FromMemory    Source = "memory"
	FromDisk      Source = "disk"
	FromGenerated Source = "generated"
)

// Result is a rendered thumbnail.
type Result struct {
	Data   []byte
	Source Source
}

// Generator produces thumbnails through the memory cache, the disk mirror and
// a bounded encoding pool, in that order.
type Generator struct {
	locator Locator
	memory  *cache.ThumbnailCache
	dir     string
	sem     *semaphore.Weighted
	group   singleflight.Group
	logger  *zap.Logger
	now     func() time.Time
}

// NewGenerator creates a Generator. A nil memory cache gets a default-sized one.
func NewGenerator(locator Locator, memory *cache.ThumbnailCache, opts Options, logger *zap.Logger) (*Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if memory == nil {
		memory = cache.NewThumbnailCache(0, 0)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create thumbnail dir: %w", err)
		}
	}
	return &Generator{
		locator: locator,
		memory:  memory,
		dir:     opts.Dir,
		sem:     semaphore.NewWeighted(int64(workers)),
		logger:  logger.Named("thumbnail"),
		now:     time.Now,
	}, nil
}

// Dir returns the persistent mirror directory, or "" when disabled.
func (g *Generator) Dir() string {
	return g.dir
}

// DiskName is the mirror file name for one rendition of rel.
func DiskName(rel string, params Params) string {
	sum := sha1.Sum([]byte(rel))
	return fmt.Sprintf("%s_%d_q%d.webp", hex.EncodeToString(sum[:]), params.Size, params.Quality)
}

// ETag identifies one rendition of a source file.
func ETag(rel string, params Params, info fs.FileInfo) string {
	return cache.Fingerprint(fmt.Sprintf("%s-%d-%d", rel, params.Size, params.Quality), info.ModTime(), info.Size())
}

// IsImage reports whether rel names a supported image.
func IsImage(rel string) bool {
	kind, ok := models.KindOf(rel)
	return ok && kind == models.MediaImage
}

// Thumbnail returns the rendition of rel. persist enables the disk mirror for
// this lookup.
func (g *Generator) Thumbnail(ctx context.Context, rel string, params Params, persist bool) (*Result, error) {
	if !IsImage(rel) {
		return nil, ErrNotImage
	}
	path, info, err := g.locator.Locate(rel)
	if err != nil {
		return nil, err
	}
	srcMod := info.ModTime()

	key := cache.ThumbnailKey{Path: rel, Size: params.Size, Quality: params.Quality}
	if entry, ok := g.memory.Get(key); ok && entry.CreatedAt.After(srcMod) {
		metrics.RecordCacheLookup("thumbnail", true)
		return &Result{Data: entry.Data, Source: FromMemory}, nil
	}
	metrics.RecordCacheLookup("thumbnail", false)

	diskPath := ""
	if persist && g.dir != "" {
		diskPath = filepath.Join(g.dir, DiskName(rel, params))
		if data, ok := g.readMirror(diskPath, srcMod); ok {
			g.memory.Put(key, cache.ThumbnailEntry{Data: data, CreatedAt: g.now()})
			return &Result{Data: data, Source: FromDisk}, nil
		}
	}

	flight := fmt.Sprintf("%s|%d|%d|%t", rel, params.Size, params.Quality, persist)
	// The shared generation outlives any single caller; each caller stops
	// waiting on its own context.
	ch := g.group.DoChan(flight, func() (any, error) {
		data, err := g.generate(context.WithoutCancel(ctx), path, params)
		if err != nil {
			return nil, err
		}
		g.memory.Put(key, cache.ThumbnailEntry{Data: data, CreatedAt: g.now()})
		if diskPath != "" {
			if err := writeMirror(diskPath, data); err != nil {
				g.logger.Warn("thumbnail mirror write failed", zap.String("path", diskPath), zap.Error(err))
			}
		}
		return data, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return &Result{Data: res.Val.([]byte), Source: FromGenerated}, nil
	}
}

func (g *Generator) readMirror(path string, srcMod time.Time) ([]byte, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.ModTime().After(srcMod) {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		g.logger.Warn("thumbnail mirror read failed", zap.String("path", path), zap.Error(err))
		return nil, false
	}
	return data, true
}

func (g *Generator) generate(ctx context.Context, path string, params Params) ([]byte, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)

	started := time.Now()
	data, err := render(path, params)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", filepath.Base(path), err)
	}
	metrics.RecordThumbnailGeneration(time.Since(started))
	g.logger.Debug("thumbnail generated",
		zap.String("path", path),
		zap.Int("size", params.Size),
		zap.Int("quality", params.Quality),
		zap.Int("bytes", len(data)),
		zap.Duration("took", time.Since(started)),
	)
	return data, nil
}

func render(path string, params Params) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := decode(f, path)
	if err != nil {
		return nil, err
	}

	thumb := imaging.Fit(img, params.Size, params.Size, imaging.Lanczos)

	var out image.Image = thumb
	if !hasAlpha(img) {
		out = flatten(thumb)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, out, &webp.Options{Quality: float32(params.Quality)}); err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	return buf.Bytes(), nil
}

func decode(r io.Reader, path string) (image.Image, error) {
	if strings.EqualFold(filepath.Ext(path), ".webp") {
		return webp.Decode(r)
	}
	return imaging.Decode(r, imaging.AutoOrientation(true))
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}

func flatten(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Over)
	return dst
}

func writeMirror(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".thumb-*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
