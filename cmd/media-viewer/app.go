package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"media-viewer/internal/cache"
	"media-viewer/internal/config"
	"media-viewer/internal/library"
	"media-viewer/internal/logging"
	"media-viewer/internal/media"
	"media-viewer/internal/order"
	"media-viewer/internal/results"
	"media-viewer/internal/thumbnail"
)

// app holds the wired services shared by every command.
type app struct {
	settings  config.Settings
	logger    *zap.Logger
	files     order.FileLister
	sequences *order.Service
	media     *media.Responder
	thumbs    *thumbnail.Generator
	results   *results.Recorder

	closers []func() error
}

// scanLister scans the contents root on every call, without a watcher.
type scanLister struct {
	root    string
	allowed []string
	exclude []string
	logger  *zap.Logger
}

func (s scanLister) Files() ([]string, error) {
	return library.Scan(s.root, s.allowed, s.exclude, s.logger)
}

// newApp resolves settings and builds the services. watch starts the
// file-system watcher that drops the cached sequence on changes.
func newApp(watch bool) (*app, error) {
	settings, err := config.Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolve settings: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: settings.LogLevel, Format: settings.LogFormat})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	a := &app{settings: settings, logger: logger}
	a.closers = append(a.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	var exclude []string
	if settings.ThumbnailDir != "" {
		exclude = append(exclude, settings.ThumbnailDir)
	}
	allowed := config.AllowedExtensions()

	var lib *library.Library
	if watch {
		lib, err = library.NewLibrary(settings.ContentsDir, allowed, settings.RefreshDebounce, logger,
			library.WithExclude(exclude...),
			library.WithWatchedFiles(order.ManifestName),
		)
		if err != nil {
			return nil, fmt.Errorf("initialise library: %w", err)
		}
		a.closers = append(a.closers, lib.Close)
		a.files = lib
	} else {
		a.files = scanLister{root: settings.ContentsDir, allowed: allowed, exclude: exclude, logger: logger}
	}

	a.sequences = order.NewService(a.files, order.NewStore(settings.ContentsDir, logger), cache.NewSequenceCache(settings.SequenceTTL), logger)
	if lib != nil {
		lib.OnChange(a.sequences.Invalidate)
	}

	a.media, err = media.NewResponder(settings.ContentsDir, settings.StreamThreshold, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	memory := cache.NewThumbnailCache(settings.ThumbnailCacheBytes, settings.ThumbnailCacheEntries)
	a.thumbs, err = thumbnail.NewGenerator(a.media, memory, thumbnail.Options{
		Dir:     settings.ThumbnailDir,
		Workers: settings.ThumbnailWorkers,
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.results = results.NewRecorder(settings.ContentsDir, logger)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
