package order

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"media-viewer/internal/cache"
	"media-viewer/internal/jsonfile"
	"media-viewer/internal/metrics"
	"media-viewer/internal/models"
)

// FileLister provides the media files currently under the contents root.
type FileLister interface {
	Files() ([]string, error)
}

// Service resolves the playback sequence through the sequence cache.
type Service struct {
	files  FileLister
	store  *Store
	cache  *cache.SequenceCache
	logger *zap.Logger
	now    func() time.Time
	stat   func(path string) (cache.ManifestState, error)
}

// NewService wires a Service. A nil cache disables caching.
func NewService(files FileLister, store *Store, sequences *cache.SequenceCache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sequences == nil {
		sequences = cache.NewSequenceCache(0)
	}
	return &Service{
		files:  files,
		store:  store,
		cache:  sequences,
		logger: logger.Named("sequence"),
		now:    time.Now,
		stat:   cache.StatManifest,
	}
}

// Store returns the manifest store backing the service.
func (s *Service) Store() *Store {
	return s.store
}

// Sequence returns the resolved playback sequence, recomputing it when the
// cached copy is stale.
func (s *Service) Sequence(ctx context.Context) (*cache.SequenceEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now()
	// An unknown manifest state can neither validate nor seed the cache.
	state, statErr := s.stat(s.store.Path())
	if statErr != nil {
		s.logger.Warn("manifest stat failed", zap.Error(statErr))
	} else if entry, ok := s.cache.Get(now, state); ok {
		metrics.RecordCacheLookup("sequence", true)
		return entry, nil
	}
	metrics.RecordCacheLookup("sequence", false)

	started := time.Now()
	available, err := s.files.Files()
	if err != nil {
		return nil, fmt.Errorf("scan contents: %w", err)
	}
	manifest, err := s.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	items := Resolve(manifest, available)
	body, err := jsonfile.Compact(items)
	if err != nil {
		return nil, fmt.Errorf("encode sequence: %w", err)
	}

	entry := &cache.SequenceEntry{
		Items:      items,
		Body:       body,
		ETag:       cache.BodyETag(body),
		ComputedAt: now,
		Manifest:   state,
	}
	if statErr == nil {
		s.cache.Put(entry)
	}
	metrics.RecordSequenceResolve(time.Since(started))

	s.logger.Debug("sequence resolved",
		zap.Int("files", len(available)),
		zap.Int("items", len(items)),
		zap.Bool("manifest", manifest != nil),
	)
	return entry, nil
}

// Replace validates and stores a new manifest and drops the cached sequence.
func (s *Service) Replace(doc []byte) (*models.OrderManifest, error) {
	manifest, err := s.store.Write(doc)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate()
	return manifest, nil
}

// Invalidate drops the cached sequence.
func (s *Service) Invalidate() {
	s.cache.Invalidate()
}
