// Package cache holds the response caches: the single-slot playback sequence
// cache, the bounded thumbnail LRU and the conditional-request helpers.
package cache

import (
	"errors"
	"os"
	"sync"
	"time"

	"media-viewer/internal/models"
)

// DefaultSequenceTTL is how long a resolved sequence is served without rescanning.
const DefaultSequenceTTL = 60 * time.Second

// ManifestState records whether the order manifest existed and when it was
// last modified.
type ManifestState struct {
	Present bool
	ModTime time.Time
}

// StatManifest captures the manifest state at path. Any stat failure other
// than absence is reported alongside an absent state.
func StatManifest(path string) (ManifestState, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ManifestState{}, nil
		}
		return ManifestState{}, err
	}
	return ManifestState{Present: true, ModTime: info.ModTime()}, nil
}

// SequenceEntry is a resolved sequence together with its encoded body.
type SequenceEntry struct {
	Items      []models.PlaybackItem
	Body       []byte
	ETag       string
	ComputedAt time.Time
	Manifest   ManifestState
}

// SequenceCache keeps at most one resolved sequence.
type SequenceCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	entry *SequenceEntry
}

// NewSequenceCache creates an empty cache. A non-positive ttl disables caching.
func NewSequenceCache(ttl time.Duration) *SequenceCache {
	return &SequenceCache{ttl: ttl}
}

// TTL returns the configured time to live.
func (c *SequenceCache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached entry if it is younger than the TTL and the manifest
// has not appeared, disappeared or been modified since it was computed.
func (c *SequenceCache) Get(now time.Time, manifest ManifestState) (*SequenceEntry, bool) {
	c.mu.Lock()
	entry := c.entry
	c.mu.Unlock()

	if entry == nil || c.ttl <= 0 {
		return nil, false
	}
	if now.Sub(entry.ComputedAt) >= c.ttl {
		return nil, false
	}
	if manifest.Present != entry.Manifest.Present {
		return nil, false
	}
	if manifest.Present {
		if manifest.ModTime.After(entry.ComputedAt) || !manifest.ModTime.Equal(entry.Manifest.ModTime) {
			return nil, false
		}
	}
	return entry, true
}

// Put replaces the cached entry.
func (c *SequenceCache) Put(entry *SequenceEntry) {
	c.mu.Lock()
	c.entry = entry
	c.mu.Unlock()
}

// Invalidate drops the cached entry.
func (c *SequenceCache) Invalidate() {
	c.mu.Lock()
	c.entry = nil
	c.mu.Unlock()
}
