package cache

import (
	"container/list"
	"sync"
	"time"

	"media-viewer/internal/metrics"
)

const (
	DefaultThumbnailBytes   int64 = 64 << 20
	DefaultThumbnailEntries       = 512
)

// ThumbnailKey identifies one rendition of a source image.
type ThumbnailKey struct {
	Path    string
	Size    int
	Quality int
}

// ThumbnailEntry is an encoded thumbnail and the time it was produced.
type ThumbnailEntry struct {
	Data      []byte
	CreatedAt time.Time
}

type thumbnailItem struct {
	key   ThumbnailKey
	entry ThumbnailEntry
}

// ThumbnailCache is an LRU bounded by total bytes and by entry count.
type ThumbnailCache struct {
	mu         sync.Mutex
	maxBytes   int64
	maxEntries int
	bytes      int64
	order      *list.List
	items      map[ThumbnailKey]*list.Element
}

// NewThumbnailCache creates a cache. Non-positive bounds fall back to the defaults.
func NewThumbnailCache(maxBytes int64, maxEntries int) *ThumbnailCache {
	if maxBytes <= 0 {
		maxBytes = DefaultThumbnailBytes
	}
	if maxEntries <= 0 {
		maxEntries = DefaultThumbnailEntries
	}
	return &ThumbnailCache{
		maxBytes:   maxBytes,
		maxEntries: maxEntries,
		order:      list.New(),
		items:      make(map[ThumbnailKey]*list.Element),
	}
}

// Get returns the entry for key and marks it most recently used.
func (c *ThumbnailCache) Get(key ThumbnailKey) (ThumbnailEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return ThumbnailEntry{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*thumbnailItem).entry, true
}

// Put stores entry under key, evicting least recently used entries until both
// bounds hold. Entries larger than the byte bound are not stored; Put reports
// whether the entry was kept.
func (c *ThumbnailCache) Put(key ThumbnailKey, entry ThumbnailEntry) bool {
	size := int64(len(entry.Data))
	if size > c.maxBytes {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		item := elem.Value.(*thumbnailItem)
		c.bytes += size - int64(len(item.entry.Data))
		item.entry = entry
		c.order.MoveToFront(elem)
	} else {
		c.items[key] = c.order.PushFront(&thumbnailItem{key: key, entry: entry})
		c.bytes += size
	}

	for c.bytes > c.maxBytes || c.order.Len() > c.maxEntries {
		c.removeElement(c.order.Back())
	}
	metrics.SetThumbnailCacheSize(c.bytes, c.order.Len())
	return true
}

// Remove drops key if present.
func (c *ThumbnailCache) Remove(key ThumbnailKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
		metrics.SetThumbnailCacheSize(c.bytes, c.order.Len())
	}
}

// Len returns the number of cached entries.
func (c *ThumbnailCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Bytes returns the total size of the cached entries.
func (c *ThumbnailCache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

func (c *ThumbnailCache) removeElement(elem *list.Element) {
	item := c.order.Remove(elem).(*thumbnailItem)
	delete(c.items, item.key)
	c.bytes -= int64(len(item.entry.Data))
}
