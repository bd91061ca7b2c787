package templates

import (
	"fmt"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/printforge/mockupcore/pkg/pixelimg"
)

// AssetCache decodes and caches PNG assets by absolute path, bounded by an
// LRU so a catalog with more templates than fit in memory doesn't pin every
// base/displacement/mask image forever. This generalizes
// pkg/templates/image_cache.go (which cached one image per named template)
// to cache by file path, since a catalog's base/displacement/mask files are
// frequently shared across several template entries (e.g. the same mask
// reused for every color variant of a garment).
type AssetCache struct {
	mu    sync.Mutex
	lru   *lru.Cache
	stats CacheStats
}

// CacheStats tracks cache performance, mirroring image_cache.go's CacheStats.
type CacheStats struct {
	Hits   int64
	Misses int64
	Loads  int64
}

// NewAssetCache creates a cache bounded to at most capacity decoded images.
func NewAssetCache(capacity int) *AssetCache {
	if capacity <= 0 {
		capacity = 256
	}
	c, _ := lru.New(capacity)
	return &AssetCache{lru: c}
}

// Load decodes the PNG at path, serving from cache on repeat lookups.
func (ac *AssetCache) Load(path string) (*pixelimg.Image, error) {
	ac.mu.Lock()
	if v, ok := ac.lru.Get(path); ok {
		ac.stats.Hits++
		ac.mu.Unlock()
		return v.(*pixelimg.Image), nil
	}
	ac.stats.Misses++
	ac.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read asset %s: %w", path, err)
	}
	img, err := pixelimg.DecodeFile(data)
	if err != nil {
		return nil, fmt.Errorf("decode asset %s: %w", path, err)
	}

	ac.mu.Lock()
	ac.lru.Add(path, img)
	ac.stats.Loads++
	ac.mu.Unlock()

	return img, nil
}

// Stats returns a snapshot of cache counters.
func (ac *AssetCache) Stats() CacheStats {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.stats
}
