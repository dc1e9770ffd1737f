package scanning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachingExtractor remembers successful extractions of identical uploads so a
// re-submitted photo does not cost another model call. Failures are not cached.
// Returned extractions are shared and must be treated as read-only.
type CachingExtractor struct {
	next  Extractor
	cache *cache.Cache
}

// NewCachingExtractor wraps next with a cache whose entries live for ttl
func NewCachingExtractor(next Extractor, ttl time.Duration) *CachingExtractor {
	return &CachingExtractor{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

// Extract returns a cached extraction for the same bytes and content type, or delegates
func (c *CachingExtractor) Extract(ctx context.Context, imageData []byte, contentType string) (*RawExtraction, error) {
	key := cacheKey(imageData, contentType)
	if v, ok := c.cache.Get(key); ok {
		slog.Debug("Extraction cache hit", "key", key)
		return v.(*RawExtraction), nil
	}

	data, err := c.next.Extract(ctx, imageData, contentType)
	if err != nil {
		return nil, err
	}

	c.cache.SetDefault(key, data)
	return data, nil
}

// Close closes the wrapped extractor
func (c *CachingExtractor) Close() error {
	c.cache.Flush()
	return c.next.Close()
}

func cacheKey(imageData []byte, contentType string) string {
	h := sha256.New()
	h.Write([]byte(contentType))
	h.Write([]byte{0})
	h.Write(imageData)
	return hex.EncodeToString(h.Sum(nil))
}
