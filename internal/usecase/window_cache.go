package usecase

import (
	"sync"

	"github.com/yehancha/crypto-dashboard/internal/domain"
)

// BufferKey identifies one candle buffer.
type BufferKey struct {
	Symbol     string
	Resolution domain.Resolution
}

type windowCacheKey struct {
	size      int
	firstOpen int64
}

// WindowRangeCache memoizes window aggregates per buffer, keyed by window
// size and the open time of the window's first candle. Buffers only append
// new candles and evict old ones, so an entry never has to be recomputed;
// it is simply dropped once its first candle leaves the buffer.
type WindowRangeCache struct {
	mu      sync.Mutex
	entries map[BufferKey]map[windowCacheKey]domain.WindowAggregate
}

func NewWindowRangeCache() *WindowRangeCache {
	return &WindowRangeCache{entries: make(map[BufferKey]map[windowCacheKey]domain.WindowAggregate)}
}

// Get looks up the aggregate for the window of the given size starting at
// firstOpen.
func (c *WindowRangeCache) Get(key BufferKey, size int, firstOpen int64) (domain.WindowAggregate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	agg, ok := c.entries[key][windowCacheKey{size: size, firstOpen: firstOpen}]
	return agg, ok
}

// Put stores the aggregate for the window of the given size starting at
// firstOpen.
func (c *WindowRangeCache) Put(key BufferKey, size int, firstOpen int64, agg domain.WindowAggregate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bucket, ok := c.entries[key]
	if !ok {
		bucket = make(map[windowCacheKey]domain.WindowAggregate)
		c.entries[key] = bucket
	}
	bucket[windowCacheKey{size: size, firstOpen: firstOpen}] = agg
}

// Prune drops every entry whose first candle is no longer in the buffer.
// An empty buffer clears the bucket entirely.
func (c *WindowRangeCache) Prune(key BufferKey, buffer []domain.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(buffer) == 0 {
		delete(c.entries, key)
		return
	}
	bucket, ok := c.entries[key]
	if !ok {
		return
	}
	resident := make(map[int64]struct{}, len(buffer))
	for _, candle := range buffer {
		resident[candle.OpenTime] = struct{}{}
	}
	for k := range bucket {
		if _, ok := resident[k.firstOpen]; !ok {
			delete(bucket, k)
		}
	}
}

// Drop removes the whole bucket for a buffer.
func (c *WindowRangeCache) Drop(key BufferKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of cached aggregates for a buffer.
func (c *WindowRangeCache) Len(key BufferKey) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries[key])
}
