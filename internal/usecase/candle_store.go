package usecase

import (
	"sort"
	"sync"
	"time"

	"github.com/yehancha/crypto-dashboard/internal/domain"
)

// FetchKind tells a polling cycle what kind of kline request a buffer needs.
type FetchKind int

const (
	FetchNone FetchKind = iota
	FetchFull
	FetchIncremental
)

// FetchPlan is the request a candle refresh cycle should issue for one
// buffer. Limit always includes one extra row for the still-forming candle
// the merge step discards.
type FetchPlan struct {
	Kind  FetchKind
	Limit int
}

// CandleStore owns the bounded candle buffers, one per (symbol, resolution).
// Buffers hold at most limit completed candles in ascending open-time order.
// Every merge prunes the window cache so memoized aggregates never outlive
// the candles they were computed from.
type CandleStore struct {
	mu      sync.RWMutex
	limit   int
	buffers map[BufferKey][]domain.Candle
	cache   *WindowRangeCache
}

func NewCandleStore(limit int, cache *WindowRangeCache) *CandleStore {
	return &CandleStore{
		limit:   limit,
		buffers: make(map[BufferKey][]domain.Candle),
		cache:   cache,
	}
}

// PlanRefresh decides between a full refetch and an incremental top-up for
// the buffer. A missing or underfilled buffer always needs a full fetch.
// A full buffer needs as many candles as bucket boundaries have passed since
// its newest entry, clamped to the buffer size, plus the forming candle.
func (s *CandleStore) PlanRefresh(key BufferKey, now time.Time) FetchPlan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf, ok := s.buffers[key]
	if !ok || len(buf) < s.limit {
		return FetchPlan{Kind: FetchFull, Limit: s.limit + 1}
	}

	missing := s.missingCandles(buf, key.Resolution, now)
	if missing <= 0 {
		return FetchPlan{Kind: FetchNone}
	}
	return FetchPlan{Kind: FetchIncremental, Limit: missing + 1}
}

func (s *CandleStore) missingCandles(buf []domain.Candle, res domain.Resolution, now time.Time) int {
	step := res.StepMillis()
	latestOpen := now.UnixMilli() / step * step
	missing := (latestOpen - buf[len(buf)-1].OpenTime) / step
	if missing < 0 {
		missing = 0
	}
	if missing > int64(s.limit) {
		missing = int64(s.limit)
	}
	return int(missing)
}

// MergeFull replaces the buffer with a fresh fetch. The last row is always
// the still-forming candle and is discarded.
func (s *CandleStore) MergeFull(key BufferKey, candles []domain.Candle) {
	completed := discardForming(candles)
	if len(completed) > s.limit {
		completed = completed[len(completed)-s.limit:]
	}

	buf := make([]domain.Candle, len(completed))
	copy(buf, completed)

	s.mu.Lock()
	s.buffers[key] = buf
	s.mu.Unlock()

	s.cache.Prune(key, buf)
}

// MergeIncremental appends newly completed candles to the buffer. The last
// row is discarded as still forming, rows already buffered are filtered out
// by open time, and the buffer is re-sorted and trimmed to the limit from
// the oldest end. Merging the same response twice is a no-op.
func (s *CandleStore) MergeIncremental(key BufferKey, candles []domain.Candle) {
	completed := discardForming(candles)

	s.mu.Lock()
	buf := s.buffers[key]
	seen := make(map[int64]struct{}, len(buf))
	for _, c := range buf {
		seen[c.OpenTime] = struct{}{}
	}
	for _, c := range completed {
		if _, ok := seen[c.OpenTime]; ok {
			continue
		}
		buf = append(buf, c)
		seen[c.OpenTime] = struct{}{}
	}
	sort.Slice(buf, func(i, j int) bool { return buf[i].OpenTime < buf[j].OpenTime })
	if len(buf) > s.limit {
		buf = buf[len(buf)-s.limit:]
	}
	s.buffers[key] = buf
	s.mu.Unlock()

	s.cache.Prune(key, buf)
}

func discardForming(candles []domain.Candle) []domain.Candle {
	if len(candles) == 0 {
		return nil
	}
	return candles[:len(candles)-1]
}

// Buffer returns a copy of the buffer, oldest candle first.
func (s *CandleStore) Buffer(key BufferKey) []domain.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.buffers[key]
	out := make([]domain.Candle, len(buf))
	copy(out, buf)
	return out
}

// Len returns the number of buffered candles.
func (s *CandleStore) Len(key BufferKey) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buffers[key])
}

// Sizes returns the current length of every buffer.
func (s *CandleStore) Sizes() map[BufferKey]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[BufferKey]int, len(s.buffers))
	for key, buf := range s.buffers {
		out[key] = len(buf)
	}
	return out
}

// Drop removes every buffer of the symbol, in all resolutions, along with
// the cached aggregates.
func (s *CandleStore) Drop(symbol string) {
	s.mu.Lock()
	var dropped []BufferKey
	for key := range s.buffers {
		if key.Symbol == symbol {
			dropped = append(dropped, key)
			delete(s.buffers, key)
		}
	}
	s.mu.Unlock()

	for _, key := range dropped {
		s.cache.Drop(key)
	}
	// The cache may hold a bucket for a resolution that never buffered.
	s.cache.Drop(BufferKey{Symbol: symbol, Resolution: domain.ResolutionMinute})
	s.cache.Drop(BufferKey{Symbol: symbol, Resolution: domain.ResolutionHour})
}
