package usecase

import (
	"math"

	"github.com/yehancha/crypto-dashboard/internal/domain"
)

// WindowStatsEngine computes the per-window-size statistics table for a
// candle buffer, memoizing window aggregates through the cache.
type WindowStatsEngine struct {
	maxWindow int
	cache     *WindowRangeCache
}

func NewWindowStatsEngine(maxWindow int, cache *WindowRangeCache) *WindowStatsEngine {
	return &WindowStatsEngine{maxWindow: maxWindow, cache: cache}
}

// MaxWindow returns the largest window size the engine evaluates.
func (e *WindowStatsEngine) MaxWindow() int {
	return e.maxWindow
}

// Evaluate returns one row per window size, ordered from maxWindow down
// to 1. Window sizes the buffer cannot fill yet yield their zero
// placeholder, so the table length never varies.
func (e *WindowStatsEngine) Evaluate(key BufferKey, buffer []domain.Candle) []domain.WindowRange {
	out := make([]domain.WindowRange, 0, e.maxWindow)
	for size := e.maxWindow; size >= 1; size-- {
		out = append(out, e.evaluateSize(key, buffer, size))
	}
	return out
}

// Placeholders returns the zero table published before any candles arrive.
func (e *WindowStatsEngine) Placeholders() []domain.WindowRange {
	out := make([]domain.WindowRange, 0, e.maxWindow)
	for size := e.maxWindow; size >= 1; size-- {
		out = append(out, domain.WindowRange{WindowSize: size})
	}
	return out
}

func (e *WindowStatsEngine) evaluateSize(key BufferKey, buffer []domain.Candle, size int) domain.WindowRange {
	if len(buffer) < size {
		return domain.WindowRange{WindowSize: size}
	}

	var (
		best      domain.WindowAggregate
		bestAt    int
		weightSum float64
		wmaRange  float64
		wmaVol    float64
		wmaChange float64
		sumChange float64
		maxChange float64
		maxVol    float64
	)

	positions := len(buffer) - size + 1
	for i := 0; i < positions; i++ {
		firstOpen := buffer[i].OpenTime
		agg, ok := e.cache.Get(key, size, firstOpen)
		if !ok {
			agg = scanWindow(buffer[i : i+size])
			e.cache.Put(key, size, firstOpen, agg)
		}

		// Strictly greater keeps the earliest window on ties.
		if i == 0 || agg.Range > best.Range {
			best = agg
			bestAt = i
		}

		// Oldest position weighs 1, the most recent weighs the most.
		w := float64(i + 1)
		weightSum += w
		wmaRange += agg.Range * w
		wmaVol += agg.Volatility * w

		change := math.Abs(buffer[i+size-1].CloseF() - buffer[i].OpenF())
		wmaChange += change * w
		sumChange += change
		if change > maxChange {
			maxChange = change
		}
		if agg.Volatility > maxVol {
			maxVol = agg.Volatility
		}
	}

	high, low := originalPriceStrings(buffer[bestAt:bestAt+size], best)
	return domain.WindowRange{
		WindowSize:    size,
		Range:         best.Range,
		High:          high,
		Low:           low,
		WMA:           wmaRange / weightSum,
		AvgAbsChange:  sumChange / float64(positions),
		WMAAbsChange:  wmaChange / weightSum,
		MaxAbsChange:  maxChange,
		MaxVolatility: maxVol,
		WMAVolatility: wmaVol / weightSum,
	}
}

// scanWindow aggregates one window slice: the range bounds plus the wick
// activity of every candle normalized by the window range. A candle that
// travels its full high-low span twice minus its body counts fully, so
// choppy windows score higher than single directional moves.
func scanWindow(window []domain.Candle) domain.WindowAggregate {
	high := math.Inf(-1)
	low := math.Inf(1)
	for _, c := range window {
		if c.HighF() > high {
			high = c.HighF()
		}
		if c.LowF() < low {
			low = c.LowF()
		}
	}
	rng := high - low

	var vol float64
	if rng > 0 {
		var travel float64
		for _, c := range window {
			travel += (c.HighF()-c.LowF())*2 - c.AbsChange()
		}
		vol = travel / rng
	}

	return domain.WindowAggregate{High: high, Low: low, Range: rng, Volatility: vol}
}

// originalPriceStrings resolves the numeric window bounds back to the exact
// decimal strings of the first candles that reached them.
func originalPriceStrings(window []domain.Candle, agg domain.WindowAggregate) (high, low string) {
	for _, c := range window {
		if high == "" && c.HighF() == agg.High {
			high = c.High
		}
		if low == "" && c.LowF() == agg.Low {
			low = c.Low
		}
		if high != "" && low != "" {
			break
		}
	}
	return high, low
}
