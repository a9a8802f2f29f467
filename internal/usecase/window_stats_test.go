package usecase_test

import (
	"fmt"
	"math"
	"reflect"
	"testing"

	"github.com/yehancha/crypto-dashboard/internal/domain"
	"github.com/yehancha/crypto-dashboard/internal/usecase"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// varyCandles builds n one-minute candles with deterministic but uneven
// prices so windows at different positions differ.
func varyCandles(t *testing.T, startMs int64, n int) []domain.Candle {
	t.Helper()
	out := make([]domain.Candle, 0, n)
	for i := 0; i < n; i++ {
		open := 100 + i%9
		high := 103 + (i*7)%6
		low := 96 - (i*3)%5
		close := 98 + (i*5)%8
		out = append(out, mustCandle(t, startMs+int64(i)*60_000,
			fmt.Sprintf("%d", open),
			fmt.Sprintf("%d", high),
			fmt.Sprintf("%d", low),
			fmt.Sprintf("%d", close),
			"10"))
	}
	return out
}

func TestEvaluateTwoCandleWindow(t *testing.T) {
	engine := usecase.NewWindowStatsEngine(2, usecase.NewWindowRangeCache())
	key := minuteKey("BTCUSDT")
	buffer := []domain.Candle{
		mustCandle(t, 0, "9", "10", "8", "9.5", "1"),
		mustCandle(t, 60_000, "9.5", "12", "9", "11", "1"),
	}

	rows := engine.Evaluate(key, buffer)
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}

	// Window size 2: a single position covering the whole buffer.
	w2 := rows[0]
	if w2.WindowSize != 2 {
		t.Fatalf("Expected first row to be window size 2, got %d", w2.WindowSize)
	}
	if w2.Range != 4 {
		t.Errorf("Expected range 4, got %v", w2.Range)
	}
	if w2.High != "12" || w2.Low != "8" {
		t.Errorf("Expected high \"12\" low \"8\", got %q %q", w2.High, w2.Low)
	}
	if w2.WMA != 4 {
		t.Errorf("Expected wma 4 for a single position, got %v", w2.WMA)
	}
	// Travel: (10-8)*2-0.5 = 3.5 and (12-9)*2-1.5 = 4.5, over range 4.
	if !approxEqual(w2.MaxVolatility, 2.0) || !approxEqual(w2.WMAVolatility, 2.0) {
		t.Errorf("Expected volatility 2.0, got max %v wma %v", w2.MaxVolatility, w2.WMAVolatility)
	}
	if w2.AvgAbsChange != 2 || w2.MaxAbsChange != 2 || w2.WMAAbsChange != 2 {
		t.Errorf("Expected abs change 2 across the board, got avg %v max %v wma %v",
			w2.AvgAbsChange, w2.MaxAbsChange, w2.WMAAbsChange)
	}

	// Window size 1: two positions, the recent one weighs double.
	w1 := rows[1]
	if w1.WindowSize != 1 {
		t.Fatalf("Expected second row to be window size 1, got %d", w1.WindowSize)
	}
	if w1.Range != 3 {
		t.Errorf("Expected max range 3, got %v", w1.Range)
	}
	if w1.High != "12" || w1.Low != "9" {
		t.Errorf("Expected high \"12\" low \"9\" from the wider candle, got %q %q", w1.High, w1.Low)
	}
	if !approxEqual(w1.WMA, 8.0/3.0) {
		t.Errorf("Expected wma 8/3, got %v", w1.WMA)
	}
	if !approxEqual(w1.WMAVolatility, 4.75/3.0) {
		t.Errorf("Expected wma volatility 4.75/3, got %v", w1.WMAVolatility)
	}
	if !approxEqual(w1.MaxVolatility, 1.75) {
		t.Errorf("Expected max volatility 1.75, got %v", w1.MaxVolatility)
	}
	if !approxEqual(w1.AvgAbsChange, 1.0) || !approxEqual(w1.WMAAbsChange, 3.5/3.0) || w1.MaxAbsChange != 1.5 {
		t.Errorf("Expected avg 1.0 wma 3.5/3 max 1.5, got %v %v %v",
			w1.AvgAbsChange, w1.WMAAbsChange, w1.MaxAbsChange)
	}
}

func TestEvaluateKeepsFirstWindowOnRangeTie(t *testing.T) {
	engine := usecase.NewWindowStatsEngine(2, usecase.NewWindowRangeCache())
	key := minuteKey("BTCUSDT")

	// Both size-2 windows span range 4, but their extreme candles carry
	// different string forms of the same numbers.
	buffer := []domain.Candle{
		mustCandle(t, 0, "10", "12.0", "8.0", "9", "1"),
		mustCandle(t, 60_000, "9", "11", "9", "10", "1"),
		mustCandle(t, 120_000, "10", "12", "8", "11", "1"),
	}

	rows := engine.Evaluate(key, buffer)
	w2 := rows[0]
	if w2.Range != 4 {
		t.Fatalf("Expected tied range 4, got %v", w2.Range)
	}
	if w2.High != "12.0" || w2.Low != "8.0" {
		t.Errorf("Expected strings from the earlier window, got %q %q", w2.High, w2.Low)
	}
}

func TestEvaluateWeightsRecentPositionsHigher(t *testing.T) {
	engine := usecase.NewWindowStatsEngine(1, usecase.NewWindowRangeCache())
	key := minuteKey("BTCUSDT")
	buffer := []domain.Candle{
		mustCandle(t, 0, "10", "12", "8", "9", "1"),       // range 4
		mustCandle(t, 60_000, "10", "11", "9", "10", "1"), // range 2
		mustCandle(t, 120_000, "9", "12", "8", "11", "1"), // range 4
	}

	rows := engine.Evaluate(key, buffer)
	w1 := rows[0]
	// Weights 1, 2, 3: (4*1 + 2*2 + 4*3) / 6 = 20/6.
	if !approxEqual(w1.WMA, 20.0/6.0) {
		t.Errorf("Expected wma 20/6, got %v", w1.WMA)
	}
}

func TestEvaluatePlaceholdersForShortBuffer(t *testing.T) {
	engine := usecase.NewWindowStatsEngine(5, usecase.NewWindowRangeCache())
	key := minuteKey("BTCUSDT")
	buffer := varyCandles(t, 0, 3)

	rows := engine.Evaluate(key, buffer)
	if len(rows) != 5 {
		t.Fatalf("Expected 5 rows, got %d", len(rows))
	}

	// Sizes 5 and 4 cannot be filled by 3 candles.
	for _, row := range rows[:2] {
		if row.Range != 0 || row.High != "" || row.Low != "" || row.WMA != 0 {
			t.Errorf("Expected zero placeholder for size %d, got %+v", row.WindowSize, row)
		}
	}
	// Sizes 3, 2, 1 are computed.
	for _, row := range rows[2:] {
		if row.Range == 0 || row.High == "" || row.Low == "" {
			t.Errorf("Expected computed row for size %d, got %+v", row.WindowSize, row)
		}
	}
}

func TestEvaluateEmptyBufferMatchesPlaceholders(t *testing.T) {
	engine := usecase.NewWindowStatsEngine(4, usecase.NewWindowRangeCache())
	if !reflect.DeepEqual(engine.Evaluate(minuteKey("BTCUSDT"), nil), engine.Placeholders()) {
		t.Error("Expected empty buffer evaluation to equal the placeholder table")
	}
}

func TestEvaluateColdAndWarmCacheAgree(t *testing.T) {
	key := minuteKey("BTCUSDT")
	buffer := varyCandles(t, 0, 30)

	shared := usecase.NewWindowRangeCache()
	engine := usecase.NewWindowStatsEngine(10, shared)

	cold := engine.Evaluate(key, buffer)
	if shared.Len(key) == 0 {
		t.Fatal("Expected the cold run to populate the cache")
	}
	warm := engine.Evaluate(key, buffer)

	if !reflect.DeepEqual(cold, warm) {
		t.Error("Expected identical results from cold and warm cache")
	}

	// A fresh engine with its own empty cache agrees too.
	fresh := usecase.NewWindowStatsEngine(10, usecase.NewWindowRangeCache())
	if !reflect.DeepEqual(cold, fresh.Evaluate(key, buffer)) {
		t.Error("Expected a fresh engine to produce the same table")
	}
}

func TestEvaluateAfterIncrementalMergeMatchesFreshComputation(t *testing.T) {
	key := minuteKey("BTCUSDT")
	cache := usecase.NewWindowRangeCache()
	store := usecase.NewCandleStore(10, cache)
	engine := usecase.NewWindowStatsEngine(5, cache)

	store.MergeFull(key, varyCandles(t, 0, 11))
	engine.Evaluate(key, store.Buffer(key))

	// Two new candles arrive; the merge evicts two old ones and prunes
	// their cached aggregates.
	store.MergeIncremental(key, varyCandles(t, 10*60_000, 3))
	warm := engine.Evaluate(key, store.Buffer(key))

	fresh := usecase.NewWindowStatsEngine(5, usecase.NewWindowRangeCache())
	if !reflect.DeepEqual(warm, fresh.Evaluate(key, store.Buffer(key))) {
		t.Error("Expected warm evaluation after merge to match a fresh computation")
	}
}
