package usecase_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/yehancha/crypto-dashboard/internal/domain"
)

func mustCandle(t *testing.T, openTime int64, open, high, low, close, volume string) domain.Candle {
	t.Helper()
	c, err := domain.NewCandle(openTime, open, high, low, close, volume)
	if err != nil {
		t.Fatalf("NewCandle failed: %v", err)
	}
	return c
}

// flatCandles builds n identical one-minute candles starting at startMs.
func flatCandles(t *testing.T, startMs int64, n int) []domain.Candle {
	t.Helper()
	out := make([]domain.Candle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, mustCandle(t, startMs+int64(i)*60_000, "100", "101", "99", "100.5", "10"))
	}
	return out
}

type klineCall struct {
	symbol   string
	interval string
	limit    int
}

// fakeSource is an in-memory MarketDataSource. Kline responses are stored
// per symbol and interval; requests return the newest limit rows the way
// the exchange does.
type fakeSource struct {
	mu         sync.Mutex
	prices     map[string]float64
	priceErr   error
	klines     map[string][]domain.Candle
	klineErr   error
	klineGate  chan struct{}
	priceCalls int
	klineCalls []klineCall
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		prices: make(map[string]float64),
		klines: make(map[string][]domain.Candle),
	}
}

func (f *fakeSource) setPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

func (f *fakeSource) setPriceErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceErr = err
}

func (f *fakeSource) setKlines(symbol, interval string, candles []domain.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.klines[symbol+"/"+interval] = candles
}

func (f *fakeSource) calls() []klineCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]klineCall, len(f.klineCalls))
	copy(out, f.klineCalls)
	return out
}

func (f *fakeSource) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceCalls++
	if f.priceErr != nil {
		return nil, f.priceErr
	}
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if p, ok := f.prices[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

func (f *fakeSource) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	f.mu.Lock()
	f.klineCalls = append(f.klineCalls, klineCall{symbol: symbol, interval: interval, limit: limit})
	gate := f.klineGate
	err := f.klineErr
	rows := f.klines[symbol+"/"+interval]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if limit < len(rows) {
		rows = rows[len(rows)-limit:]
	}
	out := make([]domain.Candle, len(rows))
	copy(out, rows)
	return out, nil
}

// fakePrefs is an in-memory PreferenceRepository.
type fakePrefs struct {
	mu       sync.Mutex
	settings domain.Settings
	hasSaved bool
	symbols  []string
}

func newFakePrefs(symbols ...string) *fakePrefs {
	return &fakePrefs{settings: domain.DefaultSettings(), symbols: symbols}
}

func (f *fakePrefs) LoadSettings(ctx context.Context) (domain.Settings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings, nil
}

func (f *fakePrefs) SaveSettings(ctx context.Context, s domain.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings = s
	f.hasSaved = true
	return nil
}

func (f *fakePrefs) ListSymbols(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.symbols...), nil
}

func (f *fakePrefs) AddSymbol(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.symbols {
		if s == symbol {
			return fmt.Errorf("%s already stored", symbol)
		}
	}
	f.symbols = append(f.symbols, symbol)
	return nil
}

func (f *fakePrefs) RemoveSymbol(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.symbols {
		if s == symbol {
			f.symbols = append(f.symbols[:i], f.symbols[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakePrefs) ReorderSymbols(ctx context.Context, symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbols = append([]string(nil), symbols...)
	return nil
}

// fakeAlertRepo collects saved alerts in memory.
type fakeAlertRepo struct {
	mu     sync.Mutex
	alerts []*domain.AlertEvent
	err    error
}

func (f *fakeAlertRepo) SaveAlert(ctx context.Context, alert *domain.AlertEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeAlertRepo) ListAlerts(ctx context.Context, limit int) ([]*domain.AlertEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.AlertEvent, 0, limit)
	for i := len(f.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.alerts[i])
	}
	return out, nil
}

func (f *fakeAlertRepo) PurgeAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.alerts[:0]
	var purged int64
	for _, a := range f.alerts {
		if a.CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, a)
	}
	f.alerts = kept
	return purged, nil
}

func (f *fakeAlertRepo) saved() []*domain.AlertEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.AlertEvent, len(f.alerts))
	copy(out, f.alerts)
	return out
}
