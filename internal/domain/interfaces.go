package domain

import (
	"context"
	"time"
)

// MarketDataSource defines the upstream market-data API the tracker polls.
// Implementations must return klines in ascending open-time order.
type MarketDataSource interface {
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// PreferenceRepository defines storage for the tracked symbol list and the
// dashboard settings.
type PreferenceRepository interface {
	LoadSettings(ctx context.Context) (Settings, error)
	SaveSettings(ctx context.Context, s Settings) error

	ListSymbols(ctx context.Context) ([]string, error)
	AddSymbol(ctx context.Context, symbol string) error
	RemoveSymbol(ctx context.Context, symbol string) error
	ReorderSymbols(ctx context.Context, symbols []string) error
}

// AlertRepository defines storage for triggered notification events.
type AlertRepository interface {
	SaveAlert(ctx context.Context, alert *AlertEvent) error
	ListAlerts(ctx context.Context, limit int) ([]*AlertEvent, error)
	PurgeAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
