package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/yehancha/crypto-dashboard/internal/domain"
)

// SQLiteStore persists the tracked symbol list, the dashboard settings and
// the alert history. It implements domain.PreferenceRepository and
// domain.AlertRepository.
type SQLiteStore struct {
	db *sqlx.DB
}

var (
	_ domain.PreferenceRepository = (*SQLiteStore)(nil)
	_ domain.AlertRepository      = (*SQLiteStore)(nil)
)

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tracked_symbols (
			symbol TEXT PRIMARY KEY,
			position INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			timeframe TEXT NOT NULL,
			multiplier REAL NOT NULL,
			use_volatility BOOLEAN NOT NULL DEFAULT 0,
			yellow_target TEXT NOT NULL,
			green_target TEXT NOT NULL,
			min_max_volatility REAL NOT NULL DEFAULT 0,
			min_wma_volatility REAL NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			color TEXT NOT NULL,
			price REAL NOT NULL,
			deviation REAL NOT NULL,
			threshold REAL NOT NULL,
			window_size INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// LoadSettings returns the stored settings, or the defaults when none have
// been saved yet.
func (s *SQLiteStore) LoadSettings(ctx context.Context) (domain.Settings, error) {
	var settings domain.Settings
	err := s.db.GetContext(ctx, &settings,
		`SELECT timeframe, multiplier, use_volatility, yellow_target, green_target,
		        min_max_volatility, min_wma_volatility
		 FROM settings WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	return settings, nil
}

func (s *SQLiteStore) SaveSettings(ctx context.Context, settings domain.Settings) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (id, timeframe, multiplier, use_volatility, yellow_target,
		                       green_target, min_max_volatility, min_wma_volatility)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   timeframe = excluded.timeframe,
		   multiplier = excluded.multiplier,
		   use_volatility = excluded.use_volatility,
		   yellow_target = excluded.yellow_target,
		   green_target = excluded.green_target,
		   min_max_volatility = excluded.min_max_volatility,
		   min_wma_volatility = excluded.min_wma_volatility`,
		settings.Timeframe, settings.Multiplier, settings.UseVolatility,
		settings.YellowTarget, settings.GreenTarget,
		settings.MinMaxVolatility, settings.MinWMAVolatility)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// ListSymbols returns the tracked symbols in display order.
func (s *SQLiteStore) ListSymbols(ctx context.Context) ([]string, error) {
	symbols := []string{}
	err := s.db.SelectContext(ctx, &symbols,
		`SELECT symbol FROM tracked_symbols ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	return symbols, nil
}

// AddSymbol appends a symbol at the end of the display order.
func (s *SQLiteStore) AddSymbol(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tracked_symbols (symbol, position)
		 VALUES (?, COALESCE((SELECT MAX(position) + 1 FROM tracked_symbols), 0))`,
		symbol)
	if err != nil {
		return fmt.Errorf("add symbol %s: %w", symbol, err)
	}
	return nil
}

func (s *SQLiteStore) RemoveSymbol(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tracked_symbols WHERE symbol = ?`, symbol)
	if err != nil {
		return fmt.Errorf("remove symbol %s: %w", symbol, err)
	}
	return nil
}

// ReorderSymbols rewrites the display positions transactionally so a crash
// mid-reorder never leaves a half-applied order.
func (s *SQLiteStore) ReorderSymbols(ctx context.Context, symbols []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reorder symbols: %w", err)
	}
	defer tx.Rollback()

	for i, symbol := range symbols {
		res, err := tx.ExecContext(ctx,
			`UPDATE tracked_symbols SET position = ? WHERE symbol = ?`, i, symbol)
		if err != nil {
			return fmt.Errorf("reorder symbol %s: %w", symbol, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("reorder symbol %s: not tracked", symbol)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveAlert(ctx context.Context, alert *domain.AlertEvent) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO alerts (id, symbol, color, price, deviation, threshold, window_size, created_at)
		 VALUES (:id, :symbol, :color, :price, :deviation, :threshold, :window_size, :created_at)`,
		alert)
	if err != nil {
		return fmt.Errorf("save alert: %w", err)
	}
	return nil
}

// ListAlerts returns the newest alerts first.
func (s *SQLiteStore) ListAlerts(ctx context.Context, limit int) ([]*domain.AlertEvent, error) {
	alerts := []*domain.AlertEvent{}
	err := s.db.SelectContext(ctx, &alerts,
		`SELECT id, symbol, color, price, deviation, threshold, window_size, created_at
		 FROM alerts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// PurgeAlertsBefore deletes alerts older than cutoff and reports how many
// rows went away.
func (s *SQLiteStore) PurgeAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge alerts: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
