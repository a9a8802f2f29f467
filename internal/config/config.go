package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every runtime knob of the dashboard backend. Values come
// from the YAML file, with a handful of environment overrides applied on
// top for deployment-specific settings.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Binance BinanceConfig `yaml:"binance"`
	Storage StorageConfig `yaml:"storage"`
	Tracker TrackerConfig `yaml:"tracker"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type BinanceConfig struct {
	BaseURL string `yaml:"base_url"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

type TrackerConfig struct {
	CandleLimit      int `yaml:"candle_limit"`
	MaxWindowSize    int `yaml:"max_window_size"`
	PriceIntervalMs  int `yaml:"price_interval_ms"`
	CloseIntervalMs  int `yaml:"close_interval_ms"`
	MinuteIntervalMs int `yaml:"minute_interval_ms"`
	HourIntervalMs   int `yaml:"hour_interval_ms"`
	ModeCheckMs      int `yaml:"mode_check_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms"`
}

type AlertsConfig struct {
	RetentionDays int    `yaml:"retention_days"`
	PurgeCron     string `yaml:"purge_cron"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the configuration the dashboard runs with when no file
// or overrides are present.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Port: 8080, AllowedOrigins: []string{"*"}},
		Binance: BinanceConfig{BaseURL: "https://api.binance.com"},
		Storage: StorageConfig{Path: "dashboard.db"},
		Tracker: TrackerConfig{
			CandleLimit:      60,
			MaxWindowSize:    60,
			PriceIntervalMs:  10_000,
			CloseIntervalMs:  60_000,
			MinuteIntervalMs: 60_000,
			HourIntervalMs:   300_000,
			ModeCheckMs:      30_000,
			MaxBackoffMs:     300_000,
		},
		Alerts:  AlertsConfig{RetentionDays: 14, PurgeCron: "10 3 * * *"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults and applies the
// environment overrides. A missing file is not an error: the defaults plus
// environment are a complete configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to defaults
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets deployments override file values without editing the file:
// PORT, DB_PATH, BINANCE_BASE_URL and LOG_LEVEL.
func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("BINANCE_BASE_URL"); v != "" {
		c.Binance.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate rejects configurations the tracker cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Tracker.CandleLimit <= 0 {
		return fmt.Errorf("candle limit must be positive, got %d", c.Tracker.CandleLimit)
	}
	if c.Tracker.MaxWindowSize <= 0 {
		return fmt.Errorf("max window size must be positive, got %d", c.Tracker.MaxWindowSize)
	}
	if c.Tracker.MaxWindowSize > c.Tracker.CandleLimit {
		return fmt.Errorf("max window size %d exceeds candle limit %d", c.Tracker.MaxWindowSize, c.Tracker.CandleLimit)
	}
	for name, ms := range map[string]int{
		"price_interval_ms":  c.Tracker.PriceIntervalMs,
		"close_interval_ms":  c.Tracker.CloseIntervalMs,
		"minute_interval_ms": c.Tracker.MinuteIntervalMs,
		"hour_interval_ms":   c.Tracker.HourIntervalMs,
		"mode_check_ms":      c.Tracker.ModeCheckMs,
		"max_backoff_ms":     c.Tracker.MaxBackoffMs,
	} {
		if ms <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, ms)
		}
	}
	if c.Alerts.RetentionDays <= 0 {
		return fmt.Errorf("alert retention must be positive, got %d", c.Alerts.RetentionDays)
	}
	return nil
}

// PriceInterval returns the live-price poll period.
func (c *Config) PriceInterval() time.Duration {
	return time.Duration(c.Tracker.PriceIntervalMs) * time.Millisecond
}

// CloseInterval returns the reference-close refresh period.
func (c *Config) CloseInterval() time.Duration {
	return time.Duration(c.Tracker.CloseIntervalMs) * time.Millisecond
}

// MinuteInterval returns the minute-candle refresh period.
func (c *Config) MinuteInterval() time.Duration {
	return time.Duration(c.Tracker.MinuteIntervalMs) * time.Millisecond
}

// HourInterval returns the hour-candle refresh period.
func (c *Config) HourInterval() time.Duration {
	return time.Duration(c.Tracker.HourIntervalMs) * time.Millisecond
}

// ModeCheckInterval returns the resolution-mode check period.
func (c *Config) ModeCheckInterval() time.Duration {
	return time.Duration(c.Tracker.ModeCheckMs) * time.Millisecond
}

// MaxBackoff returns the cap on the rate-limit backoff interval.
func (c *Config) MaxBackoff() time.Duration {
	return time.Duration(c.Tracker.MaxBackoffMs) * time.Millisecond
}

// Retention returns the alert retention age.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Alerts.RetentionDays) * 24 * time.Hour
}
