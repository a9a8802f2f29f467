package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/yehancha/crypto-dashboard/internal/config"
	"github.com/yehancha/crypto-dashboard/internal/infrastructure/exchange"
	"github.com/yehancha/crypto-dashboard/internal/infrastructure/logger"
	"github.com/yehancha/crypto-dashboard/internal/infrastructure/storage"
	"github.com/yehancha/crypto-dashboard/internal/usecase"
	"github.com/yehancha/crypto-dashboard/internal/web"
)

func main() {
	// 1. Load Config (.env first so it can override the file)
	_ = godotenv.Load()
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := newLogger(cfg)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Exchange Client
	binance := exchange.NewBinanceClient(cfg.Binance.BaseURL)

	// 5. Init Services
	alerts := usecase.NewAlertService(store, log)
	tracker := usecase.NewTracker(usecase.TrackerConfig{
		CandleLimit:       cfg.Tracker.CandleLimit,
		MaxWindowSize:     cfg.Tracker.MaxWindowSize,
		PriceInterval:     cfg.PriceInterval(),
		CloseInterval:     cfg.CloseInterval(),
		MinuteInterval:    cfg.MinuteInterval(),
		HourInterval:      cfg.HourInterval(),
		ModeCheckInterval: cfg.ModeCheckInterval(),
		MaxBackoff:        cfg.MaxBackoff(),
	}, binance, store, alerts, log)

	server := web.NewServer(cfg.Server.Port, cfg.Server.AllowedOrigins, tracker, alerts, log)

	// 6. Start Tracker (restores persisted symbols and settings)
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	if err := tracker.Start(startCtx); err != nil {
		cancelStart()
		log.Fatal("Failed to start tracker", zap.Error(err))
	}
	cancelStart()

	// 7. Nightly alert retention purge
	purger := cron.New()
	if _, err := purger.AddFunc(cfg.Alerts.PurgeCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		alerts.PurgeOlderThan(ctx, cfg.Retention())
	}); err != nil {
		log.Fatal("Invalid purge cron spec", zap.String("spec", cfg.Alerts.PurgeCron), zap.Error(err))
	}
	purger.Start()

	// 8. Start Web Server
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Web server failed", zap.Error(err))
		}
	}()

	// 9. Wait for Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("Shutting down")

	tracker.Stop()
	purger.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Web server shutdown failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Logging.File != "" {
		return logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	}
	return logger.NewLogger(cfg.Logging.Level)
}
