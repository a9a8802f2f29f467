package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yehancha/crypto-dashboard/internal/domain"
)

// AlertObservation is one evaluated notification state for a symbol and
// color, reported after every refresh cycle.
type AlertObservation struct {
	Symbol     string
	Color      domain.HighlightColor
	Met        bool
	Price      float64
	Deviation  float64
	Threshold  float64
	WindowSize int
}

type alertKey struct {
	symbol string
	color  domain.HighlightColor
}

// AlertService records notification triggers. Recording is edge-triggered:
// a symbol that keeps its target met across many refresh cycles produces a
// single event, and only after the state drops back below the target can
// the next event fire.
type AlertService struct {
	repo   domain.AlertRepository
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	lastMet map[alertKey]bool
	onAlert func(*domain.AlertEvent)
}

func NewAlertService(repo domain.AlertRepository, logger *zap.Logger) *AlertService {
	return &AlertService{
		repo:    repo,
		logger:  logger,
		now:     time.Now,
		lastMet: make(map[alertKey]bool),
	}
}

// OnAlert registers a callback invoked for every recorded event.
func (s *AlertService) OnAlert(fn func(*domain.AlertEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAlert = fn
}

// Observe updates the edge state for one symbol and color and records an
// event on a false-to-true transition. Observations with a zero threshold
// are tracked but never recorded: a disabled filter counts as met yet
// carries no signal worth alerting on.
func (s *AlertService) Observe(ctx context.Context, obs AlertObservation) {
	key := alertKey{symbol: obs.Symbol, color: obs.Color}

	s.mu.Lock()
	was := s.lastMet[key]
	s.lastMet[key] = obs.Met
	fire := obs.Met && !was && obs.Threshold > 0
	callback := s.onAlert
	s.mu.Unlock()

	if !fire {
		return
	}

	event := &domain.AlertEvent{
		ID:         uuid.NewString(),
		Symbol:     obs.Symbol,
		Color:      obs.Color,
		Price:      obs.Price,
		Deviation:  obs.Deviation,
		Threshold:  obs.Threshold,
		WindowSize: obs.WindowSize,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.SaveAlert(ctx, event); err != nil {
		s.logger.Error("failed to save alert",
			zap.String("symbol", obs.Symbol),
			zap.String("color", string(obs.Color)),
			zap.Error(err))
		return
	}

	s.logger.Info("alert triggered",
		zap.String("symbol", obs.Symbol),
		zap.String("color", string(obs.Color)),
		zap.Float64("price", obs.Price),
		zap.Float64("deviation", obs.Deviation),
		zap.Float64("threshold", obs.Threshold),
		zap.Int("window_size", obs.WindowSize))

	if callback != nil {
		callback(event)
	}
}

// Forget clears the edge state of a symbol so re-tracking starts fresh.
func (s *AlertService) Forget(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.lastMet {
		if key.symbol == symbol {
			delete(s.lastMet, key)
		}
	}
}

// Recent returns the newest recorded events, most recent first.
func (s *AlertService) Recent(ctx context.Context, limit int) ([]*domain.AlertEvent, error) {
	return s.repo.ListAlerts(ctx, limit)
}

// PurgeOlderThan deletes events past the retention age.
func (s *AlertService) PurgeOlderThan(ctx context.Context, age time.Duration) {
	cutoff := s.now().UTC().Add(-age)
	purged, err := s.repo.PurgeAlertsBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to purge alerts", zap.Error(err))
		return
	}
	if purged > 0 {
		s.logger.Info("purged old alerts", zap.Int64("count", purged), zap.Time("cutoff", cutoff))
	}
}
