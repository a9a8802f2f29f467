package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yehancha/crypto-dashboard/internal/domain"
)

// TrackerConfig sizes the candle buffers and paces the polling loops.
type TrackerConfig struct {
	CandleLimit       int
	MaxWindowSize     int
	PriceInterval     time.Duration
	CloseInterval     time.Duration
	MinuteInterval    time.Duration
	HourInterval      time.Duration
	ModeCheckInterval time.Duration
	MaxBackoff        time.Duration
}

// TrackerStatus is the operational view exposed on the health endpoint.
type TrackerStatus struct {
	Symbols        []string       `json:"symbols"`
	Timeframe      string         `json:"timeframe"`
	Resolution     string         `json:"resolution"`
	RateLimited    bool           `json:"rateLimited"`
	PollIntervalMs int64          `json:"pollIntervalMs"`
	Buffers        map[string]int `json:"buffers"`
}

// Tracker owns everything that lives across refresh cycles for the tracked
// symbol set: candle buffers, window caches, the polling loops and the
// published snapshots. Symbols join and leave through Track and Untrack
// while the loops keep running.
//
// Four loops run concurrently: live prices (with rate-limit backoff),
// reference closes, candles in the active resolution, and a mode check that
// swaps the candle loop between hour and minute resolution as the timeframe
// boundary approaches. Cycles within one loop are serialized; a cycle that
// overruns its interval delays the next one instead of overlapping it.
type Tracker struct {
	cfg    TrackerConfig
	source domain.MarketDataSource
	prefs  domain.PreferenceRepository
	alerts *AlertService
	logger *zap.Logger

	cache *WindowRangeCache
	store *CandleStore
	stats *WindowStatsEngine
	eval  *ThresholdEvaluator

	mu           sync.RWMutex
	symbols      []string
	settings     domain.Settings
	timeframe    domain.Timeframe
	resolution   domain.Resolution
	prices       map[string]float64
	refCloses    map[string]float64
	windows      map[string][]domain.WindowRange
	snapshots    map[string]*domain.SymbolSnapshot
	poll         *PollState
	priceErr     string
	onSnapshot   func(*domain.SymbolSnapshot)
	candleCancel context.CancelFunc

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	timeNow func() time.Time
}

func NewTracker(cfg TrackerConfig, source domain.MarketDataSource, prefs domain.PreferenceRepository, alerts *AlertService, logger *zap.Logger) *Tracker {
	cache := NewWindowRangeCache()
	return &Tracker{
		cfg:       cfg,
		source:    source,
		prefs:     prefs,
		alerts:    alerts,
		logger:    logger,
		cache:     cache,
		store:     NewCandleStore(cfg.CandleLimit, cache),
		stats:     NewWindowStatsEngine(cfg.MaxWindowSize, cache),
		eval:      NewThresholdEvaluator(),
		poll:      NewPollState(cfg.PriceInterval, cfg.MaxBackoff),
		prices:    make(map[string]float64),
		refCloses: make(map[string]float64),
		windows:   make(map[string][]domain.WindowRange),
		snapshots: make(map[string]*domain.SymbolSnapshot),
		timeNow:   time.Now,
	}
}

// Start restores the persisted symbol list and settings, then launches the
// polling loops. ctx only scopes the restore; the loops run until Stop.
func (t *Tracker) Start(ctx context.Context) error {
	settings, err := t.prefs.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		t.logger.Warn("stored settings invalid, using defaults", zap.Error(err))
		settings = domain.DefaultSettings()
	}
	tf, err := domain.TimeframeByName(settings.Timeframe)
	if err != nil {
		return err
	}
	symbols, err := t.prefs.ListSymbols(ctx)
	if err != nil {
		return fmt.Errorf("load tracked symbols: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	if t.ctx != nil {
		t.mu.Unlock()
		cancel()
		return errors.New("tracker already started")
	}
	t.ctx = runCtx
	t.cancel = cancel
	t.settings = settings
	t.timeframe = tf
	t.symbols = symbols
	t.resolution = domain.ResolutionFor(tf, t.timeNow())
	res := t.resolution
	t.mu.Unlock()

	t.logger.Info("tracker starting",
		zap.Strings("symbols", symbols),
		zap.String("timeframe", tf.Name),
		zap.String("resolution", string(res)))

	t.wg.Add(3)
	go t.priceLoop(runCtx)
	go t.closeLoop(runCtx)
	go t.modeLoop(runCtx)

	t.mu.Lock()
	t.startCandleLoopLocked(res, false)
	t.mu.Unlock()
	return nil
}

// Stop cancels the loops and waits for in-flight cycles to finish.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	t.wg.Wait()
	t.logger.Info("tracker stopped")
}

// Track adds a symbol, persists it and primes its price, reference close
// and candle buffer outside the regular polling cadence.
func (t *Tracker) Track(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return errors.New("symbol must not be empty")
	}

	t.mu.RLock()
	running := t.ctx != nil && t.ctx.Err() == nil
	already := t.trackedLocked(symbol)
	t.mu.RUnlock()
	if !running {
		return errors.New("tracker is not running")
	}
	if already {
		return fmt.Errorf("%s is already tracked", symbol)
	}

	if err := t.prefs.AddSymbol(ctx, symbol); err != nil {
		return fmt.Errorf("persist symbol: %w", err)
	}

	t.mu.Lock()
	if t.trackedLocked(symbol) {
		t.mu.Unlock()
		return fmt.Errorf("%s is already tracked", symbol)
	}
	t.symbols = append(t.symbols, symbol)
	res := t.resolution
	runCtx := t.ctx
	// Skip the priming fetch when the tracker stopped in the meantime;
	// joining the WaitGroup would race Stop's Wait.
	prime := runCtx != nil && runCtx.Err() == nil
	if prime {
		t.wg.Add(1)
	}
	t.mu.Unlock()
	t.logger.Info("symbol tracked", zap.String("symbol", symbol))

	if prime {
		go func() {
			defer t.wg.Done()
			t.primeSymbol(runCtx, symbol, res)
		}()
	}
	return nil
}

// Untrack removes a symbol and discards its buffers, caches, snapshot and
// alert edge state. A candle fetch already in flight for the symbol merges
// into nothing: the merge path re-checks membership and drops the buffer.
func (t *Tracker) Untrack(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	t.mu.Lock()
	idx := -1
	for i, s := range t.symbols {
		if s == symbol {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.mu.Unlock()
		return fmt.Errorf("%s is not tracked", symbol)
	}
	t.symbols = append(t.symbols[:idx], t.symbols[idx+1:]...)
	delete(t.prices, symbol)
	delete(t.refCloses, symbol)
	delete(t.windows, symbol)
	delete(t.snapshots, symbol)
	t.mu.Unlock()

	t.store.Drop(symbol)
	t.alerts.Forget(symbol)

	if err := t.prefs.RemoveSymbol(ctx, symbol); err != nil {
		return fmt.Errorf("persist removal: %w", err)
	}
	t.logger.Info("symbol untracked", zap.String("symbol", symbol))
	return nil
}

// Reorder replaces the display order. The new list must contain exactly the
// tracked symbols.
func (t *Tracker) Reorder(ctx context.Context, symbols []string) error {
	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		normalized = append(normalized, strings.ToUpper(strings.TrimSpace(s)))
	}

	t.mu.RLock()
	counts := make(map[string]int, len(t.symbols))
	for _, s := range t.symbols {
		counts[s]++
	}
	same := len(normalized) == len(t.symbols)
	t.mu.RUnlock()
	for _, s := range normalized {
		counts[s]--
	}
	for _, n := range counts {
		if n != 0 {
			same = false
		}
	}
	if !same {
		return errors.New("order must list exactly the tracked symbols")
	}

	if err := t.prefs.ReorderSymbols(ctx, normalized); err != nil {
		return fmt.Errorf("persist order: %w", err)
	}
	t.mu.Lock()
	t.symbols = normalized
	t.mu.Unlock()
	return nil
}

// UpdateSettings validates, persists and applies new settings. A timeframe
// change invalidates the reference closes and may swap the candle
// resolution; both refresh immediately rather than waiting for the next
// scheduled cycle.
func (t *Tracker) UpdateSettings(ctx context.Context, s domain.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	tf, err := domain.TimeframeByName(s.Timeframe)
	if err != nil {
		return err
	}

	t.mu.RLock()
	running := t.ctx != nil && t.ctx.Err() == nil
	t.mu.RUnlock()
	if !running {
		return errors.New("tracker is not running")
	}

	if err := t.prefs.SaveSettings(ctx, s); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}

	t.mu.Lock()
	timeframeChanged := t.timeframe.Name != tf.Name
	t.settings = s
	t.timeframe = tf
	if timeframeChanged {
		t.refCloses = make(map[string]float64)
	}
	t.mu.Unlock()

	t.logger.Info("settings updated",
		zap.String("timeframe", s.Timeframe),
		zap.Float64("multiplier", s.Multiplier),
		zap.Bool("use_volatility", s.UseVolatility))

	if timeframeChanged {
		t.applyResolution(domain.ResolutionFor(tf, t.timeNow()))
		t.mu.Lock()
		runCtx := t.ctx
		t.wg.Add(1)
		t.mu.Unlock()
		go func() {
			defer t.wg.Done()
			t.refreshCloses(runCtx)
		}()
	}
	t.republish()
	return nil
}

// Settings returns the active settings.
func (t *Tracker) Settings() domain.Settings {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.settings
}

// ActiveTimeframe returns the timeframe currently being tracked.
func (t *Tracker) ActiveTimeframe() domain.Timeframe {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.timeframe
}

// Symbols returns the tracked symbols in display order.
func (t *Tracker) Symbols() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.symbols...)
}

// Tracked reports whether the symbol is currently tracked.
func (t *Tracker) Tracked(symbol string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.trackedLocked(symbol)
}

func (t *Tracker) trackedLocked(symbol string) bool {
	for _, s := range t.symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Snapshots returns the latest published snapshot per symbol in display
// order. Symbols that have not completed a cycle yet come back as
// placeholders.
func (t *Tracker) Snapshots() []*domain.SymbolSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*domain.SymbolSnapshot, 0, len(t.symbols))
	for _, sym := range t.symbols {
		if snap, ok := t.snapshots[sym]; ok {
			out = append(out, snap)
			continue
		}
		out = append(out, &domain.SymbolSnapshot{
			Symbol:          sym,
			Windows:         t.stats.Placeholders(),
			HighlightedSize: domain.HighlightWindow(t.timeframe, t.timeNow(), t.stats.MaxWindow()),
		})
	}
	return out
}

// OnSnapshot registers a callback invoked for every re-evaluated snapshot.
func (t *Tracker) OnSnapshot(fn func(*domain.SymbolSnapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onSnapshot = fn
}

// Status reports the tracker's operational state.
func (t *Tracker) Status() TrackerStatus {
	t.mu.RLock()
	st := TrackerStatus{
		Symbols:        append([]string(nil), t.symbols...),
		Timeframe:      t.timeframe.Name,
		Resolution:     string(t.resolution),
		RateLimited:    t.poll.Limited(),
		PollIntervalMs: t.poll.Interval().Milliseconds(),
	}
	t.mu.RUnlock()

	st.Buffers = make(map[string]int)
	for key, n := range t.store.Sizes() {
		st.Buffers[key.Symbol+"/"+string(key.Resolution)] = n
	}
	return st
}

// priceLoop polls live prices. The delay between cycles comes from the
// backoff state machine, so it stretches while the upstream is throttling
// and snaps back on the first success.
func (t *Tracker) priceLoop(ctx context.Context) {
	defer t.wg.Done()
	timer := time.NewTimer(t.refreshPrices(ctx))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			timer.Reset(t.refreshPrices(ctx))
		}
	}
}

func (t *Tracker) refreshPrices(ctx context.Context) time.Duration {
	symbols := t.Symbols()
	if len(symbols) == 0 {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.poll.Keep()
	}

	prices, err := t.source.GetPrices(ctx, symbols)
	if ctx.Err() != nil {
		return time.Second
	}

	t.mu.Lock()
	var next time.Duration
	switch {
	case err == nil:
		for sym, price := range prices {
			if t.trackedLocked(sym) {
				t.prices[sym] = price
			}
		}
		t.priceErr = ""
		var recovered bool
		next, recovered = t.poll.Recover()
		if recovered {
			t.logger.Info("price polling recovered", zap.Duration("interval", next))
		}
	case domain.IsRateLimit(err):
		next = t.poll.Backoff(domain.RetryAfter(err))
		t.priceErr = err.Error()
		t.logger.Warn("price fetch rate limited",
			zap.Duration("next_poll", next),
			zap.Error(err))
	default:
		next = t.poll.Keep()
		t.priceErr = err.Error()
		t.logger.Error("price fetch failed", zap.Error(err))
	}
	snaps, observations := t.evaluateLocked()
	t.mu.Unlock()

	t.publish(snaps, observations)
	return next
}

// closeLoop refreshes the reference close of every tracked symbol: the
// close of the last completed candle in the active timeframe.
func (t *Tracker) closeLoop(ctx context.Context) {
	defer t.wg.Done()
	t.refreshCloses(ctx)
	ticker := time.NewTicker(t.cfg.CloseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.refreshCloses(ctx)
		}
	}
}

func (t *Tracker) refreshCloses(ctx context.Context) {
	symbols := t.Symbols()
	if len(symbols) == 0 {
		return
	}
	for _, sym := range symbols {
		if ctx.Err() != nil {
			return
		}
		t.refreshCloseFor(ctx, sym)
	}
	t.republish()
}

func (t *Tracker) refreshCloseFor(ctx context.Context, symbol string) {
	tf := t.ActiveTimeframe()
	candles, err := t.source.GetKlines(ctx, symbol, tf.Name, 2)
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Warn("reference close fetch failed",
				zap.String("symbol", symbol),
				zap.String("timeframe", tf.Name),
				zap.Error(err))
		}
		return
	}
	// The last row is the forming candle of the running interval; the one
	// before it is the completed close we compare against.
	if len(candles) < 2 {
		return
	}
	refClose := candles[len(candles)-2].CloseF()

	t.mu.Lock()
	if t.trackedLocked(symbol) && t.timeframe.Name == tf.Name {
		t.refCloses[symbol] = refClose
	}
	t.mu.Unlock()
}

// candleLoop refreshes the candle buffers of one resolution until its
// context is cancelled by a resolution switch or shutdown.
func (t *Tracker) candleLoop(ctx context.Context, res domain.Resolution, force bool) {
	defer t.wg.Done()
	t.refreshCandles(ctx, res, force)

	interval := t.cfg.MinuteInterval
	if res == domain.ResolutionHour {
		interval = t.cfg.HourInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.refreshCandles(ctx, res, false)
		}
	}
}

// startCandleLoopLocked installs a fresh candle loop for the resolution.
// Caller holds the write lock, so the loop context and its cancel are
// published together.
func (t *Tracker) startCandleLoopLocked(res domain.Resolution, force bool) {
	ctx, cancel := context.WithCancel(t.ctx)
	t.candleCancel = cancel
	t.wg.Add(1)
	go t.candleLoop(ctx, res, force)
}

// refreshCandles runs one refresh cycle over all tracked symbols. One
// symbol failing never blocks the rest. force skips the incremental plan
// and refetches everything, which resolution switches require.
func (t *Tracker) refreshCandles(ctx context.Context, res domain.Resolution, force bool) {
	symbols := t.Symbols()
	if len(symbols) == 0 {
		return
	}
	now := t.timeNow()
	var refreshed bool
	for _, sym := range symbols {
		if ctx.Err() != nil {
			return
		}
		if err := t.refreshSymbolCandles(ctx, sym, res, now, force); err != nil {
			t.logger.Warn("candle refresh failed",
				zap.String("symbol", sym),
				zap.String("resolution", string(res)),
				zap.Error(err))
			continue
		}
		refreshed = true
	}
	if refreshed {
		t.republish()
	}
}

func (t *Tracker) refreshSymbolCandles(ctx context.Context, symbol string, res domain.Resolution, now time.Time, force bool) error {
	key := BufferKey{Symbol: symbol, Resolution: res}
	plan := t.store.PlanRefresh(key, now)
	if force {
		plan = FetchPlan{Kind: FetchFull, Limit: t.cfg.CandleLimit + 1}
	}
	if plan.Kind == FetchNone {
		return nil
	}

	candles, err := t.source.GetKlines(ctx, symbol, string(res), plan.Limit)
	if err != nil {
		return err
	}
	if !t.Tracked(symbol) {
		return nil
	}

	if plan.Kind == FetchFull {
		t.store.MergeFull(key, candles)
	} else {
		t.store.MergeIncremental(key, candles)
	}

	// Untracked between the membership check and the merge: the buffer
	// must not survive.
	if !t.Tracked(symbol) {
		t.store.Drop(symbol)
		return nil
	}

	windows := t.stats.Evaluate(key, t.store.Buffer(key))
	t.mu.Lock()
	if t.trackedLocked(symbol) && t.resolution == res {
		t.windows[symbol] = windows
	}
	t.mu.Unlock()
	return nil
}

// modeLoop re-derives the wanted candle resolution from the timeframe
// boundary and swaps the candle loop when it changes.
func (t *Tracker) modeLoop(ctx context.Context) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.cfg.ModeCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.applyResolution(domain.ResolutionFor(t.ActiveTimeframe(), t.timeNow()))
		}
	}
}

// applyResolution swaps the candle loop to the wanted resolution: the old
// loop is cancelled and the new one starts with a full refetch. The whole
// transition happens in one critical section, so concurrent callers (the
// mode check racing a timeframe change) resolve to exactly one live loop:
// the loser sees the resolution already applied and backs out.
func (t *Tracker) applyResolution(want domain.Resolution) {
	t.mu.Lock()
	if t.ctx == nil || t.ctx.Err() != nil || t.resolution == want {
		t.mu.Unlock()
		return
	}
	t.resolution = want
	oldCancel := t.candleCancel
	t.startCandleLoopLocked(want, true)
	t.mu.Unlock()

	if oldCancel != nil {
		oldCancel()
	}
	t.logger.Info("candle resolution switched", zap.String("resolution", string(want)))
}

// primeSymbol fetches a just-tracked symbol's price, reference close and
// candles immediately instead of waiting out the polling intervals.
func (t *Tracker) primeSymbol(ctx context.Context, symbol string, res domain.Resolution) {
	prices, err := t.source.GetPrices(ctx, []string{symbol})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.logger.Warn("initial price fetch failed", zap.String("symbol", symbol), zap.Error(err))
	} else {
		t.mu.Lock()
		if price, ok := prices[symbol]; ok && t.trackedLocked(symbol) {
			t.prices[symbol] = price
		}
		t.mu.Unlock()
	}

	t.refreshCloseFor(ctx, symbol)

	if err := t.refreshSymbolCandles(ctx, symbol, res, t.timeNow(), false); err != nil && ctx.Err() == nil {
		t.logger.Warn("initial candle fetch failed", zap.String("symbol", symbol), zap.Error(err))
	}
	t.republish()
}

func (t *Tracker) republish() {
	t.mu.Lock()
	snaps, observations := t.evaluateLocked()
	t.mu.Unlock()
	t.publish(snaps, observations)
}

// evaluateLocked rebuilds every snapshot from the current state. Caller
// holds the write lock.
func (t *Tracker) evaluateLocked() ([]*domain.SymbolSnapshot, []AlertObservation) {
	now := t.timeNow()
	highlight := domain.HighlightWindow(t.timeframe, now, t.stats.MaxWindow())
	fraction := t.timeframe.TimeLeftFraction(now)

	snaps := make([]*domain.SymbolSnapshot, 0, len(t.symbols))
	observations := make([]AlertObservation, 0, len(t.symbols)*2)
	for _, sym := range t.symbols {
		windows := t.windows[sym]
		if windows == nil {
			windows = t.stats.Placeholders()
		}
		snap := &domain.SymbolSnapshot{
			Symbol:          sym,
			Price:           t.prices[sym],
			ReferenceClose:  t.refCloses[sym],
			Windows:         windows,
			HighlightedSize: highlight,
			RateLimited:     t.poll.Limited(),
			PriceError:      t.priceErr,
			UpdatedAt:       now,
		}

		res := t.eval.Evaluate(ThresholdInput{
			Price:            snap.Price,
			ReferenceClose:   snap.ReferenceClose,
			Window:           windowBySize(windows, highlight),
			Settings:         t.settings,
			TimeLeftFraction: fraction,
		})
		snap.Color = res.Color
		snap.WMAThreshold = res.WMAThreshold
		snap.RangeThreshold = res.RangeThreshold
		snap.WMADots = res.WMADots
		snap.RangeDots = res.RangeDots
		snap.YellowMet = res.YellowMet
		snap.GreenMet = res.GreenMet

		t.snapshots[sym] = snap
		snaps = append(snaps, snap)
		observations = append(observations,
			AlertObservation{
				Symbol: sym, Color: domain.HighlightYellow, Met: res.YellowMet,
				Price: snap.Price, Deviation: res.Deviation, Threshold: res.WMAThreshold, WindowSize: highlight,
			},
			AlertObservation{
				Symbol: sym, Color: domain.HighlightGreen, Met: res.GreenMet,
				Price: snap.Price, Deviation: res.Deviation, Threshold: res.RangeThreshold, WindowSize: highlight,
			})
	}
	return snaps, observations
}

func windowBySize(windows []domain.WindowRange, size int) domain.WindowRange {
	for _, w := range windows {
		if w.WindowSize == size {
			return w
		}
	}
	return domain.WindowRange{WindowSize: size}
}

func (t *Tracker) publish(snaps []*domain.SymbolSnapshot, observations []AlertObservation) {
	t.mu.RLock()
	ctx := t.ctx
	fn := t.onSnapshot
	t.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	for _, obs := range observations {
		t.alerts.Observe(ctx, obs)
	}
	if fn == nil {
		return
	}
	for _, snap := range snaps {
		fn(snap)
	}
}
