package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dduho/trading-bot/config"
	"github.com/dduho/trading-bot/internal/confidence"
	"github.com/dduho/trading-bot/internal/database"
	"github.com/dduho/trading-bot/internal/events"
	"github.com/dduho/trading-bot/internal/executor"
	"github.com/dduho/trading-bot/internal/features"
	"github.com/dduho/trading-bot/internal/learning"
	"github.com/dduho/trading-bot/internal/logging"
	"github.com/dduho/trading-bot/internal/market"
	"github.com/dduho/trading-bot/internal/ml"
	"github.com/dduho/trading-bot/internal/risk"
	"github.com/dduho/trading-bot/internal/rotation"
	"github.com/dduho/trading-bot/internal/strategy"
	"github.com/dduho/trading-bot/internal/watchdog"
)

const (
	learningCheckInterval  = 10 * time.Minute
	confidenceInterval     = time.Hour
	rotationInterval       = 4 * time.Hour
	statePersisterInterval = 5 * time.Minute
)

// TradeSource is the persistence surface the bot polls directly.
type TradeSource interface {
	GetOpenTrades(ctx context.Context) ([]*database.Trade, error)
}

// Deps bundles the wired components the bot orchestrates. All fields are
// required except Persister, which is nil when Redis is disabled.
type Deps struct {
	Provider   market.Provider
	Generator  *strategy.Generator
	Enhancer   *ml.Enhancer
	Gate       *risk.Gatekeeper
	Executor   *executor.Engine
	Source     TradeSource
	Params     *strategy.Store
	Confidence *confidence.Manager
	Rotator    *rotation.Rotator
	Learner    *learning.Engine
	Watchdog   *watchdog.Watchdog
	Persister  *risk.StatePersister
	Bus        *events.EventBus
}

// Bot runs the trade loop and the maintenance timers. Each concern lives in
// its own component; the bot only schedules them and moves data between.
type Bot struct {
	cfg *config.Config
	d   Deps
	log *logging.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
	lastScan  time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates the bot from its wired dependencies.
func New(cfg *config.Config, d Deps, log *logging.Logger) *Bot {
	if log == nil {
		log = logging.Default()
	}
	return &Bot{
		cfg:      cfg,
		d:        d,
		log:      log.WithComponent("bot"),
		stopChan: make(chan struct{}),
	}
}

// Start recovers persisted state and launches the loops.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("bot already running")
	}
	b.running = true
	b.startedAt = time.Now().UTC()
	b.mu.Unlock()

	if err := b.recoverState(ctx); err != nil {
		return err
	}

	b.wg.Add(2)
	go b.scanLoop()
	go b.exitLoop()

	b.wg.Add(1)
	go b.maintenanceLoop()

	if b.d.Persister != nil {
		b.wg.Add(1)
		go b.persistLoop()
	}

	b.log.Info("Bot started",
		"mode", string(b.cfg.TradingConfig.Mode),
		"symbols", b.d.Rotator.Active(),
		"scan_interval", b.cfg.ScanInterval().String())
	b.d.Bus.Publish(events.Event{
		Type: events.EventBotStarted,
		Data: map[string]interface{}{
			"mode":    string(b.cfg.TradingConfig.Mode),
			"symbols": b.d.Rotator.Active(),
		},
	})
	return nil
}

// Stop halts all loops, saves state and waits for in-flight work.
func (b *Bot) Stop(ctx context.Context) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	close(b.stopChan)
	b.wg.Wait()

	if b.d.Persister != nil {
		if err := b.d.Persister.Save(ctx, b.d.Gate); err != nil {
			b.log.Error("Failed to persist risk state on shutdown", "error", err.Error())
		}
	}

	b.d.Bus.Publish(events.Event{Type: events.EventBotStopped, Data: map[string]interface{}{}})
	b.log.Info("Bot stopped")
}

// recoverState syncs the gatekeeper with open trades in the store and
// restores daily counters from Redis when available.
func (b *Bot) recoverState(ctx context.Context) error {
	open, err := b.d.Source.GetOpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("failed to load open trades at startup: %w", err)
	}
	symbols := make([]string, 0, len(open))
	for _, t := range open {
		symbols = append(symbols, t.Symbol)
	}
	b.d.Gate.SyncOpenPositions(symbols)
	if len(symbols) > 0 {
		b.log.Info("Recovered open positions", "count", len(symbols), "symbols", symbols)
	}

	if b.d.Persister != nil {
		if err := b.d.Persister.Restore(ctx, b.d.Gate); err != nil {
			// Redis being down must not keep the bot from trading.
			b.log.Warn("Failed to restore risk state", "error", err.Error())
		}
	}
	return nil
}

func (b *Bot) scanLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.ScanInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.scanOnce(context.Background())
		case <-b.stopChan:
			return
		}
	}
}

// scanOnce evaluates every active symbol and opens positions for
// actionable signals that pass the risk gate.
func (b *Bot) scanOnce(ctx context.Context) {
	b.mu.Lock()
	b.lastScan = time.Now().UTC()
	b.mu.Unlock()

	for _, symbol := range b.d.Rotator.Active() {
		select {
		case <-b.stopChan:
			return
		default:
		}

		if err := b.evaluateSymbol(ctx, symbol); err != nil {
			b.log.Error("Symbol evaluation failed", "symbol", symbol, "error", err.Error())
		}
	}
}

func (b *Bot) evaluateSymbol(ctx context.Context, symbol string) error {
	candles, err := b.d.Provider.GetCandles(ctx, symbol,
		b.cfg.TradingConfig.Timeframe, b.cfg.TradingConfig.HistoryCandles)
	if err != nil {
		return fmt.Errorf("fetching candles: %w", err)
	}

	sig, err := b.d.Generator.Evaluate(symbol, candles)
	if err != nil {
		// A freshly rotated-in symbol has no history yet; that is a skip,
		// not a failure.
		if errors.Is(err, market.ErrInsufficientHistory) {
			b.log.Debug("Symbol skipped, history too short", "symbol", symbol)
			return nil
		}
		return fmt.Errorf("evaluating signal: %w", err)
	}
	if sig.Direction == strategy.DirectionHold {
		return nil
	}

	b.d.Bus.PublishSignal(symbol, string(sig.Direction), sig.Reason, sig.Confidence, sig.Price)

	vec := features.Extract(sig.Indicators, sig.Confidence)
	enh := b.d.Enhancer.Enhance(vec, sig.Confidence)

	minConfidence := b.d.Params.Get().MinConfidence
	if enh.Enhanced < minConfidence {
		b.log.Debug("Signal below threshold after enhancement",
			"symbol", symbol, "base", enh.Base, "enhanced", enh.Enhanced, "min", minConfidence)
		return nil
	}

	verdict := b.d.Gate.CanOpen(symbol)
	if !verdict.Allowed {
		b.d.Bus.PublishSignalRejected(symbol, string(sig.Direction), verdict.Reason, enh.Enhanced)
		return nil
	}

	if _, err := b.d.Executor.Open(ctx, sig, enh.Enhanced, enh.ModelVersion); err != nil {
		return fmt.Errorf("opening position: %w", err)
	}
	b.d.Gate.RecordOpen(symbol)
	return nil
}

func (b *Bot) exitLoop() {
	defer b.wg.Done()

	// Exits are checked more often than entries so stops fire promptly.
	interval := b.cfg.ScanInterval() / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.checkExits(context.Background())
		case <-b.stopChan:
			return
		}
	}
}

// checkExits walks every open trade and closes the ones whose exit
// criteria are met.
func (b *Bot) checkExits(ctx context.Context) {
	open, err := b.d.Source.GetOpenTrades(ctx)
	if err != nil {
		b.log.Error("Failed to load open trades", "error", err.Error())
		return
	}

	for _, trade := range open {
		price, err := b.d.Provider.GetPrice(ctx, trade.Symbol)
		if err != nil {
			b.log.Error("Failed to price open position",
				"trade_id", trade.ID, "symbol", trade.Symbol, "error", err.Error())
			continue
		}

		latest := b.latestSignal(ctx, trade.Symbol)
		decision := b.d.Executor.EvaluateExit(trade, price, latest, time.Now().UTC())
		if !decision.ShouldExit {
			continue
		}

		pnl, err := b.d.Executor.Close(ctx, trade, price, decision.Reason)
		if err != nil {
			b.log.Error("Failed to close position", "trade_id", trade.ID, "error", err.Error())
			continue
		}
		b.d.Gate.RecordClose(trade.Symbol, pnl)
	}
}

// latestSignal re-evaluates the symbol for reversal exits. Any failure
// degrades to price-only exit checks.
func (b *Bot) latestSignal(ctx context.Context, symbol string) *strategy.Signal {
	candles, err := b.d.Provider.GetCandles(ctx, symbol,
		b.cfg.TradingConfig.Timeframe, b.cfg.TradingConfig.HistoryCandles)
	if err != nil {
		return nil
	}
	sig, err := b.d.Generator.Evaluate(symbol, candles)
	if err != nil {
		return nil
	}
	return sig
}

// maintenanceLoop drives the slow timers: learning cycles, confidence
// adjustment, symbol rotation and the watchdog.
func (b *Bot) maintenanceLoop() {
	defer b.wg.Done()

	learningTicker := time.NewTicker(learningCheckInterval)
	confidenceTicker := time.NewTicker(confidenceInterval)
	rotationTicker := time.NewTicker(rotationInterval)
	watchdogTicker := time.NewTicker(b.cfg.WatchdogInterval())
	defer learningTicker.Stop()
	defer confidenceTicker.Stop()
	defer rotationTicker.Stop()
	defer watchdogTicker.Stop()

	for {
		select {
		case <-learningTicker.C:
			ctx := context.Background()
			if b.cfg.LearningConfig.Enabled && b.d.Learner.ShouldRun(ctx) {
				result := b.d.Learner.RunCycle(ctx)
				if !result.Success {
					b.log.Warn("Learning cycle failed", "errors", result.Errors)
				}
			}

		case <-confidenceTicker.C:
			adj, err := b.d.Confidence.Adjust(context.Background())
			if err != nil {
				b.log.Error("Confidence adjustment failed", "error", err.Error())
			} else if adj.Adjusted {
				b.log.Info("Confidence threshold adjusted",
					"old", adj.OldValue, "new", adj.NewValue, "reason", adj.Reason)
			}

		case <-rotationTicker.C:
			if b.cfg.RotationConfig.Enabled {
				result, err := b.d.Rotator.Rotate(context.Background())
				if err != nil {
					b.log.Error("Symbol rotation failed", "error", err.Error())
				} else if result.Rotated {
					b.log.Info("Symbols rotated",
						"added", result.Added, "removed", result.Removed, "active", result.Active)
				}
			}

		case <-watchdogTicker.C:
			if b.cfg.WatchdogConfig.Enabled {
				report := b.d.Watchdog.HealthCheck(context.Background())
				if !report.Healthy {
					b.log.Warn("Watchdog found issues",
						"issues", report.Issues, "interventions", len(report.Interventions))
				}
			}

		case <-b.stopChan:
			return
		}
	}
}

func (b *Bot) persistLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(statePersisterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.d.Persister.Save(context.Background(), b.d.Gate); err != nil {
				b.log.Warn("Failed to persist risk state", "error", err.Error())
			}
		case <-b.stopChan:
			return
		}
	}
}

// Status reports the bot's run state for the API.
func (b *Bot) Status() map[string]interface{} {
	b.mu.RLock()
	running, startedAt, lastScan := b.running, b.startedAt, b.lastScan
	b.mu.RUnlock()

	status := map[string]interface{}{
		"running":       running,
		"mode":          string(b.cfg.TradingConfig.Mode),
		"symbols":       b.d.Rotator.Active(),
		"model_version": b.d.Enhancer.ModelVersion(),
		"params":        b.d.Params.Get().Snapshot(),
		"risk":          b.d.Gate.Snapshot(),
	}
	if running {
		status["started_at"] = startedAt
		status["uptime_secs"] = int(time.Since(startedAt).Seconds())
	}
	if !lastScan.IsZero() {
		status["last_scan"] = lastScan
	}
	return status
}

// ActiveSymbols returns the current trading universe.
func (b *Bot) ActiveSymbols() []string {
	return b.d.Rotator.Active()
}

// WatchdogStatus reports the watchdog's last check for the API.
func (b *Bot) WatchdogStatus() map[string]interface{} {
	return b.d.Watchdog.Snapshot()
}

// AdaptiveCeiling reports the current performance-gated confidence ceiling.
func (b *Bot) AdaptiveCeiling(ctx context.Context) float64 {
	ceiling, err := b.d.Confidence.AdaptiveCeiling(ctx)
	if err != nil {
		b.log.Error("Failed to compute adaptive ceiling", "error", err.Error())
		return strategy.MaxConfidenceCap
	}
	return ceiling
}
