package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/dduho/trading-bot/config"
	"github.com/dduho/trading-bot/internal/logging"
)

// Verdict is the outcome of a gate check.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Gatekeeper decides whether a new position may open. Checks run in a fixed
// priority order: duplicate position, cooldown, max open positions, daily
// trade limit, daily loss limit. Only the duplicate check binds in paper
// and testnet modes; every cap is skipped so the system keeps collecting
// training data through drawdowns.
type Gatekeeper struct {
	mu sync.Mutex

	cfg  config.RiskConfig
	mode config.TradingMode
	log  *logging.Logger

	openSymbols   map[string]struct{}
	lastTradeTime map[string]time.Time
	dailyTrades   int
	dailyPnL      float64
	currentDay    time.Time // UTC midnight of the day being counted

	maxDailyLossUSD float64
	now             func() time.Time
}

// NewGatekeeper creates a gatekeeper for the given mode.
func NewGatekeeper(cfg config.RiskConfig, mode config.TradingMode, log *logging.Logger) *Gatekeeper {
	if log == nil {
		log = logging.Default()
	}
	return &Gatekeeper{
		cfg:             cfg,
		mode:            mode,
		log:             log.WithComponent("risk"),
		openSymbols:     make(map[string]struct{}),
		lastTradeTime:   make(map[string]time.Time),
		currentDay:      utcDay(time.Now()),
		maxDailyLossUSD: 50,
		now:             time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (g *Gatekeeper) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// rollDayLocked resets daily counters when the UTC day has changed. The
// reset is self-healing: it fires on the first check of the new day no
// matter how long the process slept.
func (g *Gatekeeper) rollDayLocked() {
	today := utcDay(g.now())
	if today.After(g.currentDay) {
		g.log.Info("daily counters reset",
			"previous_day", g.currentDay.Format("2006-01-02"),
			"trades", g.dailyTrades,
			"pnl", g.dailyPnL)
		g.dailyTrades = 0
		g.dailyPnL = 0
		g.currentDay = today
	}
}

// CanOpen checks every gate in priority order and returns the first
// blocking reason.
func (g *Gatekeeper) CanOpen(symbol string) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollDayLocked()

	if _, open := g.openSymbols[symbol]; open {
		return Verdict{false, fmt.Sprintf("position already open for %s", symbol)}
	}

	// Without capital at risk every remaining cap is skipped. Paper and
	// testnet runs exist to collect training data, and throttling them
	// starves the learning cycle.
	if !g.mode.CapitalAtRisk() {
		return Verdict{true, "OK"}
	}

	cooldown := time.Duration(g.cfg.CooldownSecs) * time.Second
	if cooldown > 0 {
		if last, ok := g.lastTradeTime[symbol]; ok {
			elapsed := g.now().Sub(last)
			if elapsed < cooldown {
				remaining := cooldown - elapsed
				return Verdict{false, fmt.Sprintf("cooldown active for %s (%ds remaining)",
					symbol, int(remaining.Seconds()))}
			}
		}
	}

	if len(g.openSymbols) >= g.cfg.MaxOpenPositions {
		return Verdict{false, fmt.Sprintf("maximum open positions reached (%d)", g.cfg.MaxOpenPositions)}
	}

	if g.dailyTrades >= g.cfg.MaxDailyTrades {
		return Verdict{false, fmt.Sprintf("daily trade limit reached (%d)", g.cfg.MaxDailyTrades)}
	}

	if g.mode.CapitalAtRisk() && g.dailyPnL < 0 && -g.dailyPnL >= g.maxDailyLossUSD {
		return Verdict{false, fmt.Sprintf("daily loss limit reached (%.2f)", g.maxDailyLossUSD)}
	}

	return Verdict{true, "OK"}
}

// RecordOpen registers a newly opened position.
func (g *Gatekeeper) RecordOpen(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollDayLocked()
	g.openSymbols[symbol] = struct{}{}
	g.dailyTrades++
	g.lastTradeTime[symbol] = g.now()
}

// RecordClose registers a closed position and its realized PnL. The
// cooldown clock restarts on close so a symbol cannot churn.
func (g *Gatekeeper) RecordClose(symbol string, pnl float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollDayLocked()
	delete(g.openSymbols, symbol)
	g.dailyPnL += pnl
	g.lastTradeTime[symbol] = g.now()
}

// ForceDailyReset zeroes the daily counters without waiting for the UTC
// day boundary. The watchdog invokes it when a stale daily-limit lockout
// blocks all activity.
func (g *Gatekeeper) ForceDailyReset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.log.Warn("daily counters force-reset",
		"trades", g.dailyTrades,
		"pnl", g.dailyPnL)
	g.dailyTrades = 0
	g.dailyPnL = 0
	g.currentDay = utcDay(g.now())
}

// SyncOpenPositions replaces the in-memory open set, used on startup to
// recover state from the trade store.
func (g *Gatekeeper) SyncOpenPositions(symbols []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.openSymbols = make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		g.openSymbols[s] = struct{}{}
	}
}

// Snapshot reports the gatekeeper's current counters.
func (g *Gatekeeper) Snapshot() map[string]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollDayLocked()
	open := make([]string, 0, len(g.openSymbols))
	for s := range g.openSymbols {
		open = append(open, s)
	}
	return map[string]interface{}{
		"open_positions": len(g.openSymbols),
		"open_symbols":   open,
		"daily_trades":   g.dailyTrades,
		"daily_pnl":      g.dailyPnL,
		"day":            g.currentDay.Format("2006-01-02"),
		"mode":           string(g.mode),
	}
}

// DailyTrades returns today's trade count.
func (g *Gatekeeper) DailyTrades() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()
	return g.dailyTrades
}

// DailyLimitReached reports whether today's trade count has hit the cap.
func (g *Gatekeeper) DailyLimitReached() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked()
	return g.dailyTrades >= g.cfg.MaxDailyTrades
}
