package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dduho/trading-bot/internal/database"
	"github.com/dduho/trading-bot/internal/events"
	"github.com/dduho/trading-bot/internal/logging"
	"github.com/dduho/trading-bot/internal/strategy"
)

// TradeSource is the slice of the repository the watchdog reads and
// writes.
type TradeSource interface {
	CountTradesOpenedSince(ctx context.Context, since time.Time) (int, error)
	GetOpenTrades(ctx context.Context) ([]*database.Trade, error)
	GetPerformanceStats(ctx context.Context, since time.Time) (*database.PerformanceStats, error)
	SaveLearningEvent(ctx context.Context, ev *database.LearningEvent) error
}

// PositionCloser closes a single open position at the given price.
type PositionCloser interface {
	Close(ctx context.Context, trade *database.Trade, exitPrice float64, reason string) (float64, error)
}

// RiskGate is the slice of the risk gatekeeper the watchdog can repair.
type RiskGate interface {
	DailyLimitReached() bool
	ForceDailyReset()
}

// Check names, also used as the rate limiter keys.
const (
	CheckActivity   = "trading_activity"
	CheckConfidence = "confidence_bounds"
	CheckStuck      = "stuck_positions"
	CheckWinRate    = "win_rate"
)

const (
	minTradesPerHour = 2
	// maxPositionAge is how long a position may stay open before the
	// watchdog closes it at breakeven.
	maxPositionAge = 6 * time.Hour
	// resetConfidence is the value restored after an out-of-bounds gate.
	resetConfidence = 0.05
	// criticalWinRate triggers a selectivity raise when breached over a
	// real daily sample.
	criticalWinRate          = 0.25
	minTradesForWinRateCheck = 20
)

// Intervention records one auto-fix the watchdog applied.
type Intervention struct {
	Check  string `json:"check"`
	Issue  string `json:"issue"`
	Action string `json:"action"`
}

// HealthReport is the result of one full health check pass.
type HealthReport struct {
	Timestamp     time.Time      `json:"timestamp"`
	Healthy       bool           `json:"healthy"`
	Issues        []string       `json:"issues,omitempty"`
	Interventions []Intervention `json:"interventions,omitempty"`
}

// Watchdog monitors bot health and repairs the common failure modes on
// its own: a silent bot, a confidence gate wedged out of bounds, stuck
// positions and a collapsing win rate. Each check carries its own rate
// limiter so a persistent condition triggers at most one intervention
// per hour.
type Watchdog struct {
	source TradeSource
	closer PositionCloser
	gate   RiskGate
	params *strategy.Store
	bus    *events.EventBus
	log    *logging.Logger
	now    func() time.Time

	limiters map[string]*rate.Limiter

	mu               sync.Mutex
	lastCheck        time.Time
	lastIntervention time.Time
}

func New(source TradeSource, closer PositionCloser, gate RiskGate, params *strategy.Store, bus *events.EventBus, log *logging.Logger) *Watchdog {
	if log == nil {
		log = logging.Default()
	}
	limiters := make(map[string]*rate.Limiter, 4)
	for _, check := range []string{CheckActivity, CheckConfidence, CheckStuck, CheckWinRate} {
		limiters[check] = rate.NewLimiter(rate.Every(time.Hour), 1)
	}
	return &Watchdog{
		source:   source,
		closer:   closer,
		gate:     gate,
		params:   params,
		bus:      bus,
		log:      log.WithComponent("watchdog"),
		now:      time.Now,
		limiters: limiters,
	}
}

// SetClock overrides the time source for tests.
func (w *Watchdog) SetClock(now func() time.Time) { w.now = now }

// HealthCheck runs all checks and applies what fixes they allow. A panic
// inside one check is contained so the remaining checks still run.
func (w *Watchdog) HealthCheck(ctx context.Context) HealthReport {
	report := HealthReport{Timestamp: w.now().UTC()}

	checks := []struct {
		name string
		run  func(context.Context) (string, []Intervention, error)
	}{
		{CheckActivity, w.checkActivity},
		{CheckConfidence, w.checkConfidence},
		{CheckStuck, w.checkStuckPositions},
		{CheckWinRate, w.checkWinRate},
	}
	for _, check := range checks {
		issue, interventions, err := w.runContained(ctx, check.name, check.run)
		if err != nil {
			w.log.Error("health check failed", "check", check.name, "error", err)
			continue
		}
		if issue != "" {
			report.Issues = append(report.Issues, issue)
		}
		report.Interventions = append(report.Interventions, interventions...)
	}

	report.Healthy = len(report.Issues) == 0
	w.mu.Lock()
	w.lastCheck = report.Timestamp
	if len(report.Interventions) > 0 {
		w.lastIntervention = report.Timestamp
	}
	w.mu.Unlock()
	for _, iv := range report.Interventions {
		w.record(ctx, iv)
	}
	return report
}

// runContained shields the caller from a panicking check.
func (w *Watchdog) runContained(ctx context.Context, name string, run func(context.Context) (string, []Intervention, error)) (issue string, interventions []Intervention, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("health check panicked", "check", name, "panic", fmt.Sprint(r))
			err = fmt.Errorf("check %s panicked: %v", name, r)
		}
	}()
	return run(ctx)
}

// checkActivity detects a bot that stopped trading and kicks it back to
// life: gate down to the floor and all positions closed at market so
// fresh entries have room.
func (w *Watchdog) checkActivity(ctx context.Context) (string, []Intervention, error) {
	count, err := w.source.CountTradesOpenedSince(ctx, w.now().UTC().Add(-time.Hour))
	if err != nil {
		return "", nil, err
	}
	if count >= minTradesPerHour {
		return "", nil, nil
	}

	issue := fmt.Sprintf("low trading activity: %d trades in the last hour, expected at least %d", count, minTradesPerHour)
	w.log.Warn("low trading activity detected", "trades_last_hour", count)
	if !w.limiters[CheckActivity].Allow() {
		return issue, nil, nil
	}

	var interventions []Intervention

	// A maxed daily counter silences the bot until the next UTC day. The
	// counter reset clears the lockout without touching the gate.
	if w.gate != nil && w.gate.DailyLimitReached() {
		w.gate.ForceDailyReset()
		interventions = append(interventions, Intervention{
			Check:  CheckActivity,
			Issue:  issue,
			Action: "force reset daily risk counters to clear limit lockout",
		})
	}

	current := w.params.Get().MinConfidence
	if current > strategy.MinConfidenceFloor {
		if _, _, err := w.params.Apply("watchdog", func(p strategy.Params) strategy.Params {
			p.MinConfidence = strategy.MinConfidenceFloor
			return p
		}); err != nil {
			return issue, interventions, err
		}
		interventions = append(interventions, Intervention{
			Check:  CheckActivity,
			Issue:  issue,
			Action: fmt.Sprintf("reset min_confidence %.1f%% to %.1f%% to force trading", current*100, strategy.MinConfidenceFloor*100),
		})
	}

	open, err := w.source.GetOpenTrades(ctx)
	if err != nil {
		return issue, interventions, err
	}
	closed := 0
	for _, trade := range open {
		// Breakeven close: no live price is trustworthy if nothing has
		// traded for an hour.
		if _, err := w.closer.Close(ctx, trade, trade.EntryPrice, database.ExitReasonWatchdogForced); err != nil {
			w.log.Error("force close failed", "trade_id", trade.ID, "error", err)
			continue
		}
		closed++
	}
	if closed > 0 {
		interventions = append(interventions, Intervention{
			Check:  CheckActivity,
			Issue:  issue,
			Action: fmt.Sprintf("force closed %d open positions to restart trading", closed),
		})
	}
	return issue, interventions, nil
}

// checkConfidence verifies the gate sits inside its hard bounds and
// resets it when it does not.
func (w *Watchdog) checkConfidence(ctx context.Context) (string, []Intervention, error) {
	current := w.params.Get().MinConfidence
	if current >= strategy.MinConfidenceFloor && current <= strategy.MaxConfidenceCap {
		return "", nil, nil
	}

	issue := fmt.Sprintf("min_confidence %.1f%% outside safe range [%.0f%%, %.0f%%]",
		current*100, strategy.MinConfidenceFloor*100, strategy.MaxConfidenceCap*100)
	w.log.Warn("confidence gate out of bounds", "current", current)
	if !w.limiters[CheckConfidence].Allow() {
		return issue, nil, nil
	}

	if _, _, err := w.params.Apply("watchdog", func(p strategy.Params) strategy.Params {
		p.MinConfidence = resetConfidence
		return p
	}); err != nil {
		return issue, nil, err
	}
	return issue, []Intervention{{
		Check:  CheckConfidence,
		Issue:  issue,
		Action: fmt.Sprintf("reset min_confidence to %.0f%%", resetConfidence*100),
	}}, nil
}

// checkStuckPositions closes positions that have sat open past the age
// cap, at breakeven.
func (w *Watchdog) checkStuckPositions(ctx context.Context) (string, []Intervention, error) {
	open, err := w.source.GetOpenTrades(ctx)
	if err != nil {
		return "", nil, err
	}
	nowUTC := w.now().UTC()
	var stuck []*database.Trade
	for _, trade := range open {
		if nowUTC.Sub(trade.EntryTime) > maxPositionAge {
			stuck = append(stuck, trade)
		}
	}
	if len(stuck) == 0 {
		return "", nil, nil
	}

	issue := fmt.Sprintf("%d positions open longer than %s", len(stuck), maxPositionAge)
	w.log.Warn("stuck positions detected", "count", len(stuck), "max_age", maxPositionAge)
	if !w.limiters[CheckStuck].Allow() {
		return issue, nil, nil
	}

	var interventions []Intervention
	for _, trade := range stuck {
		age := nowUTC.Sub(trade.EntryTime)
		if _, err := w.closer.Close(ctx, trade, trade.EntryPrice, database.ExitReasonWatchdogForced); err != nil {
			w.log.Error("stuck position close failed", "trade_id", trade.ID, "error", err)
			continue
		}
		interventions = append(interventions, Intervention{
			Check:  CheckStuck,
			Issue:  issue,
			Action: fmt.Sprintf("closed stagnant %s position at breakeven after %.1fh", trade.Symbol, age.Hours()),
		})
	}
	return issue, interventions, nil
}

// checkWinRate raises selectivity when the daily win rate collapses over
// a meaningful sample.
func (w *Watchdog) checkWinRate(ctx context.Context) (string, []Intervention, error) {
	stats, err := w.source.GetPerformanceStats(ctx, w.now().UTC().Add(-24*time.Hour))
	if err != nil {
		return "", nil, err
	}
	if stats.TotalTrades <= minTradesForWinRateCheck || stats.WinRate >= criticalWinRate {
		return "", nil, nil
	}

	issue := fmt.Sprintf("critical win rate %.1f%% over %d trades", stats.WinRate*100, stats.TotalTrades)
	w.log.Warn("critical win rate detected", "win_rate", stats.WinRate, "trades", stats.TotalTrades)
	if !w.limiters[CheckWinRate].Allow() {
		return issue, nil, nil
	}

	current := w.params.Get().MinConfidence
	target := current + 0.02
	if target > 0.10 {
		target = 0.10
	}
	if target <= current {
		return issue, nil, nil
	}
	if _, _, err := w.params.Apply("watchdog", func(p strategy.Params) strategy.Params {
		p.MinConfidence = target
		return p
	}); err != nil {
		return issue, nil, err
	}
	return issue, []Intervention{{
		Check:  CheckWinRate,
		Issue:  issue,
		Action: fmt.Sprintf("raised min_confidence %.1f%% to %.1f%% for selectivity", current*100, target*100),
	}}, nil
}

// record persists the intervention and announces it on the bus.
func (w *Watchdog) record(ctx context.Context, iv Intervention) {
	detail, _ := json.Marshal(iv)
	if err := w.source.SaveLearningEvent(ctx, &database.LearningEvent{
		EventType:       database.LearningEventWatchdog,
		Source:          "watchdog",
		Description:     fmt.Sprintf("%s: %s", iv.Check, iv.Action),
		ParametersAfter: detail,
	}); err != nil {
		w.log.Error("recording watchdog intervention", "error", err)
	}
	if w.bus != nil {
		w.bus.PublishWatchdogIntervention(iv.Check, iv.Issue, iv.Action)
	}
}

// Snapshot reports watchdog state for the status API.
func (w *Watchdog) Snapshot() map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := map[string]interface{}{
		"last_check": w.lastCheck,
	}
	if !w.lastIntervention.IsZero() {
		out["last_intervention"] = w.lastIntervention
	}
	return out
}
