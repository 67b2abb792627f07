package confidence

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dduho/trading-bot/internal/database"
	"github.com/dduho/trading-bot/internal/logging"
	"github.com/dduho/trading-bot/internal/strategy"
)

// StatsSource is the slice of the repository the manager reads from.
type StatsSource interface {
	GetPerformanceStats(ctx context.Context, since time.Time) (*database.PerformanceStats, error)
	GetRecentClosedTrades(ctx context.Context, limit int) ([]*database.Trade, error)
}

const (
	targetTradesPerDay = 30
	// adjustmentStep moves min_confidence half a percent at a time so one
	// bad day cannot swing the gate.
	adjustmentStep = 0.005
	// minTradesToAdjust is the daily sample below which no adjustment runs.
	minTradesToAdjust = 10
	// emergencyResetValue is applied when min_confidence is found outside
	// its hard bounds.
	emergencyResetValue = 0.05

	ceilingWindow = 7 * 24 * time.Hour
	dailyWindow   = 24 * time.Hour
)

// Adjustment reports the outcome of one adjustment pass.
type Adjustment struct {
	Adjusted bool    `json:"adjusted"`
	OldValue float64 `json:"old_value"`
	NewValue float64 `json:"new_value"`
	Change   float64 `json:"change"`
	Ceiling  float64 `json:"ceiling"`
	Reason   string  `json:"reason"`
}

// Manager tunes the strategy's min_confidence gate from live results.
// High win rate with low volume lowers the gate to trade more; poor
// results raise it, but never above an adaptive ceiling earned by
// demonstrated performance.
type Manager struct {
	source StatsSource
	params *strategy.Store
	log    *logging.Logger
	now    func() time.Time
}

func NewManager(source StatsSource, params *strategy.Store, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Default()
	}
	return &Manager{
		source: source,
		params: params,
		log:    log.WithComponent("confidence"),
		now:    time.Now,
	}
}

// SetClock overrides the time source for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// AdaptiveCeiling computes the highest min_confidence the bot has earned.
// Until results over the last 7 days prove the strategy out, the ceiling
// stays low to keep trade volume (and training data) flowing.
func (m *Manager) AdaptiveCeiling(ctx context.Context) (float64, error) {
	stats, err := m.source.GetPerformanceStats(ctx, m.now().UTC().Add(-ceilingWindow))
	if err != nil {
		return 0, fmt.Errorf("querying ceiling stats: %w", err)
	}
	ceiling := ceilingFor(stats)
	m.log.Info("adaptive ceiling computed",
		"ceiling", ceiling,
		"win_rate", stats.WinRate,
		"profit_factor", stats.ProfitFactor,
		"trades", stats.TotalTrades)
	return ceiling, nil
}

func ceilingFor(stats *database.PerformanceStats) float64 {
	switch {
	case stats.TotalTrades < 50:
		return 0.08
	case stats.WinRate < 0.40 || stats.ProfitFactor < 1.0:
		return 0.08
	case stats.WinRate < 0.50 || stats.ProfitFactor < 1.3:
		return 0.10
	case stats.WinRate < 0.55 || stats.ProfitFactor < 1.8:
		return 0.12
	default:
		return strategy.MaxConfidenceCap
	}
}

// Adjust runs one adjustment pass and applies the result to the parameter
// store. It is safe to call on a timer; with too little data or no
// meaningful change it reports Adjusted=false and touches nothing.
func (m *Manager) Adjust(ctx context.Context) (Adjustment, error) {
	current := m.params.Get().MinConfidence

	// A gate outside its hard bounds means a bad write got through
	// somewhere. Reset first, ask questions later.
	if current > strategy.MaxConfidenceCap || current < strategy.MinConfidenceFloor {
		m.log.Warn("min_confidence outside hard bounds, forcing reset",
			"current", current, "reset_to", emergencyResetValue)
		if _, _, err := m.params.Apply("confidence_manager", func(p strategy.Params) strategy.Params {
			p.MinConfidence = emergencyResetValue
			return p
		}); err != nil {
			return Adjustment{}, err
		}
		return Adjustment{
			Adjusted: true,
			OldValue: current,
			NewValue: emergencyResetValue,
			Change:   emergencyResetValue - current,
			Reason:   fmt.Sprintf("emergency reset: min_confidence was %.1f%%, outside [%.0f%%, %.0f%%]", current*100, strategy.MinConfidenceFloor*100, strategy.MaxConfidenceCap*100),
		}, nil
	}

	since := m.now().UTC().Add(-dailyWindow)
	stats, err := m.source.GetPerformanceStats(ctx, since)
	if err != nil {
		return Adjustment{}, fmt.Errorf("querying daily stats: %w", err)
	}
	if stats.TotalTrades < minTradesToAdjust {
		return Adjustment{Adjusted: false, OldValue: current, NewValue: current,
			Reason: fmt.Sprintf("only %d trades today, need %d to adjust", stats.TotalTrades, minTradesToAdjust)}, nil
	}

	ceiling, err := m.AdaptiveCeiling(ctx)
	if err != nil {
		return Adjustment{}, err
	}

	target, reason, err := m.optimalConfidence(ctx, current, ceiling, stats)
	if err != nil {
		return Adjustment{}, err
	}
	if math.Abs(target-current) < adjustmentStep {
		return Adjustment{Adjusted: false, OldValue: current, NewValue: current, Ceiling: ceiling,
			Reason: "no adjustment needed"}, nil
	}

	_, after, err := m.params.Apply("confidence_manager", func(p strategy.Params) strategy.Params {
		p.MinConfidence = target
		return p
	})
	if err != nil {
		return Adjustment{}, err
	}

	adj := Adjustment{
		Adjusted: true,
		OldValue: current,
		NewValue: after.MinConfidence,
		Change:   after.MinConfidence - current,
		Ceiling:  ceiling,
		Reason:   reason,
	}
	m.log.Info("min_confidence adjusted",
		"from", adj.OldValue, "to", adj.NewValue, "ceiling", ceiling, "reason", reason)
	return adj, nil
}

// optimalConfidence accumulates graduated nudges from today's results.
// Raises are suppressed once the gate sits at its adaptive ceiling.
func (m *Manager) optimalConfidence(ctx context.Context, current, ceiling float64, stats *database.PerformanceStats) (float64, string, error) {
	var reasons []string
	adjustment := 0.0
	belowCeiling := current < ceiling

	if stats.WinRate < 0.45 && stats.TotalTrades > 15 && belowCeiling {
		adjustment += adjustmentStep
		reasons = append(reasons, fmt.Sprintf("low win rate (%.1f%%), raising selectivity", stats.WinRate*100))
	} else if stats.WinRate > 0.60 && stats.TotalTrades < targetTradesPerDay {
		adjustment -= adjustmentStep
		reasons = append(reasons, fmt.Sprintf("high win rate (%.1f%%) with low volume, trading more", stats.WinRate*100))
	}

	if stats.TotalTrades < 15 {
		adjustment -= adjustmentStep * 0.5
		reasons = append(reasons, fmt.Sprintf("only %d trades today, raising volume", stats.TotalTrades))
	}

	recent, err := m.source.GetRecentClosedTrades(ctx, 10)
	if err != nil {
		return 0, "", fmt.Errorf("querying recent trades: %w", err)
	}
	if len(recent) >= 5 {
		losses := 0
		for _, t := range recent[:5] {
			if t.PnL != nil && *t.PnL < 0 {
				losses++
			}
		}
		if losses >= 4 && belowCeiling {
			adjustment += adjustmentStep * 1.5
			reasons = append(reasons, fmt.Sprintf("%d of last 5 trades lost", losses))
		}
	}

	if stats.ProfitFactor < 1.2 && stats.TotalTrades > 20 && belowCeiling {
		adjustment += adjustmentStep * 0.5
		reasons = append(reasons, fmt.Sprintf("low profit factor (%.2f)", stats.ProfitFactor))
	}

	if stats.TotalPnL < -50 && belowCeiling {
		adjustment += adjustmentStep * 2
		reasons = append(reasons, fmt.Sprintf("significant drawdown ($%.2f), defensive mode", stats.TotalPnL))
	}

	if stats.ProfitFactor > 2.0 && stats.WinRate > 0.55 {
		adjustment -= adjustmentStep * 0.5
		reasons = append(reasons, fmt.Sprintf("excellent performance (PF %.2f), loosening gate", stats.ProfitFactor))
	}

	target := strategy.Clamp(current + adjustment)
	if target > ceiling {
		m.log.Warn("min_confidence capped at adaptive ceiling", "ceiling", ceiling)
		target = ceiling
	}

	reason := "standard adjustment"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, " | ")
	}
	return target, reason, nil
}
