package confidence

import (
	"context"
	"testing"
	"time"

	"github.com/dduho/trading-bot/internal/database"
	"github.com/dduho/trading-bot/internal/strategy"
)

type mockStats struct {
	daily   *database.PerformanceStats
	weekly  *database.PerformanceStats
	recent  []*database.Trade
	baseNow time.Time
}

func (m *mockStats) GetPerformanceStats(_ context.Context, since time.Time) (*database.PerformanceStats, error) {
	// The 7 day ceiling window and the 1 day adjustment window are told
	// apart by how far back the query reaches.
	if m.baseNow.Sub(since) > 2*24*time.Hour {
		return m.weekly, nil
	}
	return m.daily, nil
}

func (m *mockStats) GetRecentClosedTrades(_ context.Context, limit int) ([]*database.Trade, error) {
	if len(m.recent) > limit {
		return m.recent[:limit], nil
	}
	return m.recent, nil
}

func tradesWithPnL(pnls ...float64) []*database.Trade {
	out := make([]*database.Trade, 0, len(pnls))
	for i := range pnls {
		p := pnls[i]
		out = append(out, &database.Trade{PnL: &p})
	}
	return out
}

func defaultWeights() map[string]float64 {
	return map[string]float64{
		"rsi": 0.25, "macd": 0.25, "moving_averages": 0.25,
		"volume": 0.15, "trend": 0.10,
	}
}

func newManager(t *testing.T, minConfidence float64, src *mockStats) (*Manager, *strategy.Store) {
	t.Helper()
	store, err := strategy.NewStore(strategy.DefaultParams(minConfidence, defaultWeights()), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	m := NewManager(src, store, nil)
	m.SetClock(func() time.Time { return src.baseNow })
	return m, store
}

func TestAdaptiveCeilingPhases(t *testing.T) {
	tests := []struct {
		name  string
		stats database.PerformanceStats
		want  float64
	}{
		{"too few trades", database.PerformanceStats{TotalTrades: 20, WinRate: 0.9, ProfitFactor: 3}, 0.08},
		{"learning phase", database.PerformanceStats{TotalTrades: 100, WinRate: 0.35, ProfitFactor: 1.5}, 0.08},
		{"weak profit factor", database.PerformanceStats{TotalTrades: 100, WinRate: 0.60, ProfitFactor: 0.9}, 0.08},
		{"intermediate", database.PerformanceStats{TotalTrades: 100, WinRate: 0.45, ProfitFactor: 1.5}, 0.10},
		{"mature", database.PerformanceStats{TotalTrades: 100, WinRate: 0.52, ProfitFactor: 1.5}, 0.12},
		{"expert", database.PerformanceStats{TotalTrades: 100, WinRate: 0.60, ProfitFactor: 2.5}, 0.15},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ceilingFor(&tt.stats); got != tt.want {
				t.Errorf("ceilingFor = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestAdjustNeedsMinimumTrades(t *testing.T) {
	src := &mockStats{
		daily:   &database.PerformanceStats{TotalTrades: 5},
		weekly:  &database.PerformanceStats{TotalTrades: 5},
		baseNow: time.Now().UTC(),
	}
	m, store := newManager(t, 0.05, src)

	adj, err := m.Adjust(context.Background())
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if adj.Adjusted {
		t.Error("should not adjust with 5 trades")
	}
	if store.Get().MinConfidence != 0.05 {
		t.Errorf("min_confidence changed to %f", store.Get().MinConfidence)
	}
}

func TestAdjustRaisesOnPoorResults(t *testing.T) {
	src := &mockStats{
		daily: &database.PerformanceStats{
			TotalTrades: 25, WinRate: 0.30, ProfitFactor: 0.8, TotalPnL: -60,
		},
		weekly: &database.PerformanceStats{
			TotalTrades: 100, WinRate: 0.45, ProfitFactor: 1.5,
		},
		recent:  tradesWithPnL(-1, -2, -3, -4, 5),
		baseNow: time.Now().UTC(),
	}
	m, store := newManager(t, 0.05, src)

	adj, err := m.Adjust(context.Background())
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if !adj.Adjusted {
		t.Fatalf("expected adjustment, got: %s", adj.Reason)
	}
	if adj.NewValue <= adj.OldValue {
		t.Errorf("poor results should raise the gate: %f -> %f", adj.OldValue, adj.NewValue)
	}
	// low win rate + 4 losing streak + low PF + drawdown:
	// 0.005 + 0.0075 + 0.0025 + 0.01 = 0.025 on top of 0.05.
	if adj.NewValue < 0.074 || adj.NewValue > 0.076 {
		t.Errorf("new value = %f, want 0.075", adj.NewValue)
	}
	if store.Get().MinConfidence != adj.NewValue {
		t.Error("store not updated with new gate")
	}
}

func TestAdjustNeverExceedsAdaptiveCeiling(t *testing.T) {
	src := &mockStats{
		daily: &database.PerformanceStats{
			TotalTrades: 25, WinRate: 0.30, ProfitFactor: 0.8, TotalPnL: -100,
		},
		// Learning phase: ceiling 0.08.
		weekly:  &database.PerformanceStats{TotalTrades: 100, WinRate: 0.30, ProfitFactor: 0.8},
		recent:  tradesWithPnL(-1, -2, -3, -4, -5),
		baseNow: time.Now().UTC(),
	}
	m, _ := newManager(t, 0.07, src)

	adj, err := m.Adjust(context.Background())
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if !adj.Adjusted {
		t.Fatalf("expected adjustment, got: %s", adj.Reason)
	}
	if adj.NewValue > 0.08 {
		t.Errorf("new value %f exceeds adaptive ceiling 0.08", adj.NewValue)
	}
}

func TestAdjustLowersOnStrongResults(t *testing.T) {
	src := &mockStats{
		daily: &database.PerformanceStats{
			TotalTrades: 12, WinRate: 0.70, ProfitFactor: 2.5, TotalPnL: 80,
		},
		weekly:  &database.PerformanceStats{TotalTrades: 100, WinRate: 0.60, ProfitFactor: 2.2},
		recent:  tradesWithPnL(1, 2, 3, -1, 4),
		baseNow: time.Now().UTC(),
	}
	m, _ := newManager(t, 0.08, src)

	adj, err := m.Adjust(context.Background())
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if !adj.Adjusted {
		t.Fatalf("expected adjustment, got: %s", adj.Reason)
	}
	if adj.NewValue >= adj.OldValue {
		t.Errorf("strong results with low volume should lower the gate: %f -> %f", adj.OldValue, adj.NewValue)
	}
	if adj.NewValue < 0.03 {
		t.Errorf("new value %f below hard floor", adj.NewValue)
	}
}

func TestAdjustHoldsWhenBalanced(t *testing.T) {
	src := &mockStats{
		daily: &database.PerformanceStats{
			TotalTrades: 30, WinRate: 0.52, ProfitFactor: 1.5, TotalPnL: 10,
		},
		weekly:  &database.PerformanceStats{TotalTrades: 100, WinRate: 0.52, ProfitFactor: 1.5},
		recent:  tradesWithPnL(1, -1, 2, -2, 3),
		baseNow: time.Now().UTC(),
	}
	m, store := newManager(t, 0.06, src)

	adj, err := m.Adjust(context.Background())
	if err != nil {
		t.Fatalf("Adjust: %v", err)
	}
	if adj.Adjusted {
		t.Errorf("balanced results should not move the gate: %+v", adj)
	}
	if store.Get().MinConfidence != 0.06 {
		t.Errorf("min_confidence changed to %f", store.Get().MinConfidence)
	}
}
