package rotation

import (
	"context"
	"testing"
	"time"

	"github.com/dduho/trading-bot/internal/database"
)

type mockStats struct {
	symbols []*database.SymbolStats
	overall *database.PerformanceStats
}

func (m *mockStats) GetSymbolStats(_ context.Context, _ time.Time) ([]*database.SymbolStats, error) {
	return m.symbols, nil
}

func (m *mockStats) GetPerformanceStats(_ context.Context, _ time.Time) (*database.PerformanceStats, error) {
	return m.overall, nil
}

var testPool = []string{
	"SOLUSDT", "AVAXUSDT", "MATICUSDT", "DOGEUSDT", "ADAUSDT",
	"ATOMUSDT", "DOTUSDT", "LINKUSDT", "UNIUSDT", "NEARUSDT",
}

func TestScoreWeighting(t *testing.T) {
	tests := []struct {
		name                string
		winRate, pnl, pf    float64
		want                float64
	}{
		{"strong symbol", 0.6, 50, 2.4, 0.6*0.4 + 0.5*0.3 + 0.8*0.3},
		{"deep loser clamps to zero", 0.1, -200, 0.2, 0},
		{"break even", 0.5, 0, 1.0, 0.5*0.4 + 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.winRate, tt.pnl, tt.pf)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Score = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestRotateNeedsHistory(t *testing.T) {
	src := &mockStats{overall: &database.PerformanceStats{TotalTrades: 20}}
	r := New(testPool[:5], testPool, 8, 5, src, nil, nil)

	result, err := r.Rotate(context.Background())
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if result.Rotated {
		t.Error("should not rotate with 20 trades")
	}
	if len(r.Active()) != 5 {
		t.Errorf("active set changed: %v", r.Active())
	}
}

func TestRotateEvictsProvenLosers(t *testing.T) {
	active := []string{"SOLUSDT", "AVAXUSDT", "MATICUSDT", "DOGEUSDT", "ADAUSDT"}
	src := &mockStats{
		overall: &database.PerformanceStats{TotalTrades: 120},
		symbols: []*database.SymbolStats{
			{Symbol: "SOLUSDT", TotalTrades: 30, WinRate: 0.65, TotalPnL: 40, ProfitFactor: 2.0},
			{Symbol: "AVAXUSDT", TotalTrades: 25, WinRate: 0.60, TotalPnL: 25, ProfitFactor: 1.8},
			{Symbol: "MATICUSDT", TotalTrades: 20, WinRate: 0.55, TotalPnL: 10, ProfitFactor: 1.5},
			// Proven loser: big sample, terrible score.
			{Symbol: "DOGEUSDT", TotalTrades: 30, WinRate: 0.15, TotalPnL: -80, ProfitFactor: 0.3},
			// Too few trades to judge: keeps its place.
			{Symbol: "ADAUSDT", TotalTrades: 2, WinRate: 0, TotalPnL: -5, ProfitFactor: 0},
		},
	}
	r := New(active, testPool, 8, 5, src, nil, nil)

	result, err := r.Rotate(context.Background())
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if !result.Rotated {
		t.Fatalf("expected rotation, got: %s", result.Reason)
	}
	if !containsSymbol(result.Removed, "DOGEUSDT") {
		t.Errorf("DOGEUSDT should be evicted, removed = %v", result.Removed)
	}
	if containsSymbol(result.Active, "DOGEUSDT") {
		t.Error("evicted symbol still active")
	}
	if !containsSymbol(result.Active, "ADAUSDT") {
		t.Error("unproven symbol should keep its place")
	}
	for _, s := range []string{"SOLUSDT", "AVAXUSDT", "MATICUSDT"} {
		if !containsSymbol(result.Active, s) {
			t.Errorf("top performer %s dropped", s)
		}
	}
	if len(result.Active) > 8 {
		t.Errorf("active set %d exceeds max 8", len(result.Active))
	}
	if len(result.Active) < 5 {
		t.Errorf("active set %d below min 5", len(result.Active))
	}
	// New blood fills the freed slots from the pool.
	if len(result.Added) == 0 {
		t.Error("expected pool candidates to be added")
	}
}

func TestRotateHoldsMinimumWhenPoolExhausted(t *testing.T) {
	active := []string{"SOLUSDT", "AVAXUSDT", "MATICUSDT", "DOGEUSDT", "ADAUSDT"}
	// Only one fresh candidate exists; two evictions would otherwise
	// shrink the universe to four.
	pool := []string{"SOLUSDT", "AVAXUSDT", "MATICUSDT", "LINKUSDT"}
	src := &mockStats{
		overall: &database.PerformanceStats{TotalTrades: 150},
		symbols: []*database.SymbolStats{
			{Symbol: "SOLUSDT", TotalTrades: 30, WinRate: 0.65, TotalPnL: 40, ProfitFactor: 2.0},
			{Symbol: "AVAXUSDT", TotalTrades: 25, WinRate: 0.60, TotalPnL: 25, ProfitFactor: 1.8},
			{Symbol: "MATICUSDT", TotalTrades: 20, WinRate: 0.55, TotalPnL: 10, ProfitFactor: 1.5},
			{Symbol: "DOGEUSDT", TotalTrades: 30, WinRate: 0.25, TotalPnL: -40, ProfitFactor: 0.5},
			{Symbol: "ADAUSDT", TotalTrades: 30, WinRate: 0.10, TotalPnL: -80, ProfitFactor: 0.2},
		},
	}
	r := New(active, pool, 8, 5, src, nil, nil)

	result, err := r.Rotate(context.Background())
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if len(result.Active) < 5 {
		t.Fatalf("active set %d below min 5: %v", len(result.Active), result.Active)
	}
	if !containsSymbol(result.Added, "LINKUSDT") {
		t.Errorf("fresh candidate should be added, got %v", result.Added)
	}
	// The better-scoring loser survives because nothing can replace it.
	if !containsSymbol(result.Active, "DOGEUSDT") {
		t.Errorf("eviction should be cancelled to hold the minimum: %v", result.Active)
	}
	if !containsSymbol(result.Removed, "ADAUSDT") || containsSymbol(result.Removed, "DOGEUSDT") {
		t.Errorf("only the worst loser should go, removed = %v", result.Removed)
	}
}

func TestRotateKeepsOptimalSet(t *testing.T) {
	active := []string{"SOLUSDT", "AVAXUSDT", "MATICUSDT", "DOGEUSDT", "ADAUSDT", "ATOMUSDT", "DOTUSDT", "LINKUSDT"}
	symbols := make([]*database.SymbolStats, 0, len(active))
	for _, s := range active {
		symbols = append(symbols, &database.SymbolStats{
			Symbol: s, TotalTrades: 15, WinRate: 0.6, TotalPnL: 20, ProfitFactor: 1.8,
		})
	}
	src := &mockStats{
		overall: &database.PerformanceStats{TotalTrades: 120},
		symbols: symbols,
	}
	r := New(active, testPool, 8, 5, src, nil, nil)

	result, err := r.Rotate(context.Background())
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if result.Rotated {
		t.Errorf("all symbols performing, should not rotate: removed=%v added=%v", result.Removed, result.Added)
	}
}

func TestActiveReturnsCopy(t *testing.T) {
	r := New(testPool[:5], testPool, 8, 5, &mockStats{}, nil, nil)
	got := r.Active()
	got[0] = "mutated"
	if r.Active()[0] == "mutated" {
		t.Error("Active must return a copy")
	}
}
