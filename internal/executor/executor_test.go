package executor

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/dduho/trading-bot/config"
	"github.com/dduho/trading-bot/internal/database"
	"github.com/dduho/trading-bot/internal/events"
	"github.com/dduho/trading-bot/internal/market"
	"github.com/dduho/trading-bot/internal/strategy"
)

// mockStore records calls in memory.
type mockStore struct {
	trades     map[string]*database.Trade
	conditions map[string]*database.TradeConditions
	closed     map[string]string // trade id -> exit reason
	nextID     int
}

func newMockStore() *mockStore {
	return &mockStore{
		trades:     make(map[string]*database.Trade),
		conditions: make(map[string]*database.TradeConditions),
		closed:     make(map[string]string),
	}
}

func (m *mockStore) CreateTrade(_ context.Context, trade *database.Trade) error {
	if trade.ID == "" {
		m.nextID++
		trade.ID = time.Now().Format("150405") + "-" + string(rune('a'+m.nextID))
	}
	trade.CreatedAt = time.Now()
	trade.UpdatedAt = trade.CreatedAt
	m.trades[trade.ID] = trade
	return nil
}

func (m *mockStore) SaveTradeConditions(_ context.Context, tc *database.TradeConditions) error {
	m.conditions[tc.TradeID] = tc
	return nil
}

func (m *mockStore) CloseTrade(_ context.Context, id string, exitPrice float64, exitTime time.Time, pnl, pnlPercent float64, exitReason string) error {
	t, ok := m.trades[id]
	if !ok {
		return database.ErrNotFound
	}
	t.Status = database.TradeStatusClosed
	t.ExitPrice = &exitPrice
	t.ExitTime = &exitTime
	t.PnL = &pnl
	t.PnLPercent = &pnlPercent
	t.ExitReason = &exitReason
	m.closed[id] = exitReason
	return nil
}

func (m *mockStore) GetOpenTrades(_ context.Context) ([]*database.Trade, error) {
	var out []*database.Trade
	for _, t := range m.trades {
		if t.Status == database.TradeStatusOpen {
			out = append(out, t)
		}
	}
	return out, nil
}

func testEngine(t *testing.T) (*Engine, *mockStore) {
	t.Helper()
	store := newMockStore()
	cfg := config.Default()
	cfg.RiskConfig.UseATRStops = false
	return New(store, events.NewEventBus(), cfg, nil), store
}

func buySignal(price float64) *strategy.Signal {
	return &strategy.Signal{
		Symbol:     "SOLUSDT",
		Direction:  strategy.DirectionBuy,
		Confidence: 0.08,
		Price:      price,
		Reason:     "test setup",
		Indicators: market.IndicatorSet{Price: price, RSI: 28, Trend: market.TrendBullish},
	}
}

func TestOpenPersistsTradeAndConditions(t *testing.T) {
	eng, store := testEngine(t)

	trade, err := eng.Open(context.Background(), buySignal(100), 0.09, "v1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if trade.Status != database.TradeStatusOpen {
		t.Errorf("status = %s, want OPEN", trade.Status)
	}
	if trade.BaseConfidence != 0.08 || trade.EnhancedConfidence != 0.09 {
		t.Errorf("confidences = %v/%v, want 0.08/0.09", trade.BaseConfidence, trade.EnhancedConfidence)
	}
	if trade.ModelVersion == nil || *trade.ModelVersion != "v1" {
		t.Error("model version not recorded")
	}
	if trade.StopLoss == nil || *trade.StopLoss >= 100 {
		t.Errorf("stop loss = %v, want below entry for a long", trade.StopLoss)
	}
	if trade.TakeProfit == nil || *trade.TakeProfit <= 100 {
		t.Errorf("take profit = %v, want above entry for a long", trade.TakeProfit)
	}

	tc, ok := store.conditions[trade.ID]
	if !ok {
		t.Fatal("entry conditions not persisted")
	}
	if tc.RSI != 28 || tc.SignalConfidence != 0.08 {
		t.Errorf("conditions snapshot wrong: rsi=%v conf=%v", tc.RSI, tc.SignalConfidence)
	}
	if len(tc.Features) == 0 {
		t.Error("feature vector not serialized")
	}
}

func TestOpenRejectsHoldSignal(t *testing.T) {
	eng, _ := testEngine(t)
	sig := buySignal(100)
	sig.Direction = strategy.DirectionHold

	if _, err := eng.Open(context.Background(), sig, 0.05, ""); err == nil {
		t.Error("expected error opening a HOLD signal")
	}
}

func TestComputePnLDirectionAware(t *testing.T) {
	long := &database.Trade{Direction: "BUY", EntryPrice: 100, Quantity: 2}
	pnl, pct := ComputePnL(long, 110)
	if pnl != 20 {
		t.Errorf("long pnl = %v, want 20", pnl)
	}
	if math.Abs(pct-10) > 1e-9 {
		t.Errorf("long pnl%% = %v, want 10", pct)
	}

	short := &database.Trade{Direction: "SELL", EntryPrice: 100, Quantity: 2}
	pnl, _ = ComputePnL(short, 110)
	if pnl != -20 {
		t.Errorf("short pnl = %v, want -20", pnl)
	}
	pnl, _ = ComputePnL(short, 90)
	if pnl != 20 {
		t.Errorf("short pnl at lower exit = %v, want 20", pnl)
	}
}

func TestEvaluateExitPriority(t *testing.T) {
	eng, _ := testEngine(t)
	sl := 95.0
	tp := 110.0
	now := time.Now().UTC()
	trade := &database.Trade{
		Direction:  "BUY",
		EntryPrice: 100,
		Quantity:   1,
		EntryTime:  now.Add(-time.Hour),
		StopLoss:   &sl,
		TakeProfit: &tp,
	}

	if d := eng.EvaluateExit(trade, 94, nil, now); !d.ShouldExit || d.Reason != database.ExitReasonStopLoss {
		t.Errorf("below stop: %+v, want stop_loss exit", d)
	}
	if d := eng.EvaluateExit(trade, 111, nil, now); !d.ShouldExit || d.Reason != database.ExitReasonTakeProfit {
		t.Errorf("above target: %+v, want take_profit exit", d)
	}

	reversal := &strategy.Signal{Direction: strategy.DirectionSell, Strong: true}
	if d := eng.EvaluateExit(trade, 100, reversal, now); !d.ShouldExit || d.Reason != database.ExitReasonSignalReversal {
		t.Errorf("strong opposing signal: %+v, want signal_reversal exit", d)
	}

	weak := &strategy.Signal{Direction: strategy.DirectionSell, Strong: false}
	if d := eng.EvaluateExit(trade, 100, weak, now); d.ShouldExit {
		t.Errorf("weak opposing signal should not force exit: %+v", d)
	}

	stale := &database.Trade{
		Direction:  "BUY",
		EntryPrice: 100,
		Quantity:   1,
		EntryTime:  now.Add(-8 * time.Hour),
	}
	if d := eng.EvaluateExit(stale, 100, nil, now); !d.ShouldExit || d.Reason != database.ExitReasonWatchdogForced {
		t.Errorf("stale position: %+v, want forced exit", d)
	}
}

func TestCloseAllForcesEveryOpenPosition(t *testing.T) {
	eng, store := testEngine(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := eng.Open(ctx, buySignal(100+float64(i)), 0.05, ""); err != nil {
			t.Fatalf("Open %d: %v", i, err)
		}
	}

	provider := market.NewSimulatedProvider(7)
	closed, err := eng.CloseAll(ctx, provider, database.ExitReasonWatchdogForced)
	if err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if closed != 3 {
		t.Errorf("closed %d trades, want 3", closed)
	}
	for id, reason := range store.closed {
		if reason != database.ExitReasonWatchdogForced {
			t.Errorf("trade %s closed with reason %s, want watchdog_forced", id, reason)
		}
	}
}
