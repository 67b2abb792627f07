package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dduho/trading-bot/config"
	"github.com/dduho/trading-bot/internal/database"
	"github.com/dduho/trading-bot/internal/events"
	"github.com/dduho/trading-bot/internal/executor"
	"github.com/dduho/trading-bot/internal/market"
	"github.com/dduho/trading-bot/internal/ml"
	"github.com/dduho/trading-bot/internal/risk"
	"github.com/dduho/trading-bot/internal/strategy"
)

// memoryStore is an in-memory trade store shared by the executor and the
// bot's polling surface.
type memoryStore struct {
	mu     sync.Mutex
	nextID int
	trades map[string]*database.Trade
}

func newMemoryStore() *memoryStore {
	return &memoryStore{trades: make(map[string]*database.Trade)}
}

func (m *memoryStore) CreateTrade(ctx context.Context, trade *database.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	trade.ID = fmt.Sprintf("trade-%d", m.nextID)
	copied := *trade
	m.trades[trade.ID] = &copied
	return nil
}

func (m *memoryStore) SaveTradeConditions(ctx context.Context, tc *database.TradeConditions) error {
	return nil
}

func (m *memoryStore) CloseTrade(ctx context.Context, id string, exitPrice float64, exitTime time.Time, pnl, pnlPercent float64, exitReason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	trade, ok := m.trades[id]
	if !ok {
		return errors.New("trade not found")
	}
	trade.ExitPrice = &exitPrice
	trade.ExitTime = &exitTime
	trade.PnL = &pnl
	trade.PnLPercent = &pnlPercent
	trade.ExitReason = &exitReason
	trade.Status = database.TradeStatusClosed
	return nil
}

func (m *memoryStore) GetOpenTrades(ctx context.Context) ([]*database.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var open []*database.Trade
	for _, t := range m.trades {
		if t.Status == database.TradeStatusOpen {
			copied := *t
			open = append(open, &copied)
		}
	}
	return open, nil
}

// fixedProvider serves one candle series and price per symbol.
type fixedProvider struct {
	mu      sync.Mutex
	candles map[string][]market.Candle
	prices  map[string]float64
}

func (p *fixedProvider) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]market.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.candles[symbol]
	if !ok {
		return nil, errors.New("unknown symbol")
	}
	return c, nil
}

func (p *fixedProvider) GetPrice(ctx context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[symbol]
	if !ok {
		return 0, errors.New("unknown symbol")
	}
	return price, nil
}

func (p *fixedProvider) setPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// buySeries is a decline followed by a sharp recovery with a volume
// spike, which the generator reads as an actionable BUY.
func buySeries() []market.Candle {
	closes := make([]float64, 90)
	for i := 0; i < 75; i++ {
		closes[i] = 200 - float64(i)*1.2
	}
	for i := 75; i < 90; i++ {
		closes[i] = closes[74] + float64(i-74)*2.5
	}

	candles := make([]market.Candle, len(closes))
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		candles[i] = market.Candle{
			OpenTime:  base.Add(time.Duration(i) * time.Minute),
			Open:      c,
			High:      c * 1.005,
			Low:       c * 0.995,
			Close:     c,
			Volume:    1000,
			CloseTime: base.Add(time.Duration(i+1) * time.Minute),
		}
	}
	candles[len(candles)-1].Volume = 3000
	return candles
}

func flatSeries() []market.Candle {
	candles := make([]market.Candle, 60)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = market.Candle{
			OpenTime:  base.Add(time.Duration(i) * time.Minute),
			Open:      100,
			High:      100.2,
			Low:       99.8,
			Close:     100,
			Volume:    1000,
			CloseTime: base.Add(time.Duration(i+1) * time.Minute),
		}
	}
	return candles
}

type harness struct {
	bot      *Bot
	store    *memoryStore
	provider *fixedProvider
	gate     *risk.Gatekeeper
}

func newHarness(t *testing.T, candles map[string][]market.Candle, prices map[string]float64) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.TradingConfig.Symbols = []string{"SOLUSDT"}
	cfg.RiskConfig.CooldownSecs = 0

	params, err := strategy.NewStore(strategy.DefaultParams(
		cfg.StrategyConfig.MinConfidence, cfg.StrategyConfig.Weights), nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	store := newMemoryStore()
	provider := &fixedProvider{candles: candles, prices: prices}
	bus := events.NewEventBus()
	gate := risk.NewGatekeeper(cfg.RiskConfig, cfg.TradingConfig.Mode, nil)

	d := Deps{
		Provider:  provider,
		Generator: strategy.NewGenerator(params, nil),
		Enhancer:  ml.NewEnhancer(0.8, nil),
		Gate:      gate,
		Executor:  executor.New(store, bus, cfg, nil),
		Source:    store,
		Params:    params,
		Bus:       bus,
	}

	return &harness{
		bot:      New(cfg, d, nil),
		store:    store,
		provider: provider,
		gate:     gate,
	}
}

func TestEvaluateSymbolOpensOnActionableSignal(t *testing.T) {
	h := newHarness(t,
		map[string][]market.Candle{"SOLUSDT": buySeries()},
		map[string]float64{"SOLUSDT": 150})

	if err := h.bot.evaluateSymbol(context.Background(), "SOLUSDT"); err != nil {
		t.Fatalf("evaluateSymbol: %v", err)
	}

	open, _ := h.store.GetOpenTrades(context.Background())
	if len(open) != 1 {
		t.Fatalf("open trades = %d, want 1", len(open))
	}
	if open[0].Symbol != "SOLUSDT" || open[0].Direction != "BUY" {
		t.Errorf("unexpected trade: %+v", open[0])
	}
	if open[0].StopLoss == nil || open[0].TakeProfit == nil {
		t.Error("trade missing protective levels")
	}
}

func TestEvaluateSymbolHoldsOnFlatMarket(t *testing.T) {
	h := newHarness(t,
		map[string][]market.Candle{"SOLUSDT": flatSeries()},
		map[string]float64{"SOLUSDT": 100})

	if err := h.bot.evaluateSymbol(context.Background(), "SOLUSDT"); err != nil {
		t.Fatalf("evaluateSymbol: %v", err)
	}

	open, _ := h.store.GetOpenTrades(context.Background())
	if len(open) != 0 {
		t.Errorf("open trades = %d, want 0", len(open))
	}
}

func TestEvaluateSymbolRespectsRiskGate(t *testing.T) {
	h := newHarness(t,
		map[string][]market.Candle{"SOLUSDT": buySeries()},
		map[string]float64{"SOLUSDT": 150})

	if err := h.bot.evaluateSymbol(context.Background(), "SOLUSDT"); err != nil {
		t.Fatalf("first evaluateSymbol: %v", err)
	}
	// The symbol now has an open position; a second signal must not stack.
	if err := h.bot.evaluateSymbol(context.Background(), "SOLUSDT"); err != nil {
		t.Fatalf("second evaluateSymbol: %v", err)
	}

	open, _ := h.store.GetOpenTrades(context.Background())
	if len(open) != 1 {
		t.Errorf("open trades = %d, want 1", len(open))
	}
}

func TestCheckExitsClosesOnStopLoss(t *testing.T) {
	h := newHarness(t,
		map[string][]market.Candle{"SOLUSDT": buySeries()},
		map[string]float64{"SOLUSDT": 150})

	if err := h.bot.evaluateSymbol(context.Background(), "SOLUSDT"); err != nil {
		t.Fatalf("evaluateSymbol: %v", err)
	}
	open, _ := h.store.GetOpenTrades(context.Background())
	if len(open) != 1 {
		t.Fatalf("open trades = %d, want 1", len(open))
	}

	// Crash the price through the stop.
	h.provider.setPrice("SOLUSDT", *open[0].StopLoss*0.95)
	h.bot.checkExits(context.Background())

	open, _ = h.store.GetOpenTrades(context.Background())
	if len(open) != 0 {
		t.Fatalf("open trades after crash = %d, want 0", len(open))
	}

	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	for _, trade := range h.store.trades {
		if trade.ExitReason == nil || *trade.ExitReason != database.ExitReasonStopLoss {
			t.Errorf("exit reason = %v, want %s", trade.ExitReason, database.ExitReasonStopLoss)
		}
		if trade.PnL == nil || *trade.PnL >= 0 {
			t.Errorf("stop loss exit should realize a loss, got %v", trade.PnL)
		}
	}
}

func TestRecoverStateSyncsOpenPositions(t *testing.T) {
	h := newHarness(t,
		map[string][]market.Candle{"SOLUSDT": buySeries()},
		map[string]float64{"SOLUSDT": 150})

	trade := &database.Trade{
		Symbol:     "SOLUSDT",
		Direction:  "BUY",
		EntryPrice: 150,
		Quantity:   1,
		EntryTime:  time.Now().UTC(),
		Status:     database.TradeStatusOpen,
	}
	if err := h.store.CreateTrade(context.Background(), trade); err != nil {
		t.Fatalf("CreateTrade: %v", err)
	}

	if err := h.bot.recoverState(context.Background()); err != nil {
		t.Fatalf("recoverState: %v", err)
	}

	verdict := h.gate.CanOpen("SOLUSDT")
	if verdict.Allowed {
		t.Error("gate should block a symbol with a recovered open position")
	}
}
