package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dduho/trading-bot/config"
	"github.com/dduho/trading-bot/internal/database"
	"github.com/dduho/trading-bot/internal/events"
	"github.com/dduho/trading-bot/internal/features"
	"github.com/dduho/trading-bot/internal/logging"
	"github.com/dduho/trading-bot/internal/market"
	"github.com/dduho/trading-bot/internal/strategy"
)

// TradeStore is the persistence surface the executor needs.
type TradeStore interface {
	CreateTrade(ctx context.Context, trade *database.Trade) error
	SaveTradeConditions(ctx context.Context, tc *database.TradeConditions) error
	CloseTrade(ctx context.Context, id string, exitPrice float64, exitTime time.Time, pnl, pnlPercent float64, exitReason string) error
	GetOpenTrades(ctx context.Context) ([]*database.Trade, error)
}

// Engine opens and closes paper positions. Fills are simulated at the
// current price; the trade store is the system of record.
type Engine struct {
	store  TradeStore
	bus    *events.EventBus
	log    *logging.Logger
	mode   config.TradingMode
	risk   config.RiskConfig
	sizing float64
}

// New creates an execution engine.
func New(store TradeStore, bus *events.EventBus, cfg *config.Config, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	return &Engine{
		store:  store,
		bus:    bus,
		log:    log.WithComponent("executor"),
		mode:   cfg.TradingConfig.Mode,
		risk:   cfg.RiskConfig,
		sizing: cfg.TradingConfig.PositionSizeUSD,
	}
}

// Open opens a position for the signal and persists the trade together
// with its entry conditions. The enhanced confidence and model version are
// recorded on the trade for later learning.
func (e *Engine) Open(ctx context.Context, sig *strategy.Signal, enhancedConfidence float64, modelVersion string) (*database.Trade, error) {
	if sig.Direction != strategy.DirectionBuy && sig.Direction != strategy.DirectionSell {
		return nil, fmt.Errorf("cannot open position for %s signal", sig.Direction)
	}
	if sig.Price <= 0 {
		return nil, fmt.Errorf("invalid price %v for %s", sig.Price, sig.Symbol)
	}

	stopLoss, takeProfit := e.protectiveLevels(sig)
	quantity := e.sizing / sig.Price

	trade := &database.Trade{
		Symbol:             sig.Symbol,
		Direction:          string(sig.Direction),
		EntryPrice:         sig.Price,
		Quantity:           quantity,
		EntryTime:          time.Now().UTC(),
		StopLoss:           &stopLoss,
		TakeProfit:         &takeProfit,
		BaseConfidence:     sig.Confidence,
		EnhancedConfidence: enhancedConfidence,
		TradingMode:        string(e.mode),
		Status:             database.TradeStatusOpen,
	}
	if modelVersion != "" {
		trade.ModelVersion = &modelVersion
	}

	if err := e.store.CreateTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("failed to persist trade for %s: %w", sig.Symbol, err)
	}

	vec := features.Extract(sig.Indicators, sig.Confidence)
	featureJSON, _ := json.Marshal(vec)
	conditions := &database.TradeConditions{
		TradeID:          trade.ID,
		RSI:              sig.Indicators.RSI,
		MACD:             sig.Indicators.MACD,
		MACDSignal:       sig.Indicators.MACDSignal,
		MACDHistogram:    sig.Indicators.MACDHistogram,
		SMAShort:         sig.Indicators.SMAShort,
		SMALong:          sig.Indicators.SMALong,
		EMAFast:          sig.Indicators.EMAFast,
		EMASlow:          sig.Indicators.EMASlow,
		ATR:              sig.Indicators.ATR,
		BBPosition:       sig.Indicators.BBPosition,
		VolumeRatio:      sig.Indicators.VolumeRatio,
		Trend:            string(sig.Indicators.Trend),
		SignalConfidence: sig.Confidence,
		SignalReason:     sig.Reason,
		Features:         featureJSON,
	}
	if err := e.store.SaveTradeConditions(ctx, conditions); err != nil {
		// The trade exists; a missing snapshot only costs training data.
		e.log.Error("failed to persist trade conditions",
			"trade_id", trade.ID, "error", err)
	}

	e.log.Info("position opened",
		"trade_id", trade.ID,
		"symbol", trade.Symbol,
		"direction", trade.Direction,
		"entry_price", trade.EntryPrice,
		"stop_loss", stopLoss,
		"take_profit", takeProfit,
		"confidence", enhancedConfidence)
	e.bus.PublishTradeOpened(trade.ID, trade.Symbol, trade.Direction,
		trade.EntryPrice, trade.Quantity, enhancedConfidence)

	return trade, nil
}

// protectiveLevels derives stop loss and take profit from config, using an
// ATR distance when enabled and the ATR is usable, otherwise a fixed
// percentage. Take profit honors the configured risk/reward ratio.
func (e *Engine) protectiveLevels(sig *strategy.Signal) (stopLoss, takeProfit float64) {
	stopDistance := sig.Price * e.risk.StopLossPercent / 100
	if e.risk.UseATRStops && sig.Indicators.ATR > 0 {
		atrDistance := sig.Indicators.ATR * e.risk.ATRStopMultiplier
		// ATR stops are bounded by 3x the percent stop to survive
		// volatility spikes.
		if atrDistance < stopDistance*3 {
			stopDistance = atrDistance
		}
	}
	profitDistance := stopDistance * e.risk.RiskRewardRatio

	if sig.Direction == strategy.DirectionBuy {
		return sig.Price - stopDistance, sig.Price + profitDistance
	}
	return sig.Price + stopDistance, sig.Price - profitDistance
}

// Close closes the trade at the given price with the given reason and
// returns the realized PnL.
func (e *Engine) Close(ctx context.Context, trade *database.Trade, exitPrice float64, reason string) (float64, error) {
	pnl, pnlPercent := ComputePnL(trade, exitPrice)
	exitTime := time.Now().UTC()

	if err := e.store.CloseTrade(ctx, trade.ID, exitPrice, exitTime, pnl, pnlPercent, reason); err != nil {
		return 0, fmt.Errorf("failed to close trade %s: %w", trade.ID, err)
	}

	e.log.Info("position closed",
		"trade_id", trade.ID,
		"symbol", trade.Symbol,
		"exit_reason", reason,
		"pnl", pnl,
		"pnl_percent", pnlPercent)
	e.bus.PublishTradeClosed(trade.ID, trade.Symbol, reason,
		trade.EntryPrice, exitPrice, pnl, pnlPercent)

	return pnl, nil
}

// ExitDecision names why an open trade should close now, if at all.
type ExitDecision struct {
	ShouldExit bool
	Reason     string
}

// EvaluateExit decides whether an open trade should close given the current
// price and the latest signal for its symbol. Exit checks run in priority
// order: stop loss, take profit, opposing signal, max position age.
func (e *Engine) EvaluateExit(trade *database.Trade, currentPrice float64, latest *strategy.Signal, now time.Time) ExitDecision {
	long := trade.Direction == string(strategy.DirectionBuy)

	if trade.StopLoss != nil {
		if (long && currentPrice <= *trade.StopLoss) || (!long && currentPrice >= *trade.StopLoss) {
			return ExitDecision{true, database.ExitReasonStopLoss}
		}
	}
	if trade.TakeProfit != nil {
		if (long && currentPrice >= *trade.TakeProfit) || (!long && currentPrice <= *trade.TakeProfit) {
			return ExitDecision{true, database.ExitReasonTakeProfit}
		}
	}

	if latest != nil && latest.Direction != strategy.DirectionHold &&
		string(latest.Direction) != trade.Direction && latest.Strong {
		return ExitDecision{true, database.ExitReasonSignalReversal}
	}

	if e.risk.MaxPositionAgeHrs > 0 {
		age := now.Sub(trade.EntryTime)
		if age >= time.Duration(e.risk.MaxPositionAgeHrs*float64(time.Hour)) {
			return ExitDecision{true, database.ExitReasonWatchdogForced}
		}
	}

	return ExitDecision{}
}

// CloseAll force-closes every open trade at the prices the provider reports.
// Used by the watchdog during resets.
func (e *Engine) CloseAll(ctx context.Context, provider market.Provider, reason string) (int, error) {
	open, err := e.store.GetOpenTrades(ctx)
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, trade := range open {
		price, err := provider.GetPrice(ctx, trade.Symbol)
		if err != nil {
			e.log.Error("cannot price open position for forced close",
				"trade_id", trade.ID, "symbol", trade.Symbol, "error", err)
			continue
		}
		if _, err := e.Close(ctx, trade, price, reason); err != nil {
			e.log.Error("forced close failed", "trade_id", trade.ID, "error", err)
			continue
		}
		closed++
	}
	return closed, nil
}

// ComputePnL returns the realized PnL and percent for a trade exiting at
// the given price. Short trades profit when price falls.
func ComputePnL(trade *database.Trade, exitPrice float64) (pnl, pnlPercent float64) {
	if trade.Direction == string(strategy.DirectionSell) {
		pnl = (trade.EntryPrice - exitPrice) * trade.Quantity
	} else {
		pnl = (exitPrice - trade.EntryPrice) * trade.Quantity
	}
	if trade.EntryPrice != 0 {
		pnlPercent = pnl / (trade.EntryPrice * trade.Quantity) * 100
	}
	return pnl, pnlPercent
}
