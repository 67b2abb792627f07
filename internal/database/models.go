package database

import (
	"time"
)

// Trade statuses
const (
	TradeStatusOpen   = "OPEN"
	TradeStatusClosed = "CLOSED"
)

// Exit reasons recorded when a trade closes.
const (
	ExitReasonTakeProfit     = "take_profit"
	ExitReasonStopLoss       = "stop_loss"
	ExitReasonSignalReversal = "signal_reversal"
	ExitReasonWatchdogForced = "watchdog_forced"
	ExitReasonManual         = "manual"
)

// Trade is the persisted record of one position, open or closed.
type Trade struct {
	ID                 string     `json:"id"`
	Symbol             string     `json:"symbol"`
	Direction          string     `json:"direction"` // BUY or SELL
	EntryPrice         float64    `json:"entry_price"`
	ExitPrice          *float64   `json:"exit_price,omitempty"`
	Quantity           float64    `json:"quantity"`
	EntryTime          time.Time  `json:"entry_time"`
	ExitTime           *time.Time `json:"exit_time,omitempty"`
	StopLoss           *float64   `json:"stop_loss,omitempty"`
	TakeProfit         *float64   `json:"take_profit,omitempty"`
	PnL                *float64   `json:"pnl,omitempty"`
	PnLPercent         *float64   `json:"pnl_percent,omitempty"`
	BaseConfidence     float64    `json:"base_confidence"`
	EnhancedConfidence float64    `json:"enhanced_confidence"`
	ModelVersion       *string    `json:"model_version,omitempty"`
	ExitReason         *string    `json:"exit_reason,omitempty"`
	DurationMinutes    *float64   `json:"duration_minutes,omitempty"`
	TradingMode        string     `json:"trading_mode"`
	Status             string     `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsWin reports whether the closed trade was profitable.
func (t *Trade) IsWin() bool {
	return t.PnL != nil && *t.PnL > 0
}

// TradeConditions is the indicator snapshot captured when a trade opened.
type TradeConditions struct {
	TradeID          string    `json:"trade_id"`
	RSI              float64   `json:"rsi"`
	MACD             float64   `json:"macd"`
	MACDSignal       float64   `json:"macd_signal"`
	MACDHistogram    float64   `json:"macd_histogram"`
	SMAShort         float64   `json:"sma_short"`
	SMALong          float64   `json:"sma_long"`
	EMAFast          float64   `json:"ema_fast"`
	EMASlow          float64   `json:"ema_slow"`
	ATR              float64   `json:"atr"`
	BBPosition       float64   `json:"bb_position"`
	VolumeRatio      float64   `json:"volume_ratio"`
	Trend            string    `json:"trend"`
	SignalConfidence float64   `json:"signal_confidence"`
	SignalReason     string    `json:"signal_reason"`
	Features         []byte    `json:"-"` // serialized feature vector
	CreatedAt        time.Time `json:"created_at"`
}

// StrategyPerformance is one aggregated analysis window.
type StrategyPerformance struct {
	ID            int64     `json:"id"`
	WindowStart   time.Time `json:"window_start"`
	WindowEnd     time.Time `json:"window_end"`
	TotalTrades   int       `json:"total_trades"`
	WinningTrades int       `json:"winning_trades"`
	LosingTrades  int       `json:"losing_trades"`
	WinRate       float64   `json:"win_rate"`
	TotalPnL      float64   `json:"total_pnl"`
	AvgWin        float64   `json:"avg_win"`
	AvgLoss       float64   `json:"avg_loss"`
	ProfitFactor  float64   `json:"profit_factor"`
	Params        []byte    `json:"-"` // params active during the window
	CreatedAt     time.Time `json:"created_at"`
}

// ModelPerformance records the evaluation metrics of one trained artifact.
type ModelPerformance struct {
	ID                int64     `json:"id"`
	ModelVersion      string    `json:"model_version"`
	SchemaVersion     int       `json:"schema_version"`
	TrainedAt         time.Time `json:"trained_at"`
	TrainingSamples   int       `json:"training_samples"`
	Accuracy          float64   `json:"accuracy"`
	Precision         float64   `json:"precision"`
	Recall            float64   `json:"recall"`
	F1Score           float64   `json:"f1_score"`
	AUC               float64   `json:"auc"`
	CVAccuracy        float64   `json:"cv_accuracy"`
	FeatureImportance []byte    `json:"-"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
}

// LearningEvent is an audit record of a parameter or model change.
type LearningEvent struct {
	ID               int64     `json:"id"`
	EventType        string    `json:"event_type"`
	Source           string    `json:"source"`
	Description      string    `json:"description"`
	ParametersBefore []byte    `json:"-"`
	ParametersAfter  []byte    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}

// Learning event types.
const (
	LearningEventCycle        = "learning_cycle"
	LearningEventModelTrained = "model_trained"
	LearningEventConfidence   = "confidence_adjustment"
	LearningEventWatchdog     = "watchdog_intervention"
	LearningEventRotation     = "symbol_rotation"
	LearningEventManual       = "manual_override"
)

// PerformanceStats summarizes closed trades over a window.
type PerformanceStats struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	ProfitFactor  float64 `json:"profit_factor"`
	BestTrade     float64 `json:"best_trade"`
	WorstTrade    float64 `json:"worst_trade"`
	AvgDuration   float64 `json:"avg_duration_minutes"`
}

// SymbolStats summarizes closed trades for one symbol.
type SymbolStats struct {
	Symbol       string  `json:"symbol"`
	TotalTrades  int     `json:"total_trades"`
	WinRate      float64 `json:"win_rate"`
	TotalPnL     float64 `json:"total_pnl"`
	ProfitFactor float64 `json:"profit_factor"`
}

// TradeWithConditions pairs a closed trade with its entry snapshot for
// model training.
type TradeWithConditions struct {
	Trade      *Trade
	Conditions *TradeConditions
}
