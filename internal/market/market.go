package market

import (
	"context"
	"time"
)

// Candle represents a single OHLCV candle.
type Candle struct {
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
}

// Provider supplies market data for a symbol. Implementations must be safe
// for concurrent use.
type Provider interface {
	// GetCandles returns up to limit most recent candles for the symbol,
	// oldest first.
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error)
	// GetPrice returns the current price for the symbol.
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// Snapshot bundles the market state the strategy evaluates on each scan tick.
type Snapshot struct {
	Symbol    string
	Timeframe string
	Price     float64
	Candles   []Candle
	Taken     time.Time
}
