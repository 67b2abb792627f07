package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/dduho/trading-bot/internal/market"
)

func TestExtractSchemaAndDerivedFlags(t *testing.T) {
	ind := market.IndicatorSet{
		RSI:         25,
		MACD:        0.5,
		MACDSignal:  0.3,
		SMAShort:    105,
		SMALong:     100,
		BBPosition:  0.1,
		VolumeRatio: 2.0,
		Trend:       market.TrendBullish,
	}

	v := Extract(ind, 0.07)

	if err := v.Validate(); err != nil {
		t.Fatalf("extracted vector should validate: %v", err)
	}
	if len(v.Values) != Count {
		t.Fatalf("got %d values, want %d", len(v.Values), Count)
	}

	checks := map[string]float64{
		"rsi":               25,
		"ma_crossover":      1,
		"trend_bullish":     1,
		"trend_bearish":     0,
		"trend_neutral":     0,
		"signal_confidence": 0.07,
		"rsi_oversold":      1,
		"rsi_overbought":    0,
		"macd_positive":     1,
		"strong_volume":     1,
	}
	for name, want := range checks {
		got, err := v.Get(name)
		if err != nil {
			t.Fatalf("Get(%s): %v", name, err)
		}
		if got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
}

func TestExtractCandleAndTimeFeatures(t *testing.T) {
	// Saturday 15:30 UTC close on a hammer candle near support.
	closeTime := time.Date(2025, 6, 7, 15, 30, 0, 0, time.UTC)
	ind := market.IndicatorSet{
		Price:    101,
		ATR:      2.02,
		SMAShort: 105,
		SMALong:  100,
		LastCandle: market.Candle{
			Open:      100,
			High:      101.2,
			Low:       95,
			Close:     101,
			CloseTime: closeTime,
		},
		PrevCandle: market.Candle{Open: 100, Close: 100.5},
		Support:    97,
		Resistance: 197,
	}

	v := Extract(ind, 0.05)
	if err := v.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	checks := map[string]float64{
		"pattern_doji":      0,
		"pattern_hammer":    1,
		"pattern_engulfing": 1,
		"pattern_marubozu":  0,
		"hour_of_day":       15.0 / 24,
		"day_of_week":       5.0 / 7,
		"is_weekend":        1,
		"near_support":      1,
		"near_resistance":   0,
		"regime_trending":   1,
	}
	for name, want := range checks {
		got, err := v.Get(name)
		if err != nil {
			t.Fatalf("Get(%s): %v", name, err)
		}
		if math.Abs(got-want) > 1e-9 {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}

	if got, _ := v.Get("dist_to_support"); math.Abs(got-0.04) > 1e-9 {
		t.Errorf("dist_to_support = %v, want 0.04", got)
	}
	if got, _ := v.Get("volatility_ratio"); math.Abs(got-0.02) > 1e-9 {
		t.Errorf("volatility_ratio = %v, want 0.02", got)
	}
}

func TestValidateRejectsMismatchedSchema(t *testing.T) {
	v := Vector{SchemaVersion: SchemaVersion + 1, Values: make([]float64, Count)}
	if err := v.Validate(); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("wrong schema version: err = %v, want ErrSchemaMismatch", err)
	}

	v = Vector{SchemaVersion: SchemaVersion, Values: make([]float64, Count-1)}
	if err := v.Validate(); !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("wrong dimensionality: err = %v, want ErrSchemaMismatch", err)
	}
}

func TestGetUnknownFeature(t *testing.T) {
	v := Extract(market.IndicatorSet{}, 0)
	if _, err := v.Get("does_not_exist"); err == nil {
		t.Error("expected error for unknown feature name")
	}
}
