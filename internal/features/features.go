package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dduho/trading-bot/internal/market"
)

// ErrSchemaMismatch is returned when a vector does not match the current
// feature schema. Callers branch on it with errors.Is to skip stale
// vectors rather than fail.
var ErrSchemaMismatch = errors.New("feature schema mismatch")

// SchemaVersion identifies the feature layout. Models trained on one schema
// version must never score vectors from another. Version 2 appended the
// candlestick pattern, time, support/resistance and regime features.
const SchemaVersion = 2

// Names lists every feature in its fixed position. Order is part of the
// schema: index i of a Vector always holds the feature named at Names[i].
var Names = []string{
	"rsi",
	"macd",
	"macd_signal",
	"macd_histogram",
	"atr",
	"sma_short",
	"sma_long",
	"ma_crossover",
	"bb_position",
	"volume_ratio",
	"trend_bullish",
	"trend_bearish",
	"trend_neutral",
	"signal_confidence",
	"rsi_oversold",
	"rsi_overbought",
	"macd_positive",
	"strong_volume",
	"pattern_doji",
	"pattern_hammer",
	"pattern_engulfing",
	"pattern_marubozu",
	"hour_of_day",
	"day_of_week",
	"is_weekend",
	"dist_to_support",
	"dist_to_resistance",
	"near_support",
	"near_resistance",
	"volatility_ratio",
	"regime_trending",
}

// Count is the dimensionality of a feature vector.
var Count = len(Names)

// Vector is one observation in fixed schema order.
type Vector struct {
	SchemaVersion int       `json:"schema_version"`
	Values        []float64 `json:"values"`
}

// Extract builds the feature vector for a signal evaluated against the
// given indicator snapshot.
func Extract(ind market.IndicatorSet, signalConfidence float64) Vector {
	v := make([]float64, Count)

	v[0] = ind.RSI
	v[1] = ind.MACD
	v[2] = ind.MACDSignal
	v[3] = ind.MACDHistogram
	v[4] = ind.ATR
	v[5] = ind.SMAShort
	v[6] = ind.SMALong
	v[7] = boolFeature(ind.SMAShort > ind.SMALong)
	v[8] = ind.BBPosition
	v[9] = ind.VolumeRatio
	v[10] = boolFeature(ind.Trend == market.TrendBullish)
	v[11] = boolFeature(ind.Trend == market.TrendBearish)
	v[12] = boolFeature(ind.Trend == market.TrendNeutral)
	v[13] = signalConfidence
	v[14] = boolFeature(ind.RSI < 30)
	v[15] = boolFeature(ind.RSI > 70)
	v[16] = boolFeature(ind.MACD > 0)
	v[17] = boolFeature(ind.VolumeRatio > 1.5)

	last := ind.LastCandle
	body := math.Abs(last.Close - last.Open)
	rng := last.High - last.Low
	lowerShadow := math.Min(last.Open, last.Close) - last.Low
	upperShadow := last.High - math.Max(last.Open, last.Close)
	prevBody := math.Abs(ind.PrevCandle.Close - ind.PrevCandle.Open)

	v[18] = boolFeature(rng > 0 && body/rng < 0.1)
	v[19] = boolFeature(lowerShadow > 2*body && upperShadow < body)
	v[20] = boolFeature(prevBody > 0 && body > 1.5*prevBody)
	v[21] = boolFeature(rng > 0 && body/rng > 0.9)

	// Time features come from the candle close, not the wall clock, so a
	// replayed series extracts the same vector.
	ts := last.CloseTime.UTC()
	v[22] = float64(ts.Hour()) / 24
	v[23] = float64(mondayIndexed(ts.Weekday())) / 7
	v[24] = boolFeature(ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday)

	if srRange := ind.Resistance - ind.Support; srRange > 0 {
		distSupport := (last.Close - ind.Support) / srRange
		distResistance := (ind.Resistance - last.Close) / srRange
		v[25] = distSupport
		v[26] = distResistance
		v[27] = boolFeature(distSupport < 0.05)
		v[28] = boolFeature(distResistance < 0.05)
	}
	if ind.Price > 0 {
		v[29] = ind.ATR / ind.Price
	}
	if ind.SMALong > 0 {
		v[30] = boolFeature(math.Abs(ind.SMAShort-ind.SMALong)/ind.SMALong >= 0.01)
	}

	return Vector{SchemaVersion: SchemaVersion, Values: v}
}

func mondayIndexed(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// Validate checks the vector matches the current schema.
func (v Vector) Validate() error {
	if v.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: vector version %d, current version %d",
			ErrSchemaMismatch, v.SchemaVersion, SchemaVersion)
	}
	if len(v.Values) != Count {
		return fmt.Errorf("%w: vector has %d values, schema requires %d",
			ErrSchemaMismatch, len(v.Values), Count)
	}
	return nil
}

// Get returns the value of the named feature.
func (v Vector) Get(name string) (float64, error) {
	for i, n := range Names {
		if n == name {
			if i >= len(v.Values) {
				return 0, fmt.Errorf("feature %s out of range", name)
			}
			return v.Values[i], nil
		}
	}
	return 0, fmt.Errorf("unknown feature %s", name)
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
