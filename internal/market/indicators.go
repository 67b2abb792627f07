package market

import "math"

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// SMA calculates the Simple Moving Average over the last period candles
func SMA(candles []Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}

	sum := 0.0
	startIdx := len(candles) - period

	for i := startIdx; i < len(candles); i++ {
		sum += candles[i].Close
	}

	return sum / float64(period)
}

// EMA calculates the Exponential Moving Average over the candle series
func EMA(candles []Candle, period int) float64 {
	if len(candles) < period || period <= 0 {
		return 0
	}

	series := emaSeries(closes(candles), period)
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

func closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// emaSeries returns the EMA of values at every index from period-1 onward,
// seeded with the SMA of the first period values.
func emaSeries(values []float64, period int) []float64 {
	if len(values) < period || period <= 0 {
		return nil
	}

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	seed /= float64(period)

	multiplier := 2.0 / float64(period+1)
	out := make([]float64, 0, len(values)-period+1)
	out = append(out, seed)

	ema := seed
	for i := period; i < len(values); i++ {
		ema = (values[i] * multiplier) + (ema * (1 - multiplier))
		out = append(out, ema)
	}
	return out
}

// ============================================================================
// RSI (Relative Strength Index)
// ============================================================================

// RSI calculates the Relative Strength Index. Returns 50 (neutral) when
// there is not enough history.
func RSI(candles []Candle, period int) float64 {
	if len(candles) < period+1 {
		return 50.0
	}

	gains := 0.0
	losses := 0.0

	for i := len(candles) - period; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ============================================================================
// MACD (Moving Average Convergence Divergence)
// ============================================================================

// MACDResult holds MACD indicator values
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
}

// MACD calculates the MACD line, signal line and histogram. The signal line
// is a true EMA over the MACD series, not an approximation, so crossover
// detection behaves correctly.
func MACD(candles []Candle, fastPeriod, slowPeriod, signalPeriod int) MACDResult {
	if len(candles) < slowPeriod+signalPeriod {
		return MACDResult{}
	}

	prices := closes(candles)
	fastSeries := emaSeries(prices, fastPeriod)
	slowSeries := emaSeries(prices, slowPeriod)

	// Align the two series on their tails; slow starts later.
	offset := len(fastSeries) - len(slowSeries)
	macdSeries := make([]float64, len(slowSeries))
	for i := range slowSeries {
		macdSeries[i] = fastSeries[i+offset] - slowSeries[i]
	}

	signalSeries := emaSeries(macdSeries, signalPeriod)
	if len(signalSeries) == 0 {
		return MACDResult{}
	}

	macdLine := macdSeries[len(macdSeries)-1]
	signalLine := signalSeries[len(signalSeries)-1]

	return MACDResult{
		MACD:      macdLine,
		Signal:    signalLine,
		Histogram: macdLine - signalLine,
	}
}

// ============================================================================
// BOLLINGER BANDS
// ============================================================================

// BollingerResult holds Bollinger Bands values
type BollingerResult struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// Bollinger calculates Bollinger Bands over the last period candles
func Bollinger(candles []Candle, period int, stdDevMultiplier float64) BollingerResult {
	if len(candles) < period {
		return BollingerResult{}
	}

	middle := SMA(candles, period)

	variance := 0.0
	startIdx := len(candles) - period
	for i := startIdx; i < len(candles); i++ {
		diff := candles[i].Close - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))

	return BollingerResult{
		Upper:  middle + (stdDev * stdDevMultiplier),
		Middle: middle,
		Lower:  middle - (stdDev * stdDevMultiplier),
	}
}

// BollingerPosition returns where price sits inside the bands as a 0..1
// value (0 = lower band, 1 = upper band), clamped.
func BollingerPosition(price float64, bands BollingerResult) float64 {
	width := bands.Upper - bands.Lower
	if width <= 0 {
		return 0.5
	}
	pos := (price - bands.Lower) / width
	if pos < 0 {
		return 0
	}
	if pos > 1 {
		return 1
	}
	return pos
}

// ============================================================================
// ATR (Average True Range)
// ============================================================================

// ATR calculates the Average True Range over the last period candles
func ATR(candles []Candle, period int) float64 {
	if len(candles) < period+1 {
		return 0
	}

	trSum := 0.0
	startIdx := len(candles) - period

	for i := startIdx; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevClose := candles[i-1].Close

		tr := math.Max(
			high-low,
			math.Max(
				math.Abs(high-prevClose),
				math.Abs(low-prevClose),
			),
		)
		trSum += tr
	}

	return trSum / float64(period)
}

// ============================================================================
// VOLUME
// ============================================================================

// AverageVolume calculates average volume over the last period candles
func AverageVolume(candles []Candle, period int) float64 {
	if len(candles) == 0 {
		return 0
	}
	if len(candles) < period {
		period = len(candles)
	}

	sum := 0.0
	startIdx := len(candles) - period
	for i := startIdx; i < len(candles); i++ {
		sum += candles[i].Volume
	}
	return sum / float64(period)
}

// VolumeRatio returns current volume relative to the trailing average,
// excluding the current candle from the average. Returns 1 when there is
// not enough history.
func VolumeRatio(candles []Candle, period int) float64 {
	if len(candles) < period+1 {
		return 1.0
	}

	avg := AverageVolume(candles[:len(candles)-1], period)
	if avg == 0 {
		return 1.0
	}
	return candles[len(candles)-1].Volume / avg
}

// ============================================================================
// TREND DETECTION
// ============================================================================

// TrendDirection represents the current trend
type TrendDirection string

const (
	TrendBullish TrendDirection = "BULLISH"
	TrendBearish TrendDirection = "BEARISH"
	TrendNeutral TrendDirection = "NEUTRAL"
)

// DetectTrend detects the current trend using fast vs slow EMA separation.
// EMAs within 0.5% of each other are treated as neutral.
func DetectTrend(candles []Candle, fastPeriod, slowPeriod int) TrendDirection {
	if len(candles) < slowPeriod {
		return TrendNeutral
	}

	fastEMA := EMA(candles, fastPeriod)
	slowEMA := EMA(candles, slowPeriod)
	if slowEMA == 0 {
		return TrendNeutral
	}

	difference := math.Abs(fastEMA-slowEMA) / slowEMA * 100
	if difference < 0.5 {
		return TrendNeutral
	}

	if fastEMA > slowEMA {
		return TrendBullish
	}
	return TrendBearish
}
