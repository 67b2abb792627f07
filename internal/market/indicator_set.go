package market

import "errors"

// ErrInsufficientHistory is returned when a candle series is too short to
// evaluate. It is distinct from a valid series producing neutral values.
var ErrInsufficientHistory = errors.New("insufficient candle history")

// IndicatorSet is the full indicator snapshot computed from one candle
// series. It is attached to trades at entry so learning can later correlate
// conditions with outcomes.
type IndicatorSet struct {
	Price          float64        `json:"price"`
	RSI            float64        `json:"rsi"`
	MACD           float64        `json:"macd"`
	MACDSignal     float64        `json:"macd_signal"`
	MACDHistogram  float64        `json:"macd_histogram"`
	SMAShort       float64        `json:"sma_short"`
	SMALong        float64        `json:"sma_long"`
	EMAFast        float64        `json:"ema_fast"`
	EMASlow        float64        `json:"ema_slow"`
	ATR            float64        `json:"atr"`
	BBUpper        float64        `json:"bb_upper"`
	BBMiddle       float64        `json:"bb_middle"`
	BBLower        float64        `json:"bb_lower"`
	BBPosition     float64        `json:"bb_position"`
	VolumeRatio    float64        `json:"volume_ratio"`
	Trend          TrendDirection `json:"trend"`
	PrevMACD       float64        `json:"prev_macd"`
	PrevMACDSignal float64        `json:"prev_macd_signal"`
	PrevSMAShort   float64        `json:"prev_sma_short"`
	PrevSMALong    float64        `json:"prev_sma_long"`
	LastCandle     Candle         `json:"last_candle"`
	PrevCandle     Candle         `json:"prev_candle"`
	Support        float64        `json:"support"`
	Resistance     float64        `json:"resistance"`
}

// Standard periods, matching common crypto scalping settings.
const (
	RSIPeriod        = 14
	MACDFast         = 12
	MACDSlow         = 26
	MACDSignalPeriod = 9
	SMAShortPeriod   = 20
	SMALongPeriod    = 50
	EMAFastPeriod    = 9
	EMASlowPeriod    = 21
	ATRPeriod        = 14
	BBPeriod         = 20
	BBStdDev         = 2.0
	VolumePeriod     = 20
	SRLookback       = 50
)

// MinCandles is the history required to compute every indicator in the set.
const MinCandles = MACDSlow + MACDSignalPeriod + 1

// ComputeIndicators evaluates the full indicator set over the candle series.
// The series must hold at least MinCandles candles; shorter series produce
// neutral values from the individual indicator functions.
func ComputeIndicators(candles []Candle) IndicatorSet {
	var price float64
	if len(candles) > 0 {
		price = candles[len(candles)-1].Close
	}

	macd := MACD(candles, MACDFast, MACDSlow, MACDSignalPeriod)
	bands := Bollinger(candles, BBPeriod, BBStdDev)

	set := IndicatorSet{
		Price:         price,
		RSI:           RSI(candles, RSIPeriod),
		MACD:          macd.MACD,
		MACDSignal:    macd.Signal,
		MACDHistogram: macd.Histogram,
		SMAShort:      SMA(candles, SMAShortPeriod),
		SMALong:       SMA(candles, SMALongPeriod),
		EMAFast:       EMA(candles, EMAFastPeriod),
		EMASlow:       EMA(candles, EMASlowPeriod),
		ATR:           ATR(candles, ATRPeriod),
		BBUpper:       bands.Upper,
		BBMiddle:      bands.Middle,
		BBLower:       bands.Lower,
		BBPosition:    BollingerPosition(price, bands),
		VolumeRatio:   VolumeRatio(candles, VolumePeriod),
		Trend:         DetectTrend(candles, EMAFastPeriod, EMASlowPeriod),
	}

	// Previous-candle values enable crossover detection.
	if len(candles) > 1 {
		prev := candles[:len(candles)-1]
		prevMACD := MACD(prev, MACDFast, MACDSlow, MACDSignalPeriod)
		set.PrevMACD = prevMACD.MACD
		set.PrevMACDSignal = prevMACD.Signal
		set.PrevSMAShort = SMA(prev, SMAShortPeriod)
		set.PrevSMALong = SMA(prev, SMALongPeriod)
		set.PrevCandle = candles[len(candles)-2]
	}
	if len(candles) > 0 {
		set.LastCandle = candles[len(candles)-1]
	}
	set.Support, set.Resistance = SupportResistance(candles, SRLookback)

	return set
}

// SupportResistance returns the lowest low and highest high over the
// lookback window, a rolling approximation of the nearest levels.
func SupportResistance(candles []Candle, lookback int) (support, resistance float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	start := len(candles) - lookback
	if start < 0 {
		start = 0
	}
	support = candles[start].Low
	resistance = candles[start].High
	for _, c := range candles[start+1:] {
		if c.Low < support {
			support = c.Low
		}
		if c.High > resistance {
			resistance = c.High
		}
	}
	return support, resistance
}
