package market

import (
	"context"
	"math"
	"testing"
	"time"
)

func candlesFromCloses(closes []float64) []Candle {
	out := make([]Candle, len(closes))
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = Candle{
			OpenTime:  base.Add(time.Duration(i) * time.Minute),
			Open:      c,
			High:      c * 1.01,
			Low:       c * 0.99,
			Close:     c,
			Volume:    1000,
			CloseTime: base.Add(time.Duration(i+1) * time.Minute),
		}
	}
	return out
}

func TestSMA(t *testing.T) {
	candles := candlesFromCloses([]float64{1, 2, 3, 4, 5})
	if got := SMA(candles, 5); got != 3 {
		t.Errorf("SMA(5) = %v, want 3", got)
	}
	if got := SMA(candles, 2); got != 4.5 {
		t.Errorf("SMA(2) = %v, want 4.5", got)
	}
	if got := SMA(candles, 10); got != 0 {
		t.Errorf("SMA with short history = %v, want 0", got)
	}
}

func TestRSIBounds(t *testing.T) {
	// Monotonically rising closes push RSI to 100.
	rising := make([]float64, 30)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	if got := RSI(candlesFromCloses(rising), 14); got != 100 {
		t.Errorf("RSI on pure uptrend = %v, want 100", got)
	}

	// Falling closes stay near 0.
	falling := make([]float64, 30)
	for i := range falling {
		falling[i] = 200 - float64(i)
	}
	if got := RSI(candlesFromCloses(falling), 14); got > 1 {
		t.Errorf("RSI on pure downtrend = %v, want near 0", got)
	}

	// Insufficient history is neutral.
	if got := RSI(candlesFromCloses([]float64{1, 2}), 14); got != 50 {
		t.Errorf("RSI with short history = %v, want 50", got)
	}
}

func TestMACDCrossoverSign(t *testing.T) {
	// Flat series then a sharp rise: MACD line should end above signal.
	closes := make([]float64, 80)
	for i := range closes {
		closes[i] = 100
	}
	for i := 60; i < 80; i++ {
		closes[i] = 100 + float64(i-59)*2
	}
	res := MACD(candlesFromCloses(closes), 12, 26, 9)
	if res.MACD <= res.Signal {
		t.Errorf("MACD = %v, signal = %v; want MACD above signal after rally", res.MACD, res.Signal)
	}
	if res.Histogram <= 0 {
		t.Errorf("histogram = %v, want positive", res.Histogram)
	}
}

func TestBollingerPosition(t *testing.T) {
	bands := BollingerResult{Upper: 110, Middle: 100, Lower: 90}

	if got := BollingerPosition(90, bands); got != 0 {
		t.Errorf("position at lower band = %v, want 0", got)
	}
	if got := BollingerPosition(110, bands); got != 1 {
		t.Errorf("position at upper band = %v, want 1", got)
	}
	if got := BollingerPosition(100, bands); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("position at middle = %v, want 0.5", got)
	}
	// Price outside the bands clamps.
	if got := BollingerPosition(130, bands); got != 1 {
		t.Errorf("position above upper band = %v, want 1", got)
	}
	// Degenerate bands are neutral.
	if got := BollingerPosition(100, BollingerResult{}); got != 0.5 {
		t.Errorf("position with zero-width bands = %v, want 0.5", got)
	}
}

func TestVolumeRatio(t *testing.T) {
	candles := candlesFromCloses(make([]float64, 25))
	for i := range candles {
		candles[i].Close = 100
		candles[i].Volume = 1000
	}
	candles[len(candles)-1].Volume = 2000

	got := VolumeRatio(candles, 20)
	if math.Abs(got-2.0) > 1e-9 {
		t.Errorf("VolumeRatio = %v, want 2.0", got)
	}

	if got := VolumeRatio(candles[:3], 20); got != 1.0 {
		t.Errorf("VolumeRatio with short history = %v, want 1.0", got)
	}
}

func TestDetectTrend(t *testing.T) {
	rising := make([]float64, 60)
	for i := range rising {
		rising[i] = 100 * math.Pow(1.01, float64(i))
	}
	if got := DetectTrend(candlesFromCloses(rising), 9, 21); got != TrendBullish {
		t.Errorf("trend on uptrend = %v, want BULLISH", got)
	}

	falling := make([]float64, 60)
	for i := range falling {
		falling[i] = 100 * math.Pow(0.99, float64(i))
	}
	if got := DetectTrend(candlesFromCloses(falling), 9, 21); got != TrendBearish {
		t.Errorf("trend on downtrend = %v, want BEARISH", got)
	}

	flat := make([]float64, 60)
	for i := range flat {
		flat[i] = 100
	}
	if got := DetectTrend(candlesFromCloses(flat), 9, 21); got != TrendNeutral {
		t.Errorf("trend on flat series = %v, want NEUTRAL", got)
	}
}

func TestSimulatedProviderContinuity(t *testing.T) {
	p := NewSimulatedProvider(42)
	ctx := context.Background()

	candles, err := p.GetCandles(ctx, "SOLUSDT", "1m", 50)
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}
	if len(candles) != 50 {
		t.Fatalf("got %d candles, want 50", len(candles))
	}
	for i, c := range candles {
		if c.High < c.Low || c.Close <= 0 {
			t.Fatalf("candle %d malformed: %+v", i, c)
		}
		if i > 0 && !candles[i-1].CloseTime.Equal(c.OpenTime) {
			t.Fatalf("candle %d not contiguous with predecessor", i)
		}
	}

	price, err := p.GetPrice(ctx, "SOLUSDT")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if price <= 0 {
		t.Errorf("price = %v, want positive", price)
	}

	if _, err := p.GetCandles(ctx, "SOLUSDT", "7m", 10); err == nil {
		t.Error("expected error for unsupported timeframe")
	}
}
