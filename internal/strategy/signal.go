package strategy

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dduho/trading-bot/internal/logging"
	"github.com/dduho/trading-bot/internal/market"
)

// Direction is the action a signal recommends.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// IndicatorAnalysis is the verdict of one indicator.
type IndicatorAnalysis struct {
	Direction Direction `json:"direction"`
	Score     float64   `json:"score"` // 0..1 strength before weighting
	Reason    string    `json:"reason"`
}

// Signal is the output of one evaluation over a market snapshot.
type Signal struct {
	Symbol     string                       `json:"symbol"`
	Direction  Direction                    `json:"direction"`
	Strong     bool                         `json:"strong"`
	Confidence float64                      `json:"confidence"`
	BuyScore   float64                      `json:"buy_score"`
	SellScore  float64                      `json:"sell_score"`
	Price      float64                      `json:"price"`
	Reason     string                       `json:"reason"`
	Analyses   map[string]IndicatorAnalysis `json:"analyses"`
	Indicators market.IndicatorSet          `json:"indicators"`
	ParamsUsed int64                        `json:"params_version"`
	Timestamp  time.Time                    `json:"timestamp"`
}

// Generator turns indicator snapshots into trading signals using the live
// parameter set. Evaluation is deterministic for a given snapshot and
// parameter version.
type Generator struct {
	params *Store
	log    *logging.Logger
}

// NewGenerator creates a signal generator reading parameters from the store.
func NewGenerator(params *Store, log *logging.Logger) *Generator {
	if log == nil {
		log = logging.Default()
	}
	return &Generator{
		params: params,
		log:    log.WithComponent("signal"),
	}
}

// Evaluate scores the snapshot and produces a signal. Candle history shorter
// than the indicator warm-up yields HOLD with zero confidence.
func (g *Generator) Evaluate(symbol string, candles []market.Candle) (*Signal, error) {
	if len(candles) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 candles for %s, got %d",
			market.ErrInsufficientHistory, symbol, len(candles))
	}

	ind := market.ComputeIndicators(candles)
	params := g.params.Get()

	priceChange := 0.0
	prevClose := candles[len(candles)-2].Close
	if prevClose != 0 {
		priceChange = (ind.Price - prevClose) / prevClose
	}

	analyses := map[string]IndicatorAnalysis{
		"rsi":             analyzeRSI(ind, params),
		"macd":            analyzeMACD(ind),
		"moving_averages": analyzeMovingAverages(ind),
		"volume":          analyzeVolume(ind, priceChange),
		"trend":           analyzeTrend(ind),
	}

	buyScore := 0.0
	sellScore := 0.0
	for name, a := range analyses {
		weighted := a.Score * params.Weights[name]
		switch a.Direction {
		case DirectionBuy:
			buyScore += weighted
		case DirectionSell:
			sellScore += weighted
		}
	}

	confidence := math.Max(buyScore, sellScore)
	direction := DirectionHold
	if buyScore > sellScore && confidence >= params.MinConfidence {
		direction = DirectionBuy
	} else if sellScore > buyScore && confidence >= params.MinConfidence {
		direction = DirectionSell
	}

	sig := &Signal{
		Symbol:     symbol,
		Direction:  direction,
		Strong:     direction != DirectionHold && confidence > 0.8,
		Confidence: round3(confidence),
		BuyScore:   round3(buyScore),
		SellScore:  round3(sellScore),
		Price:      ind.Price,
		Reason:     buildReason(analyses, direction),
		Analyses:   analyses,
		Indicators: ind,
		ParamsUsed: params.Version,
		Timestamp:  time.Now().UTC(),
	}

	if direction != DirectionHold {
		g.log.Info("signal generated",
			"symbol", symbol,
			"direction", string(direction),
			"confidence", sig.Confidence,
			"reason", sig.Reason)
	}
	return sig, nil
}

func analyzeRSI(ind market.IndicatorSet, p Params) IndicatorAnalysis {
	rsi := ind.RSI

	if rsi < p.RSIOversold {
		score := math.Min((p.RSIOversold-rsi)/p.RSIOversold, 1.0)
		return IndicatorAnalysis{
			Direction: DirectionBuy,
			Score:     score,
			Reason:    fmt.Sprintf("RSI oversold at %.1f", rsi),
		}
	}
	if rsi > p.RSIOverbought {
		score := math.Min((rsi-p.RSIOverbought)/(100-p.RSIOverbought), 1.0)
		return IndicatorAnalysis{
			Direction: DirectionSell,
			Score:     score,
			Reason:    fmt.Sprintf("RSI overbought at %.1f", rsi),
		}
	}

	// Neutral zone leans on which half of the range price sits in.
	dir := DirectionSell
	if rsi < 50 {
		dir = DirectionBuy
	}
	return IndicatorAnalysis{
		Direction: dir,
		Score:     0.3,
		Reason:    fmt.Sprintf("RSI neutral at %.1f", rsi),
	}
}

func analyzeMACD(ind market.IndicatorSet) IndicatorAnalysis {
	hist := ind.MACDHistogram
	prevHist := ind.PrevMACD - ind.PrevMACDSignal

	if prevHist < 0 && hist > 0 {
		return IndicatorAnalysis{
			Direction: DirectionBuy,
			Score:     0.9,
			Reason:    "MACD bullish crossover",
		}
	}
	if prevHist > 0 && hist < 0 {
		return IndicatorAnalysis{
			Direction: DirectionSell,
			Score:     0.9,
			Reason:    "MACD bearish crossover",
		}
	}

	score := math.Min(math.Abs(hist)/10, 0.7)
	if ind.MACD > ind.MACDSignal {
		return IndicatorAnalysis{
			Direction: DirectionBuy,
			Score:     score,
			Reason:    fmt.Sprintf("MACD bullish (%.2f)", hist),
		}
	}
	return IndicatorAnalysis{
		Direction: DirectionSell,
		Score:     score,
		Reason:    fmt.Sprintf("MACD bearish (%.2f)", hist),
	}
}

func analyzeMovingAverages(ind market.IndicatorSet) IndicatorAnalysis {
	if ind.SMALong == 0 {
		return IndicatorAnalysis{Direction: DirectionHold, Reason: "insufficient MA history"}
	}

	if ind.PrevSMAShort != 0 && ind.PrevSMALong != 0 {
		if ind.PrevSMAShort < ind.PrevSMALong && ind.SMAShort > ind.SMALong {
			return IndicatorAnalysis{
				Direction: DirectionBuy,
				Score:     0.95,
				Reason:    "Golden Cross detected",
			}
		}
		if ind.PrevSMAShort > ind.PrevSMALong && ind.SMAShort < ind.SMALong {
			return IndicatorAnalysis{
				Direction: DirectionSell,
				Score:     0.95,
				Reason:    "Death Cross detected",
			}
		}
	}

	if ind.SMAShort > ind.SMALong {
		spread := (ind.SMAShort - ind.SMALong) / ind.SMALong * 100
		return IndicatorAnalysis{
			Direction: DirectionBuy,
			Score:     math.Min(spread/5, 0.7),
			Reason:    fmt.Sprintf("short MA above long MA (%.2f%%)", spread),
		}
	}
	spread := (ind.SMALong - ind.SMAShort) / ind.SMALong * 100
	return IndicatorAnalysis{
		Direction: DirectionSell,
		Score:     math.Min(spread/5, 0.7),
		Reason:    fmt.Sprintf("short MA below long MA (%.2f%%)", spread),
	}
}

func analyzeVolume(ind market.IndicatorSet, priceChange float64) IndicatorAnalysis {
	ratio := ind.VolumeRatio

	if ratio > 1.5 && priceChange > 0 {
		return IndicatorAnalysis{
			Direction: DirectionBuy,
			Score:     math.Min(ratio/3, 0.8),
			Reason:    fmt.Sprintf("high volume bullish (%.1fx avg)", ratio),
		}
	}
	if ratio > 1.5 && priceChange < 0 {
		return IndicatorAnalysis{
			Direction: DirectionSell,
			Score:     math.Min(ratio/3, 0.8),
			Reason:    fmt.Sprintf("high volume bearish (%.1fx avg)", ratio),
		}
	}
	return IndicatorAnalysis{
		Direction: DirectionHold,
		Score:     0.3,
		Reason:    fmt.Sprintf("normal volume (%.1fx avg)", ratio),
	}
}

func analyzeTrend(ind market.IndicatorSet) IndicatorAnalysis {
	switch ind.Trend {
	case market.TrendBullish:
		return IndicatorAnalysis{Direction: DirectionBuy, Score: 0.7, Reason: "market in uptrend"}
	case market.TrendBearish:
		return IndicatorAnalysis{Direction: DirectionSell, Score: 0.7, Reason: "market in downtrend"}
	default:
		return IndicatorAnalysis{Direction: DirectionHold, Score: 0.5, Reason: "market sideways"}
	}
}

func buildReason(analyses map[string]IndicatorAnalysis, direction Direction) string {
	// Highest-scoring contributors first, max three.
	order := []string{"moving_averages", "macd", "rsi", "volume", "trend"}
	var reasons []string
	for _, name := range order {
		a := analyses[name]
		if a.Score > 0.5 && len(reasons) < 3 {
			reasons = append(reasons, a.Reason)
		}
	}
	if len(reasons) == 0 {
		return "signal: " + string(direction)
	}
	return strings.Join(reasons, "; ")
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
