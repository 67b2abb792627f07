package analyzer

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/dduho/trading-bot/internal/database"
	"github.com/dduho/trading-bot/internal/logging"
	"github.com/dduho/trading-bot/internal/market"
)

// TradeSource is the slice of the repository the analyzer reads from.
type TradeSource interface {
	GetClosedTradesWithConditions(ctx context.Context, limit int) ([]*database.TradeWithConditions, error)
	GetPerformanceStats(ctx context.Context, since time.Time) (*database.PerformanceStats, error)
}

const (
	// minTradesPerSide is how many wins and losses each we need before
	// distribution comparisons mean anything.
	minTradesPerSide = 10
	// minRangeSample is the smallest trade count inside an RSI bucket
	// considered when searching for the best-performing range.
	minRangeSample = 5

	analysisLimit  = 1000
	analysisWindow = 30 * 24 * time.Hour
)

// IndicatorReport compares one indicator's readings across winning and
// losing trades.
type IndicatorReport struct {
	AvgWinning     float64 `json:"avg_winning"`
	AvgLosing      float64 `json:"avg_losing"`
	WinningStd     float64 `json:"winning_std"`
	LosingStd      float64 `json:"losing_std"`
	Edge           float64 `json:"edge"`
	Recommendation string  `json:"recommendation"`
}

// RSIRange is the RSI band with the best observed win rate.
type RSIRange struct {
	Lower   float64 `json:"lower"`
	Upper   float64 `json:"upper"`
	WinRate float64 `json:"win_rate"`
}

// TrendReport compares trend regimes across winning and losing trades.
type TrendReport struct {
	WinningDistribution map[string]int `json:"winning_distribution"`
	LosingDistribution  map[string]int `json:"losing_distribution"`
	BestTrend           string         `json:"best_trend"`
	Recommendation      string         `json:"recommendation"`
}

// Report is the full indicator performance analysis.
type Report struct {
	RSI                      IndicatorReport `json:"rsi"`
	OptimalRSI               RSIRange        `json:"optimal_rsi_range"`
	MACD                     IndicatorReport `json:"macd"`
	BullishWinRate           float64         `json:"bullish_win_rate"`
	BullishLoseRate          float64         `json:"bullish_lose_rate"`
	MovingAverages           IndicatorReport `json:"moving_averages"`
	PositiveCrossoverWinRate float64         `json:"positive_crossover_win_rate"`
	Volume                   IndicatorReport `json:"volume"`
	Trend                    TrendReport     `json:"trend"`
	WinningTrades            int             `json:"winning_trades"`
	LosingTrades             int             `json:"losing_trades"`
	WinRate                  float64         `json:"win_rate"`
	GeneratedAt              time.Time       `json:"generated_at"`
}

// Opportunity is one actionable finding from the performance review.
type Opportunity struct {
	Type           string  `json:"type"`
	Indicator      string  `json:"indicator,omitempty"`
	Severity       string  `json:"severity"`
	CurrentValue   float64 `json:"current_value"`
	TargetValue    float64 `json:"target_value,omitempty"`
	Recommendation string  `json:"recommendation"`
	Action         string  `json:"action"`
}

// Opportunity severities and actions.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"

	ActionIncreaseMinConfidence = "increase_min_confidence"
	ActionAdjustTakeProfit      = "adjust_take_profit_ratio"
	ActionAdjustIndicatorWeight = "adjust_indicator_weight"
	ActionAdjustExitCriteria    = "adjust_exit_criteria"
)

// Analyzer mines closed trade history for the conditions that separate
// winners from losers.
type Analyzer struct {
	source TradeSource
	log    *logging.Logger
}

func New(source TradeSource, log *logging.Logger) *Analyzer {
	if log == nil {
		log = logging.Default()
	}
	return &Analyzer{source: source, log: log.WithComponent("analyzer")}
}

// AnalyzeIndicators compares entry-time indicator readings between winning
// and losing trades. Returns (nil, nil) when there is not yet enough data
// on both sides.
func (a *Analyzer) AnalyzeIndicators(ctx context.Context) (*Report, error) {
	trades, err := a.source.GetClosedTradesWithConditions(ctx, analysisLimit)
	if err != nil {
		return nil, err
	}

	var winning, losing []*database.TradeWithConditions
	for _, t := range trades {
		if t.Conditions == nil {
			continue
		}
		if t.Trade.IsWin() {
			winning = append(winning, t)
		} else {
			losing = append(losing, t)
		}
	}
	if len(winning) < minTradesPerSide || len(losing) < minTradesPerSide {
		a.log.Warn("insufficient trade data for indicator analysis",
			"wins", len(winning), "losses", len(losing), "need_each", minTradesPerSide)
		return nil, nil
	}

	report := &Report{
		WinningTrades: len(winning),
		LosingTrades:  len(losing),
		WinRate:       float64(len(winning)) / float64(len(winning)+len(losing)),
		GeneratedAt:   time.Now().UTC(),
	}
	a.analyzeRSI(report, winning, losing)
	a.analyzeMACD(report, winning, losing)
	a.analyzeMovingAverages(report, winning, losing)
	a.analyzeVolume(report, winning, losing)
	a.analyzeTrend(report, winning, losing)

	a.log.Info("indicator performance analyzed",
		"wins", len(winning), "losses", len(losing))
	return report, nil
}

func (a *Analyzer) analyzeRSI(report *Report, winning, losing []*database.TradeWithConditions) {
	winRSI := collect(winning, func(c *database.TradeConditions) float64 { return c.RSI })
	loseRSI := collect(losing, func(c *database.TradeConditions) float64 { return c.RSI })

	avgWin, stdWin := meanStd(winRSI)
	avgLose, stdLose := meanStd(loseRSI)

	rec := "Current RSI usage appears balanced"
	switch {
	case avgWin < 35 && avgLose > 35:
		rec = "Increase RSI weight for oversold conditions"
	case avgWin > 65 && avgLose < 65:
		rec = "Increase RSI weight for overbought conditions"
	}

	report.RSI = IndicatorReport{
		AvgWinning:     avgWin,
		AvgLosing:      avgLose,
		WinningStd:     stdWin,
		LosingStd:      stdLose,
		Edge:           math.Abs(avgWin - avgLose),
		Recommendation: rec,
	}
	report.OptimalRSI = optimalRSIRange(winning, losing)
}

// optimalRSIRange scans fixed RSI buckets for the one with the best win
// rate, falling back to the standard 30/70 band when no bucket has enough
// trades.
func optimalRSIRange(winning, losing []*database.TradeWithConditions) RSIRange {
	ranges := [][2]float64{{0, 30}, {30, 40}, {40, 60}, {60, 70}, {70, 100}}
	best := RSIRange{Lower: 30, Upper: 70}
	for _, r := range ranges {
		wins := countInRange(winning, r[0], r[1])
		losses := countInRange(losing, r[0], r[1])
		total := wins + losses
		if total <= minRangeSample {
			continue
		}
		winRate := float64(wins) / float64(total)
		if winRate > best.WinRate {
			best = RSIRange{Lower: r[0], Upper: r[1], WinRate: winRate}
		}
	}
	return best
}

func countInRange(trades []*database.TradeWithConditions, low, high float64) int {
	n := 0
	for _, t := range trades {
		if t.Conditions.RSI >= low && t.Conditions.RSI < high {
			n++
		}
	}
	return n
}

func (a *Analyzer) analyzeMACD(report *Report, winning, losing []*database.TradeWithConditions) {
	winHist := collect(winning, func(c *database.TradeConditions) float64 { return c.MACDHistogram })
	loseHist := collect(losing, func(c *database.TradeConditions) float64 { return c.MACDHistogram })

	avgWin, _ := meanStd(winHist)
	avgLose, _ := meanStd(loseHist)

	winBullish := countPositive(winHist)
	loseBullish := countPositive(loseHist)
	report.BullishWinRate = ratio(winBullish, len(winHist))
	report.BullishLoseRate = ratio(loseBullish, len(loseHist))

	rec := "Current MACD usage appears effective"
	switch {
	case avgWin > 0 && avgLose < 0:
		rec = "Strong bullish MACD signals are reliable - increase weight"
	case math.Abs(avgWin-avgLose) < 0.001:
		rec = "MACD not providing clear edge - consider reducing weight"
	}

	report.MACD = IndicatorReport{
		AvgWinning:     avgWin,
		AvgLosing:      avgLose,
		Edge:           math.Abs(report.BullishWinRate - report.BullishLoseRate),
		Recommendation: rec,
	}
}

func (a *Analyzer) analyzeMovingAverages(report *Report, winning, losing []*database.TradeWithConditions) {
	winSpread := collect(winning, func(c *database.TradeConditions) float64 { return c.SMAShort - c.SMALong })
	loseSpread := collect(losing, func(c *database.TradeConditions) float64 { return c.SMAShort - c.SMALong })

	avgWin, _ := meanStd(winSpread)
	avgLose, _ := meanStd(loseSpread)
	report.PositiveCrossoverWinRate = ratio(countPositive(winSpread), len(winSpread))

	rec := "Review MA period settings"
	if avgWin > 0 {
		rec = "Golden cross signals are effective"
	}

	report.MovingAverages = IndicatorReport{
		AvgWinning:     avgWin,
		AvgLosing:      avgLose,
		Edge:           math.Abs(avgWin - avgLose),
		Recommendation: rec,
	}
}

func (a *Analyzer) analyzeVolume(report *Report, winning, losing []*database.TradeWithConditions) {
	winVol := collect(winning, func(c *database.TradeConditions) float64 { return c.VolumeRatio })
	loseVol := collect(losing, func(c *database.TradeConditions) float64 { return c.VolumeRatio })

	avgWin, _ := meanStd(winVol)
	avgLose, _ := meanStd(loseVol)

	rec := "Volume not providing clear edge"
	if avgWin > avgLose {
		rec = "High volume confirms good trades"
	}

	report.Volume = IndicatorReport{
		AvgWinning:     avgWin,
		AvgLosing:      avgLose,
		Edge:           avgWin - avgLose,
		Recommendation: rec,
	}
}

func (a *Analyzer) analyzeTrend(report *Report, winning, losing []*database.TradeWithConditions) {
	winCounts := map[string]int{}
	loseCounts := map[string]int{}
	for _, t := range winning {
		winCounts[t.Conditions.Trend]++
	}
	for _, t := range losing {
		loseCounts[t.Conditions.Trend]++
	}

	best := "unknown"
	bestCount := 0
	for trend, n := range winCounts {
		if n > bestCount {
			best, bestCount = trend, n
		}
	}

	rec := "Current trend following strategy is balanced"
	switch {
	case winCounts[string(market.TrendBullish)] > winCounts[string(market.TrendBearish)]:
		rec = "Focus on long positions in uptrends"
	case winCounts[string(market.TrendBearish)] > winCounts[string(market.TrendBullish)]:
		rec = "Focus on short positions in downtrends"
	}

	report.Trend = TrendReport{
		WinningDistribution: winCounts,
		LosingDistribution:  loseCounts,
		BestTrend:           best,
		Recommendation:      rec,
	}
}

// OptimalWeights scores each indicator family by its observed predictive
// power and normalizes the scores into weights summing to 1.0. With no
// usable report it returns the stock weights.
func (a *Analyzer) OptimalWeights(report *Report) map[string]float64 {
	if report == nil {
		return map[string]float64{
			"rsi":             0.25,
			"macd":            0.25,
			"moving_averages": 0.25,
			"volume":          0.15,
			"trend":           0.10,
		}
	}

	scores := map[string]float64{
		"rsi":             0.5,
		"macd":            0.5,
		"moving_averages": 0.5,
		"volume":          0.4,
		"trend":           0.5,
	}
	if report.OptimalRSI.WinRate > 0.6 {
		scores["rsi"] = report.OptimalRSI.WinRate
	}
	if edge := math.Abs(report.BullishWinRate - report.BullishLoseRate); edge > 0 {
		scores["macd"] = edge
	}
	if report.PositiveCrossoverWinRate > 0 {
		scores["moving_averages"] = report.PositiveCrossoverWinRate
	}
	if adv := report.Volume.Edge; adv > 0 {
		scores["volume"] = math.Min(0.8, 0.5+adv)
	}

	total := 0.0
	for _, s := range scores {
		total += s
	}
	weights := make(map[string]float64, len(scores))
	for k, s := range scores {
		weights[k] = s / total
	}
	a.log.Info("calculated optimal weights from trade history",
		"rsi", weights["rsi"], "macd", weights["macd"],
		"moving_averages", weights["moving_averages"],
		"volume", weights["volume"], "trend", weights["trend"])
	return weights
}

// LearningOpportunities reviews recent performance and returns actionable
// findings, worst first.
func (a *Analyzer) LearningOpportunities(ctx context.Context) ([]Opportunity, error) {
	stats, err := a.source.GetPerformanceStats(ctx, time.Now().UTC().Add(-analysisWindow))
	if err != nil {
		return nil, err
	}
	report, err := a.AnalyzeIndicators(ctx)
	if err != nil {
		return nil, err
	}

	var opportunities []Opportunity
	if stats.TotalTrades > 0 && stats.WinRate < 0.5 {
		opportunities = append(opportunities, Opportunity{
			Type:           "low_win_rate",
			Severity:       SeverityHigh,
			CurrentValue:   stats.WinRate,
			TargetValue:    0.55,
			Recommendation: "Overall win rate is low. Consider tightening entry criteria or adjusting indicator weights.",
			Action:         ActionIncreaseMinConfidence,
		})
	}
	if stats.TotalTrades > 0 && stats.ProfitFactor < 1.5 {
		opportunities = append(opportunities, Opportunity{
			Type:           "low_profit_factor",
			Severity:       SeverityHigh,
			CurrentValue:   stats.ProfitFactor,
			TargetValue:    2.0,
			Recommendation: "Profit factor is low. Winning trades are not large enough compared to losses.",
			Action:         ActionAdjustTakeProfit,
		})
	}
	if report != nil {
		for indicator, rep := range map[string]IndicatorReport{
			"rsi":             report.RSI,
			"macd":            report.MACD,
			"moving_averages": report.MovingAverages,
			"volume":          report.Volume,
		} {
			if containsIncreaseWeight(rep.Recommendation) {
				opportunities = append(opportunities, Opportunity{
					Type:           "indicator_optimization",
					Indicator:      indicator,
					Severity:       SeverityMedium,
					Recommendation: rep.Recommendation,
					Action:         ActionAdjustIndicatorWeight,
				})
			}
		}
	}
	if stats.AvgDuration > 1440 {
		opportunities = append(opportunities, Opportunity{
			Type:           "long_trade_duration",
			Severity:       SeverityLow,
			CurrentValue:   stats.AvgDuration,
			Recommendation: "Trades are held for long periods. Consider tighter stop losses or take profits.",
			Action:         ActionAdjustExitCriteria,
		})
	}

	a.log.Info("learning opportunities identified", "count", len(opportunities))
	return opportunities, nil
}

func containsIncreaseWeight(rec string) bool {
	return strings.Contains(strings.ToLower(rec), "increase weight")
}

func collect(trades []*database.TradeWithConditions, get func(*database.TradeConditions) float64) []float64 {
	out := make([]float64, 0, len(trades))
	for _, t := range trades {
		out = append(out, get(t.Conditions))
	}
	return out
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	for _, v := range values {
		std += (v - mean) * (v - mean)
	}
	std = math.Sqrt(std / float64(len(values)))
	return mean, std
}

func countPositive(values []float64) int {
	n := 0
	for _, v := range values {
		if v > 0 {
			n++
		}
	}
	return n
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
