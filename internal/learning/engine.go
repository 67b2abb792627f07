package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dduho/trading-bot/internal/analyzer"
	"github.com/dduho/trading-bot/internal/database"
	"github.com/dduho/trading-bot/internal/events"
	"github.com/dduho/trading-bot/internal/features"
	"github.com/dduho/trading-bot/internal/logging"
	"github.com/dduho/trading-bot/internal/ml"
	"github.com/dduho/trading-bot/internal/strategy"
)

// Store is the slice of the repository the engine reads and writes.
type Store interface {
	GetClosedTradesWithConditions(ctx context.Context, limit int) ([]*database.TradeWithConditions, error)
	GetPerformanceStats(ctx context.Context, since time.Time) (*database.PerformanceStats, error)
	SaveStrategyPerformance(ctx context.Context, sp *database.StrategyPerformance) error
	SaveModelPerformance(ctx context.Context, mp *database.ModelPerformance) error
	ActivateModel(ctx context.Context, modelVersion string) error
	SaveLearningEvent(ctx context.Context, ev *database.LearningEvent) error
}

// Aggressiveness controls how large a weight drift must be before the
// engine rewrites the strategy weights.
type Aggressiveness string

const (
	Conservative Aggressiveness = "conservative"
	Moderate     Aggressiveness = "moderate"
	Aggressive   Aggressiveness = "aggressive"
)

func (a Aggressiveness) threshold() float64 {
	switch a {
	case Conservative:
		return 0.10
	case Aggressive:
		return 0.02
	default:
		return 0.05
	}
}

const (
	trainingLimit  = 1000
	statsWindow    = 7 * 24 * time.Hour
	// mlTrustAccuracy is the test accuracy above which model-derived
	// weights dominate the blend with the performance analysis.
	mlTrustAccuracy = 0.65
)

// CycleResult summarizes one learning cycle.
type CycleResult struct {
	StartedAt      time.Time              `json:"started_at"`
	Duration       time.Duration          `json:"duration"`
	Success        bool                   `json:"success"`
	TradesAnalyzed int                    `json:"trades_analyzed"`
	Opportunities  []analyzer.Opportunity `json:"opportunities,omitempty"`
	ModelVersion   string                 `json:"model_version,omitempty"`
	ModelAccuracy  float64                `json:"model_accuracy,omitempty"`
	WeightsUpdated bool                   `json:"weights_updated"`
	Notes          []string               `json:"notes,omitempty"`
	Errors         []string               `json:"errors,omitempty"`
}

// Engine runs the periodic learning cycle: analyze closed trades, retrain
// the win-probability model, derive fresh indicator weights and apply
// them. The strategy parameters only change at the end of a cycle that
// produced a better picture; a failed step leaves everything as it was.
type Engine struct {
	mu       sync.Mutex
	lastRun  time.Time
	enabled  bool
	history  []CycleResult

	store     Store
	analyzer  *analyzer.Analyzer
	optimizer *ml.Optimizer
	enhancer  *ml.Enhancer
	params    *strategy.Store
	bus       *events.EventBus
	log       *logging.Logger
	now       func() time.Time

	modelDir       string
	interval       time.Duration
	minTrades      int
	aggressiveness Aggressiveness
	autoApply      bool
}

// Options configures the learning engine.
type Options struct {
	ModelDir       string
	Interval       time.Duration
	MinTrades      int
	Aggressiveness Aggressiveness
	AutoApply      bool
}

func NewEngine(store Store, an *analyzer.Analyzer, opt *ml.Optimizer, enh *ml.Enhancer,
	params *strategy.Store, bus *events.EventBus, opts Options, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Default()
	}
	if opts.Interval <= 0 {
		opts.Interval = 6 * time.Hour
	}
	if opts.MinTrades <= 0 {
		opts.MinTrades = 50
	}
	return &Engine{
		enabled:        true,
		store:          store,
		analyzer:       an,
		optimizer:      opt,
		enhancer:       enh,
		params:         params,
		bus:            bus,
		log:            log.WithComponent("learning"),
		now:            time.Now,
		modelDir:       opts.ModelDir,
		interval:       opts.Interval,
		minTrades:      opts.MinTrades,
		aggressiveness: opts.Aggressiveness,
		autoApply:      opts.AutoApply,
	}
}

// SetClock overrides the time source for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Enable turns the learning loop on.
func (e *Engine) Enable() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = true
	e.log.Info("adaptive learning enabled")
}

// Disable stops future cycles without touching current parameters.
func (e *Engine) Disable() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = false
	e.log.Info("adaptive learning disabled")
}

// ShouldRun reports whether a cycle is due: learning enabled, the
// interval has elapsed and enough closed trades have accumulated.
func (e *Engine) ShouldRun(ctx context.Context) bool {
	e.mu.Lock()
	enabled, lastRun := e.enabled, e.lastRun
	e.mu.Unlock()
	if !enabled {
		return false
	}

	nowUTC := e.now().UTC()
	stats, err := e.store.GetPerformanceStats(ctx, nowUTC.Add(-statsWindow))
	if err != nil {
		e.log.Error("checking learning precondition", "error", err)
		return false
	}
	if stats.TotalTrades < e.minTrades {
		if lastRun.IsZero() {
			// Not enough history yet; wait a full interval before asking
			// again instead of polling the database every scan.
			e.mu.Lock()
			e.lastRun = nowUTC
			e.mu.Unlock()
			e.log.Info("skipping initial learning cycle",
				"trades", stats.TotalTrades, "need", e.minTrades)
		}
		return false
	}
	if !lastRun.IsZero() && nowUTC.Sub(lastRun) < e.interval {
		return false
	}
	return true
}

// RunCycle executes one full learning cycle. Strategy parameter changes
// happen only at the very end; any earlier failure aborts the cycle with
// the previous parameters intact.
func (e *Engine) RunCycle(ctx context.Context) CycleResult {
	started := e.now().UTC()
	result := CycleResult{StartedAt: started}
	if e.bus != nil {
		e.bus.Publish(events.Event{Type: events.EventLearningCycleStarted, Data: map[string]interface{}{}})
	}
	e.log.Info("learning cycle started")

	defer func() {
		result.Duration = e.now().UTC().Sub(started)
		e.mu.Lock()
		e.lastRun = e.now().UTC()
		e.history = append(e.history, result)
		if len(e.history) > 100 {
			e.history = e.history[len(e.history)-100:]
		}
		e.mu.Unlock()
		if e.bus != nil {
			e.bus.Publish(events.Event{Type: events.EventLearningCycleFinished, Data: map[string]interface{}{
				"success":         result.Success,
				"trades_analyzed": result.TradesAnalyzed,
				"model_version":   result.ModelVersion,
				"weights_updated": result.WeightsUpdated,
			}})
		}
		e.log.Info("learning cycle finished",
			"success", result.Success,
			"duration", result.Duration,
			"trades", result.TradesAnalyzed,
			"weights_updated", result.WeightsUpdated)
	}()

	// Step 1: performance analysis.
	report, err := e.analyzer.AnalyzeIndicators(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("performance analysis: %v", err))
		return result
	}
	opportunities, err := e.analyzer.LearningOpportunities(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("opportunity scan: %v", err))
		return result
	}
	result.Opportunities = opportunities

	stats, err := e.store.GetPerformanceStats(ctx, started.Add(-statsWindow))
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("stats: %v", err))
		return result
	}
	result.TradesAnalyzed = stats.TotalTrades

	// Snapshot the window so performance is comparable across cycles. A
	// failed snapshot is recorded but never blocks the cycle.
	paramsJSON, _ := json.Marshal(e.params.Get().Snapshot())
	if err := e.store.SaveStrategyPerformance(ctx, &database.StrategyPerformance{
		WindowStart:   started.Add(-statsWindow),
		WindowEnd:     started,
		TotalTrades:   stats.TotalTrades,
		WinningTrades: stats.WinningTrades,
		LosingTrades:  stats.LosingTrades,
		WinRate:       stats.WinRate,
		TotalPnL:      stats.TotalPnL,
		AvgWin:        stats.AvgWin,
		AvgLoss:       stats.AvgLoss,
		ProfitFactor:  stats.ProfitFactor,
		Params:        paramsJSON,
	}); err != nil {
		e.log.Error("recording strategy performance window", "error", err)
		result.Errors = append(result.Errors, fmt.Sprintf("strategy performance: %v", err))
	}

	// Step 2: retrain the win-probability model. Too little data is an
	// expected state early in a deployment, not a failure; anything else
	// is a genuine training error.
	artifact, trainErr := e.trainModel(ctx)
	if errors.Is(trainErr, ml.ErrInsufficientData) {
		e.log.Info("model training skipped", "reason", trainErr)
		result.Notes = append(result.Notes, fmt.Sprintf("training skipped: %v", trainErr))
	} else if trainErr != nil {
		e.log.Warn("model training failed", "error", trainErr)
		result.Errors = append(result.Errors, fmt.Sprintf("training: %v", trainErr))
	} else {
		result.ModelVersion = artifact.Version
		result.ModelAccuracy = artifact.Metrics.Accuracy
	}

	// Step 3: derive target weights. A nil report means too few wins or
	// losses to split on; without a trained model there is no evidence to
	// move weights with, so the cycle keeps them untouched.
	if report == nil && artifact == nil {
		e.log.Info("too few per-side samples for indicator analysis, keeping current weights")
		result.Notes = append(result.Notes, "weight update skipped: insufficient per-side samples and no model")
		result.Success = true
		return result
	}
	var target map[string]float64
	switch {
	case report == nil:
		target = ml.DeriveIndicatorWeights(artifact.FeatureImportance)
		result.Notes = append(result.Notes, "weights derived from model importance only")
	case artifact == nil:
		target = e.analyzer.OptimalWeights(report)
	default:
		target = combineWeights(e.analyzer.OptimalWeights(report),
			ml.DeriveIndicatorWeights(artifact.FeatureImportance), artifact.Metrics.Accuracy)
	}

	// Step 4: decide whether the drift is worth an update.
	current := e.params.Get()
	if !weightsDiffer(current.Weights, target, e.aggressiveness.threshold()) {
		e.log.Info("weight drift below threshold, keeping current weights")
		result.Success = true
		return result
	}
	if !e.autoApply {
		e.log.Info("weight update computed but auto apply is off")
		result.Success = true
		return result
	}

	// Step 5: apply and record.
	before, after, err := e.params.Apply("learning_engine", func(p strategy.Params) strategy.Params {
		p.Weights = target
		return p
	})
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("applying weights: %v", err))
		return result
	}
	result.WeightsUpdated = true

	beforeJSON, _ := json.Marshal(before.Snapshot())
	afterJSON, _ := json.Marshal(after.Snapshot())
	if err := e.store.SaveLearningEvent(ctx, &database.LearningEvent{
		EventType:        database.LearningEventCycle,
		Source:           "learning_engine",
		Description:      fmt.Sprintf("indicator weights rebalanced from %d analyzed trades", stats.TotalTrades),
		ParametersBefore: beforeJSON,
		ParametersAfter:  afterJSON,
	}); err != nil {
		e.log.Error("recording learning event", "error", err)
		result.Errors = append(result.Errors, fmt.Sprintf("learning event: %v", err))
	}
	if e.bus != nil {
		e.bus.PublishParamsUpdated("learning_engine", before.Snapshot(), after.Snapshot())
	}

	result.Success = true
	return result
}

// trainModel builds a training set from closed trades, fits a new model
// and activates it for live confidence enhancement.
func (e *Engine) trainModel(ctx context.Context) (*ml.Artifact, error) {
	trades, err := e.store.GetClosedTradesWithConditions(ctx, trainingLimit)
	if err != nil {
		return nil, fmt.Errorf("loading training trades: %w", err)
	}

	samples := make([]ml.Sample, 0, len(trades))
	for _, t := range trades {
		if t.Conditions == nil || len(t.Conditions.Features) == 0 {
			continue
		}
		var vec features.Vector
		if err := json.Unmarshal(t.Conditions.Features, &vec); err != nil {
			continue
		}
		if vec.Validate() != nil {
			// Vectors from an older schema are not comparable.
			continue
		}
		samples = append(samples, ml.Sample{Features: vec, Win: t.Trade.IsWin()})
	}

	artifact, err := e.optimizer.Train(samples)
	if err != nil {
		return nil, err
	}
	if e.modelDir != "" {
		if err := ml.SaveArtifact(e.modelDir, artifact); err != nil {
			return nil, fmt.Errorf("persisting artifact: %w", err)
		}
	}

	importanceJSON, _ := json.Marshal(artifact.FeatureImportance)
	if err := e.store.SaveModelPerformance(ctx, &database.ModelPerformance{
		ModelVersion:      artifact.Version,
		SchemaVersion:     artifact.SchemaVersion,
		TrainedAt:         artifact.TrainedAt,
		TrainingSamples:   artifact.TrainingSamples,
		Accuracy:          artifact.Metrics.Accuracy,
		Precision:         artifact.Metrics.Precision,
		Recall:            artifact.Metrics.Recall,
		F1Score:           artifact.Metrics.F1Score,
		AUC:               artifact.Metrics.AUC,
		CVAccuracy:        artifact.Metrics.CVAccuracy,
		FeatureImportance: importanceJSON,
	}); err != nil {
		return nil, fmt.Errorf("recording model performance: %w", err)
	}
	if err := e.store.ActivateModel(ctx, artifact.Version); err != nil {
		return nil, fmt.Errorf("activating model: %w", err)
	}
	if e.enhancer != nil {
		e.enhancer.SetModel(artifact)
	}
	if e.bus != nil {
		e.bus.PublishModelTrained(artifact.Version, artifact.Metrics.Accuracy,
			artifact.Metrics.F1Score, artifact.TrainingSamples)
	}
	return artifact, nil
}

// combineWeights blends analyzer-derived and model-derived weights. An
// accurate model gets the louder voice.
func combineWeights(perf, mlW map[string]float64, accuracy float64) map[string]float64 {
	perfShare, mlShare := 0.6, 0.4
	if accuracy > mlTrustAccuracy {
		perfShare, mlShare = 0.3, 0.7
	}

	combined := make(map[string]float64, len(perf))
	total := 0.0
	for indicator := range perf {
		p := perf[indicator]
		m, ok := mlW[indicator]
		if !ok {
			m = 0.2
		}
		w := perfShare*p + mlShare*m
		combined[indicator] = w
		total += w
	}
	if total > 0 {
		for k := range combined {
			combined[k] /= total
		}
	}
	return combined
}

// weightsDiffer reports whether any indicator drifted past the relative
// change threshold.
func weightsDiffer(current, target map[string]float64, threshold float64) bool {
	for indicator, next := range target {
		cur, ok := current[indicator]
		if !ok || cur == 0 {
			if next > 0 {
				return true
			}
			continue
		}
		if math.Abs(next-cur)/cur > threshold {
			return true
		}
	}
	return false
}

// History returns recent cycle results, newest last.
func (e *Engine) History() []CycleResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]CycleResult(nil), e.history...)
}
