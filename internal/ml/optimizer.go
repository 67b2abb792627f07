package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/dduho/trading-bot/internal/features"
	"github.com/dduho/trading-bot/internal/logging"
)

// ErrInsufficientData is returned when the training set is too small or
// too one-sided to fit a model. It marks an expected skip, not a failure.
var ErrInsufficientData = errors.New("insufficient training data")

// Sample is one closed trade turned into a supervised observation.
type Sample struct {
	Features features.Vector
	Win      bool
}

// Optimizer trains win-probability models on closed trade history.
type Optimizer struct {
	minSamples int
	epochs     int
	lr         float64
	log        *logging.Logger
}

// NewOptimizer creates an optimizer. minSamples guards against training on
// noise; training requests below it fail.
func NewOptimizer(minSamples, epochs int, learningRate float64, log *logging.Logger) *Optimizer {
	if log == nil {
		log = logging.Default()
	}
	if epochs <= 0 {
		epochs = 400
	}
	if learningRate <= 0 {
		learningRate = 0.05
	}
	return &Optimizer{
		minSamples: minSamples,
		epochs:     epochs,
		lr:         learningRate,
		log:        log.WithComponent("ml"),
	}
}

// Train fits a new model artifact on the samples. All samples must share
// the current feature schema. The returned artifact is immutable.
func (o *Optimizer) Train(samples []Sample) (*Artifact, error) {
	if len(samples) < o.minSamples {
		return nil, fmt.Errorf("%w: %d samples, need %d", ErrInsufficientData, len(samples), o.minSamples)
	}
	for i, s := range samples {
		if err := s.Features.Validate(); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
	}
	wins := 0
	for _, s := range samples {
		if s.Win {
			wins++
		}
	}
	if wins == 0 || wins == len(samples) {
		return nil, fmt.Errorf("%w: %d wins of %d samples", ErrInsufficientData, wins, len(samples))
	}

	x := make([][]float64, len(samples))
	y := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = s.Features.Values
		if s.Win {
			y[i] = 1
		}
	}

	// Shuffle deterministically before splitting so chronological order
	// does not leak into the split.
	rng := rand.New(rand.NewSource(int64(len(samples))))
	perm := rng.Perm(len(samples))
	xs := make([][]float64, len(x))
	ys := make([]float64, len(y))
	for i, p := range perm {
		xs[i] = x[p]
		ys[i] = y[p]
	}

	split := len(xs) * 4 / 5
	if split == len(xs) {
		split = len(xs) - 1
	}
	trainX, testX := xs[:split], xs[split:]
	trainY, testY := ys[:split], ys[split:]

	// The scaler sees training data only.
	scaler, err := FitScaler(trainX)
	if err != nil {
		return nil, err
	}
	scaledTrain, err := scaler.TransformAll(trainX)
	if err != nil {
		return nil, err
	}
	scaledTest, err := scaler.TransformAll(testX)
	if err != nil {
		return nil, err
	}

	opts := defaultTrainOptions()
	opts.epochs = o.epochs
	opts.learningRate = o.lr

	model, err := trainLogistic(scaledTrain, trainY, opts)
	if err != nil {
		return nil, err
	}

	metrics := evaluate(model, scaledTest, testY)
	metrics.TrainSize = len(trainX)
	metrics.TestSize = len(testX)
	metrics.CVAccuracy = o.crossValidate(xs, ys, opts)

	trainedAt := time.Now().UTC()
	artifact := &Artifact{
		Version:           newVersion(trainedAt),
		SchemaVersion:     features.SchemaVersion,
		TrainedAt:         trainedAt,
		TrainingSamples:   len(samples),
		Model:             model,
		Scaler:            scaler,
		Metrics:           metrics,
		FeatureImportance: featureImportance(model),
	}

	o.log.Info("model trained",
		"version", artifact.Version,
		"samples", len(samples),
		"accuracy", metrics.Accuracy,
		"f1", metrics.F1Score,
		"cv_accuracy", metrics.CVAccuracy)
	return artifact, nil
}

// crossValidate runs 5-fold cross validation and returns mean accuracy.
func (o *Optimizer) crossValidate(x [][]float64, y []float64, opts trainOptions) float64 {
	const folds = 5
	if len(x) < folds*2 {
		return 0
	}

	foldSize := len(x) / folds
	total := 0.0
	used := 0

	for f := 0; f < folds; f++ {
		start := f * foldSize
		end := start + foldSize
		if f == folds-1 {
			end = len(x)
		}

		var trainX, testX [][]float64
		var trainY, testY []float64
		for i := range x {
			if i >= start && i < end {
				testX = append(testX, x[i])
				testY = append(testY, y[i])
			} else {
				trainX = append(trainX, x[i])
				trainY = append(trainY, y[i])
			}
		}

		scaler, err := FitScaler(trainX)
		if err != nil {
			continue
		}
		scaledTrain, err := scaler.TransformAll(trainX)
		if err != nil {
			continue
		}
		scaledTest, err := scaler.TransformAll(testX)
		if err != nil {
			continue
		}
		model, err := trainLogistic(scaledTrain, trainY, opts)
		if err != nil {
			continue
		}
		total += evaluate(model, scaledTest, testY).Accuracy
		used++
	}

	if used == 0 {
		return 0
	}
	return total / float64(used)
}

func evaluate(model *logistic, x [][]float64, y []float64) Metrics {
	if len(x) == 0 {
		return Metrics{}
	}

	scores := make([]float64, len(x))
	var tp, tn, fp, fn float64
	for i, row := range x {
		scores[i] = model.predict(row)
		pred := 0.0
		if scores[i] > 0.5 {
			pred = 1
		}
		switch {
		case pred == 1 && y[i] == 1:
			tp++
		case pred == 0 && y[i] == 0:
			tn++
		case pred == 1 && y[i] == 0:
			fp++
		default:
			fn++
		}
	}

	m := Metrics{Accuracy: (tp + tn) / float64(len(x))}
	if tp+fp > 0 {
		m.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		m.Recall = tp / (tp + fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1Score = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	m.AUC = rankAUC(scores, y)
	return m
}

// rankAUC computes the area under the ROC curve from raw scores using the
// Mann-Whitney rank statistic. Tied scores share the average rank.
func rankAUC(scores, y []float64) float64 {
	n := len(scores)
	if n == 0 {
		return 0
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && scores[idx[j]] == scores[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2 // ranks are 1-based
		for k := i; k < j; k++ {
			ranks[idx[k]] = avg
		}
		i = j
	}

	var pos, neg, posRankSum float64
	for i, label := range y {
		if label == 1 {
			pos++
			posRankSum += ranks[i]
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0
	}
	return (posRankSum - pos*(pos+1)/2) / (pos * neg)
}

// featureImportance normalizes absolute weights over the feature names.
func featureImportance(model *logistic) map[string]float64 {
	total := 0.0
	for _, w := range model.Weights {
		total += math.Abs(w)
	}

	out := make(map[string]float64, len(features.Names))
	for i, name := range features.Names {
		if i < len(model.Weights) && total > 0 {
			out[name] = math.Abs(model.Weights[i]) / total
		} else {
			out[name] = 0
		}
	}
	return out
}

// DeriveIndicatorWeights maps feature importance onto the five indicator
// weight buckets the signal generator uses, normalized to sum to 1.
func DeriveIndicatorWeights(importance map[string]float64) map[string]float64 {
	buckets := map[string][]string{
		"rsi":             {"rsi", "rsi_oversold", "rsi_overbought"},
		"macd":            {"macd", "macd_signal", "macd_histogram", "macd_positive"},
		"moving_averages": {"sma_short", "sma_long", "ma_crossover"},
		"volume":          {"volume_ratio", "strong_volume"},
		"trend":           {"trend_bullish", "trend_bearish", "trend_neutral"},
	}

	weights := make(map[string]float64, len(buckets))
	total := 0.0
	for bucket, names := range buckets {
		sum := 0.0
		for _, n := range names {
			sum += importance[n]
		}
		weights[bucket] = sum
		total += sum
	}

	if total <= 0 {
		for bucket := range weights {
			weights[bucket] = 1.0 / float64(len(weights))
		}
		return weights
	}
	for bucket := range weights {
		weights[bucket] /= total
	}
	return weights
}
