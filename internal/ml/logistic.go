package ml

import (
	"fmt"
	"math"
	"math/rand"
)

// logistic is an L2-regularized logistic regression classifier trained with
// full-batch gradient descent. It predicts the probability that a trade
// wins given its standardized feature vector.
type logistic struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

type trainOptions struct {
	epochs       int
	learningRate float64
	l2           float64
	seed         int64
}

func defaultTrainOptions() trainOptions {
	return trainOptions{
		epochs:       400,
		learningRate: 0.05,
		l2:           0.01,
		seed:         1,
	}
}

func sigmoid(z float64) float64 {
	// Guard against overflow in exp for extreme logits.
	if z < -30 {
		return 0
	}
	if z > 30 {
		return 1
	}
	return 1 / (1 + math.Exp(-z))
}

// trainLogistic fits the classifier on standardized features.
func trainLogistic(x [][]float64, y []float64, opts trainOptions) (*logistic, error) {
	if len(x) == 0 || len(x) != len(y) {
		return nil, fmt.Errorf("invalid training set: %d samples, %d labels", len(x), len(y))
	}
	dim := len(x[0])

	rng := rand.New(rand.NewSource(opts.seed))
	model := &logistic{Weights: make([]float64, dim)}
	for j := range model.Weights {
		model.Weights[j] = rng.NormFloat64() * 0.01
	}

	n := float64(len(x))
	gradW := make([]float64, dim)

	for epoch := 0; epoch < opts.epochs; epoch++ {
		for j := range gradW {
			gradW[j] = 0
		}
		gradB := 0.0

		for i, row := range x {
			p := model.predict(row)
			err := p - y[i]
			for j, v := range row {
				gradW[j] += err * v
			}
			gradB += err
		}

		for j := range model.Weights {
			grad := gradW[j]/n + opts.l2*model.Weights[j]
			model.Weights[j] -= opts.learningRate * grad
		}
		model.Bias -= opts.learningRate * gradB / n
	}

	return model, nil
}

func (m *logistic) predict(row []float64) float64 {
	z := m.Bias
	for j, v := range row {
		z += m.Weights[j] * v
	}
	return sigmoid(z)
}
