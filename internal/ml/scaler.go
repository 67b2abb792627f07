package ml

import (
	"fmt"
	"math"
)

// Scaler standardizes features to zero mean and unit variance. It must be
// fit on training data only; test folds and live inference reuse the
// training statistics.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitScaler computes per-feature statistics over the sample matrix.
func FitScaler(samples [][]float64) (*Scaler, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot fit scaler on empty sample set")
	}
	dim := len(samples[0])

	mean := make([]float64, dim)
	for _, row := range samples {
		if len(row) != dim {
			return nil, fmt.Errorf("inconsistent sample dimensionality: %d vs %d", len(row), dim)
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(samples))
	for j := range mean {
		mean[j] /= n
	}

	std := make([]float64, dim)
	for _, row := range samples {
		for j, v := range row {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / n)
		// Constant features scale to zero, not NaN.
		if std[j] == 0 {
			std[j] = 1
		}
	}

	return &Scaler{Mean: mean, Std: std}, nil
}

// Transform standardizes one observation.
func (s *Scaler) Transform(row []float64) ([]float64, error) {
	if len(row) != len(s.Mean) {
		return nil, fmt.Errorf("observation has %d features, scaler expects %d", len(row), len(s.Mean))
	}
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out, nil
}

// TransformAll standardizes a matrix of observations.
func (s *Scaler) TransformAll(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		t, err := s.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}
