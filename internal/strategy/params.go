package strategy

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dduho/trading-bot/internal/logging"
)

// Hard bounds on the confidence threshold. No adjustment path may take the
// threshold outside this range.
const (
	MinConfidenceFloor = 0.03
	MaxConfidenceCap   = 0.15
)

// Params holds the tunable strategy parameters. Values are immutable once
// published; adjustments go through Store.Apply which installs a new copy.
type Params struct {
	MinConfidence float64            `json:"min_confidence"`
	Weights       map[string]float64 `json:"weights"`
	RSIOversold   float64            `json:"rsi_oversold"`
	RSIOverbought float64            `json:"rsi_overbought"`
	Version       int64              `json:"version"`
	UpdatedAt     time.Time          `json:"updated_at"`
	UpdatedBy     string             `json:"updated_by"`
}

// Clone returns a deep copy safe to mutate.
func (p Params) Clone() Params {
	weights := make(map[string]float64, len(p.Weights))
	for k, v := range p.Weights {
		weights[k] = v
	}
	p.Weights = weights
	return p
}

// Snapshot returns the parameters as a generic map for event payloads and
// learning event records.
func (p Params) Snapshot() map[string]interface{} {
	weights := make(map[string]interface{}, len(p.Weights))
	for k, v := range p.Weights {
		weights[k] = v
	}
	return map[string]interface{}{
		"min_confidence": p.MinConfidence,
		"weights":        weights,
		"rsi_oversold":   p.RSIOversold,
		"rsi_overbought": p.RSIOverbought,
		"version":        p.Version,
	}
}

// DefaultParams returns the initial parameter set.
func DefaultParams(minConfidence float64, weights map[string]float64) Params {
	w := make(map[string]float64, len(weights))
	for k, v := range weights {
		w[k] = v
	}
	return Params{
		MinConfidence: minConfidence,
		Weights:       w,
		RSIOversold:   30,
		RSIOverbought: 70,
		Version:       1,
		UpdatedAt:     time.Now().UTC(),
		UpdatedBy:     "config",
	}
}

// Store is the single authority over live strategy parameters. Readers get
// consistent immutable snapshots; all writes funnel through Apply.
type Store struct {
	mu      sync.RWMutex
	current Params
	log     *logging.Logger
}

// NewStore creates a parameter store seeded with the given params.
func NewStore(initial Params, log *logging.Logger) (*Store, error) {
	if err := validate(initial); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Default()
	}
	return &Store{
		current: initial.Clone(),
		log:     log.WithComponent("params"),
	}, nil
}

// Get returns the current parameter snapshot.
func (s *Store) Get() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Mutator transforms a parameter set. It receives a private copy and
// returns the desired new state.
type Mutator func(Params) Params

// Apply atomically transforms the current parameters. The result is clamped
// to hard bounds (with a warning when clamping fires), weights are
// re-normalized to sum to 1, and the version is bumped. Returns the
// before/after pair.
func (s *Store) Apply(source string, fn Mutator) (before, after Params, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before = s.current.Clone()
	next := fn(s.current.Clone())

	// Hard bounds always win over whatever the mutator produced.
	clamped := Clamp(next.MinConfidence)
	if clamped != next.MinConfidence {
		s.log.Warn("confidence threshold clamped to hard bounds",
			"requested", next.MinConfidence,
			"applied", clamped,
			"source", source)
		next.MinConfidence = clamped
	}

	if err := normalizeWeights(next.Weights); err != nil {
		return before, before, fmt.Errorf("rejected parameter update from %s: %w", source, err)
	}

	next.Version = before.Version + 1
	next.UpdatedAt = time.Now().UTC()
	next.UpdatedBy = source

	if err := validate(next); err != nil {
		return before, before, fmt.Errorf("rejected parameter update from %s: %w", source, err)
	}

	s.current = next
	s.log.Info("strategy parameters updated",
		"source", source,
		"version", next.Version,
		"min_confidence", next.MinConfidence)

	return before, next.Clone(), nil
}

// Clamp bounds a confidence threshold to the hard range.
func Clamp(v float64) float64 {
	if v < MinConfidenceFloor {
		return MinConfidenceFloor
	}
	if v > MaxConfidenceCap {
		return MaxConfidenceCap
	}
	return v
}

func normalizeWeights(weights map[string]float64) error {
	if len(weights) == 0 {
		return fmt.Errorf("weights must not be empty")
	}
	sum := 0.0
	for name, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("weight %s has invalid value %v", name, w)
		}
		sum += w
	}
	if sum <= 0 {
		return fmt.Errorf("weights sum to zero")
	}
	for name := range weights {
		weights[name] /= sum
	}
	return nil
}

func validate(p Params) error {
	if p.MinConfidence < MinConfidenceFloor || p.MinConfidence > MaxConfidenceCap {
		return fmt.Errorf("min_confidence %.4f outside [%.2f, %.2f]",
			p.MinConfidence, MinConfidenceFloor, MaxConfidenceCap)
	}
	if len(p.Weights) == 0 {
		return fmt.Errorf("weights must not be empty")
	}
	sum := 0.0
	for name, w := range p.Weights {
		if w < 0 {
			return fmt.Errorf("weight %s is negative", name)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("weights sum to %.4f, expected 1.0", sum)
	}
	if p.RSIOversold <= 0 || p.RSIOverbought >= 100 || p.RSIOversold >= p.RSIOverbought {
		return fmt.Errorf("rsi thresholds misconfigured (%.1f/%.1f)", p.RSIOversold, p.RSIOverbought)
	}
	return nil
}
