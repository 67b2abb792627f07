package ml

import (
	"sync"

	"github.com/dduho/trading-bot/internal/features"
	"github.com/dduho/trading-bot/internal/logging"
)

// Enhancement is the result of blending a base signal confidence with the
// model's win probability.
type Enhancement struct {
	Base           float64 `json:"base"`
	Enhanced       float64 `json:"enhanced"`
	WinProbability float64 `json:"win_probability"`
	ModelVersion   string  `json:"model_version"`
	ModelUsed      bool    `json:"model_used"`
}

// Enhancer blends base signal confidence with model predictions. With no
// model loaded, or on any scoring failure, it degrades to passthrough: the
// base confidence flows on unchanged and the pipeline keeps trading.
type Enhancer struct {
	mu             sync.RWMutex
	artifact       *Artifact
	maxBlendWeight float64
	log            *logging.Logger
}

// NewEnhancer creates an enhancer with no model loaded. maxBlendWeight
// caps the model's influence on the final confidence.
func NewEnhancer(maxBlendWeight float64, log *logging.Logger) *Enhancer {
	if log == nil {
		log = logging.Default()
	}
	if maxBlendWeight <= 0 || maxBlendWeight > 1 {
		maxBlendWeight = 0.8
	}
	return &Enhancer{
		maxBlendWeight: maxBlendWeight,
		log:            log.WithComponent("enhancer"),
	}
}

// SetModel installs a new artifact. Passing nil unloads the model.
func (e *Enhancer) SetModel(a *Artifact) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.artifact = a
	if a != nil {
		e.log.Info("confidence model activated",
			"version", a.Version,
			"cv_accuracy", a.Metrics.CVAccuracy)
	}
}

// ModelVersion returns the active model version, or "" when none loaded.
func (e *Enhancer) ModelVersion() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.artifact == nil {
		return ""
	}
	return e.artifact.Version
}

// Enhance blends the base confidence with the model's win probability.
// The blend weight grows with the model's cross-validated accuracy and is
// capped at maxBlendWeight, so a weak model barely moves the needle.
func (e *Enhancer) Enhance(vec features.Vector, base float64) Enhancement {
	e.mu.RLock()
	artifact := e.artifact
	e.mu.RUnlock()

	out := Enhancement{Base: base, Enhanced: base}
	if artifact == nil {
		return out
	}

	p, err := artifact.PredictWinProbability(vec)
	if err != nil {
		// Schema drift or a corrupt vector must never block trading.
		e.log.Warn("model scoring failed, using base confidence",
			"model", artifact.Version, "error", err)
		return out
	}

	w := artifact.Metrics.CVAccuracy
	if w < 0 {
		w = 0
	}
	if w > e.maxBlendWeight {
		w = e.maxBlendWeight
	}

	enhanced := (1-w)*base + w*p
	if enhanced < 0 {
		enhanced = 0
	}
	if enhanced > 1 {
		enhanced = 1
	}

	out.Enhanced = enhanced
	out.WinProbability = p
	out.ModelVersion = artifact.Version
	out.ModelUsed = true
	return out
}
