package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dduho/trading-bot/internal/features"
)

// Metrics holds the evaluation results for a trained model.
type Metrics struct {
	Accuracy   float64 `json:"accuracy"`
	Precision  float64 `json:"precision"`
	Recall     float64 `json:"recall"`
	F1Score    float64 `json:"f1_score"`
	AUC        float64 `json:"auc"`
	CVAccuracy float64 `json:"cv_accuracy"`
	TestSize   int     `json:"test_size"`
	TrainSize  int     `json:"train_size"`
}

// Artifact is an immutable trained model. A new training run always
// produces a new artifact with a fresh version; existing artifacts are
// never modified in place.
type Artifact struct {
	Version           string             `json:"version"`
	SchemaVersion     int                `json:"schema_version"`
	TrainedAt         time.Time          `json:"trained_at"`
	TrainingSamples   int                `json:"training_samples"`
	Model             *logistic          `json:"model"`
	Scaler            *Scaler            `json:"scaler"`
	Metrics           Metrics            `json:"metrics"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
}

func newVersion(trainedAt time.Time) string {
	return fmt.Sprintf("%s-%s", trainedAt.Format("20060102T150405Z"), uuid.NewString()[:8])
}

// PredictWinProbability scores a feature vector against this artifact.
// Vectors from a different schema version are rejected.
func (a *Artifact) PredictWinProbability(vec features.Vector) (float64, error) {
	if err := vec.Validate(); err != nil {
		return 0, err
	}
	if vec.SchemaVersion != a.SchemaVersion {
		return 0, fmt.Errorf("%w: model %s trained on schema %d, vector has schema %d",
			features.ErrSchemaMismatch, a.Version, a.SchemaVersion, vec.SchemaVersion)
	}
	scaled, err := a.Scaler.Transform(vec.Values)
	if err != nil {
		return 0, err
	}
	return a.Model.predict(scaled), nil
}

// TopFeatures returns the n most important features in descending order.
func (a *Artifact) TopFeatures(n int) []string {
	type fi struct {
		name  string
		value float64
	}
	list := make([]fi, 0, len(a.FeatureImportance))
	for name, v := range a.FeatureImportance {
		list = append(list, fi{name, v})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].value > list[j].value })

	if n > len(list) {
		n = len(list)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = list[i].name
	}
	return out
}

// SaveArtifact writes the artifact to dir as <version>.json and updates the
// "latest" pointer file. The write is atomic via rename.
func SaveArtifact(dir string, a *Artifact) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create model dir: %w", err)
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal model artifact: %w", err)
	}

	path := filepath.Join(dir, a.Version+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write model artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize model artifact: %w", err)
	}

	latest := filepath.Join(dir, "latest")
	tmpLatest := latest + ".tmp"
	if err := os.WriteFile(tmpLatest, []byte(a.Version), 0o644); err != nil {
		return fmt.Errorf("failed to write latest pointer: %w", err)
	}
	return os.Rename(tmpLatest, latest)
}

// LoadArtifact reads one artifact by version.
func LoadArtifact(dir, version string) (*Artifact, error) {
	data, err := os.ReadFile(filepath.Join(dir, version+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact %s: %w", version, err)
	}
	a := &Artifact{}
	if err := json.Unmarshal(data, a); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact %s: %w", version, err)
	}
	return a, nil
}

// LoadLatestArtifact reads the artifact the "latest" pointer names.
// Returns os.ErrNotExist when no model has been trained yet.
func LoadLatestArtifact(dir string) (*Artifact, error) {
	data, err := os.ReadFile(filepath.Join(dir, "latest"))
	if err != nil {
		return nil, err
	}
	return LoadArtifact(dir, string(data))
}
