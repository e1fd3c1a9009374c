package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"playproof/pkg/feature"
)

// Artifact is the serialized form of a trained logistic model. Training
// happens offline; the engine only loads ready artifacts.
type Artifact struct {
	Version        string    `json:"version"`
	FeatureVersion string    `json:"feature_version"`
	Weights        []float64 `json:"weights"`
	Bias           float64   `json:"bias"`
	TrainedAt      time.Time `json:"trained_at,omitempty"`
}

// LogisticModel scores feature vectors with a logistic regression.
type LogisticModel struct {
	version string
	weights []float64
	bias    float64
}

// NewLogisticModel validates an artifact against the feature contract.
func NewLogisticModel(a Artifact) (*LogisticModel, error) {
	if a.Version == "" {
		return nil, fmt.Errorf("artifact missing version")
	}
	if a.FeatureVersion != feature.Version {
		return nil, fmt.Errorf("artifact feature version %q, engine speaks %q", a.FeatureVersion, feature.Version)
	}
	if len(a.Weights) != feature.Width {
		return nil, fmt.Errorf("artifact has %d weights, feature width is %d", len(a.Weights), feature.Width)
	}
	for i, w := range a.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("non-finite weight at %s", feature.Names[i])
		}
	}
	if math.IsNaN(a.Bias) || math.IsInf(a.Bias, 0) {
		return nil, fmt.Errorf("non-finite bias")
	}
	weights := make([]float64, len(a.Weights))
	copy(weights, a.Weights)
	return &LogisticModel{version: a.Version, weights: weights, bias: a.Bias}, nil
}

// LoadArtifact reads a JSON model artifact from disk.
func LoadArtifact(path string) (*LogisticModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("parse model artifact: %w", err)
	}
	return NewLogisticModel(a)
}

// Version implements Model.
func (m *LogisticModel) Version() string { return m.version }

// Infer implements Model.
func (m *LogisticModel) Infer(ctx context.Context, fv feature.Vector) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	if err := fv.Validate(); err != nil {
		return Prediction{}, fmt.Errorf("unusable feature vector: %w", err)
	}

	z := m.bias
	for i, w := range m.weights {
		z += w * fv.Values[i]
	}
	p := 1.0 / (1.0 + math.Exp(-z))
	if math.IsNaN(p) {
		return Prediction{}, fmt.Errorf("%w: non-finite output", ErrModelUnavailable)
	}
	return Prediction{PPass: p}, nil
}

// DefaultModel returns the baseline v1 model shipped for development
// and tests. Production deployments load trained weights via
// MODEL_PATH instead.
func DefaultModel() *LogisticModel {
	m, err := NewLogisticModel(Artifact{
		Version:        "v1",
		FeatureVersion: feature.Version,
		// Heuristic baseline: irregular timing and mixed interaction
		// kinds read human; pure machine-regular beacon streams do not.
		Weights: []float64{
			0.02,   // event_count
			0.05,   // session_duration
			0.10,   // mean_interval
			0.30,   // interval_variance
			1.20,   // interval_entropy
			0.20,   // pointer_ratio
			0.40,   // key_ratio
			0.80,   // challenge_ratio
			-0.60,  // beacon_ratio
			-0.05,  // events_per_second
			0.90,   // kind_entropy
			-0.001, // mean_pointer_speed
		},
		Bias: -1.50,
	})
	if err != nil {
		panic(err) // the built-in artifact is checked by tests
	}
	return m
}
