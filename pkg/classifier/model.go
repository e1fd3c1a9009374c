package classifier

import (
	"context"
	"errors"

	"playproof/pkg/feature"
)

// ErrModelUnavailable marks an infrastructure failure of the
// classifier: the model cannot produce output at all. The orchestrator
// converts it into a fail-safe STEP_UP, never a PASS.
var ErrModelUnavailable = errors.New("model unavailable")

// Prediction is the raw, uncalibrated classifier output.
type Prediction struct {
	// PPass is the model's belief that the session is a legitimate
	// human, in [0,1]. It must be calibrated before any decision.
	PPass float64 `json:"p_pass"`
}

// Model is the classifier capability. Implementations may be swapped
// per version as long as they honor the feature vector contract.
type Model interface {
	Version() string
	Infer(ctx context.Context, fv feature.Vector) (Prediction, error)
}
