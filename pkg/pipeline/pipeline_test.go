package pipeline

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"playproof/pkg/calibration"
	"playproof/pkg/classifier"
	"playproof/pkg/decision"
	"playproof/pkg/event"
	"playproof/pkg/feature"
	"playproof/pkg/session"
	"playproof/pkg/structlog"
)

// fixedModel always predicts the same p_pass.
type fixedModel struct {
	version string
	pPass   float64
	err     error
	delay   time.Duration
}

func (f fixedModel) Version() string { return f.version }
func (f fixedModel) Infer(ctx context.Context, fv feature.Vector) (classifier.Prediction, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return classifier.Prediction{}, ctx.Err()
		}
	}
	if f.err != nil {
		return classifier.Prediction{}, f.err
	}
	return classifier.Prediction{PPass: f.pPass}, nil
}

// identityTable calibrates raw scores onto themselves so tests can
// force exact confidence values.
func identityTable(version string) calibration.Table {
	return calibration.Table{
		ModelVersion: version,
		Points:       []calibration.Point{{Raw: 0, Calibrated: 0}, {Raw: 1, Calibrated: 1}},
	}
}

func newTestPipeline(t *testing.T, m classifier.Model) (*Pipeline, *session.MemoryStore) {
	t.Helper()

	store := session.NewMemoryStore(session.Config{RetentionCap: 256, TTL: time.Minute})
	t.Cleanup(func() { store.Close() })

	reg := classifier.NewRegistry()
	require.NoError(t, reg.Register(m, "test"))

	cal, err := calibration.NewCalibrator(identityTable(m.Version()))
	require.NoError(t, err)

	log := structlog.New("test", structlog.LevelError, io.Discard)
	p, err := New(Config{
		Decision:        decision.DefaultConfig(),
		RequestDeadline: time.Second,
	}, store, reg, classifier.NewPool(2), cal, log)
	require.NoError(t, err)
	return p, store
}

func beacons(n int, step float64) []event.Raw {
	raws := make([]event.Raw, n)
	for i := range raws {
		// Slightly jittered spacing so interval features are defined.
		ts := float64(i) * step
		if i%2 == 1 {
			ts += step / 3
		}
		raws[i] = event.Raw{Type: "timing_beacon", Timestamp: ts}
	}
	return raws
}

func TestScore_SparseHistoryStepsUp(t *testing.T) {
	p, _ := newTestPipeline(t, fixedModel{version: "v1", pPass: 0.99})

	res, err := p.Score(context.Background(), "s1", beacons(1, 1))
	require.NoError(t, err)
	require.Equal(t, decision.VerdictStepUp, res.Verdict)
	require.Equal(t, true, res.Details["sparse"])
}

func TestScore_SparseHistoryNeedsNoModel(t *testing.T) {
	// A model that would fail every inference: the sparse path must
	// never reach it, so the verdict is a regular escalation rather
	// than a fallback.
	p, _ := newTestPipeline(t, fixedModel{version: "v1", err: classifier.ErrModelUnavailable})

	res, err := p.Score(context.Background(), "s1", beacons(1, 1))
	require.NoError(t, err)
	require.Equal(t, decision.VerdictStepUp, res.Verdict)
	require.Equal(t, true, res.Details["sparse"])
	require.NotContains(t, res.Details, "fallback")
	require.Equal(t, "", res.Details["model_version"])
}

func TestNew_RejectsMisorderedThresholds(t *testing.T) {
	store := session.NewMemoryStore(session.Config{})
	t.Cleanup(func() { store.Close() })
	log := structlog.New("test", structlog.LevelError, io.Discard)

	_, err := New(Config{
		Decision: decision.Config{PassThreshold: 0.3, FailThreshold: 0.5, RegenerateThreshold: 0.4, MaxRegenerate: 1},
	}, store, classifier.NewRegistry(), classifier.NewPool(1), nil, log)
	require.Error(t, err)
}

func TestScore_HighConfidencePasses(t *testing.T) {
	p, _ := newTestPipeline(t, fixedModel{version: "v1", pPass: 0.97})

	res, err := p.Score(context.Background(), "s1", beacons(10, 0.5))
	require.NoError(t, err)
	require.Equal(t, decision.VerdictPass, res.Verdict)
	require.InDelta(t, 0.97, res.Confidence, 1e-9)
	require.InDelta(t, 0.97, res.RawProbability, 1e-9)
}

func TestScore_AmbiguousRegeneratesThenStepsUp(t *testing.T) {
	p, _ := newTestPipeline(t, fixedModel{version: "v1", pPass: 0.4})
	ctx := context.Background()

	// First two ambiguous results consume the regenerate budget.
	res, err := p.Score(ctx, "s1", beacons(10, 0.5))
	require.NoError(t, err)
	require.Equal(t, decision.VerdictRegenerate, res.Verdict)
	require.Equal(t, 1, res.Details["regenerate_count"])

	res, err = p.Score(ctx, "s1", beacons(5, 0.3))
	require.NoError(t, err)
	require.Equal(t, decision.VerdictRegenerate, res.Verdict)
	require.Equal(t, 2, res.Details["regenerate_count"])

	// Budget exhausted: STEP_UP, never a further REGENERATE.
	res, err = p.Score(ctx, "s1", beacons(5, 0.7))
	require.NoError(t, err)
	require.Equal(t, decision.VerdictStepUp, res.Verdict)
	require.Equal(t, 2, res.Details["regenerate_count"])
}

func TestScore_LowConfidenceFails(t *testing.T) {
	p, _ := newTestPipeline(t, fixedModel{version: "v1", pPass: 0.05})

	res, err := p.Score(context.Background(), "s1", beacons(10, 0.5))
	require.NoError(t, err)
	require.Equal(t, decision.VerdictFail, res.Verdict)
}

func TestScore_ModelUnavailableFailsSafe(t *testing.T) {
	p, _ := newTestPipeline(t, fixedModel{version: "v1", err: classifier.ErrModelUnavailable})

	res, err := p.Score(context.Background(), "s1", beacons(10, 0.5))
	require.NoError(t, err, "fallback must produce a verdict, not an error")
	require.Equal(t, decision.VerdictStepUp, res.Verdict)
	require.NotEqual(t, decision.VerdictPass, res.Verdict)
	require.Equal(t, true, res.Details["fallback"])
	require.Equal(t, "model_unavailable", res.Details["reason"])
}

func TestScore_CalibrationUnavailableFailsSafe(t *testing.T) {
	// Model version has no calibration table loaded.
	p, _ := newTestPipeline(t, fixedModel{version: "v1", pPass: 0.95})
	reg := classifier.NewRegistry()
	require.NoError(t, reg.Register(fixedModel{version: "v2", pPass: 0.95}, "uncalibrated"))
	p.models = reg

	res, err := p.Score(context.Background(), "s1", beacons(10, 0.5))
	require.NoError(t, err)
	require.Equal(t, decision.VerdictStepUp, res.Verdict)
	require.Equal(t, "calibration_unavailable", res.Details["reason"])
}

func TestScore_DeadlineFallsBack(t *testing.T) {
	p, _ := newTestPipeline(t, fixedModel{version: "v1", pPass: 0.97, delay: time.Second})
	p.cfg.RequestDeadline = 20 * time.Millisecond

	start := time.Now()
	res, err := p.Score(context.Background(), "s1", beacons(10, 0.5))
	require.NoError(t, err)
	require.Equal(t, decision.VerdictStepUp, res.Verdict)
	require.Equal(t, "deadline_exceeded", res.Details["reason"])
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestScore_AllEventsInvalidStillVerdicts(t *testing.T) {
	p, _ := newTestPipeline(t, fixedModel{version: "v1", pPass: 0.97})

	raws := []event.Raw{
		{Type: "nonsense", Timestamp: 1},
		{Type: "pointer_move", Timestamp: 2}, // missing coords
	}
	res, err := p.Score(context.Background(), "s1", raws)
	require.NoError(t, err)
	require.Equal(t, decision.VerdictStepUp, res.Verdict, "empty history is sparse evidence")
	require.Equal(t, 2, res.Details["events_dropped"])
	require.Equal(t, 0, res.Details["events_accepted"])
}

func TestScore_Idempotent(t *testing.T) {
	p, _ := newTestPipeline(t, fixedModel{version: "v1", pPass: 0.42})
	ctx := context.Background()
	raws := beacons(8, 0.4)

	// Identical session state plus identical events: two fresh
	// sessions fed the same batch give identical confidence and
	// verdict.
	a, err := p.Score(ctx, "sa", raws)
	require.NoError(t, err)
	b, err := p.Score(ctx, "sb", raws)
	require.NoError(t, err)

	require.Equal(t, a.Verdict, b.Verdict)
	require.Equal(t, a.Confidence, b.Confidence)
	require.Equal(t, a.RawProbability, b.RawProbability)
}

func TestScore_MissingSessionIDRejected(t *testing.T) {
	p, _ := newTestPipeline(t, fixedModel{version: "v1", pPass: 0.5})

	_, err := p.Score(context.Background(), "", beacons(3, 1))
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestScore_TerminalSessionStartsFresh(t *testing.T) {
	p, store := newTestPipeline(t, fixedModel{version: "v1", pPass: 0.97})
	ctx := context.Background()

	res, err := p.Score(ctx, "s1", beacons(10, 0.5))
	require.NoError(t, err)
	require.Equal(t, decision.VerdictPass, res.Verdict)

	// The terminal session is re-derived, so the next request starts a
	// new attempt with empty history: one event is sparse evidence.
	res, err = p.Score(ctx, "s1", beacons(1, 1))
	require.NoError(t, err)
	require.Equal(t, decision.VerdictStepUp, res.Verdict)
	require.Equal(t, true, res.Details["sparse"])

	sess, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 0, sess.RegenerateCount)
}
