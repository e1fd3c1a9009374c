package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"playproof/pkg/calibration"
	"playproof/pkg/classifier"
	"playproof/pkg/decision"
	"playproof/pkg/event"
	"playproof/pkg/feature"
	"playproof/pkg/session"
	"playproof/pkg/structlog"
)

// Prometheus metrics
var (
	requestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "playproof", Subsystem: "scoring", Name: "requests_total", Help: "Total scoring requests."},
	)
	verdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "playproof", Subsystem: "scoring", Name: "verdicts_total", Help: "Verdicts issued by result."},
		[]string{"verdict"},
	)
	fallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "playproof", Subsystem: "scoring", Name: "fallbacks_total", Help: "Fail-safe fallbacks by reason."},
		[]string{"reason"},
	)
	invalidEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "playproof", Subsystem: "scoring", Name: "invalid_events_total", Help: "Events dropped during normalization."},
	)
	scoringDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Namespace: "playproof", Subsystem: "scoring", Name: "duration_seconds", Help: "End-to-end scoring latency."},
	)
)

func init() {
	_ = prometheus.Register(requestsTotal)
	_ = prometheus.Register(verdictsTotal)
	_ = prometheus.Register(fallbacksTotal)
	_ = prometheus.Register(invalidEventsTotal)
	_ = prometheus.Register(scoringDuration)
}

// ErrBadRequest marks a structurally invalid scoring request, the only
// condition rejected before the pipeline runs.
var ErrBadRequest = errors.New("bad scoring request")

// Config configures the orchestrator.
type Config struct {
	Decision        decision.Config
	SkewTolerance   float64       // seconds of clock jitter tolerated
	RequestDeadline time.Duration // end-to-end time budget
	MinEvents       int           // history length below which evidence is sparse
}

func (c *Config) applyDefaults() {
	if c.Decision == (decision.Config{}) {
		c.Decision = decision.DefaultConfig()
	}
	if c.SkewTolerance <= 0 {
		c.SkewTolerance = 0.05
	}
	if c.RequestDeadline <= 0 {
		c.RequestDeadline = 2 * time.Second
	}
}

// Result is the immutable outcome of one scoring request.
type Result struct {
	ID             string                 `json:"id"`
	SessionID      string                 `json:"session_id"`
	Verdict        decision.Verdict       `json:"verdict"`
	RawProbability float64                `json:"raw_probability_pass"`
	Confidence     float64                `json:"calibrated_confidence"`
	Details        map[string]interface{} `json:"details"`
	CalculatedAt   time.Time              `json:"calculated_at"`
}

// Pipeline composes normalization, aggregation, feature extraction,
// inference, calibration and decision for one scoring request. All
// stages but the session store are pure; the per-session lock held
// across the composed stages is the only lock boundary.
type Pipeline struct {
	cfg        Config
	normalizer *event.Normalizer
	extractor  *feature.Extractor
	sessions   session.Store
	models     *classifier.Registry
	pool       *classifier.Pool
	calibrator *calibration.Calibrator
	policy     *decision.Policy
	log        *structlog.Logger
}

// New wires a scoring pipeline. Decision thresholds are validated
// here; a pipeline never starts with a config that could fail open.
func New(cfg Config, sessions session.Store, models *classifier.Registry, pool *classifier.Pool, cal *calibration.Calibrator, log *structlog.Logger) (*Pipeline, error) {
	cfg.applyDefaults()
	policy, err := decision.NewPolicy(cfg.Decision)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:        cfg,
		normalizer: event.NewNormalizer(cfg.SkewTolerance),
		extractor:  feature.NewExtractor(feature.Config{MinEvents: cfg.MinEvents}),
		sessions:   sessions,
		models:     models,
		pool:       pool,
		calibrator: cal,
		policy:     policy,
		log:        log,
	}, nil
}

// Score runs the full pipeline for one request. A verdict is always
// returned for structurally valid requests: every stage failure and
// the deadline itself degrade to a STEP_UP fallback, never to an error
// and never to a PASS.
func (p *Pipeline) Score(ctx context.Context, sessionID string, raws []event.Raw) (Result, error) {
	if sessionID == "" {
		return Result{}, fmt.Errorf("%w: missing session_id", ErrBadRequest)
	}

	requestsTotal.Inc()
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestDeadline)
	defer cancel()

	res, err := p.score(ctx, sessionID, raws)
	if err != nil {
		reason := fallbackReason(err)
		fallbacksTotal.WithLabelValues(reason).Inc()
		p.log.WithContext(ctx).Warn("scoring fallback", structlog.Fields{
			"session_id": sessionID,
			"reason":     reason,
			"error":      err.Error(),
		})
		res = Result{
			ID:           uuid.NewString(),
			SessionID:    sessionID,
			Verdict:      decision.VerdictStepUp,
			Details:      map[string]interface{}{"fallback": true, "reason": reason},
			CalculatedAt: time.Now(),
		}
	}

	verdictsTotal.WithLabelValues(res.Verdict.String()).Inc()
	scoringDuration.Observe(time.Since(start).Seconds())
	return res, nil
}

// score runs the happy path under the per-session lock so that
// appends, the feature snapshot and the state transition for one
// session are a single serialized step.
func (p *Pipeline) score(ctx context.Context, sessionID string, raws []event.Raw) (Result, error) {
	var out Result

	_, err := p.sessions.Update(ctx, sessionID, func(s *session.Session) error {
		accepted, dropped := p.normalizer.NormalizeBatch(raws, s.ClockFloor)
		if dropped > 0 {
			invalidEventsTotal.Add(float64(dropped))
		}
		for _, ev := range accepted {
			s.Append(ev, p.sessions.RetentionCap())
		}

		fv := p.extractor.Extract(s.Events)
		if err := fv.Validate(); err != nil {
			return fmt.Errorf("feature extraction: %w", err)
		}

		// Sparse evidence escalates no matter what a model would say,
		// so the sentinel vector never reaches the inference pool.
		var (
			rawP, conf   float64
			modelVersion string
		)
		if !fv.Sparse {
			model, err := p.models.Active()
			if err != nil {
				return err
			}
			pred, err := p.pool.Infer(ctx, model, fv)
			if err != nil {
				return err
			}
			c, err := p.calibrator.Calibrate(pred.PPass, model.Version())
			if err != nil {
				return err
			}
			rawP, conf, modelVersion = pred.PPass, c, model.Version()
		}

		outcome := p.policy.Evaluate(decision.Input{
			Confidence:      conf,
			Sparse:          fv.Sparse,
			State:           s.State,
			RegenerateCount: s.RegenerateCount,
			SteppedUp:       s.SteppedUp,
		})
		s.State = outcome.State
		s.RegenerateCount = outcome.RegenerateCount
		s.SteppedUp = outcome.SteppedUp

		out = Result{
			ID:             uuid.NewString(),
			SessionID:      sessionID,
			Verdict:        outcome.Verdict,
			RawProbability: rawP,
			Confidence:     conf,
			CalculatedAt:   time.Now(),
			Details: map[string]interface{}{
				"model_version":    modelVersion,
				"reason":           outcome.Reason,
				"events_accepted":  len(accepted),
				"events_dropped":   dropped,
				"history_length":   len(s.Events),
				"sparse":           fv.Sparse,
				"regenerate_count": outcome.RegenerateCount,
			},
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	p.log.WithContext(ctx).Info("scored session", structlog.Fields{
		"session_id": sessionID,
		"verdict":    out.Verdict.String(),
		"confidence": out.Confidence,
	})
	return out, nil
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, classifier.ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, calibration.ErrUnavailable):
		return "calibration_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal_error"
	}
}
