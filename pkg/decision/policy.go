package decision

import "fmt"

// Verdict is the outcome of one scoring request.
type Verdict int

const (
	VerdictPass Verdict = iota
	VerdictFail
	VerdictRegenerate
	VerdictStepUp
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "PASS"
	case VerdictFail:
		return "FAIL"
	case VerdictRegenerate:
		return "REGENERATE"
	case VerdictStepUp:
		return "STEP_UP"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the verdict ends the session.
func (v Verdict) Terminal() bool {
	return v == VerdictPass || v == VerdictFail
}

// State is the per-session position in the decision state machine.
type State int

const (
	StateInitial State = iota
	StateAwaitingRetry
	StateEscalated
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "INITIAL"
	case StateAwaitingRetry:
		return "AWAITING_RETRY"
	case StateEscalated:
		return "ESCALATED"
	case StateTerminal:
		return "TERMINAL"
	default:
		return "UNKNOWN"
	}
}

// Config holds the decision thresholds. Thresholds are policy, not
// engine constants; they are loaded from configuration.
type Config struct {
	PassThreshold       float64
	FailThreshold       float64
	RegenerateThreshold float64
	MaxRegenerate       int
}

// DefaultConfig returns the shipped threshold set.
func DefaultConfig() Config {
	return Config{
		PassThreshold:       0.90,
		FailThreshold:       0.20,
		RegenerateThreshold: 0.60,
		MaxRegenerate:       2,
	}
}

// Validate checks threshold ordering.
func (c Config) Validate() error {
	if c.FailThreshold < 0 || c.PassThreshold > 1 {
		return fmt.Errorf("thresholds must lie in [0,1]")
	}
	if !(c.FailThreshold < c.RegenerateThreshold && c.RegenerateThreshold < c.PassThreshold) {
		return fmt.Errorf("require fail < regenerate < pass, got %g/%g/%g",
			c.FailThreshold, c.RegenerateThreshold, c.PassThreshold)
	}
	if c.MaxRegenerate < 0 {
		return fmt.Errorf("max_regenerate must be >= 0")
	}
	return nil
}

// Input is the evidence the policy decides on for one request.
type Input struct {
	Confidence      float64 // calibrated, in [0,1]
	Sparse          bool    // sentinel features present
	State           State
	RegenerateCount int
	SteppedUp       bool
}

// Outcome carries the verdict plus the successor session state.
// RegenerateCount and SteppedUp are monotonically non-decreasing.
type Outcome struct {
	Verdict         Verdict
	State           State
	RegenerateCount int
	SteppedUp       bool
	Reason          string
}

// Policy maps calibrated confidence plus session history to a verdict.
type Policy struct {
	cfg Config
}

// NewPolicy creates a decision policy. The config must pass Validate;
// a policy is never constructed around misordered thresholds, since a
// bad ordering would silently invert the fail-safe direction.
func NewPolicy(cfg Config) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("decision config: %w", err)
	}
	return &Policy{cfg: cfg}, nil
}

// Config returns the active threshold set.
func (p *Policy) Config() Config { return p.cfg }

// Evaluate runs one transition of the decision state machine.
//
// Check order is the tie-break: extreme confidence decides before any
// ambiguity handling, REGENERATE is tried before STEP_UP, and sparse
// evidence always escalates because the confidence value itself is not
// trustworthy on sentinel features.
func (p *Policy) Evaluate(in Input) Outcome {
	out := Outcome{
		State:           in.State,
		RegenerateCount: in.RegenerateCount,
		SteppedUp:       in.SteppedUp,
	}

	// A terminal session must be re-derived fresh by the aggregator
	// before scoring; escalate rather than reuse a stale verdict.
	if in.State == StateTerminal {
		out.Verdict = VerdictStepUp
		out.State = StateEscalated
		out.SteppedUp = true
		out.Reason = "terminal session reuse"
		return out
	}

	if in.Sparse {
		out.Verdict = VerdictStepUp
		out.State = StateEscalated
		out.SteppedUp = true
		out.Reason = "insufficient evidence"
		return out
	}

	if in.Confidence >= p.cfg.PassThreshold {
		out.Verdict = VerdictPass
		out.State = StateTerminal
		out.Reason = "confidence above pass threshold"
		return out
	}
	if in.Confidence <= p.cfg.FailThreshold {
		out.Verdict = VerdictFail
		out.State = StateTerminal
		out.Reason = "confidence below fail threshold"
		return out
	}

	// Ambiguous band. Once escalated, stay escalated.
	if in.State == StateEscalated || in.SteppedUp {
		out.Verdict = VerdictStepUp
		out.State = StateEscalated
		out.SteppedUp = true
		out.Reason = "already escalated"
		return out
	}

	if in.Confidence < p.cfg.RegenerateThreshold && in.RegenerateCount < p.cfg.MaxRegenerate {
		out.Verdict = VerdictRegenerate
		out.State = StateAwaitingRetry
		out.RegenerateCount = in.RegenerateCount + 1
		out.Reason = "ambiguous confidence, retry budget available"
		return out
	}

	out.Verdict = VerdictStepUp
	out.State = StateEscalated
	out.SteppedUp = true
	if in.RegenerateCount >= p.cfg.MaxRegenerate {
		out.Reason = "retry budget exhausted"
	} else {
		out.Reason = "confidence in escalation band"
	}
	return out
}
