package event

import (
	"fmt"
	"math"
	"sort"
)

// Normalizer validates and canonicalizes raw events. It is stateless;
// one instance may be shared across concurrent scoring requests.
type Normalizer struct {
	// SkewTolerance is the number of seconds an event may arrive
	// behind the session clock floor and still be accepted. Events
	// within the tolerance are clamped to the floor so the session
	// history stays monotonically non-decreasing.
	SkewTolerance float64
}

// NewNormalizer creates a normalizer with the given clock skew
// tolerance in seconds.
func NewNormalizer(skewTolerance float64) *Normalizer {
	if skewTolerance < 0 {
		skewTolerance = 0
	}
	return &Normalizer{SkewTolerance: skewTolerance}
}

// Normalize validates one raw event against the session clock floor
// and returns its typed form. Failures wrap ErrInvalid.
func (n *Normalizer) Normalize(raw Raw, clockFloor float64) (Normalized, error) {
	kind, err := parseKind(raw.Type)
	if err != nil {
		return Normalized{}, err
	}

	ts := raw.Timestamp
	if math.IsNaN(ts) || math.IsInf(ts, 0) {
		return Normalized{}, fmt.Errorf("%w: non-finite timestamp", ErrInvalid)
	}
	if ts < 0 {
		return Normalized{}, fmt.Errorf("%w: negative timestamp %g", ErrInvalid, ts)
	}
	if ts < clockFloor {
		if clockFloor-ts > n.SkewTolerance {
			return Normalized{}, fmt.Errorf("%w: timestamp %g behind session clock %g beyond tolerance", ErrInvalid, ts, clockFloor)
		}
		ts = clockFloor
	}

	ev := Normalized{Kind: kind, Timestamp: ts}

	switch kind {
	case KindPointerMove:
		x, okX := numField(raw.Data, "x")
		y, okY := numField(raw.Data, "y")
		if !okX || !okY {
			return Normalized{}, fmt.Errorf("%w: pointer_move requires numeric x and y", ErrInvalid)
		}
		ev.X, ev.Y = x, y
	case KindKeyPress:
		key, ok := strField(raw.Data, "key")
		if !ok || key == "" {
			return Normalized{}, fmt.Errorf("%w: key_press requires key", ErrInvalid)
		}
		ev.Key = key
	case KindChallenge:
		action, ok := strField(raw.Data, "action")
		if !ok || action == "" {
			return Normalized{}, fmt.Errorf("%w: challenge_interaction requires action", ErrInvalid)
		}
		ev.Action = action
		if target, ok := strField(raw.Data, "target"); ok {
			ev.Target = target
		}
	case KindTimingBeacon:
		if label, ok := strField(raw.Data, "label"); ok {
			ev.Label = label
		}
	}

	return ev, nil
}

// NormalizeBatch normalizes a batch of raw events, dropping invalid
// ones and re-sorting the survivors by timestamp. It returns the
// accepted events in session order and the number dropped.
func (n *Normalizer) NormalizeBatch(raws []Raw, clockFloor float64) ([]Normalized, int) {
	accepted := make([]Normalized, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		ev, err := n.Normalize(raw, clockFloor)
		if err != nil {
			dropped++
			continue
		}
		accepted = append(accepted, ev)
	}
	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Timestamp < accepted[j].Timestamp
	})
	return accepted, dropped
}

func numField(data map[string]interface{}, key string) (float64, bool) {
	v, ok := data[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func strField(data map[string]interface{}, key string) (string, bool) {
	v, ok := data[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
