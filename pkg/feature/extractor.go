package feature

import (
	"fmt"
	"math"

	"playproof/pkg/event"
)

// Version tags the feature layout produced by this package. The vector
// width and position semantics are frozen per version; models and
// calibration tables are bound to it.
const Version = "v1"

// Width is the fixed vector length for Version.
const Width = 12

// Sentinel fills every position when the history is too sparse to
// derive meaningful statistics. The decision policy treats sentinel
// vectors as insufficient evidence.
const Sentinel = -1.0

// Names maps vector positions to feature names, for diagnostics only.
var Names = [Width]string{
	"event_count",
	"session_duration",
	"mean_interval",
	"interval_variance",
	"interval_entropy",
	"pointer_ratio",
	"key_ratio",
	"challenge_ratio",
	"beacon_ratio",
	"events_per_second",
	"kind_entropy",
	"mean_pointer_speed",
}

// Vector is a fixed-width feature vector bound to a layout version.
type Vector struct {
	Version string    `json:"version"`
	Values  []float64 `json:"values"`
	Sparse  bool      `json:"sparse"`
}

// Validate reports whether the vector is usable for inference: correct
// width and every value finite.
func (v Vector) Validate() error {
	if v.Version != Version {
		return fmt.Errorf("feature version %q, want %q", v.Version, Version)
	}
	if len(v.Values) != Width {
		return fmt.Errorf("feature width %d, want %d", len(v.Values), Width)
	}
	for i, val := range v.Values {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return fmt.Errorf("non-finite value at %s", Names[i])
		}
	}
	return nil
}

// Config configures the extractor.
type Config struct {
	// MinEvents is the minimum history length required before real
	// features are derived; shorter histories produce a sentinel
	// vector instead.
	MinEvents int
}

// Extractor derives feature vectors from session histories. It is
// stateless and deterministic: identical histories yield identical
// vectors.
type Extractor struct {
	minEvents int
}

// NewExtractor creates a feature extractor.
func NewExtractor(cfg Config) *Extractor {
	if cfg.MinEvents <= 0 {
		cfg.MinEvents = 2
	}
	return &Extractor{minEvents: cfg.MinEvents}
}

// Extract derives the v1 feature vector from an ordered session
// history. Histories shorter than MinEvents yield a sentinel vector.
func (e *Extractor) Extract(history []event.Normalized) Vector {
	if len(history) < e.minEvents {
		values := make([]float64, Width)
		for i := range values {
			values[i] = Sentinel
		}
		return Vector{Version: Version, Values: values, Sparse: true}
	}

	values := make([]float64, Width)
	count := float64(len(history))
	duration := history[len(history)-1].Timestamp - history[0].Timestamp

	intervals := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		intervals = append(intervals, history[i].Timestamp-history[i-1].Timestamp)
	}

	meanInterval := mean(intervals)

	kindCounts := make(map[event.Kind]int, len(event.Kinds))
	for _, ev := range history {
		kindCounts[ev.Kind]++
	}

	values[0] = count
	values[1] = duration
	values[2] = meanInterval
	values[3] = variance(intervals, meanInterval)
	values[4] = intervalEntropy(intervals)
	values[5] = float64(kindCounts[event.KindPointerMove]) / count
	values[6] = float64(kindCounts[event.KindKeyPress]) / count
	values[7] = float64(kindCounts[event.KindChallenge]) / count
	values[8] = float64(kindCounts[event.KindTimingBeacon]) / count
	if duration > 0 {
		values[9] = count / duration
	}
	values[10] = kindEntropy(kindCounts, len(history))
	values[11] = meanPointerSpeed(history)

	return Vector{Version: Version, Values: values}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func variance(values []float64, m float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return sumSq / float64(len(values))
}

// intervalEntropy computes Shannon entropy of the inter-event interval
// distribution over ten uniform buckets spanning the observed range.
// Perfectly regular timing (a bot signature) scores zero.
func intervalEntropy(intervals []float64) float64 {
	if len(intervals) < 2 {
		return 0
	}
	lo, hi := intervals[0], intervals[0]
	for _, v := range intervals {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		return 0
	}

	const buckets = 10
	counts := make([]int, buckets)
	span := hi - lo
	for _, v := range intervals {
		idx := int((v - lo) / span * buckets)
		if idx >= buckets {
			idx = buckets - 1
		}
		counts[idx]++
	}

	entropy := 0.0
	total := float64(len(intervals))
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// kindEntropy computes Shannon entropy of the interaction-kind
// distribution.
func kindEntropy(counts map[event.Kind]int, total int) float64 {
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// meanPointerSpeed computes the average Euclidean speed between
// consecutive pointer_move events, in coordinate units per second.
func meanPointerSpeed(history []event.Normalized) float64 {
	var prev *event.Normalized
	sum := 0.0
	n := 0
	for i := range history {
		ev := &history[i]
		if ev.Kind != event.KindPointerMove {
			continue
		}
		if prev != nil {
			dt := ev.Timestamp - prev.Timestamp
			if dt > 0 {
				dx := ev.X - prev.X
				dy := ev.Y - prev.Y
				sum += math.Sqrt(dx*dx+dy*dy) / dt
				n++
			}
		}
		prev = ev
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
