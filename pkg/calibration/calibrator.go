package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
)

// ErrUnavailable marks a missing calibration table for the requested
// model version. Raw classifier scores must never drive a decision, so
// this forces the orchestrator's fallback path.
var ErrUnavailable = errors.New("calibration unavailable")

// Point maps one raw classifier score to its calibrated confidence.
type Point struct {
	Raw        float64 `json:"raw"`
	Calibrated float64 `json:"calibrated"`
}

// Table is a per-model-version calibration mapping, fit offline
// against labeled outcomes. Both coordinates must be monotone
// non-decreasing so the piecewise-linear transform preserves score
// ordering.
type Table struct {
	ModelVersion string  `json:"model_version"`
	Points       []Point `json:"points"`
}

// Validate checks the monotonicity and range invariants.
func (t Table) Validate() error {
	if t.ModelVersion == "" {
		return fmt.Errorf("table missing model version")
	}
	if len(t.Points) < 2 {
		return fmt.Errorf("table for %s needs at least 2 points", t.ModelVersion)
	}
	for i, p := range t.Points {
		if math.IsNaN(p.Raw) || math.IsNaN(p.Calibrated) {
			return fmt.Errorf("table for %s has NaN at point %d", t.ModelVersion, i)
		}
		if p.Calibrated < 0 || p.Calibrated > 1 {
			return fmt.Errorf("table for %s has calibrated value %g outside [0,1]", t.ModelVersion, p.Calibrated)
		}
		if i > 0 {
			if p.Raw <= t.Points[i-1].Raw {
				return fmt.Errorf("table for %s raw values not strictly increasing at point %d", t.ModelVersion, i)
			}
			if p.Calibrated < t.Points[i-1].Calibrated {
				return fmt.Errorf("table for %s calibrated values not monotone at point %d", t.ModelVersion, i)
			}
		}
	}
	return nil
}

// Calibrator maps raw classifier probabilities to calibrated
// confidence values, looked up by model version. Tables are read-only
// after construction and safe for concurrent use without locking.
type Calibrator struct {
	tables map[string]Table
}

// NewCalibrator validates and indexes the given tables.
func NewCalibrator(tables ...Table) (*Calibrator, error) {
	c := &Calibrator{tables: make(map[string]Table, len(tables))}
	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		sorted := make([]Point, len(t.Points))
		copy(sorted, t.Points)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Raw < sorted[j].Raw })
		t.Points = sorted
		c.tables[t.ModelVersion] = t
	}
	return c, nil
}

// LoadFile reads calibration tables from a JSON file holding an array
// of tables.
func LoadFile(path string) (*Calibrator, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}
	var tables []Table
	if err := json.Unmarshal(raw, &tables); err != nil {
		return nil, fmt.Errorf("parse calibration file: %w", err)
	}
	return NewCalibrator(tables...)
}

// Versions lists the model versions with a loaded table.
func (c *Calibrator) Versions() []string {
	out := make([]string, 0, len(c.tables))
	for v := range c.tables {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Has reports whether a table is loaded for the model version.
func (c *Calibrator) Has(modelVersion string) bool {
	_, ok := c.tables[modelVersion]
	return ok
}

// Calibrate maps a raw p_pass to calibrated confidence for the given
// model version via piecewise-linear interpolation. The transform is
// monotone non-decreasing in its input. Unknown versions fail with
// ErrUnavailable.
func (c *Calibrator) Calibrate(pPass float64, modelVersion string) (float64, error) {
	t, ok := c.tables[modelVersion]
	if !ok {
		return 0, fmt.Errorf("%w: no table for model version %q", ErrUnavailable, modelVersion)
	}
	if math.IsNaN(pPass) {
		return 0, fmt.Errorf("%w: NaN input", ErrUnavailable)
	}

	pts := t.Points
	if pPass <= pts[0].Raw {
		return pts[0].Calibrated, nil
	}
	if pPass >= pts[len(pts)-1].Raw {
		return pts[len(pts)-1].Calibrated, nil
	}

	i := sort.Search(len(pts), func(i int) bool { return pts[i].Raw >= pPass })
	lo, hi := pts[i-1], pts[i]
	frac := (pPass - lo.Raw) / (hi.Raw - lo.Raw)
	return lo.Calibrated + frac*(hi.Calibrated-lo.Calibrated), nil
}

// DefaultTable returns the development-time table for the baseline
// model: a mild sigmoid-flattening correction around the ambiguous
// band. Production tables are fit offline and loaded from
// CALIBRATION_PATH.
func DefaultTable(modelVersion string) Table {
	return Table{
		ModelVersion: modelVersion,
		Points: []Point{
			{Raw: 0.0, Calibrated: 0.0},
			{Raw: 0.2, Calibrated: 0.12},
			{Raw: 0.4, Calibrated: 0.33},
			{Raw: 0.5, Calibrated: 0.50},
			{Raw: 0.6, Calibrated: 0.67},
			{Raw: 0.8, Calibrated: 0.88},
			{Raw: 1.0, Calibrated: 1.0},
		},
	}
}
