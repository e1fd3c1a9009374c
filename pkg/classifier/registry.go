package classifier

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ModelStatus tracks a registered model's lifecycle.
type ModelStatus string

const (
	StatusActive     ModelStatus = "active"
	StatusStandby    ModelStatus = "standby"
	StatusDeprecated ModelStatus = "deprecated"
)

// ModelInfo is registry metadata about one model version.
type ModelInfo struct {
	Version      string      `json:"version"`
	Name         string      `json:"name"`
	Status       ModelStatus `json:"status"`
	RegisteredAt time.Time   `json:"registered_at"`
}

// Registry holds model versions and tracks which one is active.
// Versions can be activated and rolled back without touching any
// other engine component; consumers only ever see the Model interface.
type Registry struct {
	mu      sync.RWMutex
	models  map[string]Model
	info    map[string]*ModelInfo
	active  string
	history []string // activation order, newest last
}

// NewRegistry creates an empty model registry.
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]Model),
		info:   make(map[string]*ModelInfo),
	}
}

// Register adds a model version in standby. The first registered model
// becomes active.
func (r *Registry) Register(m Model, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := m.Version()
	if v == "" {
		return fmt.Errorf("model has empty version")
	}
	if _, exists := r.models[v]; exists {
		return fmt.Errorf("model version %s already registered", v)
	}
	r.models[v] = m
	r.info[v] = &ModelInfo{Version: v, Name: name, Status: StatusStandby, RegisteredAt: time.Now()}
	if r.active == "" {
		r.activateLocked(v)
	}
	return nil
}

// Activate switches the active model version.
func (r *Registry) Activate(version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[version]; !ok {
		return fmt.Errorf("model version %s not registered", version)
	}
	r.activateLocked(version)
	return nil
}

func (r *Registry) activateLocked(version string) {
	if r.active != "" && r.active != version {
		r.info[r.active].Status = StatusStandby
	}
	r.active = version
	r.info[version].Status = StatusActive
	r.history = append(r.history, version)
}

// Rollback reverts to the previously active version.
func (r *Registry) Rollback() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) < 2 {
		return fmt.Errorf("no prior version to roll back to")
	}
	current := r.history[len(r.history)-1]
	prev := r.history[len(r.history)-2]
	r.history = r.history[:len(r.history)-1]
	r.info[current].Status = StatusDeprecated
	r.active = prev
	r.info[prev].Status = StatusActive
	return nil
}

// Active returns the active model, or ErrModelUnavailable when none is
// loaded.
func (r *Registry) Active() (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == "" {
		return nil, fmt.Errorf("%w: no active model", ErrModelUnavailable)
	}
	return r.models[r.active], nil
}

// ActiveVersion returns the active version string, empty when none.
func (r *Registry) ActiveVersion() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// List returns metadata for every registered version, sorted by
// version string.
func (r *Registry) List() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelInfo, 0, len(r.info))
	for _, mi := range r.info {
		out = append(out, *mi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}
