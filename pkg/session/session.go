package session

import (
	"context"
	"time"

	"playproof/pkg/decision"
	"playproof/pkg/event"
)

// Session holds the bounded per-session scoring state carried across
// requests. The event sequence is append-only and time-ordered; the
// regenerate count and step-up flag only ever increase within one
// session lifetime.
type Session struct {
	ID              string             `json:"id"`
	CreatedAt       time.Time          `json:"created_at"`
	LastSeen        time.Time          `json:"last_seen"`
	Events          []event.Normalized `json:"events"`
	ClockFloor      float64            `json:"clock_floor"`
	RegenerateCount int                `json:"regenerate_count"`
	SteppedUp       bool               `json:"stepped_up"`
	State           decision.State     `json:"state"`
}

// Append adds one normalized event, evicting the oldest events FIFO
// when the retention cap would be exceeded, and advances the session
// clock floor.
func (s *Session) Append(ev event.Normalized, retentionCap int) {
	if retentionCap > 0 && len(s.Events) >= retentionCap {
		drop := len(s.Events) - retentionCap + 1
		s.Events = append(s.Events[:0], s.Events[drop:]...)
	}
	s.Events = append(s.Events, ev)
	if ev.Timestamp > s.ClockFloor {
		s.ClockFloor = ev.Timestamp
	}
}

// snapshot returns a read-only copy safe to hand out after the
// session lock is released.
func (s Session) snapshot() Session {
	events := make([]event.Normalized, len(s.Events))
	copy(events, s.Events)
	s.Events = events
	return s
}

func newSession(id string, now time.Time) Session {
	return Session{ID: id, CreatedAt: now, LastSeen: now}
}

// stale reports whether the session must be replaced by a fresh one:
// idle past the TTL, or already terminal (a terminal verdict is never
// reused; a new request starts a new attempt).
func (s *Session) stale(ttl time.Duration, now time.Time) bool {
	if s.State == decision.StateTerminal {
		return true
	}
	return ttl > 0 && now.Sub(s.LastSeen) > ttl
}

// Store is the session aggregator contract. Mutations for the same
// session id are serialized; distinct sessions proceed in parallel.
type Store interface {
	// GetOrCreate returns a read-only view of the session, creating a
	// fresh one when the id is unknown, expired, or terminal.
	GetOrCreate(ctx context.Context, id string) (Session, error)
	// Update runs fn under the per-session lock and returns the
	// resulting read-only view. fn receives a fresh session under the
	// same staleness rules as GetOrCreate. If fn returns an error the
	// mutation is discarded.
	Update(ctx context.Context, id string, fn func(*Session) error) (Session, error)
	// Append appends events under the per-session lock, enforcing the
	// retention cap before each append.
	Append(ctx context.Context, id string, events ...event.Normalized) (Session, error)
	// RetentionCap returns the per-session event cap, for callers
	// appending inside an Update closure.
	RetentionCap() int
	Close() error
}
