package event

import (
	"errors"
	"fmt"
)

// ErrInvalid marks an event that failed normalization. Callers are
// expected to drop the offending event and continue.
var ErrInvalid = errors.New("invalid event")

// Kind identifies a recognized client-interaction event kind.
type Kind string

const (
	KindPointerMove  Kind = "pointer_move"
	KindKeyPress     Kind = "key_press"
	KindChallenge    Kind = "challenge_interaction"
	KindTimingBeacon Kind = "timing_beacon"
)

// Kinds lists every recognized event kind in a stable order.
var Kinds = []Kind{KindPointerMove, KindKeyPress, KindChallenge, KindTimingBeacon}

// Raw is an event exactly as submitted by the caller. The payload is
// untrusted and consumed once by normalization.
type Raw struct {
	Type      string                 `json:"type"`
	Timestamp float64                `json:"timestamp"` // seconds, monotonic within a session
	Data      map[string]interface{} `json:"data"`
}

// Normalized is a validated event tagged with one of the recognized
// kinds. Only the fields belonging to the tagged kind are populated.
type Normalized struct {
	Kind      Kind    `json:"kind"`
	Timestamp float64 `json:"timestamp"`

	// pointer_move
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`

	// key_press
	Key string `json:"key,omitempty"`

	// challenge_interaction
	Action string `json:"action,omitempty"`
	Target string `json:"target,omitempty"`

	// timing_beacon
	Label string `json:"label,omitempty"`
}

func parseKind(t string) (Kind, error) {
	switch Kind(t) {
	case KindPointerMove, KindKeyPress, KindChallenge, KindTimingBeacon:
		return Kind(t), nil
	}
	return "", fmt.Errorf("%w: unrecognized type %q", ErrInvalid, t)
}
