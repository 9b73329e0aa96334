// Package protocol defines the JSON messages exchanged over go-palm's websockets:
// status events pushed to listeners and distance readings pushed by remote
// sensor nodes.
package protocol

import (
	"encoding/json"
	"fmt"
)

// EventType identifies the kind of status event
type EventType string

const (
	TypeInstruction EventType = "instruction" // Per-tick guidance
	TypeCapture     EventType = "capture"     // Threshold reached, capture in progress
	TypeResult      EventType = "result"      // Terminal outcome
)

// State is the positioning label shown to the subject
type State string

const (
	StateTooFar     State = "TOO_FAR"
	StateTooClose   State = "TOO_CLOSE"
	StatePerfect    State = "PERFECT"
	StateCapturing  State = "CAPTURING"
	StateProcessing State = "PROCESSING" // In range but no hand in frame
	StateNone       State = "NONE"
)

// Mode is the wire name of a session mode
type Mode string

const (
	ModeRegistration Mode = "registration"
	ModeMatching     Mode = "matching"
)

// Tilt is the wire name of a tilt bucket
type Tilt string

const (
	TiltNone     Tilt = "NONE"
	TiltLeft     Tilt = "LEFT"
	TiltStraight Tilt = "STRAIGHT"
	TiltRight    Tilt = "RIGHT"
)

// StatusEvent is one status update pushed to every listener.
// Confidence is null except on result events.
type StatusEvent struct {
	Type       EventType `json:"type"`
	Text       string    `json:"text"`
	DistanceCm float64   `json:"distance_cm"`
	State      State     `json:"state"`
	Mode       Mode      `json:"mode"`
	Tilt       Tilt      `json:"tilt"`
	Progress   int       `json:"progress"`
	Confidence *float64  `json:"confidence"`

	// Extensions; old clients ignore them.
	Outcome   string `json:"outcome,omitempty"`    // Terminal state label
	SessionID string `json:"session_id,omitempty"` // Session that produced the event
	Timestamp int64  `json:"ts,omitempty"`         // Unix milliseconds
}

// IsTerminal reports whether the event ends a session.
func (e StatusEvent) IsTerminal() bool {
	return e.Outcome != ""
}

// Bytes returns the JSON-encoded event
func (e StatusEvent) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

// ParseStatusEvent parses a status event from JSON bytes
func ParseStatusEvent(data []byte) (*StatusEvent, error) {
	var ev StatusEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to parse status event: %w", err)
	}
	return &ev, nil
}

// ProbeReading is pushed by a remote sensor node on every measurement.
// A negative distance reports a failed measurement.
type ProbeReading struct {
	DistanceCm float64 `json:"distance_cm"`
	Timestamp  int64   `json:"ts,omitempty"` // Unix milliseconds, set by the node
}

// ParseProbeReading parses a probe reading from JSON bytes
func ParseProbeReading(data []byte) (*ProbeReading, error) {
	var r ProbeReading
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse probe reading: %w", err)
	}
	return &r, nil
}
