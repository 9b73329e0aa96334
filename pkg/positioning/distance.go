// Package positioning turns raw sensor readings into the signals that gate a
// palm scan: how far the hand is from the sensor, how it is tilted, and how
// long it has been held in the right place.
package positioning

import "math"

// PositionState classifies a distance sample.
type PositionState int

const (
	TooFar PositionState = iota
	TooClose
	Perfect
)

// String returns the wire label for the state.
func (s PositionState) String() string {
	switch s {
	case TooClose:
		return "TOO_CLOSE"
	case Perfect:
		return "PERFECT"
	default:
		return "TOO_FAR"
	}
}

// Instruction texts shown to the subject.
const (
	TextTooFar     = "Please place hand above sensor"
	TextTooClose   = "Too close! Move back."
	TextPerfect    = "Hold still..."
	TextProbeError = "Distance sensor not responding"
)

// Reading is a classified distance sample.
type Reading struct {
	DistanceCm float64
	State      PositionState
	Text       string
	ProbeError bool
}

// Gate holds the distance band (in cm) that counts as well positioned.
type Gate struct {
	Near float64 // Closer than this is TooClose
	Far  float64 // Further than this is TooFar
}

// DefaultGate returns the 5-20cm band the sensor housing was built around.
func DefaultGate() Gate {
	return Gate{Near: 5, Far: 20}
}

// Classify maps a distance to a positioning state.
// Non-positive and NaN values are the probe's failure sentinel and are
// reported as TooFar.
func (g Gate) Classify(d float64) Reading {
	if math.IsNaN(d) || d <= 0 {
		return g.ProbeFailure()
	}

	switch {
	case d < g.Near:
		return Reading{DistanceCm: d, State: TooClose, Text: TextTooClose}
	case d <= g.Far:
		return Reading{DistanceCm: d, State: Perfect, Text: TextPerfect}
	default:
		return Reading{DistanceCm: d, State: TooFar, Text: TextTooFar}
	}
}

// ProbeFailure is the reading used when the probe timed out or errored.
func (g Gate) ProbeFailure() Reading {
	return Reading{State: TooFar, Text: TextProbeError, ProbeError: true}
}
