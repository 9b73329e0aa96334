package protocol

import "time"

// =============================================================================
// Helper functions for creating status events
// =============================================================================

// Float returns a pointer for the Confidence field
func Float(v float64) *float64 {
	return &v
}

// NewInstruction creates a per-tick guidance event
func NewInstruction(mode Mode, text string, distance float64, state State, tilt Tilt, progress int) StatusEvent {
	return StatusEvent{
		Type:       TypeInstruction,
		Text:       text,
		DistanceCm: distance,
		State:      state,
		Mode:       mode,
		Tilt:       tilt,
		Progress:   progress,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// NewCapture creates the transient event sent when progress hits 100
func NewCapture(mode Mode, distance float64, tilt Tilt) StatusEvent {
	return StatusEvent{
		Type:       TypeCapture,
		Text:       "Processing...",
		DistanceCm: distance,
		State:      StateCapturing,
		Mode:       mode,
		Tilt:       tilt,
		Progress:   100,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// NewResult creates the terminal event of a completed scan
func NewResult(mode Mode, outcome, text string, distance float64, tilt Tilt, confidence float64) StatusEvent {
	return StatusEvent{
		Type:       TypeResult,
		Text:       text,
		DistanceCm: distance,
		State:      StatePerfect,
		Mode:       mode,
		Tilt:       tilt,
		Progress:   100,
		Confidence: Float(confidence),
		Outcome:    outcome,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// NewStopped creates the reset event sent when a session is cancelled
func NewStopped(mode Mode, outcome string) StatusEvent {
	return StatusEvent{
		Type:      TypeInstruction,
		Text:      "Stopped",
		State:     StateNone,
		Mode:      mode,
		Tilt:      TiltNone,
		Outcome:   outcome,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewFailure creates a terminal result for a session that could not scan
// (camera unavailable, reference not persisted). Like every result it
// carries progress 100.
func NewFailure(mode Mode, outcome, text string) StatusEvent {
	return StatusEvent{
		Type:       TypeResult,
		Text:       text,
		State:      StateNone,
		Mode:       mode,
		Tilt:       TiltNone,
		Progress:   100,
		Confidence: Float(0),
		Outcome:    outcome,
		Timestamp:  time.Now().UnixMilli(),
	}
}
