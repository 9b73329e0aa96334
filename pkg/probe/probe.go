// Package probe provides distance probe backends: a serial-attached
// ultrasonic sensor, a websocket feed from a remote sensor node, and a
// fixed reading for running without hardware.
//
// Every backend honours the context deadline on Sample, so the caller can
// bound each read (the capture loop uses 40ms).
package probe

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout bounds a read when the context carries no deadline.
const DefaultTimeout = 40 * time.Millisecond

// Sentinel is the distance reported for a failed measurement.
const Sentinel = -1.0

var (
	// ErrTimeout is returned when no reading arrived within the budget.
	ErrTimeout = errors.New("probe: read timed out")

	// ErrNoReading is returned when the sensor answered with a failure value.
	ErrNoReading = errors.New("probe: no reading")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("probe: closed")
)

// Probe samples the distance between the sensor and the hand in centimetres.
type Probe interface {
	Sample(ctx context.Context) (float64, error)
}

// deadline returns the context deadline, or now+DefaultTimeout.
func deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(DefaultTimeout)
}

// Static always reports the same distance. A non-positive value behaves like
// a sensor that never answers, which is how the daemon runs on a machine
// without the sensor attached.
type Static struct {
	Distance float64
}

// Sample returns the fixed distance.
func (s Static) Sample(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.Distance <= 0 {
		return Sentinel, ErrNoReading
	}
	return s.Distance, nil
}
