package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrCameraUnavailable is returned when the camera fails to open or read.
	ErrCameraUnavailable = errors.New("capture: camera unavailable")

	// ErrMissingDependency is returned by NewController for nil collaborators.
	ErrMissingDependency = errors.New("capture: missing dependency")
)

// StepError records which step of a session failed.
type StepError struct {
	Step      string
	SessionID string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("capture: session %s: %s: %v", e.SessionID, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
