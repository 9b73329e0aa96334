// Package capture runs one palm scan session: it paces ticks, gates progress
// on distance and pose, and finishes with an enrollment or a verification.
package capture

import (
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-palm/pkg/protocol"
)

// Mode selects what a session does once the scan completes.
type Mode int

const (
	Enroll Mode = iota
	Verify
)

// String returns a short name for logs.
func (m Mode) String() string {
	if m == Verify {
		return "verify"
	}
	return "enroll"
}

// Wire returns the mode name used in status events.
func (m Mode) Wire() protocol.Mode {
	if m == Verify {
		return protocol.ModeMatching
	}
	return protocol.ModeRegistration
}

// ParseMode accepts both the short names and the wire names.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "enroll", string(protocol.ModeRegistration):
		return Enroll, true
	case "verify", string(protocol.ModeMatching):
		return Verify, true
	}
	return Enroll, false
}

// State is the controller's lifecycle state.
type State int

const (
	Idle State = iota
	Scanning
	Capturing
	Enrolled
	Verified
	Denied
	Stopped
	CameraError
	StoreError
)

var stateNames = map[State]string{
	Idle:        "IDLE",
	Scanning:    "SCANNING",
	Capturing:   "CAPTURING",
	Enrolled:    "ENROLLED",
	Verified:    "VERIFIED",
	Denied:      "DENIED",
	Stopped:     "STOPPED",
	CameraError: "CAMERA_ERROR",
	StoreError:  "STORE_ERROR",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// Terminal reports whether the state ends a session.
func (s State) Terminal() bool {
	switch s {
	case Enrolled, Verified, Denied, Stopped, CameraError, StoreError:
		return true
	}
	return false
}

// Session identifies one scan.
type Session struct {
	ID        string
	Mode      Mode
	SubjectID string
	StartedAt time.Time
}

// NewSession creates a session with a fresh id.
func NewSession(mode Mode, subjectID string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Mode:      mode,
		SubjectID: subjectID,
		StartedAt: time.Now(),
	}
}

// Result is the outcome of Controller.Run.
type Result struct {
	SessionID  string
	Mode       Mode
	SubjectID  string
	Outcome    State
	Confidence float64
	Ticks      int
	Duration   time.Duration
	Err        error // set for CameraError, StoreError and matcher failures
}
