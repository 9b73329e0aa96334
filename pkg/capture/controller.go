package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-palm/internal/log"
	"github.com/teslashibe/go-palm/pkg/match"
	"github.com/teslashibe/go-palm/pkg/positioning"
	"github.com/teslashibe/go-palm/pkg/protocol"
)

// Texts shown on top of the distance instructions.
const (
	TextScanning    = "Scanning palm..."
	TextNoHand      = "Hand not detected clearly"
	TextVerified    = "User Verified"
	TextDenied      = "Access Denied"
	TextCameraError = "Camera Error"
	TextStoreError  = "Registration failed"
)

// Probe samples the hand distance in centimetres.
type Probe interface {
	Sample(ctx context.Context) (float64, error)
}

// Camera yields JPEG frames. It is owned by one session at a time.
type Camera interface {
	CaptureJPEG() ([]byte, error)
	Close() error
}

// CameraOpener acquires the camera for a session.
type CameraOpener interface {
	Open() (Camera, error)
}

// CameraOpenerFunc adapts a function to CameraOpener.
type CameraOpenerFunc func() (Camera, error)

func (f CameraOpenerFunc) Open() (Camera, error) { return f() }

// PoseEstimator finds the hand and its tilt in a frame.
type PoseEstimator interface {
	Classify(jpeg []byte) (positioning.Pose, error)
}

// Verifier compares a live frame with an enrolled subject.
type Verifier interface {
	Verify(ctx context.Context, subjectID string, live []byte) (match.Result, error)
}

// ReferenceWriter persists an enrollment frame.
type ReferenceWriter interface {
	Save(subjectID string, jpeg []byte) error
}

// Publisher receives every status event of a session.
type Publisher interface {
	Publish(ev protocol.StatusEvent)
}

// Deps are the collaborators of a Controller. Ticker is optional.
type Deps struct {
	Probe      Probe
	Cameras    CameraOpener
	Pose       PoseEstimator
	Verifier   Verifier
	References ReferenceWriter
	Publisher  Publisher
	Ticker     TickerFunc
}

// Controller executes scan sessions. A Controller is safe to reuse across
// sessions but runs one session per Run call; the session package keeps at
// most one Run active.
type Controller struct {
	cfg  Config
	deps Deps
}

// NewController creates a controller.
func NewController(cfg Config, deps Deps) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("capture config: %w", err)
	}

	switch {
	case deps.Probe == nil:
		return nil, fmt.Errorf("%w: probe", ErrMissingDependency)
	case deps.Cameras == nil:
		return nil, fmt.Errorf("%w: camera", ErrMissingDependency)
	case deps.Pose == nil:
		return nil, fmt.Errorf("%w: pose estimator", ErrMissingDependency)
	case deps.Verifier == nil:
		return nil, fmt.Errorf("%w: verifier", ErrMissingDependency)
	case deps.References == nil:
		return nil, fmt.Errorf("%w: reference writer", ErrMissingDependency)
	case deps.Publisher == nil:
		return nil, fmt.Errorf("%w: publisher", ErrMissingDependency)
	}
	if deps.Ticker == nil {
		deps.Ticker = NewRealTicker
	}

	return &Controller{cfg: cfg, deps: deps}, nil
}

// run holds the per-session state of one Run call.
type run struct {
	*Controller
	session *Session
	mode    protocol.Mode
	camera  Camera
	acc     positioning.Accumulator
	state   State
	logger  *slog.Logger
}

// Run executes the session until it reaches a terminal state. Cancelling ctx
// stops the session at the start of the next tick. The camera is released on
// every exit path.
func (c *Controller) Run(ctx context.Context, s *Session) Result {
	r := &run{
		Controller: c,
		session:    s,
		mode:       s.Mode.Wire(),
		state:      Idle,
		logger:     log.With("session", s.ID, "mode", s.Mode.String(), "subject", s.SubjectID),
	}

	res := r.execute(ctx)
	if !r.state.Terminal() {
		r.logger.Error("session exited without a terminal state", "state", r.state.String())
	}
	res.SessionID = s.ID
	res.Mode = s.Mode
	res.SubjectID = s.SubjectID
	if !s.StartedAt.IsZero() {
		res.Duration = time.Since(s.StartedAt)
	}

	r.logger.Info("session finished",
		"outcome", res.Outcome.String(),
		"ticks", res.Ticks,
		"confidence", res.Confidence,
	)
	return res
}

func (r *run) execute(ctx context.Context) Result {
	cam, err := r.deps.Cameras.Open()
	if err != nil {
		r.logger.Error("camera open failed", log.Err(err))
		return r.cameraError("open camera", err)
	}
	r.camera = cam
	defer func() {
		if err := cam.Close(); err != nil {
			r.logger.Warn("camera close failed", log.Err(err))
		}
	}()

	ticker := r.deps.Ticker(r.cfg.TickInterval)
	defer ticker.Stop()

	r.transition(Scanning)
	r.logger.Info("session started")

	ticks := 0
	for {
		if ctx.Err() != nil {
			r.transition(Stopped)
			r.emit(protocol.NewStopped(r.mode, Stopped.String()))
			return Result{Outcome: Stopped, Ticks: ticks}
		}

		ticks++
		if res, done := r.tick(ctx); done {
			res.Ticks = ticks
			return res
		}

		select {
		case <-ctx.Done():
		case <-ticker.C():
		}
	}
}

// tick executes one pass of the scan loop. done is true once the session
// reached a terminal state.
func (r *run) tick(ctx context.Context) (Result, bool) {
	reading := r.sampleDistance(ctx)

	frame, err := r.camera.CaptureJPEG()
	if err != nil {
		r.logger.Error("camera read failed", log.Err(err))
		return r.cameraError("read frame", err), true
	}

	pose, err := r.deps.Pose.Classify(frame)
	if err != nil {
		r.logger.Warn("pose classification failed", log.Err(err))
		pose = positioning.Pose{}
	}

	state := wireState(reading.State)
	text := reading.Text
	if !pose.HandPresent && reading.State == positioning.Perfect {
		state = protocol.StateProcessing
		text = TextNoHand
	}

	ok := positioning.WellPositioned(reading, pose)
	progress := r.acc.Update(ok)
	if ok {
		text = TextScanning
	}

	tilt := protocol.Tilt(pose.Tilt.String())

	if r.acc.Complete() {
		r.transition(Capturing)
		r.emit(protocol.NewCapture(r.mode, reading.DistanceCm, tilt))
		return r.finish(ctx, frame, reading.DistanceCm, tilt), true
	}

	r.emit(protocol.NewInstruction(r.mode, text, reading.DistanceCm, state, tilt, progress))
	return Result{}, false
}

func (r *run) sampleDistance(ctx context.Context) positioning.Reading {
	pctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	d, err := r.deps.Probe.Sample(pctx)
	if err != nil {
		r.logger.Debug("probe sample failed", log.Err(err))
		return r.cfg.Gate.ProbeFailure()
	}
	return r.cfg.Gate.Classify(d)
}

// finish performs the mode-specific terminal action on the captured frame.
func (r *run) finish(ctx context.Context, frame []byte, distance float64, tilt protocol.Tilt) Result {
	s := r.session

	if s.Mode == Enroll {
		if err := r.deps.References.Save(s.SubjectID, frame); err != nil {
			r.logger.Error("reference save failed", log.Err(err))
			r.transition(StoreError)
			r.emit(protocol.NewFailure(r.mode, StoreError.String(), TextStoreError))
			return Result{
				Outcome: StoreError,
				Err:     &StepError{Step: "save reference", SessionID: s.ID, Err: err},
			}
		}

		r.transition(Enrolled)
		conf := match.DefaultMaxConfidence
		r.emit(protocol.NewResult(r.mode, Enrolled.String(),
			fmt.Sprintf("User %s Registered", s.SubjectID), distance, tilt, conf))
		return Result{Outcome: Enrolled, Confidence: conf}
	}

	// A stop arriving now does not abort the capture already under way.
	res, err := r.deps.Verifier.Verify(context.WithoutCancel(ctx), s.SubjectID, frame)
	if err != nil {
		r.logger.Error("verification failed", log.Err(err))
		r.transition(Denied)
		r.emit(protocol.NewResult(r.mode, Denied.String(), TextDenied, distance, tilt, 0))
		return Result{
			Outcome: Denied,
			Err:     &StepError{Step: "verify", SessionID: s.ID, Err: err},
		}
	}
	if !res.Known {
		r.logger.Info("unknown subject")
	}

	outcome, text := Denied, TextDenied
	if res.Matched {
		outcome, text = Verified, TextVerified
	}
	r.transition(outcome)
	r.emit(protocol.NewResult(r.mode, outcome.String(), text, distance, tilt, res.Confidence))
	return Result{Outcome: outcome, Confidence: res.Confidence}
}

func (r *run) cameraError(step string, err error) Result {
	r.transition(CameraError)
	r.emit(protocol.NewFailure(r.mode, CameraError.String(), TextCameraError))
	return Result{
		Outcome: CameraError,
		Err: &StepError{
			Step:      step,
			SessionID: r.session.ID,
			Err:       fmt.Errorf("%w: %v", ErrCameraUnavailable, err),
		},
	}
}

// transition moves to next. A terminal state is final.
func (r *run) transition(next State) {
	if r.state.Terminal() {
		r.logger.Warn("ignoring transition after session end", "from", r.state.String(), "to", next.String())
		return
	}
	r.logger.Debug("state", "from", r.state.String(), "to", next.String())
	r.state = next
}

func (r *run) emit(ev protocol.StatusEvent) {
	ev.SessionID = r.session.ID
	r.deps.Publisher.Publish(ev)
}

func wireState(s positioning.PositionState) protocol.State {
	return protocol.State(s.String())
}
