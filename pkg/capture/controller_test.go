package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-palm/internal/log"
	"github.com/teslashibe/go-palm/pkg/match"
	"github.com/teslashibe/go-palm/pkg/positioning"
	"github.com/teslashibe/go-palm/pkg/protocol"
	"github.com/teslashibe/go-palm/pkg/store"
)

// --- fakes ---

type probeFunc func(call int) (float64, error)

type fakeProbe struct {
	mu    sync.Mutex
	calls int
	fn    probeFunc
}

func (p *fakeProbe) Sample(ctx context.Context) (float64, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.mu.Unlock()
	return p.fn(n)
}

func constantProbe(d float64) *fakeProbe {
	return &fakeProbe{fn: func(int) (float64, error) { return d, nil }}
}

type fakeCamera struct {
	mu       sync.Mutex
	reads    int
	failFrom int // read number that starts failing, 0 for never
	closed   bool
}

func (c *fakeCamera) CaptureJPEG() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.failFrom > 0 && c.reads >= c.failFrom {
		return nil, errors.New("device unplugged")
	}
	return []byte{0xFF, 0xD8, byte(c.reads)}, nil
}

func (c *fakeCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakePose struct {
	pose positioning.Pose
	err  error
}

func (p fakePose) Classify([]byte) (positioning.Pose, error) {
	return p.pose, p.err
}

var straightHand = fakePose{pose: positioning.Pose{HandPresent: true, Tilt: positioning.TiltStraight}}

type fakeVerifier struct {
	res match.Result
	err error
}

func (v fakeVerifier) Verify(context.Context, string, []byte) (match.Result, error) {
	return v.res, v.err
}

type fakeRefs struct {
	mu    sync.Mutex
	saved map[string][]byte
	err   error
}

func (r *fakeRefs) Save(id string, jpeg []byte) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saved == nil {
		r.saved = make(map[string][]byte)
	}
	r.saved[id] = jpeg
	return nil
}

func (r *fakeRefs) Load(id string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.saved[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return b, nil
}

type recorder struct {
	mu     sync.Mutex
	events []protocol.StatusEvent
	hook   func(ev protocol.StatusEvent)
}

func (r *recorder) Publish(ev protocol.StatusEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (r *recorder) Events() []protocol.StatusEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.StatusEvent(nil), r.events...)
}

// instantTicker fires immediately on every receive.
type instantTicker struct{ c chan time.Time }

func newInstantTicker(time.Duration) Ticker {
	c := make(chan time.Time)
	close(c)
	return instantTicker{c: c}
}

func (t instantTicker) C() <-chan time.Time { return t.c }
func (t instantTicker) Stop()               {}

type fixture struct {
	probe    *fakeProbe
	camera   *fakeCamera
	openErr  error
	pose     PoseEstimator
	verifier Verifier
	refs     *fakeRefs
	pub      *recorder
}

func newFixture() *fixture {
	return &fixture{
		probe:    constantProbe(10),
		camera:   &fakeCamera{},
		pose:     straightHand,
		verifier: fakeVerifier{},
		refs:     &fakeRefs{},
		pub:      &recorder{},
	}
}

func (f *fixture) controller(t *testing.T) *Controller {
	t.Helper()
	c, err := NewController(DefaultConfig(), Deps{
		Probe: f.probe,
		Cameras: CameraOpenerFunc(func() (Camera, error) {
			if f.openErr != nil {
				return nil, f.openErr
			}
			return f.camera, nil
		}),
		Pose:       f.pose,
		Verifier:   f.verifier,
		References: f.refs,
		Publisher:  f.pub,
		Ticker:     newInstantTicker,
	})
	require.NoError(t, err)
	return c
}

type eventShape struct {
	Type     protocol.EventType
	State    protocol.State
	Progress int
}

func shapes(events []protocol.StatusEvent) []eventShape {
	out := make([]eventShape, len(events))
	for i, ev := range events {
		out[i] = eventShape{ev.Type, ev.State, ev.Progress}
	}
	return out
}

// --- tests ---

func TestEnrollHappyPath(t *testing.T) {
	f := newFixture()
	c := f.controller(t)

	res := c.Run(context.Background(), NewSession(Enroll, "alice"))

	require.Equal(t, Enrolled, res.Outcome)
	assert.Equal(t, 20, res.Ticks)
	assert.Equal(t, 0.99, res.Confidence)
	assert.NoError(t, res.Err)

	var want []eventShape
	for p := 5; p < 100; p += 5 {
		want = append(want, eventShape{protocol.TypeInstruction, protocol.StatePerfect, p})
	}
	want = append(want,
		eventShape{protocol.TypeCapture, protocol.StateCapturing, 100},
		eventShape{protocol.TypeResult, protocol.StatePerfect, 100},
	)

	events := f.pub.Events()
	if diff := cmp.Diff(want, shapes(events)); diff != "" {
		t.Errorf("event sequence mismatch (-want +got):\n%s", diff)
	}

	last := events[len(events)-1]
	assert.Equal(t, protocol.ModeRegistration, last.Mode)
	assert.Equal(t, "User alice Registered", last.Text)
	require.NotNil(t, last.Confidence)
	assert.Equal(t, 0.99, *last.Confidence)
	assert.Equal(t, "ENROLLED", last.Outcome)

	for _, ev := range events[:len(events)-1] {
		assert.Nil(t, ev.Confidence, "only the result carries confidence")
		assert.Equal(t, res.SessionID, ev.SessionID)
	}
	assert.Equal(t, protocol.TypeInstruction, events[0].Type)
	assert.Equal(t, TextScanning, events[0].Text)

	assert.Contains(t, f.refs.saved, "alice")
	assert.True(t, f.camera.closed, "camera must be released")
}

func TestJitterNeverCompletes(t *testing.T) {
	f := newFixture()
	f.probe = &fakeProbe{fn: func(call int) (float64, error) {
		if call%2 == 1 {
			return 10, nil
		}
		return 45, nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	instructions := 0
	f.pub.hook = func(ev protocol.StatusEvent) {
		if ev.Type == protocol.TypeInstruction {
			instructions++
			if instructions == 40 {
				cancel()
			}
		}
	}

	res := f.controller(t).Run(ctx, NewSession(Verify, "bob"))
	require.Equal(t, Stopped, res.Outcome)

	prev := 0
	for _, ev := range f.pub.Events() {
		assert.NotEqual(t, protocol.TypeCapture, ev.Type)
		assert.Less(t, ev.Progress, 100)
		assert.GreaterOrEqual(t, ev.Progress, 0)
		if ev.State == protocol.StateTooFar {
			assert.Equal(t, max(0, prev-2), ev.Progress)
		}
		prev = ev.Progress
	}
}

func TestCameraOpenFailure(t *testing.T) {
	f := newFixture()
	f.openErr = errors.New("no such device")

	res := f.controller(t).Run(context.Background(), NewSession(Enroll, "carol"))

	require.Equal(t, CameraError, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrCameraUnavailable)

	var stepErr *StepError
	require.ErrorAs(t, res.Err, &stepErr)
	assert.Equal(t, "open camera", stepErr.Step)

	events := f.pub.Events()
	require.Len(t, events, 1, "no instruction events before the failure")
	assert.Equal(t, protocol.TypeResult, events[0].Type)
	assert.Equal(t, "CAMERA_ERROR", events[0].Outcome)
	assert.Equal(t, TextCameraError, events[0].Text)
	assert.Equal(t, 0, f.probe.calls)
}

func TestCameraReadFailureIsTerminal(t *testing.T) {
	f := newFixture()
	f.camera.failFrom = 3

	res := f.controller(t).Run(context.Background(), NewSession(Verify, "dave"))

	require.Equal(t, CameraError, res.Outcome)
	assert.Equal(t, 3, res.Ticks)
	assert.True(t, f.camera.closed)

	events := f.pub.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "CAMERA_ERROR", events[2].Outcome)
}

func TestStopMidScan(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.pub.hook = func(ev protocol.StatusEvent) {
		if ev.Progress == 50 {
			cancel()
		}
	}

	res := f.controller(t).Run(ctx, NewSession(Enroll, "erin"))

	require.Equal(t, Stopped, res.Outcome)
	assert.Empty(t, f.refs.saved)
	assert.True(t, f.camera.closed)

	events := f.pub.Events()
	last := events[len(events)-1]
	want := protocol.NewStopped(protocol.ModeRegistration, "STOPPED")
	want.SessionID = res.SessionID
	want.Timestamp = last.Timestamp
	if diff := cmp.Diff(want, last); diff != "" {
		t.Errorf("stopped event mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 50, events[len(events)-2].Progress)
}

func TestVerifyDenied(t *testing.T) {
	f := newFixture()
	f.refs.saved = map[string][]byte{"frank": {0xFF, 0xD8}}
	f.verifier = match.NewEngine(countMatcher(10), f.refs)

	res := f.controller(t).Run(context.Background(), NewSession(Verify, "frank"))

	require.Equal(t, Denied, res.Outcome)
	assert.InDelta(t, 0.2, res.Confidence, 1e-9)

	events := f.pub.Events()
	last := events[len(events)-1]
	assert.Equal(t, protocol.TypeResult, last.Type)
	assert.Equal(t, TextDenied, last.Text)
	assert.Equal(t, protocol.ModeMatching, last.Mode)
	require.NotNil(t, last.Confidence)
	assert.InDelta(t, 0.2, *last.Confidence, 1e-9)
}

func TestVerifyAccepted(t *testing.T) {
	f := newFixture()
	f.refs.saved = map[string][]byte{"gina": {0xFF, 0xD8}}
	f.verifier = match.NewEngine(countMatcher(40), f.refs)

	res := f.controller(t).Run(context.Background(), NewSession(Verify, "gina"))

	require.Equal(t, Verified, res.Outcome)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
	last := f.pub.Events()[len(f.pub.Events())-1]
	assert.Equal(t, TextVerified, last.Text)
	assert.Equal(t, "VERIFIED", last.Outcome)
}

func TestVerifyUnknownSubject(t *testing.T) {
	f := newFixture()
	f.verifier = match.NewEngine(countMatcher(40), f.refs)

	res := f.controller(t).Run(context.Background(), NewSession(Verify, "nobody"))

	require.Equal(t, Denied, res.Outcome)
	assert.Zero(t, res.Confidence)
	assert.NoError(t, res.Err)
}

func TestVerifierErrorIsDenied(t *testing.T) {
	f := newFixture()
	f.verifier = fakeVerifier{err: errors.New("matcher exploded")}

	res := f.controller(t).Run(context.Background(), NewSession(Verify, "hank"))

	require.Equal(t, Denied, res.Outcome)
	assert.Error(t, res.Err)
	last := f.pub.Events()[len(f.pub.Events())-1]
	require.NotNil(t, last.Confidence)
	assert.Zero(t, *last.Confidence)
}

func TestEnrollStoreFailure(t *testing.T) {
	f := newFixture()
	f.refs.err = errors.New("disk full")

	res := f.controller(t).Run(context.Background(), NewSession(Enroll, "ivy"))

	require.Equal(t, StoreError, res.Outcome)
	last := f.pub.Events()[len(f.pub.Events())-1]
	assert.Equal(t, "STORE_ERROR", last.Outcome)
	assert.Equal(t, TextStoreError, last.Text)
	assert.True(t, f.camera.closed)
}

func TestNoHandDowngradesToProcessing(t *testing.T) {
	f := newFixture()
	f.pose = fakePose{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.pub.hook = func(protocol.StatusEvent) { cancel() }

	f.controller(t).Run(ctx, NewSession(Enroll, "jack"))

	first := f.pub.Events()[0]
	assert.Equal(t, protocol.StateProcessing, first.State)
	assert.Equal(t, TextNoHand, first.Text)
	assert.Equal(t, protocol.TiltNone, first.Tilt)
	assert.Equal(t, 0, first.Progress)
}

func TestProbeFailureIsTooFar(t *testing.T) {
	f := newFixture()
	f.probe = &fakeProbe{fn: func(int) (float64, error) { return -1, errors.New("timeout") }}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.pub.hook = func(protocol.StatusEvent) { cancel() }

	f.controller(t).Run(ctx, NewSession(Enroll, "kim"))

	first := f.pub.Events()[0]
	assert.Equal(t, protocol.StateTooFar, first.State)
	assert.Equal(t, positioning.TextProbeError, first.Text)
	assert.Zero(t, first.DistanceCm)
}

func TestTiltedHandDoesNotProgress(t *testing.T) {
	f := newFixture()
	f.pose = fakePose{pose: positioning.Pose{HandPresent: true, Tilt: positioning.TiltLeft, Angle: -30}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n := 0
	f.pub.hook = func(protocol.StatusEvent) {
		n++
		if n == 5 {
			cancel()
		}
	}

	f.controller(t).Run(ctx, NewSession(Enroll, "lee"))

	for _, ev := range f.pub.Events() {
		assert.Zero(t, ev.Progress)
	}
	assert.Equal(t, protocol.TiltLeft, f.pub.Events()[0].Tilt)
	assert.Equal(t, positioning.TextPerfect, f.pub.Events()[0].Text)
}

func TestCancelledBeforeFirstTick(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.controller(t).Run(ctx, NewSession(Enroll, "mia"))

	require.Equal(t, Stopped, res.Outcome)
	assert.Equal(t, 0, res.Ticks)
	require.Len(t, f.pub.Events(), 1)
	assert.True(t, f.camera.closed)
}

func TestNewControllerValidation(t *testing.T) {
	f := newFixture()

	_, err := NewController(DefaultConfig(), Deps{Probe: f.probe})
	assert.ErrorIs(t, err, ErrMissingDependency)

	cfg := DefaultConfig()
	cfg.ProbeTimeout = cfg.TickInterval
	_, err = NewController(cfg, Deps{})
	assert.Error(t, err)
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{Idle, Scanning, Capturing} {
		assert.False(t, s.Terminal(), s.String())
	}
	for _, s := range []State{Enrolled, Verified, Denied, Stopped, CameraError, StoreError} {
		assert.True(t, s.Terminal(), s.String())
	}
}

func TestTerminalStateIsFinal(t *testing.T) {
	r := &run{state: Idle, logger: log.L()}
	r.transition(Scanning)
	r.transition(Stopped)
	r.transition(Capturing)
	assert.Equal(t, Stopped, r.state)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"enroll", Enroll, true},
		{"registration", Enroll, true},
		{"verify", Verify, true},
		{"matching", Verify, true},
		{"delete", Enroll, false},
	}
	for _, tt := range tests {
		got, ok := ParseMode(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

type countMatcher int

func (m countMatcher) Match(reference, live []byte) (int, error) {
	return int(m), nil
}
