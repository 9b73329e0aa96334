// Package session keeps at most one capture session running and serializes
// start, restart, and stop requests coming from the command surface.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/teslashibe/go-palm/internal/log"
	"github.com/teslashibe/go-palm/pkg/capture"
	"github.com/teslashibe/go-palm/pkg/store"
)

var (
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("session: manager closed")

	// ErrStopped is the cancellation cause of an explicit stop.
	ErrStopped = errors.New("session: stopped")

	// ErrPreempted is the cancellation cause when a new session replaces
	// the active one.
	ErrPreempted = errors.New("session: preempted by a new session")
)

// DefaultSubject is used when a start request names no subject.
const DefaultSubject = "unknown"

// Runner executes one session to completion.
type Runner interface {
	Run(ctx context.Context, s *capture.Session) capture.Result
}

// Recorder is notified of every finished session.
type Recorder interface {
	Record(ctx context.Context, res capture.Result) error
}

type active struct {
	session *capture.Session
	cancel  context.CancelCauseFunc
	done    chan struct{}
	result  capture.Result // valid after done is closed
}

// Manager owns the active session. Each session gets its own cancellation
// token, so stopping or replacing one session can never stop another.
type Manager struct {
	runner   Runner
	recorder Recorder

	mu     sync.Mutex
	cur    *active
	last   *capture.Result
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithRecorder stores every finished session.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// NewManager creates a manager for runner.
func NewManager(runner Runner, opts ...Option) *Manager {
	m := &Manager{runner: runner}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins a session. An active session is cancelled first, and the new
// one starts only after the old loop has exited and released the camera.
func (m *Manager) Start(mode capture.Mode, subjectID string) (capture.Session, error) {
	if subjectID == "" {
		subjectID = DefaultSubject
	}
	if !store.ValidSubject(subjectID) {
		return capture.Session{}, fmt.Errorf("%w: %q", store.ErrInvalidSubject, subjectID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return capture.Session{}, ErrClosed
	}

	if m.cur != nil {
		log.Info("replacing active session", "session", m.cur.session.ID)
		m.stopLocked(ErrPreempted)
	}

	s := capture.NewSession(mode, subjectID)
	ctx, cancel := context.WithCancelCause(context.Background())
	a := &active{session: s, cancel: cancel, done: make(chan struct{})}
	m.cur = a

	go m.run(ctx, a)

	return *s, nil
}

func (m *Manager) run(ctx context.Context, a *active) {
	res := m.runner.Run(ctx, a.session)
	if res.Outcome == capture.Stopped {
		log.Debug("session cancelled", "session", a.session.ID, "cause", context.Cause(ctx))
	}
	a.cancel(nil)

	if m.recorder != nil {
		if err := m.recorder.Record(context.Background(), res); err != nil {
			log.Warn("failed to record session", "session", a.session.ID, log.Err(err))
		}
	}

	a.result = res
	close(a.done)

	m.mu.Lock()
	if m.cur == a {
		m.cur = nil
		m.last = &a.result
	}
	m.mu.Unlock()
}

// stopLocked cancels the active session and waits for its loop to exit.
// m.mu must be held; run does not take the lock until after done is closed.
func (m *Manager) stopLocked(cause error) {
	a := m.cur
	if a == nil {
		return
	}
	a.cancel(cause)
	<-a.done
	m.cur = nil
	m.last = &a.result
}

// Stop cancels the active session and waits for it to finish. It reports
// whether a session was running; with none it is a no-op.
func (m *Manager) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur == nil {
		return false
	}
	m.stopLocked(ErrStopped)
	return true
}

// Active returns the running session, if any.
func (m *Manager) Active() (capture.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cur == nil {
		return capture.Session{}, false
	}
	return *m.cur.session, true
}

// Last returns the result of the most recently finished session.
func (m *Manager) Last() (capture.Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.last == nil {
		return capture.Result{}, false
	}
	return *m.last, true
}

// Close stops the active session and rejects new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.stopLocked(ErrClosed)
}
