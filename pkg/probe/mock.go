package probe

import (
	"context"
	"io"
	"sync"
	"time"
)

// Scripted replays a fixed sequence of distances, then repeats the last one.
// Negative entries behave like a sensor timeout.
// Used by tests.
type Scripted struct {
	mu     sync.Mutex
	values []float64
	next   int
	calls  int
}

// NewScripted creates a scripted probe.
func NewScripted(values ...float64) *Scripted {
	return &Scripted{values: values}
}

// Sample returns the next scripted value.
func (s *Scripted) Sample(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return Sentinel, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if len(s.values) == 0 {
		return Sentinel, ErrTimeout
	}

	v := s.values[s.next]
	if s.next < len(s.values)-1 {
		s.next++
	}
	if v < 0 {
		return Sentinel, ErrTimeout
	}
	return v, nil
}

// Calls returns how many times Sample was called.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// MockPort is an in-memory Port. Each trigger written to it queues the next
// canned response for reading.
type MockPort struct {
	mu        sync.Mutex
	responses []string
	pending   []byte
	Written   []byte
	Resets    int
	Closed    bool
}

var _ Port = (*MockPort)(nil)

// NewMockPort creates a port that answers triggers with responses in order.
func NewMockPort(responses ...string) *MockPort {
	return &MockPort{responses: responses}
}

func (m *MockPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Written = append(m.Written, p...)
	if len(m.responses) > 0 {
		m.pending = append(m.pending, m.responses[0]...)
		m.responses = m.responses[1:]
	}
	return len(p), nil
}

// Read returns queued bytes, or (0, nil) like a serial port read timeout.
func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Closed {
		return 0, io.EOF
	}
	n := copy(p, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

func (m *MockPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

func (m *MockPort) SetReadTimeout(time.Duration) error { return nil }

// ResetInputBuffer drops unread bytes.
func (m *MockPort) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resets++
	m.pending = nil
	return nil
}
