package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Port is the subset of serial.Port used by the probe.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// SerialOptions describes the serial connection to the sensor board.
type SerialOptions struct {
	Path     string `toml:"serial_port" json:"serial_port"`
	BaudRate int    `toml:"baud_rate" json:"baud_rate"`
	DataBits int    `toml:"data_bits" json:"data_bits"`
	StopBits int    `toml:"stop_bits" json:"stop_bits"`
	Parity   string `toml:"parity" json:"parity"`
	Trigger  string `toml:"trigger" json:"trigger"` // sent before each read
}

// Normalize validates the options and applies defaults for any unset values.
func (o SerialOptions) Normalize() (SerialOptions, error) {
	opts := o

	if opts.Path == "" {
		return opts, fmt.Errorf("serial port path is required")
	}
	if opts.BaudRate <= 0 {
		opts.BaudRate = 9600
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	if opts.Trigger == "" {
		opts.Trigger = "M\n"
	}
	return opts, nil
}

// Mode converts the options into the serial.Mode used to open the port.
func (o SerialOptions) Mode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
	}

	switch opts.StopBits {
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}

	return mode, nil
}

// Serial reads distances from a microcontroller that answers each trigger
// with one line holding the measured distance in centimetres.
type Serial struct {
	port    Port
	trigger []byte
	mu      sync.Mutex
	closed  bool
}

// OpenSerial opens the serial port described by opts.
func OpenSerial(opts SerialOptions) (*Serial, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := opts.Mode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(opts.Path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Path, err)
	}
	return NewSerial(port, opts.Trigger), nil
}

// NewSerial wraps an already open port.
func NewSerial(port Port, trigger string) *Serial {
	return &Serial{port: port, trigger: []byte(trigger)}
}

// Sample triggers one measurement and waits for the answer line.
func (s *Serial) Sample(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Sentinel, ErrClosed
	}

	until := deadline(ctx)

	// Drop lines left over from earlier triggers.
	if err := s.port.ResetInputBuffer(); err != nil {
		return Sentinel, fmt.Errorf("reset input: %w", err)
	}
	if len(s.trigger) > 0 {
		if _, err := s.port.Write(s.trigger); err != nil {
			return Sentinel, fmt.Errorf("write trigger: %w", err)
		}
	}

	var line []byte
	chunk := make([]byte, 32)
	for {
		if err := ctx.Err(); err != nil {
			return Sentinel, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		remaining := time.Until(until)
		if remaining <= 0 {
			return Sentinel, ErrTimeout
		}
		if err := s.port.SetReadTimeout(remaining); err != nil {
			return Sentinel, fmt.Errorf("set read timeout: %w", err)
		}

		n, err := s.port.Read(chunk)
		if err != nil {
			return Sentinel, fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			return Sentinel, ErrTimeout
		}
		line = append(line, chunk[:n]...)

		for {
			i := bytes.IndexByte(line, '\n')
			if i < 0 {
				break
			}
			text := strings.TrimSpace(string(line[:i]))
			line = line[i+1:]
			if text == "" {
				continue
			}
			return ParseLine(text)
		}
	}
}

// Close closes the serial port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}

// ParseLine parses a distance line. Accepted forms: "12.3", "D=12.3",
// "dist:12.3cm". Negative values are the board's own timeout marker.
func ParseLine(line string) (float64, error) {
	s := strings.ToLower(strings.TrimSpace(line))
	for _, prefix := range []string{"d=", "dist:", "distance:", "dist="} {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimSpace(s[len(prefix):])
			break
		}
	}
	s = strings.TrimSpace(strings.TrimSuffix(s, "cm"))

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Sentinel, fmt.Errorf("parse %q: %w", line, err)
	}
	if v < 0 {
		return Sentinel, ErrNoReading
	}
	return v, nil
}
