package probe

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-palm/pkg/protocol"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		want    float64
		wantErr error
	}{
		{"12.3", 12.3, nil},
		{"  8 ", 8, nil},
		{"D=12.3", 12.3, nil},
		{"dist:4.5cm", 4.5, nil},
		{"Distance: 30 cm", 30, nil},
		{"-1", Sentinel, ErrNoReading},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseLine(%q) error = %v, want %v", tt.line, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLine(%q) error = %v", tt.line, err)
			}
			if got != tt.want {
				t.Errorf("ParseLine(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}

	if _, err := ParseLine("garbage"); err == nil {
		t.Error("expected error for garbage line")
	}
}

func TestSerialOptionsNormalize(t *testing.T) {
	opts, err := SerialOptions{Path: "/dev/ttyUSB0"}.Normalize()
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if opts.BaudRate != 9600 || opts.DataBits != 8 || opts.StopBits != 1 || opts.Parity != "N" {
		t.Errorf("unexpected defaults: %+v", opts)
	}
	if opts.Trigger == "" {
		t.Error("trigger should default")
	}

	bad := []SerialOptions{
		{},
		{Path: "/dev/ttyUSB0", DataBits: 9},
		{Path: "/dev/ttyUSB0", StopBits: 3},
		{Path: "/dev/ttyUSB0", Parity: "mark"},
	}
	for _, o := range bad {
		if _, err := o.Normalize(); err == nil {
			t.Errorf("Normalize(%+v) should fail", o)
		}
	}

	mode, err := SerialOptions{Path: "/dev/ttyUSB0", BaudRate: 115200, Parity: "even"}.Mode()
	if err != nil {
		t.Fatalf("Mode() error = %v", err)
	}
	if mode.BaudRate != 115200 {
		t.Errorf("BaudRate = %d, want 115200", mode.BaudRate)
	}
}

func TestSerialSample(t *testing.T) {
	port := NewMockPort("D=12.5\n", "\r\n9.0\n", "-1\n")
	s := NewSerial(port, "M\n")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := s.Sample(ctx)
	if err != nil || got != 12.5 {
		t.Fatalf("Sample() = %v, %v, want 12.5", got, err)
	}

	// Blank lines are skipped.
	got, err = s.Sample(ctx)
	if err != nil || got != 9.0 {
		t.Fatalf("Sample() = %v, %v, want 9.0", got, err)
	}

	if _, err := s.Sample(ctx); !errors.Is(err, ErrNoReading) {
		t.Errorf("Sample() error = %v, want ErrNoReading", err)
	}

	// No more responses: the read returns nothing and times out.
	if _, err := s.Sample(ctx); !errors.Is(err, ErrTimeout) {
		t.Errorf("Sample() error = %v, want ErrTimeout", err)
	}

	if port.Resets != 4 {
		t.Errorf("Resets = %d, want 4", port.Resets)
	}
	if string(port.Written) != "M\nM\nM\nM\n" {
		t.Errorf("Written = %q", port.Written)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := s.Sample(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Sample() after close error = %v, want ErrClosed", err)
	}
}

func TestStatic(t *testing.T) {
	got, err := Static{Distance: 10}.Sample(context.Background())
	if err != nil || got != 10 {
		t.Errorf("Sample() = %v, %v, want 10", got, err)
	}

	if _, err := (Static{}).Sample(context.Background()); !errors.Is(err, ErrNoReading) {
		t.Errorf("Sample() error = %v, want ErrNoReading", err)
	}
}

func TestScripted(t *testing.T) {
	s := NewScripted(30, -1, 10)
	ctx := context.Background()

	if v, err := s.Sample(ctx); err != nil || v != 30 {
		t.Errorf("first = %v, %v", v, err)
	}
	if _, err := s.Sample(ctx); !errors.Is(err, ErrTimeout) {
		t.Errorf("second error = %v, want ErrTimeout", err)
	}
	for i := 0; i < 3; i++ {
		if v, err := s.Sample(ctx); err != nil || v != 10 {
			t.Errorf("repeat = %v, %v, want 10", v, err)
		}
	}
	if s.Calls() != 5 {
		t.Errorf("Calls() = %d, want 5", s.Calls())
	}
}

func TestRemoteSample(t *testing.T) {
	r := NewRemote(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.Sample(ctx); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Sample() with no readings error = %v, want ErrTimeout", err)
	}

	r.Push(protocol.ProbeReading{DistanceCm: 11})
	v, err := r.Sample(context.Background())
	if err != nil || v != 11 {
		t.Fatalf("Sample() = %v, %v, want 11", v, err)
	}

	r.Push(protocol.ProbeReading{DistanceCm: -1})
	if _, err := r.Sample(context.Background()); !errors.Is(err, ErrNoReading) {
		t.Errorf("Sample() error = %v, want ErrNoReading", err)
	}
}

func TestRemoteStaleReading(t *testing.T) {
	r := NewRemote(50 * time.Millisecond)
	now := time.Now()
	r.now = func() time.Time { return now }

	r.Push(protocol.ProbeReading{DistanceCm: 8})
	now = now.Add(time.Second)

	done := make(chan float64, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		v, _ := r.Sample(ctx)
		done <- v
	}()

	// The stale reading must not be returned; a fresh push wakes the waiter.
	time.Sleep(20 * time.Millisecond)
	r.Push(protocol.ProbeReading{DistanceCm: 9})

	select {
	case v := <-done:
		if v != 9 {
			t.Errorf("Sample() = %v, want 9", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Sample() did not wake on push")
	}
}

func TestRemoteWebSocket(t *testing.T) {
	r := NewRemote(time.Second)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	r.RegisterRoutes(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)
	defer app.Shutdown()

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/probe/node-1", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"distance_cm":12.5}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for r.Received() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	v, err := r.Sample(context.Background())
	if err != nil || v != 12.5 {
		t.Fatalf("Sample() = %v, %v, want 12.5", v, err)
	}

	nodes := r.Nodes()
	if len(nodes) != 1 || nodes[0].ID != "node-1" {
		t.Errorf("Nodes() = %+v", nodes)
	}
}
