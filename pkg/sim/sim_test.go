package sim

import (
	"context"
	"math"
	"testing"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-palm/pkg/camera"
)

func TestRender(t *testing.T) {
	data, err := Render(DefaultScene())
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		t.Fatal("Render() did not produce a JPEG")
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		t.Fatalf("IMDecode() error = %v", err)
	}
	defer img.Close()
	if img.Cols() != 640 || img.Rows() != 480 {
		t.Errorf("size = %dx%d, want 640x480", img.Cols(), img.Rows())
	}

	if _, err := Render(Scene{}); err == nil {
		t.Error("expected error for zero-size scene")
	}
}

func TestRenderDeterministic(t *testing.T) {
	a, _ := Render(DefaultScene())
	b, _ := Render(DefaultScene())
	if string(a) != string(b) {
		t.Error("same scene should render identical frames")
	}
}

func TestCamera(t *testing.T) {
	cam := NewCamera(DefaultScene())

	if _, err := cam.CaptureJPEG(); err != nil {
		t.Fatalf("CaptureJPEG() error = %v", err)
	}
	cam.SetScene(Scene{Width: 320, Height: 240})
	if _, err := cam.CaptureJPEG(); err != nil {
		t.Fatalf("CaptureJPEG() error = %v", err)
	}
	if cam.Frames() != 2 {
		t.Errorf("Frames() = %d, want 2", cam.Frames())
	}

	cam.Close()
	if _, err := cam.CaptureJPEG(); err == nil {
		t.Error("expected error after Close")
	}
}

func TestDriverUsesConfiguredSize(t *testing.T) {
	cfg := camera.DefaultConfig()
	cfg.Width, cfg.Height = 320, 240

	c, err := Driver(DefaultScene())(cfg)
	if err != nil {
		t.Fatalf("driver error = %v", err)
	}
	defer c.Close()

	data, err := c.CaptureJPEG()
	if err != nil {
		t.Fatalf("CaptureJPEG() error = %v", err)
	}
	img, _ := gocv.IMDecode(data, gocv.IMReadGrayScale)
	defer img.Close()
	if img.Cols() != 320 || img.Rows() != 240 {
		t.Errorf("size = %dx%d, want 320x240", img.Cols(), img.Rows())
	}
}

func TestProbeConverges(t *testing.T) {
	p := NewProbe(35, 10, 7)
	ctx := context.Background()

	var last float64
	for i := 0; i < 30; i++ {
		d, err := p.Sample(ctx)
		if err != nil {
			t.Fatalf("Sample() error = %v", err)
		}
		last = d
	}
	if math.Abs(last-10) > 0.31 {
		t.Errorf("settled at %.1f, want 10±0.3", last)
	}

	p.Reset()
	d, _ := p.Sample(ctx)
	if d < 30 {
		t.Errorf("after Reset() distance = %.1f, want near start", d)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := p.Sample(cancelled); err == nil {
		t.Error("expected error for cancelled context")
	}
}
