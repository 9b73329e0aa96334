// Package sim provides a synthetic camera and distance probe so the daemon
// and its tests can run a complete scan without hardware. Frames show a dark
// textured hand on a light background, rendered with OpenCV.
package sim

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"
	"sync"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-palm/pkg/camera"
	"github.com/teslashibe/go-palm/pkg/capture"
)

// Scene describes one synthetic frame.
type Scene struct {
	Width       int
	Height      int
	HandPresent bool
	Angle       float64 // degrees, positive rotates clockwise
	Seed        int64   // selects the palm texture
}

// DefaultScene is an upright hand in a 640x480 frame.
func DefaultScene() Scene {
	return Scene{Width: 640, Height: 480, HandPresent: true, Seed: 1}
}

var (
	background = gocv.NewScalar(225, 225, 225, 0)
	skin       = color.RGBA{R: 45, G: 50, B: 60, A: 0}
)

// Render draws the scene and encodes it as JPEG.
func Render(s Scene) ([]byte, error) {
	if s.Width <= 0 || s.Height <= 0 {
		return nil, fmt.Errorf("invalid scene size %dx%d", s.Width, s.Height)
	}

	img := gocv.NewMatWithSizeFromScalar(background, s.Height, s.Width, gocv.MatTypeCV8UC3)
	defer img.Close()

	if s.HandPresent {
		drawHand(&img, s)
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode scene: %w", err)
	}
	defer buf.Close()

	return bytes.Clone(buf.GetBytes()), nil
}

func drawHand(img *gocv.Mat, s Scene) {
	w := float64(s.Width) * 0.35
	h := float64(s.Height) * 0.62
	cx := float64(s.Width) / 2
	cy := float64(s.Height) / 2
	rad := s.Angle * math.Pi / 180
	sin, cos := math.Sincos(rad)

	// local (x, y) relative to the hand centre -> image point
	place := func(x, y float64) image.Point {
		return image.Pt(int(math.Round(cx+x*cos-y*sin)), int(math.Round(cy+x*sin+y*cos)))
	}

	outline := []image.Point{
		place(-w/2, -h/2),
		place(w/2, -h/2),
		place(w/2, h/2),
		place(-w/2, h/2),
	}
	pv := gocv.NewPointsVectorFromPoints([][]image.Point{outline})
	defer pv.Close()
	gocv.FillPoly(img, pv, skin)

	// Palm texture: small mid-grey patches give ORB corners to lock onto.
	rng := rand.New(rand.NewSource(s.Seed))
	margin := 15.0
	for i := 0; i < 60; i++ {
		x := (rng.Float64() - 0.5) * (w - 2*margin)
		y := (rng.Float64() - 0.5) * (h - 2*margin)
		p := place(x, y)
		size := 3 + rng.Intn(4)
		shade := uint8(85 + rng.Intn(45))
		gocv.Rectangle(img, image.Rect(p.X-size, p.Y-size, p.X+size, p.Y+size),
			color.RGBA{R: shade, G: shade, B: shade, A: 0}, -1)
	}
}

// Camera serves rendered frames of a scene that can be changed while a
// session runs.
type Camera struct {
	mu     sync.Mutex
	scene  Scene
	frames int
	closed bool
}

var _ capture.Camera = (*Camera)(nil)

// NewCamera creates a synthetic camera.
func NewCamera(scene Scene) *Camera {
	return &Camera{scene: scene}
}

// SetScene replaces the scene used for subsequent frames.
func (c *Camera) SetScene(s Scene) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scene = s
}

// CaptureJPEG renders the current scene.
func (c *Camera) CaptureJPEG() ([]byte, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("sim: camera closed")
	}
	s := c.scene
	c.frames++
	c.mu.Unlock()

	return Render(s)
}

// Frames returns how many frames were captured.
func (c *Camera) Frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Close marks the camera closed.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Driver returns a camera.Driver that renders scene at the configured size.
func Driver(scene Scene) camera.Driver {
	return func(cfg camera.Config) (capture.Camera, error) {
		s := scene
		s.Width, s.Height = cfg.Width, cfg.Height
		return NewCamera(s), nil
	}
}

// Probe simulates a hand moving from Start toward Target, a fixed step per
// sample, with a little measurement noise.
type Probe struct {
	mu       sync.Mutex
	rng      *rand.Rand
	start    float64
	target   float64
	step     float64
	jitter   float64
	distance float64
}

// NewProbe creates a probe that starts at start cm and settles at target cm.
func NewProbe(start, target float64, seed int64) *Probe {
	return &Probe{
		rng:      rand.New(rand.NewSource(seed)),
		start:    start,
		target:   target,
		step:     1.5,
		jitter:   0.3,
		distance: start,
	}
}

// Sample returns the next simulated distance.
func (p *Probe) Sample(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.distance > p.target+p.step:
		p.distance -= p.step
	case p.distance < p.target-p.step:
		p.distance += p.step
	default:
		p.distance = p.target
	}

	d := p.distance + (p.rng.Float64()*2-1)*p.jitter
	return math.Round(d*10) / 10, nil
}

// Reset moves the hand back to the start distance.
func (p *Probe) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.distance = p.start
}
