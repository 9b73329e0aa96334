package camera

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// ErrNoFrame is returned when the device produced no image.
var ErrNoFrame = errors.New("camera: no frame")

// Device is an opened OpenCV capture device producing JPEG frames.
type Device struct {
	vc      *gocv.VideoCapture
	frame   gocv.Mat
	quality int
	mu      sync.Mutex
	closed  bool
}

// OpenDevice opens the capture device described by cfg.
func OpenDevice(cfg Config) (*Device, error) {
	var src any = cfg.Device
	if idx, err := strconv.Atoi(cfg.Device); err == nil {
		src = idx
	}

	vc, err := gocv.OpenVideoCapture(src)
	if err != nil {
		return nil, fmt.Errorf("open camera %s: %w", cfg.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open camera %s: device not available", cfg.Device)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	vc.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
	if cfg.Brightness != 0 {
		vc.Set(gocv.VideoCaptureBrightness, cfg.Brightness)
	}
	if cfg.Exposure > 0 {
		vc.Set(gocv.VideoCaptureExposure, cfg.Exposure)
	}

	return &Device{
		vc:      vc,
		frame:   gocv.NewMat(),
		quality: cfg.Quality,
	}, nil
}

// CaptureJPEG reads one frame and encodes it as JPEG.
func (d *Device) CaptureJPEG() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errors.New("camera: device closed")
	}

	if ok := d.vc.Read(&d.frame); !ok || d.frame.Empty() {
		return nil, ErrNoFrame
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, d.frame, []int{gocv.IMWriteJpegQuality, d.quality})
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	return bytes.Clone(buf.GetBytes()), nil
}

// Close releases the device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	d.frame.Close()
	return d.vc.Close()
}
