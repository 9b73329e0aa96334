// Package vision provides the OpenCV stages of a palm scan: segmenting the
// hand to measure its tilt, and ORB feature matching between two frames.
//
// All types decode JPEG input themselves and are safe for concurrent use.
package vision

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyImage is returned when a frame does not decode to an image.
	ErrEmptyImage = errors.New("vision: empty image")
)

// Config holds the segmentation and feature matching parameters.
type Config struct {
	BlurKernel  int     `toml:"blur_kernel"`  // Gaussian kernel size, odd
	Threshold   float64 `toml:"threshold"`    // Seed for the binary threshold; Otsu picks the final value
	ORBFeatures int     `toml:"orb_features"` // Maximum keypoints per frame
}

// DefaultConfig returns the parameters the sensor housing was tuned with.
func DefaultConfig() Config {
	return Config{
		BlurKernel:  5,
		Threshold:   70,
		ORBFeatures: 500,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BlurKernel < 1 || c.BlurKernel%2 == 0 {
		return fmt.Errorf("blur kernel must be a positive odd number, got %d", c.BlurKernel)
	}
	if c.Threshold < 0 || c.Threshold > 255 {
		return fmt.Errorf("threshold must be between 0 and 255, got %.1f", c.Threshold)
	}
	if c.ORBFeatures < 10 {
		return fmt.Errorf("orb features must be at least 10, got %d", c.ORBFeatures)
	}
	return nil
}
