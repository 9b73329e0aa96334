// Package camera provides runtime-configurable capture settings and the
// OpenCV-backed device that produces scan frames.
package camera

// Config holds all camera configuration parameters.
// These can be modified via the camera API at runtime; changes apply to the
// next session since each session opens the device afresh.
type Config struct {
	// Device is a V4L2 index ("0") or a path/URL understood by OpenCV.
	Device string `json:"device" toml:"device"`

	// === Resolution ===
	Width     int `json:"width" toml:"width"`         // Frame width in pixels
	Height    int `json:"height" toml:"height"`       // Frame height in pixels
	Framerate int `json:"framerate" toml:"framerate"` // Target FPS
	Quality   int `json:"quality" toml:"quality"`     // JPEG quality 1-100

	// === Exposure ===
	// Brightness is passed to the driver as-is. 0 leaves the driver default.
	Brightness float64 `json:"brightness" toml:"brightness"`

	// Exposure is the driver exposure value. 0 means auto.
	Exposure float64 `json:"exposure" toml:"exposure"`
}

// Frame limits accepted by Validate.
const (
	MaxWidth  = 1920
	MaxHeight = 1080
)

// DefaultConfig returns 640x480, which is plenty for a palm held 5-20cm
// from the lens and keeps ORB matching fast.
func DefaultConfig() Config {
	return Config{
		Device:    "0",
		Width:     640,
		Height:    480,
		Framerate: 30,
		Quality:   90,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Device == "" {
		errors = append(errors, "device is required")
	}

	// Resolution
	if c.Width < 160 || c.Width > MaxWidth {
		errors = append(errors, "width must be between 160 and 1920")
	}
	if c.Height < 120 || c.Height > MaxHeight {
		errors = append(errors, "height must be between 120 and 1080")
	}
	if c.Framerate < 1 || c.Framerate > 120 {
		errors = append(errors, "framerate must be between 1 and 120")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}

	if c.Exposure < 0 {
		errors = append(errors, "exposure must be 0 (auto) or positive")
	}

	return errors
}
