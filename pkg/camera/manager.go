package camera

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/teslashibe/go-palm/pkg/capture"
)

// Driver opens a camera for the given configuration.
type Driver func(cfg Config) (capture.Camera, error)

// OpenCV is the Driver backed by a local capture device.
func OpenCV(cfg Config) (capture.Camera, error) {
	return OpenDevice(cfg)
}

// Manager holds the current camera configuration and opens the camera for
// each scan session.
type Manager struct {
	config Config
	driver Driver
	mu     sync.RWMutex

	// Callback when config changes
	OnConfigChange func(cfg Config) error
}

// NewManager creates a new camera manager. A nil driver uses OpenCV.
func NewManager(cfg Config, driver Driver) (*Manager, error) {
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("validation failed: %v", errs)
	}
	if driver == nil {
		driver = OpenCV
	}
	return &Manager{config: cfg, driver: driver}, nil
}

// Open acquires the camera with the current configuration.
func (m *Manager) Open() (capture.Camera, error) {
	m.mu.RLock()
	cfg := m.config
	driver := m.driver
	m.mu.RUnlock()

	return driver(cfg)
}

// GetConfig returns the current camera configuration.
func (m *Manager) GetConfig() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SetConfig updates the camera configuration.
func (m *Manager) SetConfig(cfg Config) error {
	// Validate
	if errors := cfg.Validate(); len(errors) > 0 {
		return fmt.Errorf("validation failed: %v", errors)
	}

	m.mu.Lock()
	m.config = cfg
	callback := m.OnConfigChange
	m.mu.Unlock()

	// Notify callback if set
	if callback != nil {
		if err := callback(cfg); err != nil {
			return fmt.Errorf("failed to apply config: %w", err)
		}
	}

	return nil
}

// UpdateConfig updates specific fields of the configuration.
// Accepts a map of field names to values; unknown keys are ignored.
func (m *Manager) UpdateConfig(params map[string]any) error {
	cfg := m.GetConfig()

	for key, value := range params {
		switch key {
		case "device":
			switch v := value.(type) {
			case string:
				cfg.Device = v
			default:
				if i, ok := toInt(v); ok {
					cfg.Device = fmt.Sprint(i)
				}
			}
		case "width":
			if v, ok := toInt(value); ok {
				cfg.Width = v
			}
		case "height":
			if v, ok := toInt(value); ok {
				cfg.Height = v
			}
		case "framerate":
			if v, ok := toInt(value); ok {
				cfg.Framerate = v
			}
		case "quality":
			if v, ok := toInt(value); ok {
				cfg.Quality = v
			}
		case "brightness":
			if v, ok := toFloat(value); ok {
				cfg.Brightness = v
			}
		case "exposure":
			if v, ok := toFloat(value); ok {
				cfg.Exposure = v
			}
		}
	}

	return m.SetConfig(cfg)
}

// GetConfigJSON returns the current config as a map for JSON serialization.
func (m *Manager) GetConfigJSON() (map[string]any, error) {
	cfg := m.GetConfig()

	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode camera config: %w", err)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode camera config: %w", err)
	}

	return result, nil
}

// Helper functions for type conversion

func toInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		if err == nil {
			return f, true
		}
	}
	return 0, false
}
