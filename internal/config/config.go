// Package config loads palmd's configuration: defaults, then an optional
// TOML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/teslashibe/go-palm/internal/log"
	"github.com/teslashibe/go-palm/pkg/camera"
	"github.com/teslashibe/go-palm/pkg/capture"
	"github.com/teslashibe/go-palm/pkg/positioning"
	"github.com/teslashibe/go-palm/pkg/probe"
	"github.com/teslashibe/go-palm/pkg/vision"
)

// Probe backends.
const (
	ProbeSerial = "serial" // Ultrasonic sensor on a serial port
	ProbeRemote = "remote" // Sensor node pushing over /ws/probe
	ProbeStatic = "static" // Fixed distance
	ProbeSim    = "sim"    // Simulated probe and camera
)

// Default values.
const (
	DefaultPort     = "5000"
	DefaultProbe    = ProbeSim
	DefaultLogLevel = "info"
)

// Config is the full daemon configuration.
type Config struct {
	LogLevel string        `toml:"log_level"`
	Server   ServerConfig  `toml:"server"`
	Storage  StorageConfig `toml:"storage"`
	Camera   camera.Config `toml:"camera"`
	Probe    ProbeConfig   `toml:"probe"`
	Scan     ScanConfig    `toml:"scan"`
	Vision   vision.Config `toml:"vision"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port  string `toml:"port"`
	Debug bool   `toml:"debug"` // HTTP access log
}

// StorageConfig locates the reference images and the history database.
type StorageConfig struct {
	DataDir   string `toml:"data_dir"`
	HistoryDB string `toml:"history_db"` // Defaults to <data_dir>/history.db
}

// ProbeConfig selects and configures the distance probe.
type ProbeConfig struct {
	Kind string `toml:"kind"`
	probe.SerialOptions
	TimeoutMs int     `toml:"timeout_ms"`
	MaxAgeMs  int     `toml:"max_age_ms"` // Remote readings older than this are stale
	Distance  float64 `toml:"distance"`   // Static reading in cm
}

// ScanConfig tunes the capture loop.
type ScanConfig struct {
	TickMs int     `toml:"tick_ms"`
	NearCm float64 `toml:"near_cm"`
	FarCm  float64 `toml:"far_cm"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() Config {
	gate := positioning.DefaultGate()
	return Config{
		LogLevel: DefaultLogLevel,
		Server:   ServerConfig{Port: DefaultPort},
		Storage:  StorageConfig{DataDir: DefaultDataDir()},
		Camera:   camera.DefaultConfig(),
		Probe: ProbeConfig{
			Kind:          DefaultProbe,
			SerialOptions: probe.SerialOptions{Path: "/dev/ttyUSB0", BaudRate: 9600},
			TimeoutMs:     int(probe.DefaultTimeout / time.Millisecond),
			MaxAgeMs:      int(probe.DefaultMaxAge / time.Millisecond),
		},
		Scan: ScanConfig{
			TickMs: 100,
			NearCm: gate.Near,
			FarCm:  gate.Far,
		},
		Vision: vision.DefaultConfig(),
	}
}

// Load reads the TOML file at path over the defaults and applies environment
// overrides. A missing file is not an error; an empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			md, err := toml.DecodeFile(path, &cfg)
			if err != nil {
				return cfg, fmt.Errorf("failed to decode config: %w", err)
			}
			for _, key := range md.Undecoded() {
				log.Warn("unknown config key", "key", key.String(), "file", path)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to stat config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides settings from PALM_* variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("PALM_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("PALM_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("PALM_PROBE"); v != "" {
		c.Probe.Kind = strings.ToLower(v)
	}
	if v := os.Getenv("PALM_SERIAL_PORT"); v != "" {
		c.Probe.Path = v
	}
	if v := os.Getenv("PALM_CAMERA_DEVICE"); v != "" {
		c.Camera.Device = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the whole configuration and reports every problem found.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir is required"))
	}

	for _, msg := range c.Camera.Validate() {
		errs = append(errs, fmt.Errorf("camera: %s", msg))
	}

	switch c.Probe.Kind {
	case ProbeSerial:
		if _, err := c.Probe.SerialOptions.Normalize(); err != nil {
			errs = append(errs, fmt.Errorf("probe: %w", err))
		}
	case ProbeRemote:
		if c.Probe.MaxAgeMs <= 0 {
			errs = append(errs, errors.New("probe.max_age_ms must be positive"))
		}
	case ProbeStatic, ProbeSim:
	default:
		errs = append(errs, fmt.Errorf("probe.kind %q: expected serial, remote, static or sim", c.Probe.Kind))
	}

	if err := c.CaptureConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scan: %w", err))
	}
	if err := c.Vision.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("vision: %w", err))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return ":" + c.Server.Port
}

// ReferenceDir is where enrolled palm images are stored.
func (c Config) ReferenceDir() string {
	return filepath.Join(c.Storage.DataDir, "references")
}

// HistoryPath is the session history database.
func (c Config) HistoryPath() string {
	if c.Storage.HistoryDB != "" {
		return c.Storage.HistoryDB
	}
	return filepath.Join(c.Storage.DataDir, "history.db")
}

// ProbeTimeout bounds one distance read.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Probe.TimeoutMs) * time.Millisecond
}

// ProbeMaxAge is how long a remote reading stays fresh.
func (c Config) ProbeMaxAge() time.Duration {
	return time.Duration(c.Probe.MaxAgeMs) * time.Millisecond
}

// CaptureConfig returns the capture loop settings.
func (c Config) CaptureConfig() capture.Config {
	return capture.Config{
		TickInterval: time.Duration(c.Scan.TickMs) * time.Millisecond,
		ProbeTimeout: c.ProbeTimeout(),
		Gate:         positioning.Gate{Near: c.Scan.NearCm, Far: c.Scan.FarCm},
	}
}
