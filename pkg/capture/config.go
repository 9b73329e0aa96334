package capture

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-palm/pkg/positioning"
)

// Config holds the scan loop timing and distance band.
type Config struct {
	TickInterval time.Duration
	ProbeTimeout time.Duration
	Gate         positioning.Gate
}

// DefaultConfig returns a 100ms tick with a 40ms probe budget.
func DefaultConfig() Config {
	return Config{
		TickInterval: 100 * time.Millisecond,
		ProbeTimeout: 40 * time.Millisecond,
		Gate:         positioning.DefaultGate(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %v", c.TickInterval)
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe timeout must be positive, got %v", c.ProbeTimeout)
	}
	if c.ProbeTimeout >= c.TickInterval {
		return fmt.Errorf("probe timeout %v must be shorter than the tick %v", c.ProbeTimeout, c.TickInterval)
	}
	if c.Gate.Near <= 0 || c.Gate.Far <= c.Gate.Near {
		return fmt.Errorf("invalid distance band %.1f-%.1fcm", c.Gate.Near, c.Gate.Far)
	}
	return nil
}
