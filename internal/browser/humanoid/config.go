// internal/browser/humanoid/config.go
package humanoid

import "math/rand"

// Config holds the parameters of the click simulation.
type Config struct {
	Rng *rand.Rand

	ClickHoldMinMs int
	ClickHoldMaxMs int

	// MoveSteps is the number of intermediate pointer moves before a press.
	MoveSteps int
	// MoveStepMs is the pause between two pointer moves.
	MoveStepMs int
	// Jitter is the standard deviation in pixels added to each intermediate move.
	Jitter float64
}

// DefaultConfig returns a configuration representing an average user.
func DefaultConfig() Config {
	return Config{
		ClickHoldMinMs: 50,
		ClickHoldMaxMs: 120,
		MoveSteps:      8,
		MoveStepMs:     12,
		Jitter:         1.5,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.ClickHoldMinMs <= 0 {
		c.ClickHoldMinMs = d.ClickHoldMinMs
	}
	if c.ClickHoldMaxMs < c.ClickHoldMinMs {
		c.ClickHoldMaxMs = c.ClickHoldMinMs
	}
	if c.MoveSteps < 0 {
		c.MoveSteps = 0
	}
	if c.MoveStepMs < 0 {
		c.MoveStepMs = 0
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
}
