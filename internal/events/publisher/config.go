package publisher

import (
	"fmt"
	"time"

	"hireloop/internal/platform/retry"
)

// Overflow policies applied when an event cannot be delivered.
const (
	OverflowPersist = "persist"
	OverflowDrop    = "drop"
)

// Config tunes lanes, delivery bounds and the exhaustion policy.
// OverflowQueue bounds events waiting for the overflow writer.
type Config struct {
	Lanes            int           `yaml:"lanes"`
	LaneBuffer       int           `yaml:"lane_buffer"`
	PublishDeadline  time.Duration `yaml:"publish_deadline"`
	Retry            retry.Policy  `yaml:"retry"`
	OverflowPolicy   string        `yaml:"overflow_policy"`
	OverflowTimeout  time.Duration `yaml:"overflow_timeout"`
	OverflowQueue    int           `yaml:"overflow_queue"`
	DrainTimeout     time.Duration `yaml:"drain_timeout"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Lanes:           8,
		LaneBuffer:      1024,
		PublishDeadline: 10 * time.Second,
		Retry: retry.Policy{
			MaxAttempts: 5,
			BaseDelay:   100 * time.Millisecond,
			Multiplier:  2,
			MaxDelay:    2 * time.Second,
			Jitter:      0.2,
		},
		OverflowPolicy:   OverflowPersist,
		OverflowTimeout:  2 * time.Second,
		OverflowQueue:    4096,
		DrainTimeout:     10 * time.Second,
		BreakerThreshold: 5,
	}
}

// Validate reports configuration that cannot work.
func (c Config) Validate() error {
	if c.Lanes <= 0 {
		return fmt.Errorf("publisher lanes must be positive, got %d", c.Lanes)
	}
	if c.LaneBuffer < 0 {
		return fmt.Errorf("publisher lane buffer must not be negative, got %d", c.LaneBuffer)
	}
	if c.PublishDeadline <= 0 {
		return fmt.Errorf("publisher publish deadline must be positive")
	}
	if c.OverflowQueue < 0 {
		return fmt.Errorf("publisher overflow queue must not be negative, got %d", c.OverflowQueue)
	}
	switch c.OverflowPolicy {
	case OverflowPersist, OverflowDrop:
	default:
		return fmt.Errorf("unknown overflow policy %q", c.OverflowPolicy)
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Lanes <= 0 {
		c.Lanes = d.Lanes
	}
	if c.PublishDeadline <= 0 {
		c.PublishDeadline = d.PublishDeadline
	}
	if c.OverflowPolicy == "" {
		c.OverflowPolicy = d.OverflowPolicy
	}
	if c.OverflowTimeout <= 0 {
		c.OverflowTimeout = d.OverflowTimeout
	}
	if c.OverflowQueue <= 0 {
		c.OverflowQueue = d.OverflowQueue
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = d.BreakerThreshold
	}
	return c
}
