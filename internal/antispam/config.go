package antispam

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the limiter thresholds. Values are read once at startup.
type Config struct {
	Interval           time.Duration
	WarningCooldown    time.Duration
	WarningsBeforeMute int
	WarningWindow      time.Duration
	MuteDurations      []time.Duration
	Exempt             []int64
}

// DefaultConfig mirrors the production settings of the shop bot.
func DefaultConfig() Config {
	return Config{
		Interval:           time.Second,
		WarningCooldown:    5 * time.Second,
		WarningsBeforeMute: 3,
		WarningWindow:      time.Minute,
		MuteDurations: []time.Duration{
			5 * time.Minute,
			30 * time.Minute,
			time.Hour,
			3 * time.Hour,
		},
	}
}

var ErrEmptyLadder = errors.New("antispam: mute ladder is empty")

// Validate checks that the thresholds describe a usable state machine.
// The mute ladder must be non-decreasing so that repeat offenders never get
// a shorter mute than before.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("antispam: interval must be positive, got %s", c.Interval)
	}
	if c.WarningCooldown < 0 {
		return fmt.Errorf("antispam: warning cooldown must not be negative, got %s", c.WarningCooldown)
	}
	if c.WarningsBeforeMute < 1 {
		return fmt.Errorf("antispam: warnings before mute must be >= 1, got %d", c.WarningsBeforeMute)
	}
	if c.WarningWindow <= 0 {
		return fmt.Errorf("antispam: warning window must be positive, got %s", c.WarningWindow)
	}
	if len(c.MuteDurations) == 0 {
		return ErrEmptyLadder
	}
	for i, d := range c.MuteDurations {
		if d <= 0 {
			return fmt.Errorf("antispam: mute duration #%d must be positive, got %s", i, d)
		}
		if i > 0 && d < c.MuteDurations[i-1] {
			return fmt.Errorf("antispam: mute ladder must be non-decreasing (%s after %s)", d, c.MuteDurations[i-1])
		}
	}
	return nil
}
