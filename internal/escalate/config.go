package escalate

import (
	"errors"
	"fmt"
)

// Config is the escalation policy of one jail. Durations are seconds.
type Config struct {
	// BanTime is the duration of a first ban, and of every ban when
	// escalation is disabled. Negative means permanent.
	BanTime int64

	Enabled bool

	// Multipliers scale BanTime by the number of prior bans. The first
	// entry is conventionally 1.
	Multipliers []float64

	// MaxTime caps escalated durations. Zero or negative means uncapped.
	MaxTime int64

	// ResetAfter only counts prior bans newer than this many seconds.
	// Zero means history never expires.
	ResetAfter int64

	// OverallJails counts prior bans from every jail, not just this one.
	OverallJails bool
}

// DefaultMultipliers doubles the ban time on each repeat up to 64x.
var DefaultMultipliers = []float64{1, 2, 4, 8, 16, 32, 64}

// DefaultConfig returns a disabled policy with a ten minute ban time.
func DefaultConfig() Config {
	m := make([]float64, len(DefaultMultipliers))
	copy(m, DefaultMultipliers)
	return Config{
		BanTime:     600,
		Multipliers: m,
	}
}

// Validate reports the first problem with the config.
func (c Config) Validate() error {
	if c.BanTime == 0 {
		return errors.New("bantime must be non-zero")
	}
	if c.Enabled && len(c.Multipliers) == 0 {
		return errors.New("multipliers must not be empty when escalation is enabled")
	}
	for i, m := range c.Multipliers {
		if m <= 0 {
			return fmt.Errorf("multiplier %d must be positive, got %g", i, m)
		}
	}
	if c.ResetAfter < 0 {
		return fmt.Errorf("reset_after must not be negative, got %d", c.ResetAfter)
	}
	return nil
}
