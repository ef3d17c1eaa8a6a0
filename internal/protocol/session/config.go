package session

import "time"

// Config defines reception limits.
type Config struct {
	// MaxSize is the receive buffer capacity, header included.
	MaxSize int
	// TimeoutTicks is the number of consecutive idle poll ticks before eviction.
	TimeoutTicks int
	// PollInterval is the tick period the server uses to drive Tick.
	PollInterval time.Duration
}

// DefaultConfig returns the reference device limits.
func DefaultConfig() Config {
	return Config{
		MaxSize:      1024,
		TimeoutTicks: 60,
		PollInterval: 500 * time.Millisecond,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.MaxSize <= 0 {
		c.MaxSize = def.MaxSize
	}
	if c.TimeoutTicks <= 0 {
		c.TimeoutTicks = def.TimeoutTicks
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	return c
}
