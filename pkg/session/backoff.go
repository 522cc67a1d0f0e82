package session

import "time"

const (
	// DefaultBackoffBase is the delay before the first reconnect attempt.
	DefaultBackoffBase = time.Second

	// DefaultBackoffCap is the ceiling for the reconnect delay.
	DefaultBackoffCap = 30 * time.Second

	// DefaultMaxRetries is how many transient drops are tolerated before
	// the session is marked disconnected.
	DefaultMaxRetries = 5
)

// Config holds the reconnect policy.
type Config struct {
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxRetries  int
}

// DefaultConfig returns the default reconnect policy.
func DefaultConfig() Config {
	return Config{
		BackoffBase: DefaultBackoffBase,
		BackoffCap:  DefaultBackoffCap,
		MaxRetries:  DefaultMaxRetries,
	}
}

func (c Config) normalize() Config {
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// Delay returns the backoff delay before reconnect attempt retry (0-based):
// base doubled per prior drop, capped. With defaults the sequence is 1s,
// 2s, 4s, 8s, 16s.
func (c Config) Delay(retry int) time.Duration {
	delay := c.BackoffBase << uint(retry)
	if delay > c.BackoffCap || delay <= 0 {
		return c.BackoffCap
	}
	return delay
}
