package batch

import "time"

const (
	// DefaultMaxConcurrent caps in-flight provider calls per batch.
	DefaultMaxConcurrent = 10

	// DefaultMaxRetries is how often a transient failure is retried
	// before the address is reported as failed.
	DefaultMaxRetries = 3

	// DefaultBaseDelay seeds the exponential backoff: attempt n waits
	// base * 2^(n-1), capped at DefaultMaxDelay.
	DefaultBaseDelay = 1 * time.Second
	DefaultMaxDelay  = 30 * time.Second

	// DefaultPerRequestTimeout bounds one provider round trip.
	DefaultPerRequestTimeout = 15 * time.Second

	// DefaultChunkSize is how many addresses go into one multi-address
	// call when the provider supports batching.
	DefaultChunkSize = 20
)

// Config tunes one Processor. The zero value is unusable; use
// DefaultConfig and override fields as needed.
type Config struct {
	MaxConcurrent     int
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	PerRequestTimeout time.Duration
	ChunkSize         int

	// CacheTTL is how long a fetched balance stays hot. Zero disables
	// the cache entirely.
	CacheTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     DefaultMaxConcurrent,
		MaxRetries:        DefaultMaxRetries,
		BaseDelay:         DefaultBaseDelay,
		MaxDelay:          DefaultMaxDelay,
		PerRequestTimeout: DefaultPerRequestTimeout,
		ChunkSize:         DefaultChunkSize,
		CacheTTL:          30 * time.Second,
	}
}

func (c *Config) sanitize() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.PerRequestTimeout <= 0 {
		c.PerRequestTimeout = DefaultPerRequestTimeout
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
}

// backoff returns the wait before retry attempt n (1-based), doubling from
// BaseDelay and capped at MaxDelay.
func (c *Config) backoff(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if d > c.MaxDelay {
		return c.MaxDelay
	}
	return d
}
