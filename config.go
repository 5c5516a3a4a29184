package durablesnake

import (
	"fmt"
	"time"
)

// Config holds configuration for a workflow runner.
type Config struct {
	// RunnerID identifies this runner process. Leases are granted to it and
	// startup recovery looks up locks previously held under it, so it should
	// be stable across restarts of the same process.
	RunnerID string

	// Queue is the routing domain this runner polls for pending workflows.
	Queue string

	// LeaseDuration is how long a granted lease stays valid without renewal.
	LeaseDuration time.Duration

	// ExtendFraction is the fraction of LeaseDuration after which an owned
	// lease is renewed.
	ExtendFraction float64

	// PendingPollInterval is how often to poll for pending workflows.
	PendingPollInterval time.Duration

	// ExpiredLockPollInterval is how often to look for expired leases to
	// reclaim.
	ExpiredLockPollInterval time.Duration

	// MaxConcurrent is the maximum number of workflows executed at once.
	// Zero means no limit.
	MaxConcurrent int

	// ShutdownTimeout bounds how long Stop waits for execution loops.
	ShutdownTimeout time.Duration

	// PendingBatchSize bounds each pending-work poll.
	PendingBatchSize int

	// ExpiredBatchSize bounds each expired-lease poll.
	ExpiredBatchSize int

	// AcquireRate limits lease acquisition attempts per second across
	// discovery and reclamation. Zero means unlimited.
	AcquireRate float64

	// AcquireBurst is the burst size for AcquireRate.
	AcquireBurst int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Queue:                   "default",
		LeaseDuration:           10 * time.Second,
		ExtendFraction:          0.5,
		PendingPollInterval:     2 * time.Second,
		ExpiredLockPollInterval: 5 * time.Second,
		MaxConcurrent:           0,
		ShutdownTimeout:         30 * time.Second,
		PendingBatchSize:        100,
		ExpiredBatchSize:        100,
		AcquireRate:             0,
		AcquireBurst:            1,
	}
}

// NewConfig returns DefaultConfig with opts applied.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.RunnerID == "":
		return fmt.Errorf("%w: runner id is required", ErrInvalidConfig)
	case c.Queue == "":
		return fmt.Errorf("%w: queue is required", ErrInvalidConfig)
	case c.LeaseDuration <= 0:
		return fmt.Errorf("%w: lease duration must be positive", ErrInvalidConfig)
	case c.ExtendFraction <= 0 || c.ExtendFraction >= 1:
		return fmt.Errorf("%w: extend fraction must be in (0, 1), got %v", ErrInvalidConfig, c.ExtendFraction)
	case c.PendingPollInterval <= 0:
		return fmt.Errorf("%w: pending poll interval must be positive", ErrInvalidConfig)
	case c.ExpiredLockPollInterval <= 0:
		return fmt.Errorf("%w: expired lock poll interval must be positive", ErrInvalidConfig)
	case c.MaxConcurrent < 0:
		return fmt.Errorf("%w: max concurrent must not be negative", ErrInvalidConfig)
	case c.ShutdownTimeout < 0:
		return fmt.Errorf("%w: shutdown timeout must not be negative", ErrInvalidConfig)
	case c.PendingBatchSize <= 0 || c.ExpiredBatchSize <= 0:
		return fmt.Errorf("%w: batch sizes must be positive", ErrInvalidConfig)
	case c.AcquireRate < 0:
		return fmt.Errorf("%w: acquire rate must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ExtendAfter returns how long after a grant the lease should be renewed.
func (c Config) ExtendAfter() time.Duration {
	return time.Duration(float64(c.LeaseDuration) * c.ExtendFraction)
}
