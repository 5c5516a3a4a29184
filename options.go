package durablesnake

import "time"

// Option configures a Config.
type Option func(*Config)

// WithRunnerID sets the runner identity.
func WithRunnerID(id string) Option {
	return func(c *Config) { c.RunnerID = id }
}

// WithQueue sets the queue the runner polls.
func WithQueue(queue string) Option {
	return func(c *Config) { c.Queue = queue }
}

// WithLeaseDuration sets how long a lease is valid without renewal.
func WithLeaseDuration(d time.Duration) Option {
	return func(c *Config) { c.LeaseDuration = d }
}

// WithExtendFraction sets the fraction of the lease duration after which
// an owned lease is renewed.
func WithExtendFraction(f float64) Option {
	return func(c *Config) { c.ExtendFraction = f }
}

// WithPendingPollInterval sets how often pending workflows are polled.
func WithPendingPollInterval(d time.Duration) Option {
	return func(c *Config) { c.PendingPollInterval = d }
}

// WithExpiredLockPollInterval sets how often expired leases are polled.
func WithExpiredLockPollInterval(d time.Duration) Option {
	return func(c *Config) { c.ExpiredLockPollInterval = d }
}

// WithMaxConcurrent sets the maximum number of concurrently executing
// workflows. Zero means no limit.
func WithMaxConcurrent(n int) Option {
	return func(c *Config) { c.MaxConcurrent = n }
}

// WithShutdownTimeout sets the maximum time Stop waits for execution loops.
func WithShutdownTimeout(d time.Duration) Option {
	return func(c *Config) { c.ShutdownTimeout = d }
}

// WithBatchSizes sets the bounds for pending and expired-lease polls.
func WithBatchSizes(pending, expired int) Option {
	return func(c *Config) {
		c.PendingBatchSize = pending
		c.ExpiredBatchSize = expired
	}
}

// WithAcquireRate limits lease acquisition attempts per second.
func WithAcquireRate(perSecond float64, burst int) Option {
	return func(c *Config) {
		c.AcquireRate = perSecond
		c.AcquireBurst = burst
	}
}
