package client

import (
	"log/slog"
	"time"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithDefaultQueue sets the queue used when StartOptions.Queue is empty.
func WithDefaultQueue(queue string) Option {
	return func(c *Client) { c.queue = queue }
}

// WithClock sets the time source used for creation timestamps and the
// leases taken by Cancel.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithCancelLease sets how long Cancel holds a workflow's lease while it
// closes the instance.
func WithCancelLease(d time.Duration) Option {
	return func(c *Client) { c.cancelLease = d }
}
