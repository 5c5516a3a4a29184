package cmd

import (
	"os"

	"github.com/spf13/viper"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/id"
)

// runnerConfig assembles the runner configuration from viper. The runner id
// falls back to the host name so a restarted process recovers its own
// leases.
func runnerConfig() (durablesnake.Config, error) {
	runnerID := viper.GetString("runner.id")
	if runnerID == "" {
		if host, err := os.Hostname(); err == nil && id.Validate(host) == nil {
			runnerID = host
		} else {
			runnerID = id.NewRunnerID()
		}
	}

	cfg := durablesnake.NewConfig(
		durablesnake.WithRunnerID(runnerID),
		durablesnake.WithQueue(viper.GetString("runner.queue")),
		durablesnake.WithLeaseDuration(viper.GetDuration("runner.lease_duration")),
		durablesnake.WithExtendFraction(viper.GetFloat64("runner.extend_fraction")),
		durablesnake.WithPendingPollInterval(viper.GetDuration("runner.pending_poll_interval")),
		durablesnake.WithExpiredLockPollInterval(viper.GetDuration("runner.expired_poll_interval")),
		durablesnake.WithMaxConcurrent(viper.GetInt("runner.max_concurrent")),
		durablesnake.WithShutdownTimeout(viper.GetDuration("runner.shutdown_timeout")),
		durablesnake.WithBatchSizes(viper.GetInt("runner.pending_batch_size"), viper.GetInt("runner.expired_batch_size")),
		durablesnake.WithAcquireRate(viper.GetFloat64("runner.acquire_rate"), viper.GetInt("runner.acquire_burst")),
	)
	if err := cfg.Validate(); err != nil {
		return durablesnake.Config{}, err
	}
	return cfg, nil
}
