// Package cmd implements the durablesnake command line: a runner process
// plus operator commands that start, inspect and cancel workflow instances.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	durablesnake "github.com/danthegoodman1/DurableSnake"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	appVersion string
	appCommit  string
)

var rootCmd = &cobra.Command{
	Use:   "durablesnake",
	Short: "Durable workflow runner and operator tool",
	Long: `durablesnake runs workflow instances stored in a shared backend.

Runners claim pending instances with time-bounded leases, renew them while
executing and reclaim the leases of runners that died. Every write to an
instance or its history is fenced by the lease epoch it was granted.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initConfig()
	},
}

// Execute runs the root command and prints any error to stderr.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func SetVersion(version, commit string) {
	appVersion = version
	appCommit = commit
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./durablesnake.yaml or $HOME/.config/durablesnake/durablesnake.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text",
		"log format (text, json)")
	rootCmd.PersistentFlags().String("backend", "memory",
		"backend driver (memory, sqlite, postgres, redis)")
	rootCmd.PersistentFlags().String("dsn", "",
		"backend connection string or sqlite file path")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("backend.driver", rootCmd.PersistentFlags().Lookup("backend"))
	_ = viper.BindPFlag("backend.dsn", rootCmd.PersistentFlags().Lookup("dsn"))
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("durablesnake")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/durablesnake")
	}

	setDefaults()

	viper.SetEnvPrefix("DURABLESNAKE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

func setDefaults() {
	d := durablesnake.DefaultConfig()
	viper.SetDefault("runner.queue", d.Queue)
	viper.SetDefault("runner.lease_duration", d.LeaseDuration)
	viper.SetDefault("runner.extend_fraction", d.ExtendFraction)
	viper.SetDefault("runner.pending_poll_interval", d.PendingPollInterval)
	viper.SetDefault("runner.expired_poll_interval", d.ExpiredLockPollInterval)
	viper.SetDefault("runner.max_concurrent", d.MaxConcurrent)
	viper.SetDefault("runner.shutdown_timeout", d.ShutdownTimeout)
	viper.SetDefault("runner.pending_batch_size", d.PendingBatchSize)
	viper.SetDefault("runner.expired_batch_size", d.ExpiredBatchSize)
	viper.SetDefault("runner.acquire_rate", d.AcquireRate)
	viper.SetDefault("runner.acquire_burst", d.AcquireBurst)
	viper.SetDefault("telemetry.service_name", "durablesnake")
}

// newLogger builds the process logger from log.level and log.format.
func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log.level"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(viper.GetString("log.format"), "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}
