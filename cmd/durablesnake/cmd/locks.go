package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/lease"
)

var (
	locksLimit  int
	locksRunner string
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Inspect workflow leases",
}

var locksExpiredCmd = &cobra.Command{
	Use:   "expired",
	Short: "List expired leases of open workflows, oldest first",
	Args:  cobra.NoArgs,
	RunE:  runLocksExpired,
}

var locksHeldCmd = &cobra.Command{
	Use:   "held",
	Short: "List the leases a runner holds on open workflows",
	Args:  cobra.NoArgs,
	RunE:  runLocksHeld,
}

func init() {
	rootCmd.AddCommand(locksCmd)
	locksCmd.AddCommand(locksExpiredCmd, locksHeldCmd)

	locksCmd.PersistentFlags().BoolVar(&outputAsJSON, "json", false, "output as JSON")
	locksExpiredCmd.Flags().IntVar(&locksLimit, "limit", 100, "maximum number of leases to list")
	locksHeldCmd.Flags().StringVar(&locksRunner, "runner", "", "runner id (required)")
	_ = locksHeldCmd.MarkFlagRequired("runner")
}

func runLocksExpired(cmd *cobra.Command, _ []string) error {
	return listLocks(cmd, func(s lease.Store) ([]*lease.Lock, error) {
		return s.ListExpiredLocks(cmd.Context(), locksLimit)
	})
}

func runLocksHeld(cmd *cobra.Command, _ []string) error {
	if locksRunner == "" {
		return fmt.Errorf("%w: --runner is required", durablesnake.ErrInvalidConfig)
	}
	return listLocks(cmd, func(s lease.Store) ([]*lease.Lock, error) {
		return s.ListLocksHeldBy(cmd.Context(), locksRunner)
	})
}

func listLocks(cmd *cobra.Command, list func(lease.Store) ([]*lease.Lock, error)) error {
	logger := newLogger()
	b, err := openBackend(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("backend close failed", slog.String("error", err.Error()))
		}
	}()

	locks, err := list(b)
	if err != nil {
		return err
	}
	if outputAsJSON {
		return outputJSON(cmd.OutOrStdout(), locks)
	}
	printLocks(cmd.OutOrStdout(), locks, time.Now())
	return nil
}
