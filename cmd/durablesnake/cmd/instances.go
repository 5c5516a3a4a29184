package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/client"
)

var (
	startID      string
	startQueue   string
	startParent  string
	startInput   string
	startTimeout time.Duration
	historyAfter int64
	cancelReason string
	outputAsJSON bool
)

var startCmd = &cobra.Command{
	Use:   "start <workflow-type>",
	Short: "Create a pending workflow instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

var describeCmd = &cobra.Command{
	Use:   "describe <workflow-id>",
	Short: "Show a workflow instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runDescribe,
}

var historyCmd = &cobra.Command{
	Use:   "history <workflow-id>",
	Short: "List the history events of a workflow instance",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <workflow-id>",
	Short: "Cancel a workflow instance no runner currently owns",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	rootCmd.AddCommand(startCmd, describeCmd, historyCmd, cancelCmd)

	startCmd.Flags().StringVar(&startID, "id", "", "instance id (default: generated)")
	startCmd.Flags().StringVar(&startQueue, "queue", "", "queue to route the instance to")
	startCmd.Flags().StringVar(&startParent, "parent", "", "parent workflow id")
	startCmd.Flags().StringVar(&startInput, "input", "", "JSON input")
	startCmd.Flags().DurationVar(&startTimeout, "timeout", 0, "execution timeout, e.g. 5m (0 = none)")

	historyCmd.Flags().Int64Var(&historyAfter, "after", 0, "only events after this sequence id")
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "", "cancellation reason")

	for _, c := range []*cobra.Command{startCmd, describeCmd, historyCmd} {
		c.Flags().BoolVar(&outputAsJSON, "json", false, "output as JSON")
	}
}

func withClient(cmd *cobra.Command, fn func(c *client.Client) error) error {
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
	return fn(client.New(b, client.WithLogger(logger)))
}

func runStart(cmd *cobra.Command, args []string) error {
	opts := client.StartOptions{
		ID:       startID,
		Type:     args[0],
		Queue:    startQueue,
		ParentID: startParent,
		Timeout:  startTimeout,
	}
	if startInput != "" {
		if !json.Valid([]byte(startInput)) {
			return fmt.Errorf("%w: --input is not valid JSON", durablesnake.ErrInvalidConfig)
		}
		opts.Input = []byte(startInput)
	}

	return withClient(cmd, func(c *client.Client) error {
		inst, err := c.Start(cmd.Context(), opts)
		if err != nil {
			return err
		}
		if outputAsJSON {
			return outputJSON(cmd.OutOrStdout(), inst)
		}
		fmt.Fprintln(cmd.OutOrStdout(), inst.ID)
		return nil
	})
}

func runDescribe(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(c *client.Client) error {
		inst, err := c.Describe(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if outputAsJSON {
			return outputJSON(cmd.OutOrStdout(), inst)
		}
		printInstance(cmd.OutOrStdout(), inst)
		return nil
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(c *client.Client) error {
		events, err := c.History(cmd.Context(), args[0], historyAfter)
		if err != nil {
			return err
		}
		if outputAsJSON {
			return outputJSON(cmd.OutOrStdout(), events)
		}
		printEvents(cmd.OutOrStdout(), events)
		return nil
	})
}

func runCancel(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(c *client.Client) error {
		if err := c.Cancel(cmd.Context(), args[0], cancelReason); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
		return nil
	})
}
