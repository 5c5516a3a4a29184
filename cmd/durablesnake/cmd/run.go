package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	audithook "github.com/danthegoodman1/DurableSnake/audit_hook"
	"github.com/danthegoodman1/DurableSnake/internal/telemetry"
	"github.com/danthegoodman1/DurableSnake/middleware"
	"github.com/danthegoodman1/DurableSnake/observability"
	"github.com/danthegoodman1/DurableSnake/runner"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a workflow runner until interrupted",
	Long: `Start a runner that claims pending workflows on its queue, renews the
leases it owns and reclaims leases other runners let expire. On SIGINT or
SIGTERM the runner stops claiming, waits for running workflows up to the
shutdown timeout and hands its remaining leases over.

The built-in workflow types are "noop" and "countdown".`,
	RunE: runRunner,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.String("runner-id", "", "stable runner identity (default: host name)")
	f.String("queue", "", "queue to poll (default: default)")
	f.Duration("lease-duration", 0, "lease validity without renewal (default: 10s)")
	f.Int("max-concurrent", 0, "maximum concurrently executing workflows (0 = unlimited)")
	f.Int("history-max-events", 0, "suggest continue-as-new past this many events (0 = never)")
	f.String("otel-endpoint", "", "OTLP/HTTP collector host:port (empty disables export)")
	f.Bool("otel-insecure", false, "use plain HTTP for the OTLP collector")
	f.Bool("audit", false, "log an audit record for every lease and workflow lifecycle event")

	_ = viper.BindPFlag("runner.id", f.Lookup("runner-id"))
	_ = viper.BindPFlag("runner.queue", f.Lookup("queue"))
	_ = viper.BindPFlag("runner.lease_duration", f.Lookup("lease-duration"))
	_ = viper.BindPFlag("runner.max_concurrent", f.Lookup("max-concurrent"))
	_ = viper.BindPFlag("runner.history_max_events", f.Lookup("history-max-events"))
	_ = viper.BindPFlag("telemetry.endpoint", f.Lookup("otel-endpoint"))
	_ = viper.BindPFlag("telemetry.insecure", f.Lookup("otel-insecure"))
	_ = viper.BindPFlag("audit.enabled", f.Lookup("audit"))
}

func runRunner(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := runnerConfig()
	if err != nil {
		return err
	}

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:       viper.GetString("telemetry.endpoint"),
		Insecure:       viper.GetBool("telemetry.insecure"),
		ServiceName:    viper.GetString("telemetry.service_name"),
		ServiceVersion: appVersion,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	b, err := openBackend(ctx, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Warn("backend close failed", slog.String("error", err.Error()))
		}
	}()

	reg := demoRegistry()
	opts := []runner.Option{
		runner.WithLogger(logger),
		runner.WithExtension(observability.NewMetricsExtension()),
		runner.WithMiddleware(
			middleware.Logging(logger),
			middleware.Tracing(),
			middleware.Metrics(),
		),
	}
	if viper.GetBool("audit.enabled") {
		opts = append(opts, runner.WithExtension(audithook.New(
			audithook.LogRecorder(logger.With(slog.String("component", "audit"))),
			audithook.WithRunnerID(cfg.RunnerID),
			audithook.WithLogger(logger),
		)))
	}
	if n := viper.GetInt64("runner.history_max_events"); n > 0 {
		opts = append(opts, runner.WithContinuePolicy(workflow.HistoryLimits{MaxLength: n}))
	}

	r, err := runner.New(b, reg, cfg, opts...)
	if err != nil {
		return err
	}
	if err := r.Start(ctx); err != nil {
		return err
	}
	logger.Info("durablesnake runner started",
		slog.String("version", appVersion),
		slog.String("commit", appCommit),
		slog.String("runner_id", cfg.RunnerID),
		slog.String("queue", cfg.Queue),
		slog.String("backend", viper.GetString("backend.driver")),
		slog.String("workflows", strings.Join(reg.Names(), ",")),
	)

	<-ctx.Done()
	logger.Info("durablesnake runner shutting down")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+cfg.LeaseDuration)
	defer stopCancel()
	if err := r.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop runner: %w", err)
	}
	logger.Info("durablesnake runner stopped")
	return nil
}
