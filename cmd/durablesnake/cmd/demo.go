package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/danthegoodman1/DurableSnake/workflow"
)

// countdownInput is the input of the countdown demo workflow.
type countdownInput struct {
	N     int           `json:"n"`
	Pause time.Duration `json:"pause,omitempty"`
}

// demoRegistry returns the workflows a `run` process serves out of the box.
func demoRegistry() *workflow.Registry {
	reg := workflow.NewRegistry()

	reg.Register("noop", func(exec *workflow.Execution, input []byte) error {
		return exec.SetOutput(map[string]int{"input_bytes": len(input)})
	})

	// countdown ticks once per instance and continues as new until N
	// reaches zero, leaving a chain of ContinuedFrom links behind.
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("countdown",
		func(exec *workflow.Execution, in countdownInput) error {
			err := exec.Step(fmt.Sprintf("tick-%d", in.N), func(ctx context.Context) error {
				exec.Logger().Info("countdown", slog.Int("remaining", in.N))
				return nil
			})
			if err != nil {
				return err
			}
			if in.Pause > 0 {
				if err := exec.Sleep(in.Pause); err != nil {
					return err
				}
			}
			if in.N <= 0 {
				return exec.SetOutput(map[string]string{"result": "liftoff"})
			}
			return workflow.ContinueAsNewWith(countdownInput{N: in.N - 1, Pause: in.Pause})
		}))

	return reg
}
