// Package workflow defines workflow instances, their status lifecycle, the
// instance store contract and the registration table that maps a workflow
// type name to its execution callback.
//
// # Defining a Workflow
//
//	var Countdown = workflow.NewWorkflow("countdown",
//	    func(exec *workflow.Execution, input CountdownInput) error {
//	        for i := input.From; i > 0; i-- {
//	            if err := exec.Sleep(time.Second); err != nil {
//	                return err
//	            }
//	        }
//	        return nil
//	    },
//	)
//
//	registry := workflow.NewRegistry()
//	workflow.RegisterDefinition(registry, Countdown)
//
// The registry must be populated before the runner starts polling.
//
// # Status
//
// An [Instance] is created PENDING, becomes RUNNING when a runner claims its
// lease and closes exactly once:
//
//	pending → running → terminated | continued_as_new | cancelled | failed | timed_out
//	pending → cancelled
//
// # Outcomes
//
// The value returned by a handler decides the terminal status: nil
// terminates the instance normally, [ContinueAsNew] closes it and starts a
// successor, durablesnake.ErrCancelled cancels it, an expired instance
// timeout marks it timed out and any other error fails it.
package workflow
