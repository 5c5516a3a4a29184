package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danthegoodman1/DurableSnake/workflow"
)

// StartOptions describes a workflow instance to create.
type StartOptions struct {
	// ID is the instance id. A unique id is generated when empty.
	ID string
	// Type is the registered workflow type name.
	Type string
	// Queue routes the instance to runners polling it. The client's default
	// queue is used when empty.
	Queue    string
	ParentID string
	Input    []byte
	// Timeout bounds execution from the first start. Zero means none.
	Timeout time.Duration
}

// StartWorkflow JSON-encodes input and starts a workflow of the given type
// with otherwise default options.
func StartWorkflow[T any](ctx context.Context, c *Client, workflowType string, input T) (*workflow.Instance, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input: %w", err)
	}
	return c.Start(ctx, StartOptions{Type: workflowType, Input: raw})
}
