package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ContinueAsNewError asks the runner to close the current instance as
// continued-as-new and start a successor of the same type with Input.
type ContinueAsNewError struct {
	Input []byte
}

func (e *ContinueAsNewError) Error() string {
	return "workflow continued as new"
}

// ContinueAsNew returns the error a handler returns to continue as new with
// raw input.
func ContinueAsNew(input []byte) error {
	return &ContinueAsNewError{Input: input}
}

// ContinueAsNewWith JSON-encodes input and returns a ContinueAsNew error.
func ContinueAsNewWith[T any](input T) error {
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal continue-as-new input: %w", err)
	}
	return ContinueAsNew(data)
}

// AsContinueAsNew extracts a continue-as-new request from err.
func AsContinueAsNew(err error) (*ContinueAsNewError, bool) {
	var cont *ContinueAsNewError
	if errors.As(err, &cont) {
		return cont, true
	}
	return nil, false
}
