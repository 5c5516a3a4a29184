// Package id generates and validates identifiers for workflow instances and
// runners.
//
// Generated IDs are K-sortable (UUIDv7-based), globally unique and URL-safe
// in the format "prefix_suffix". Callers may also supply their own workflow
// IDs; those only need to pass Validate.
package id

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Prefix identifies the entity type encoded in a generated ID.
type Prefix string

// Prefix constants for generated IDs.
const (
	PrefixWorkflow Prefix = "wf"
	PrefixRunner   Prefix = "runner"
)

// maxLen bounds caller-supplied IDs so every backend can index them.
const maxLen = 255

// New generates a new globally unique ID with the given prefix.
// It panics if the UUID generator fails (entropy source unavailable).
func New(prefix Prefix) string {
	u, err := uuid.NewV7()
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", prefix, err))
	}
	return string(prefix) + "_" + strings.ReplaceAll(u.String(), "-", "")
}

// NewWorkflowID generates a new unique workflow instance ID.
func NewWorkflowID() string { return New(PrefixWorkflow) }

// NewRunnerID generates a new unique runner ID.
func NewRunnerID() string { return New(PrefixRunner) }

// Validate checks that s is usable as an identifier.
func Validate(s string) error {
	if s == "" {
		return fmt.Errorf("id: empty string")
	}
	if len(s) > maxLen {
		return fmt.Errorf("id: %d bytes exceeds limit of %d", len(s), maxLen)
	}
	for _, r := range s {
		if r <= ' ' || r == 0x7f {
			return fmt.Errorf("id: %q contains whitespace or control characters", s)
		}
	}
	return nil
}

// PrefixOf returns the prefix of a generated ID, or "" when s has none.
func PrefixOf(s string) Prefix {
	i := strings.IndexByte(s, '_')
	if i <= 0 {
		return ""
	}
	return Prefix(s[:i])
}

// ParseWithPrefix validates s and checks that it carries the expected prefix.
func ParseWithPrefix(s string, expected Prefix) (string, error) {
	if err := Validate(s); err != nil {
		return "", err
	}
	if got := PrefixOf(s); got != expected {
		return "", fmt.Errorf("id: expected prefix %q, got %q", expected, got)
	}
	return s, nil
}
