package workflow

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// ExecuteFunc is a type-erased workflow callback that accepts raw JSON
// input. A typed Definition[T] is converted to an ExecuteFunc at
// registration time by closing over JSON unmarshal and the typed handler.
type ExecuteFunc func(exec *Execution, input []byte) error

// Definition is a typed workflow definition with a handler function.
// T is the input type and must be JSON-serializable.
type Definition[T any] struct {
	// Name is the workflow type name instances refer to.
	Name string

	// Handler executes the workflow logic.
	Handler func(exec *Execution, input T) error
}

// NewWorkflow creates a typed workflow definition.
func NewWorkflow[T any](name string, handler func(exec *Execution, input T) error) *Definition[T] {
	return &Definition[T]{
		Name:    name,
		Handler: handler,
	}
}

// Registry maps workflow type names to execution callbacks. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]ExecuteFunc
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{
		funcs: make(map[string]ExecuteFunc),
	}
}

// Register maps name to fn. Registering a name twice replaces the earlier
// callback.
func (r *Registry) Register(name string, fn ExecuteFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// RegisterDefinition registers a typed workflow definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the input into T
// before calling the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	r.Register(def.Name, func(exec *Execution, input []byte) error {
		var t T
		if len(input) > 0 {
			if err := json.Unmarshal(input, &t); err != nil {
				return fmt.Errorf("unmarshal input for workflow %q: %w", def.Name, err)
			}
		}
		return def.Handler(exec, t)
	})
}

// Get returns the callback registered for name.
func (r *Registry) Get(name string) (ExecuteFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns all registered workflow type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
