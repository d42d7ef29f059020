// Package capability defines the registry of named external operations the
// orchestrator can invoke. The core never implements capability logic; it
// validates, routes, and audits calls to registered implementations.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Args are the named arguments of one capability invocation.
type Args map[string]any

// Canonical returns a deterministic JSON encoding of the arguments, suitable
// for cache keys and deduplication. Map keys are sorted by encoding/json.
func (a Args) Canonical() string {
	if len(a) == 0 {
		return "{}"
	}
	b, err := json.Marshal(a)
	if err != nil {
		// Unencodable args still need a stable key; fall back to sorted key names.
		keys := make([]string, 0, len(a))
		for k := range a {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return fmt.Sprintf("unencodable:%v", keys)
	}
	return string(b)
}

// Result is the outcome of one capability invocation.
type Result struct {
	// Success is false when the capability reported a failure.
	Success bool `json:"success"`
	// Content is the primary output, already rendered to text.
	Content string `json:"content"`
	// Data holds structured output when the capability returns one.
	Data map[string]any `json:"data,omitempty"`
	// Error is the failure description when Success is false.
	Error string `json:"error,omitempty"`
}

// Failure builds a failed Result with the given message.
func Failure(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Capability is a named external operation. Implementations are registered
// with a Registry and looked up by name; the router never switches on
// capability names directly.
type Capability interface {
	// Name returns the unique capability name.
	Name() string
	// Validate checks the arguments before invocation.
	Validate(args Args) error
	// Invoke executes the capability.
	Invoke(ctx context.Context, args Args) (*Result, error)
}

// Registry holds registered capabilities. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register adds a capability. Registering a duplicate name is an error.
func (r *Registry) Register(c Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.caps[c.Name()]; exists {
		return fmt.Errorf("capability %q already registered", c.Name())
	}
	r.caps[c.Name()] = c
	return nil
}

// Get returns the capability with the given name, or nil if unregistered.
func (r *Registry) Get(name string) Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caps[name]
}

// Names returns all registered capability names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Func adapts a plain function into a Capability for registration.
type Func struct {
	// CapName is the capability name.
	CapName string
	// ValidateFunc is optional; nil means all arguments are accepted.
	ValidateFunc func(Args) error
	// InvokeFunc executes the capability.
	InvokeFunc func(context.Context, Args) (*Result, error)
}

// Name implements Capability.
func (f *Func) Name() string { return f.CapName }

// Validate implements Capability.
func (f *Func) Validate(args Args) error {
	if f.ValidateFunc == nil {
		return nil
	}
	return f.ValidateFunc(args)
}

// Invoke implements Capability.
func (f *Func) Invoke(ctx context.Context, args Args) (*Result, error) {
	return f.InvokeFunc(ctx, args)
}
