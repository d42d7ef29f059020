package router

import "sync"

// WorkflowGate tracks an obligatory follow-up capability. While a follow-up
// is pending, only that capability may execute; anything else is rejected
// with a WorkflowViolationError.
type WorkflowGate struct {
	mu       sync.Mutex
	required string
	reason   string
}

// Require marks a capability as the only one allowed to run next.
func (g *WorkflowGate) Require(capName, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.required = capName
	g.reason = reason
}

// Clear removes any pending requirement.
func (g *WorkflowGate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.required = ""
	g.reason = ""
}

// Check returns an error when capName is not the pending follow-up. Running
// the required capability clears the gate.
func (g *WorkflowGate) Check(capName string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.required == "" {
		return nil
	}
	if capName == g.required {
		g.required = ""
		g.reason = ""
		return nil
	}
	return &WorkflowViolationError{Requested: capName, Required: g.required, Reason: g.reason}
}
