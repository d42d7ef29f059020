package models

import "time"

// SessionStatus represents the current state of a spawned session.
type SessionStatus string

const (
	// SessionStatusPending indicates the session is created but not yet started.
	SessionStatusPending SessionStatus = "pending"
	// SessionStatusRunning indicates the session executor is active.
	SessionStatusRunning SessionStatus = "running"
	// SessionStatusCompleted indicates the session finished successfully.
	SessionStatusCompleted SessionStatus = "completed"
	// SessionStatusFailed indicates the session terminated with an error.
	SessionStatusFailed SessionStatus = "failed"
	// SessionStatusCancelled indicates the session was cancelled.
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusPending, SessionStatusRunning, SessionStatusCompleted,
		SessionStatusFailed, SessionStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transition out of this status is allowed.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is legal. Session
// transitions are strictly forward: pending -> running -> terminal.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case SessionStatusPending:
		return next == SessionStatusRunning || next == SessionStatusFailed ||
			next == SessionStatusCancelled
	case SessionStatusRunning:
		return next.Terminal()
	default:
		return false
	}
}

// SpawnedSession is an isolated child execution run created under the
// spawner's concurrency cap.
type SpawnedSession struct {
	// RunID is the unique identifier for this session.
	RunID string `json:"run_id"`
	// Name is a short human-readable label (e.g. "code-review").
	Name string `json:"name"`
	// Instruction is the task given to the child agent.
	Instruction string `json:"instruction"`
	// Status is the current lifecycle state.
	Status SessionStatus `json:"status"`
	// Progress is a percentage in [0,100].
	Progress int `json:"progress"`
	// CurrentStep describes what the session is doing right now.
	CurrentStep string `json:"current_step,omitempty"`
	// Result holds the final output for completed sessions.
	Result string `json:"result,omitempty"`
	// Error holds the failure message for failed sessions.
	Error string `json:"error,omitempty"`
	// Signature is the audit signature of the final result, if signed.
	Signature string `json:"signature,omitempty"`
	// ToolsUsed lists the capability names the session invoked.
	ToolsUsed []string `json:"tools_used,omitempty"`
	// CreatedAt is when the session was spawned.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the executor began, if it has.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the session reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
