package models

import "time"

// TaskStatus represents the current state of a background task.
type TaskStatus string

const (
	// TaskStatusQueued indicates the task is accepted but not yet running.
	TaskStatusQueued TaskStatus = "queued"
	// TaskStatusRunning indicates the task executor is active.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusPaused indicates the task is temporarily stopped.
	TaskStatusPaused TaskStatus = "paused"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task terminated with an error.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled before completion.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusPaused,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transition out of this status is allowed.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal transition.
// The state machine is monotonic: the only backward edge is paused -> running.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case TaskStatusQueued:
		return next == TaskStatusRunning || next == TaskStatusFailed || next == TaskStatusCancelled
	case TaskStatusRunning:
		return next == TaskStatusPaused || next == TaskStatusCompleted ||
			next == TaskStatusFailed || next == TaskStatusCancelled
	case TaskStatusPaused:
		return next == TaskStatusRunning || next == TaskStatusFailed || next == TaskStatusCancelled
	default:
		return false
	}
}

// Checkpoint is a saved snapshot of a background task's progress. It describes
// the task's state; it is not guaranteed to be sufficient to replay it.
type Checkpoint struct {
	// Iteration is strictly increasing within a task.
	Iteration int `json:"iteration"`
	// TranscriptSnapshot is the accumulated transcript at save time.
	TranscriptSnapshot string `json:"transcript_snapshot"`
	// PartialResults holds named intermediate results.
	PartialResults map[string]string `json:"partial_results,omitempty"`
	// SavedAt is when the checkpoint was taken.
	SavedAt time.Time `json:"saved_at"`
}

// BackgroundTask is a long-running instruction executed off the main path.
type BackgroundTask struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Instruction is the natural-language instruction being executed.
	Instruction string `json:"instruction"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// Progress is a percentage in [0,100].
	Progress int `json:"progress"`
	// CurrentStep describes what the executor is doing right now.
	CurrentStep string `json:"current_step,omitempty"`
	// Checkpoint is the most recent saved checkpoint, if any.
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
	// Result holds the final output for completed tasks.
	Result string `json:"result,omitempty"`
	// Error holds the failure message for failed tasks.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the task was accepted.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task was last mutated.
	UpdatedAt time.Time `json:"updated_at"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// MaxIterations bounds the executor's iteration budget.
	MaxIterations int `json:"max_iterations"`
}

// RemainingIterations returns the iteration budget left after the last
// checkpoint. Never negative.
func (t *BackgroundTask) RemainingIterations() int {
	used := 0
	if t.Checkpoint != nil {
		used = t.Checkpoint.Iteration
	}
	remaining := t.MaxIterations - used
	if remaining < 0 {
		return 0
	}
	return remaining
}
