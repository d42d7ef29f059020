package models

import "time"

// ScheduledJob is a cron-triggered instruction executed via the session spawner.
type ScheduledJob struct {
	// ID is the unique identifier for this job.
	ID string `json:"id"`
	// Name is a short human-readable label.
	Name string `json:"name"`
	// CronExpression is the 5-field schedule (minute hour dom month dow).
	CronExpression string `json:"cron_expression"`
	// Instruction is the agent instruction fired on each run.
	Instruction string `json:"instruction"`
	// Enabled gates whether the job is evaluated on tick.
	Enabled bool `json:"enabled"`
	// CreatedAt is when the job was registered.
	CreatedAt time.Time `json:"created_at"`
	// LastRunAt is when the job last fired, if it has.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	// NextRunAt is the next computed fire time, if one exists within the
	// scheduler's lookahead window.
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
	// RunCount is the number of times the job has fired.
	RunCount int `json:"run_count"`
}
