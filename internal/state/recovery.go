package state

import "fmt"

// MarkInterrupted flips every task and session that was in flight when the
// previous process died to failed with an "interrupted by restart" error.
// Nothing is ever silently resumed. It returns how many rows were touched
// and is meant to run once at startup, before registries reload.
func (db *DB) MarkInterrupted() (int64, error) {
	tasks, err := db.Exec(`
		UPDATE tasks
		SET status = 'failed',
		    error = 'interrupted by restart',
		    completed_at = updated_at
		WHERE status IN ('queued', 'running', 'paused')`)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted tasks: %w", err)
	}
	taskRows, err := tasks.RowsAffected()
	if err != nil {
		return 0, err
	}

	sessions, err := db.Exec(`
		UPDATE spawned_sessions
		SET status = 'failed',
		    error = 'interrupted by restart',
		    completed_at = created_at
		WHERE status IN ('pending', 'running')`)
	if err != nil {
		return taskRows, fmt.Errorf("mark interrupted sessions: %w", err)
	}
	sessionRows, err := sessions.RowsAffected()
	if err != nil {
		return taskRows, err
	}

	return taskRows + sessionRows, nil
}
