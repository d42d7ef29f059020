package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"overseer/pkg/models"
)

// SaveTask upserts a task row and, when the task carries a checkpoint, saves
// that checkpoint too. It satisfies the task queue's Store interface.
func (db *DB) SaveTask(t *models.BackgroundTask) error {
	_, err := db.Exec(`
		INSERT INTO tasks (id, instruction, status, progress, current_step, result, error, created_at, updated_at, completed_at, max_iterations)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			current_step = excluded.current_step,
			result = excluded.result,
			error = excluded.error,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at`,
		t.ID, t.Instruction, string(t.Status), t.Progress, t.CurrentStep, t.Result, t.Error,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), formatNullableTime(t.CompletedAt), t.MaxIterations)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	if t.Checkpoint != nil {
		return db.saveCheckpoint(t.ID, t.Checkpoint)
	}
	return nil
}

func (db *DB) saveCheckpoint(taskID string, cp *models.Checkpoint) error {
	partials, err := json.Marshal(cp.PartialResults)
	if err != nil {
		return fmt.Errorf("encode partial results: %w", err)
	}
	_, err = db.Exec(`
		INSERT OR REPLACE INTO checkpoints (task_id, iteration, transcript_snapshot, partial_results_json, saved_at)
		VALUES (?, ?, ?, ?, ?)`,
		taskID, cp.Iteration, cp.TranscriptSnapshot, string(partials), formatTime(cp.SavedAt))
	if err != nil {
		return fmt.Errorf("save checkpoint for %s: %w", taskID, err)
	}
	return nil
}

// GetTask loads one task with its latest checkpoint.
func (db *DB) GetTask(id string) (*models.BackgroundTask, error) {
	row := db.QueryRow(`
		SELECT id, instruction, status, progress, current_step, result, error, created_at, updated_at, completed_at, max_iterations
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	if err := db.loadLatestCheckpoint(t); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasks loads all tasks ordered by creation time, each with its latest
// checkpoint.
func (db *DB) ListTasks() ([]*models.BackgroundTask, error) {
	rows, err := db.Query(`
		SELECT id, instruction, status, progress, current_step, result, error, created_at, updated_at, completed_at, max_iterations
		FROM tasks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.BackgroundTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, t := range out {
		if err := db.loadLatestCheckpoint(t); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DeleteTask removes a task and, via cascade, its checkpoints.
func (db *DB) DeleteTask(id string) error {
	if _, err := db.Exec("DELETE FROM tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

func (db *DB) loadLatestCheckpoint(t *models.BackgroundTask) error {
	row := db.QueryRow(`
		SELECT iteration, transcript_snapshot, partial_results_json, saved_at
		FROM checkpoints WHERE task_id = ?
		ORDER BY iteration DESC LIMIT 1`, t.ID)

	var cp models.Checkpoint
	var snapshot, partials sql.NullString
	var savedAt string
	err := row.Scan(&cp.Iteration, &snapshot, &partials, &savedAt)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load checkpoint for %s: %w", t.ID, err)
	}
	cp.TranscriptSnapshot = snapshot.String
	if partials.Valid && partials.String != "" && partials.String != "null" {
		if err := json.Unmarshal([]byte(partials.String), &cp.PartialResults); err != nil {
			return fmt.Errorf("decode partial results for %s: %w", t.ID, err)
		}
	}
	if cp.SavedAt, err = parseTime(savedAt); err != nil {
		return fmt.Errorf("parse checkpoint time for %s: %w", t.ID, err)
	}
	t.Checkpoint = &cp
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.BackgroundTask, error) {
	var t models.BackgroundTask
	var status string
	var currentStep, result, errMsg sql.NullString
	var createdAt, updatedAt string
	var completedAt sql.NullString

	err := row.Scan(&t.ID, &t.Instruction, &status, &t.Progress, &currentStep, &result, &errMsg,
		&createdAt, &updatedAt, &completedAt, &t.MaxIterations)
	if err != nil {
		return nil, err
	}

	t.Status = models.TaskStatus(status)
	t.CurrentStep = currentStep.String
	t.Result = result.String
	t.Error = errMsg.String
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	t.CompletedAt = parseNullableTime(completedAt)
	return &t, nil
}

// PurgeTerminalTasks removes terminal tasks whose completion is older than
// the cutoff, mirroring the in-memory retention sweep. It returns how many
// rows were removed.
func (db *DB) PurgeTerminalTasks(cutoff time.Time) (int64, error) {
	res, err := db.Exec(`
		DELETE FROM tasks
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND COALESCE(completed_at, updated_at) < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	return res.RowsAffected()
}
