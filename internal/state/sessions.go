package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"overseer/pkg/models"
)

// SaveSession upserts a spawned session row. It satisfies the spawner's
// Store interface.
func (db *DB) SaveSession(s *models.SpawnedSession) error {
	tools, err := json.Marshal(s.ToolsUsed)
	if err != nil {
		return fmt.Errorf("encode tools used: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO spawned_sessions (run_id, name, instruction, status, progress, current_step, result, error, signature, tools_used, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			current_step = excluded.current_step,
			result = excluded.result,
			error = excluded.error,
			signature = excluded.signature,
			tools_used = excluded.tools_used,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`,
		s.RunID, s.Name, s.Instruction, string(s.Status), s.Progress, s.CurrentStep,
		s.Result, s.Error, s.Signature, string(tools),
		formatTime(s.CreatedAt), formatNullableTime(s.StartedAt), formatNullableTime(s.CompletedAt))
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.RunID, err)
	}
	return nil
}

// ListSessions loads all sessions ordered by creation time.
func (db *DB) ListSessions() ([]models.SpawnedSession, error) {
	rows, err := db.Query(`
		SELECT run_id, name, instruction, status, progress, current_step, result, error, signature, tools_used, created_at, started_at, completed_at
		FROM spawned_sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []models.SpawnedSession
	for rows.Next() {
		var s models.SpawnedSession
		var status string
		var currentStep, result, errMsg, signature, tools sql.NullString
		var createdAt string
		var startedAt, completedAt sql.NullString

		err := rows.Scan(&s.RunID, &s.Name, &s.Instruction, &status, &s.Progress,
			&currentStep, &result, &errMsg, &signature, &tools,
			&createdAt, &startedAt, &completedAt)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}

		s.Status = models.SessionStatus(status)
		s.CurrentStep = currentStep.String
		s.Result = result.String
		s.Error = errMsg.String
		s.Signature = signature.String
		if tools.Valid && tools.String != "" && tools.String != "null" {
			if err := json.Unmarshal([]byte(tools.String), &s.ToolsUsed); err != nil {
				return nil, fmt.Errorf("decode tools for %s: %w", s.RunID, err)
			}
		}
		if s.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		s.StartedAt = parseNullableTime(startedAt)
		s.CompletedAt = parseNullableTime(completedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// PurgeTerminalSessions removes terminal sessions completed before the
// cutoff.
func (db *DB) PurgeTerminalSessions(cutoff time.Time) (int64, error) {
	res, err := db.Exec(`
		DELETE FROM spawned_sessions
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND COALESCE(completed_at, created_at) < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}
