package state

import (
	"database/sql"
	"fmt"

	"overseer/pkg/models"
)

// SaveJob upserts a scheduled job row. It satisfies the scheduler's Store
// interface.
func (db *DB) SaveJob(j *models.ScheduledJob) error {
	_, err := db.Exec(`
		INSERT INTO scheduled_jobs (id, name, cron_expression, instruction, enabled, created_at, last_run_at, next_run_at, run_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			cron_expression = excluded.cron_expression,
			instruction = excluded.instruction,
			enabled = excluded.enabled,
			last_run_at = excluded.last_run_at,
			next_run_at = excluded.next_run_at,
			run_count = excluded.run_count`,
		j.ID, j.Name, j.CronExpression, j.Instruction, j.Enabled,
		formatTime(j.CreatedAt), formatNullableTime(j.LastRunAt), formatNullableTime(j.NextRunAt), j.RunCount)
	if err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

// ListJobs loads all scheduled jobs ordered by creation time.
func (db *DB) ListJobs() ([]models.ScheduledJob, error) {
	rows, err := db.Query(`
		SELECT id, name, cron_expression, instruction, enabled, created_at, last_run_at, next_run_at, run_count
		FROM scheduled_jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []models.ScheduledJob
	for rows.Next() {
		var j models.ScheduledJob
		var createdAt string
		var lastRunAt, nextRunAt sql.NullString

		err := rows.Scan(&j.ID, &j.Name, &j.CronExpression, &j.Instruction, &j.Enabled,
			&createdAt, &lastRunAt, &nextRunAt, &j.RunCount)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if j.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		j.LastRunAt = parseNullableTime(lastRunAt)
		j.NextRunAt = parseNullableTime(nextRunAt)
		out = append(out, j)
	}
	return out, rows.Err()
}

// DeleteJob removes a scheduled job.
func (db *DB) DeleteJob(id string) error {
	if _, err := db.Exec("DELETE FROM scheduled_jobs WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}
