package state

import (
	"path/filepath"
	"testing"
	"time"

	"overseer/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "overseer.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestTaskRoundTripWithCheckpoint(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	task := &models.BackgroundTask{
		ID:            "t1",
		Instruction:   "summarize the logs",
		Status:        models.TaskStatusRunning,
		Progress:      40,
		CurrentStep:   "reading",
		CreatedAt:     now,
		UpdatedAt:     now,
		MaxIterations: 20,
		Checkpoint: &models.Checkpoint{
			Iteration:          3,
			TranscriptSnapshot: "so far so good",
			PartialResults:     map[string]string{"lines": "1200"},
			SavedAt:            now,
		},
	}
	if err := db.SaveTask(task); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetTask("t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TaskStatusRunning || got.Progress != 40 {
		t.Errorf("task = %+v", got)
	}
	if got.Checkpoint == nil || got.Checkpoint.Iteration != 3 {
		t.Fatalf("checkpoint = %+v", got.Checkpoint)
	}
	if got.Checkpoint.PartialResults["lines"] != "1200" {
		t.Errorf("partials = %v", got.Checkpoint.PartialResults)
	}

	// A later checkpoint becomes the one loaded.
	task.Checkpoint = &models.Checkpoint{Iteration: 7, TranscriptSnapshot: "later", SavedAt: now.Add(time.Minute)}
	if err := db.SaveTask(task); err != nil {
		t.Fatal(err)
	}
	got, err = db.GetTask("t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Checkpoint.Iteration != 7 {
		t.Errorf("latest checkpoint iteration = %d, want 7", got.Checkpoint.Iteration)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	started := now.Add(time.Second)

	sess := &models.SpawnedSession{
		RunID:       "r1",
		Name:        "digest",
		Instruction: "summarize",
		Status:      models.SessionStatusRunning,
		Progress:    10,
		ToolsUsed:   []string{"web_search", "file_export"},
		CreatedAt:   now,
		StartedAt:   &started,
	}
	if err := db.SaveSession(sess); err != nil {
		t.Fatal(err)
	}

	all, err := db.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("sessions = %d", len(all))
	}
	got := all[0]
	if got.Status != models.SessionStatusRunning || len(got.ToolsUsed) != 2 {
		t.Errorf("session = %+v", got)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v", got.StartedAt)
	}
}

func TestJobRoundTripAndDelete(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	next := now.Add(time.Hour)

	job := &models.ScheduledJob{
		ID:             "j1",
		Name:           "digest",
		CronExpression: "0 9 * * *",
		Instruction:    "summarize",
		Enabled:        true,
		CreatedAt:      now,
		NextRunAt:      &next,
		RunCount:       2,
	}
	if err := db.SaveJob(job); err != nil {
		t.Fatal(err)
	}

	jobs, err := db.ListJobs()
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].RunCount != 2 || !jobs[0].Enabled {
		t.Fatalf("jobs = %+v", jobs)
	}
	if jobs[0].NextRunAt == nil || !jobs[0].NextRunAt.Equal(next) {
		t.Errorf("NextRunAt = %v", jobs[0].NextRunAt)
	}

	if err := db.DeleteJob("j1"); err != nil {
		t.Fatal(err)
	}
	jobs, err = db.ListJobs()
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 0 {
		t.Errorf("job survived delete: %+v", jobs)
	}
}

func TestMarkInterruptedFlipsInFlightWork(t *testing.T) {
	db := openTestDB(t)
	now := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	for _, tt := range []struct {
		id     string
		status models.TaskStatus
	}{
		{"queued", models.TaskStatusQueued},
		{"running", models.TaskStatusRunning},
		{"done", models.TaskStatusCompleted},
	} {
		task := &models.BackgroundTask{
			ID: tt.id, Instruction: "x", Status: tt.status,
			CreatedAt: now, UpdatedAt: now, MaxIterations: 5,
		}
		if err := db.SaveTask(task); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.SaveSession(&models.SpawnedSession{
		RunID: "r1", Name: "s", Instruction: "x",
		Status: models.SessionStatusRunning, CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	n, err := db.MarkInterrupted()
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("rows = %d, want 3", n)
	}

	for _, id := range []string{"queued", "running"} {
		task, err := db.GetTask(id)
		if err != nil {
			t.Fatal(err)
		}
		if task.Status != models.TaskStatusFailed || task.Error != "interrupted by restart" {
			t.Errorf("%s = %s/%q", id, task.Status, task.Error)
		}
	}
	done, err := db.GetTask("done")
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != models.TaskStatusCompleted {
		t.Errorf("completed task flipped to %s", done.Status)
	}

	sessions, err := db.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	if sessions[0].Status != models.SessionStatusFailed || sessions[0].Error != "interrupted by restart" {
		t.Errorf("session = %+v", sessions[0])
	}
}

func TestPurgeTerminalTasks(t *testing.T) {
	db := openTestDB(t)
	old := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	oldDone := old
	save := func(id string, status models.TaskStatus, completed *time.Time, at time.Time) {
		t.Helper()
		if err := db.SaveTask(&models.BackgroundTask{
			ID: id, Instruction: "x", Status: status,
			CreatedAt: at, UpdatedAt: at, CompletedAt: completed, MaxIterations: 5,
		}); err != nil {
			t.Fatal(err)
		}
	}
	save("old-done", models.TaskStatusCompleted, &oldDone, old)
	save("recent-done", models.TaskStatusCompleted, &recent, recent)
	save("still-running", models.TaskStatusRunning, nil, old)

	n, err := db.PurgeTerminalTasks(old.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
	if _, err := db.GetTask("old-done"); err == nil {
		t.Error("old terminal task survived purge")
	}
	if _, err := db.GetTask("still-running"); err != nil {
		t.Error("running task purged")
	}
}
