package schedule

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"overseer/internal/session"
	"overseer/pkg/models"
)

type fakeSpawner struct {
	mu     sync.Mutex
	spawns []session.Config
	err    error
}

func (f *fakeSpawner) Spawn(ctx context.Context, cfg session.Config, exec session.Executor) (*models.SpawnedSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.spawns = append(f.spawns, cfg)
	return &models.SpawnedSession{RunID: "run", Name: cfg.Name}, nil
}

func (f *fakeSpawner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawns)
}

func noopFactory(job models.ScheduledJob) session.Executor {
	return func(ctx context.Context, sess models.SpawnedSession) (*session.Outcome, error) {
		return &session.Outcome{}, nil
	}
}

func newTestScheduler(spawner Spawner, now time.Time) (*Scheduler, *time.Time) {
	current := now
	sc := New(spawner, noopFactory)
	sc.now = func() time.Time { return current }
	return sc, &current
}

func TestCreateJobRejectsInvalidExpressionSynchronously(t *testing.T) {
	sc, _ := newTestScheduler(&fakeSpawner{}, at(8, 0))

	_, err := sc.CreateJob("bad", "x y z", "do things")
	if err == nil {
		t.Fatal("invalid expression accepted")
	}
	if len(sc.ListJobs()) != 0 {
		t.Error("invalid job was registered")
	}
}

func TestCreateJobComputesNextRun(t *testing.T) {
	sc, _ := newTestScheduler(&fakeSpawner{}, at(8, 0))

	job, err := sc.CreateJob("digest", "0 9 * * *", "summarize")
	if err != nil {
		t.Fatal(err)
	}
	if job.NextRunAt == nil || !job.NextRunAt.Equal(at(9, 0)) {
		t.Errorf("NextRunAt = %v, want %s", job.NextRunAt, at(9, 0))
	}
	if !job.Enabled {
		t.Error("new jobs should be enabled")
	}
}

func TestTickRunsDueJobsAndDebounces(t *testing.T) {
	spawner := &fakeSpawner{}
	sc, current := newTestScheduler(spawner, at(8, 0))
	job, err := sc.CreateJob("digest", "0 9 * * *", "summarize")
	if err != nil {
		t.Fatal(err)
	}

	sc.Tick(context.Background())
	if spawner.count() != 0 {
		t.Fatal("job fired before its time")
	}

	*current = at(9, 0)
	sc.Tick(context.Background())
	if spawner.count() != 1 {
		t.Fatalf("spawns = %d, want 1", spawner.count())
	}

	// A second tick in the same matching minute is debounced.
	*current = at(9, 0).Add(30 * time.Second)
	sc.Tick(context.Background())
	if spawner.count() != 1 {
		t.Errorf("debounce failed: spawns = %d", spawner.count())
	}

	got, _ := sc.GetJob(job.ID)
	if got.RunCount != 1 {
		t.Errorf("run count = %d, want 1", got.RunCount)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(at(9, 0)) {
		t.Errorf("LastRunAt = %v", got.LastRunAt)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(at(9, 0).Add(24*time.Hour)) {
		t.Errorf("NextRunAt = %v", got.NextRunAt)
	}

	// Next day it fires again.
	*current = at(9, 0).Add(24 * time.Hour)
	sc.Tick(context.Background())
	if spawner.count() != 2 {
		t.Errorf("spawns = %d, want 2", spawner.count())
	}
}

func TestTickSkipsDisabledJobs(t *testing.T) {
	spawner := &fakeSpawner{}
	sc, current := newTestScheduler(spawner, at(8, 0))
	job, err := sc.CreateJob("digest", "0 9 * * *", "summarize")
	if err != nil {
		t.Fatal(err)
	}
	if err := sc.SetEnabled(job.ID, false); err != nil {
		t.Fatal(err)
	}

	*current = at(9, 0)
	sc.Tick(context.Background())
	if spawner.count() != 0 {
		t.Error("disabled job fired")
	}
}

func TestFailedSpawnNeverDisablesJob(t *testing.T) {
	spawner := &fakeSpawner{err: errors.New("session limit reached")}
	sc, current := newTestScheduler(spawner, at(8, 0))
	job, err := sc.CreateJob("digest", "0 9 * * *", "summarize")
	if err != nil {
		t.Fatal(err)
	}

	*current = at(9, 0)
	sc.Tick(context.Background())

	got, _ := sc.GetJob(job.ID)
	if !got.Enabled {
		t.Error("job disabled after a single failure")
	}
	if got.RunCount != 0 {
		t.Errorf("failed launch counted as a run: %d", got.RunCount)
	}
	if got.LastRunAt != nil {
		t.Error("failed launch stamped LastRunAt")
	}
}

func TestRunNowBypassesCronAndDebounce(t *testing.T) {
	spawner := &fakeSpawner{}
	sc, _ := newTestScheduler(spawner, at(8, 0))
	job, err := sc.CreateJob("digest", "0 9 * * *", "summarize")
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := sc.RunNow(context.Background(), job.ID); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if spawner.count() != 2 {
		t.Errorf("spawns = %d, want 2", spawner.count())
	}
	got, _ := sc.GetJob(job.ID)
	if got.RunCount != 2 {
		t.Errorf("run count = %d, want 2", got.RunCount)
	}
}

func TestAdoptRegistersStoredJobs(t *testing.T) {
	spawner := &fakeSpawner{}
	sc, current := newTestScheduler(spawner, at(8, 59))

	sc.Adopt([]models.ScheduledJob{
		{ID: "a", Name: "digest", CronExpression: "0 9 * * *", Instruction: "summarize", Enabled: true},
		{ID: "b", Name: "stale", CronExpression: "0 9 * * *", Instruction: "old", Enabled: false},
	})

	if len(sc.ListJobs()) != 2 {
		t.Fatalf("jobs = %d, want 2", len(sc.ListJobs()))
	}

	*current = at(9, 0)
	sc.Tick(context.Background())
	if spawner.count() != 1 {
		t.Errorf("spawns = %d, want 1 (disabled job must not run)", spawner.count())
	}
}

func TestLoadFileRegistersDeclaredJobs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobs.yaml")
	content := `jobs:
  - name: nightly-digest
    cron: "0 9 * * *"
    instruction: summarize overnight activity
  - name: hourly-check
    cron: "0 * * * *"
    instruction: check service health
    enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	sc, _ := newTestScheduler(&fakeSpawner{}, at(8, 0))
	n, err := sc.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("loaded = %d, want 2", n)
	}

	jobs := sc.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d", len(jobs))
	}
	byName := map[string]*models.ScheduledJob{}
	for _, j := range jobs {
		byName[j.Name] = j
	}
	if !byName["nightly-digest"].Enabled {
		t.Error("nightly-digest should default enabled")
	}
	if byName["hourly-check"].Enabled {
		t.Error("hourly-check should be disabled")
	}

	// Reloading the same file registers nothing new.
	n, err = sc.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("reload loaded = %d, want 0", n)
	}
	if len(sc.ListJobs()) != 2 {
		t.Errorf("jobs after reload = %d, want 2", len(sc.ListJobs()))
	}
}

func TestLoadFileRejectsInvalidEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobs.yaml")
	content := `jobs:
  - name: broken
    cron: "not a cron"
    instruction: do things
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	sc, _ := newTestScheduler(&fakeSpawner{}, at(8, 0))
	if _, err := sc.LoadFile(path); err == nil {
		t.Fatal("invalid job file accepted")
	}
}
