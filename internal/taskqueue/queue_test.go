package taskqueue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"overseer/pkg/models"
)

func blockUntilCancelled(ctx context.Context, task models.BackgroundTask) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func enqueue(t *testing.T, q *Queue, instruction string) string {
	t.Helper()
	task, err := q.Enqueue(instruction, 10)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return task.ID
}

func waitForStatus(t *testing.T, q *Queue, id string, want models.TaskStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, ok := q.Get(id)
		if ok && task.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := q.Get(id)
	t.Fatalf("task %s never reached %s (now %s)", id, want, task.Status)
}

func TestRunInBackgroundEnforcesCapacity(t *testing.T) {
	q := New(WithMaxActive(2))
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, enqueue(t, q, "work"))
	}
	for i := 0; i < 2; i++ {
		if err := q.RunInBackground(ctx, ids[i], blockUntilCancelled); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	err := q.RunInBackground(ctx, ids[2], blockUntilCancelled)
	if err == nil {
		t.Fatal("third run should hit the capacity cap")
	}
	if !strings.Contains(err.Error(), "capacity") {
		t.Errorf("error %q should mention capacity", err)
	}
	if task, _ := q.Get(ids[2]); task.Status != models.TaskStatusQueued {
		t.Errorf("rejected task mutated to %s", task.Status)
	}

	for _, id := range ids[:2] {
		if err := q.CancelTask(id); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCancelSignalsExecutorContext(t *testing.T) {
	q := New()
	id := enqueue(t, q, "work")

	released := make(chan error, 1)
	err := q.RunInBackground(context.Background(), id, func(ctx context.Context, task models.BackgroundTask) (string, error) {
		<-ctx.Done()
		released <- ctx.Err()
		return "", ctx.Err()
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := q.CancelTask(id); err != nil {
		t.Fatal(err)
	}
	select {
	case e := <-released:
		if !errors.Is(e, context.Canceled) {
			t.Errorf("executor saw %v, want context.Canceled", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("executor never observed cancellation")
	}

	task, _ := q.Get(id)
	if task.Status != models.TaskStatusCancelled {
		t.Errorf("status = %s, want cancelled", task.Status)
	}
	// The executor's error return must not flip a cancelled task to failed.
	time.Sleep(50 * time.Millisecond)
	task, _ = q.Get(id)
	if task.Status != models.TaskStatusCancelled {
		t.Errorf("terminal status changed to %s", task.Status)
	}
}

func TestExecutorResultCompletesTask(t *testing.T) {
	q := New()
	id := enqueue(t, q, "work")

	err := q.RunInBackground(context.Background(), id, func(ctx context.Context, task models.BackgroundTask) (string, error) {
		return "all done", nil
	})
	if err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, q, id, models.TaskStatusCompleted)

	task, _ := q.Get(id)
	if task.Result != "all done" {
		t.Errorf("result = %q", task.Result)
	}
	if task.Progress != 100 {
		t.Errorf("progress = %d, want 100", task.Progress)
	}
	if task.CompletedAt == nil {
		t.Error("CompletedAt not stamped")
	}
}

func TestWatchdogFailsOverrunningTask(t *testing.T) {
	q := New(WithTaskTimeout(30 * time.Millisecond))
	id := enqueue(t, q, "work")

	if err := q.RunInBackground(context.Background(), id, blockUntilCancelled); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, q, id, models.TaskStatusFailed)

	task, _ := q.Get(id)
	if !strings.Contains(task.Error, "watchdog") {
		t.Errorf("error = %q, want watchdog mention", task.Error)
	}
}

func TestWatchdogSparesPausedTask(t *testing.T) {
	q := New(WithTaskTimeout(30 * time.Millisecond))
	id := enqueue(t, q, "work")

	if err := q.RunInBackground(context.Background(), id, blockUntilCancelled); err != nil {
		t.Fatal(err)
	}
	if err := q.PauseTask(id); err != nil {
		t.Fatal(err)
	}

	time.Sleep(80 * time.Millisecond)

	task, _ := q.Get(id)
	if task.Status != models.TaskStatusPaused {
		t.Errorf("status = %s, want %s", task.Status, models.TaskStatusPaused)
	}
	if task.Error != "" {
		t.Errorf("error = %q, want empty", task.Error)
	}
}

func TestSaveCheckpointRequiresStrictlyIncreasingIterations(t *testing.T) {
	q := New()
	id := enqueue(t, q, "work")

	if err := q.SaveCheckpoint(id, models.Checkpoint{Iteration: 1, TranscriptSnapshot: "one"}); err != nil {
		t.Fatal(err)
	}
	if err := q.SaveCheckpoint(id, models.Checkpoint{Iteration: 3, TranscriptSnapshot: "three"}); err != nil {
		t.Fatal(err)
	}

	for _, iter := range []int{3, 2, 0} {
		if err := q.SaveCheckpoint(id, models.Checkpoint{Iteration: iter}); err == nil {
			t.Errorf("iteration %d accepted after 3", iter)
		}
	}

	task, _ := q.Get(id)
	if task.Checkpoint.TranscriptSnapshot != "three" {
		t.Errorf("rejected checkpoint overwrote state: %q", task.Checkpoint.TranscriptSnapshot)
	}
}

func TestUpdateProgressAutoCheckpoints(t *testing.T) {
	q := New(WithCheckpointEvery(3))
	id := enqueue(t, q, "work")

	started := make(chan struct{})
	if err := q.RunInBackground(context.Background(), id, func(ctx context.Context, task models.BackgroundTask) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}); err != nil {
		t.Fatal(err)
	}
	<-started

	for i := 1; i <= 2; i++ {
		if err := q.UpdateProgress(id, i*10, "early"); err != nil {
			t.Fatal(err)
		}
	}
	if task, _ := q.Get(id); task.Checkpoint != nil {
		t.Fatal("checkpoint taken before the interval elapsed")
	}

	if err := q.UpdateProgress(id, 30, "third step"); err != nil {
		t.Fatal(err)
	}
	task, _ := q.Get(id)
	if task.Checkpoint == nil {
		t.Fatal("no auto-checkpoint after third update")
	}
	if task.Checkpoint.Iteration != 3 || task.Checkpoint.TranscriptSnapshot != "third step" {
		t.Errorf("checkpoint = %+v", task.Checkpoint)
	}

	if err := q.CancelTask(id); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateProgressClampsRange(t *testing.T) {
	q := New()
	id := enqueue(t, q, "work")
	started := make(chan struct{})
	if err := q.RunInBackground(context.Background(), id, func(ctx context.Context, task models.BackgroundTask) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}); err != nil {
		t.Fatal(err)
	}
	<-started

	if err := q.UpdateProgress(id, 250, "overshoot"); err != nil {
		t.Fatal(err)
	}
	if task, _ := q.Get(id); task.Progress != 100 {
		t.Errorf("progress = %d, want clamped 100", task.Progress)
	}
	if err := q.UpdateProgress(id, -5, "undershoot"); err != nil {
		t.Fatal(err)
	}
	if task, _ := q.Get(id); task.Progress != 0 {
		t.Errorf("progress = %d, want clamped 0", task.Progress)
	}
	if err := q.CancelTask(id); err != nil {
		t.Fatal(err)
	}
}

func TestPauseResumeIsOnlyBackwardEdge(t *testing.T) {
	q := New()
	id := enqueue(t, q, "work")
	if err := q.RunInBackground(context.Background(), id, blockUntilCancelled); err != nil {
		t.Fatal(err)
	}

	if err := q.PauseTask(id); err != nil {
		t.Fatal(err)
	}
	if err := q.ResumeTask(id); err != nil {
		t.Fatal(err)
	}
	if err := q.CancelTask(id); err != nil {
		t.Fatal(err)
	}

	// Terminal states admit nothing.
	if err := q.PauseTask(id); err == nil {
		t.Error("pause accepted on cancelled task")
	}
	if err := q.ResumeTask(id); err == nil {
		t.Error("resume accepted on cancelled task")
	}
}

func TestGetResumeDataReturnsCheckpointAndBudget(t *testing.T) {
	q := New()
	task, err := q.Enqueue("work", 10)
	if err != nil {
		t.Fatal(err)
	}
	if err := q.SaveCheckpoint(task.ID, models.Checkpoint{Iteration: 4, TranscriptSnapshot: "so far"}); err != nil {
		t.Fatal(err)
	}

	cp, remaining, err := q.GetResumeData(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cp == nil || cp.Iteration != 4 {
		t.Fatalf("checkpoint = %+v", cp)
	}
	if remaining != 6 {
		t.Errorf("remaining = %d, want 6", remaining)
	}
}

func TestRetryTaskResetsOnlyFailedTasks(t *testing.T) {
	q := New()
	id := enqueue(t, q, "work")

	if err := q.RetryTask(id); err == nil {
		t.Error("retry accepted on queued task")
	}
	if err := q.FailTask(id, "boom"); err != nil {
		t.Fatal(err)
	}
	if err := q.RetryTask(id); err != nil {
		t.Fatal(err)
	}

	task, _ := q.Get(id)
	if task.Status != models.TaskStatusQueued {
		t.Errorf("status = %s, want queued", task.Status)
	}
	if task.Error != "" || task.Progress != 0 || task.CompletedAt != nil {
		t.Errorf("retry left stale terminal fields: %+v", task)
	}
}

func TestCleanupRemovesOldTerminalTasks(t *testing.T) {
	q := New(WithRetention(time.Hour))
	base := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	current := base
	var mu sync.Mutex
	q.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	oldDone := enqueue(t, q, "old done")
	if err := q.FailTask(oldDone, "boom"); err != nil {
		t.Fatal(err)
	}
	stillQueued := enqueue(t, q, "still queued")

	mu.Lock()
	current = base.Add(2 * time.Hour)
	mu.Unlock()
	recentDone := enqueue(t, q, "recent done")
	if err := q.CancelTask(recentDone); err != nil {
		t.Fatal(err)
	}

	if removed := q.Cleanup(); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := q.Get(oldDone); ok {
		t.Error("old terminal task survived cleanup")
	}
	if _, ok := q.Get(stillQueued); !ok {
		t.Error("non-terminal task swept")
	}
	if _, ok := q.Get(recentDone); !ok {
		t.Error("recent terminal task swept")
	}
}
