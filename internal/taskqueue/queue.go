// Package taskqueue manages long-running background tasks: admission-capped
// execution, progress and checkpoints, a watchdog for runaway executors, and
// a cleanup sweep for old terminal tasks. Persistence is best-effort; the
// in-memory queue is authoritative.
package taskqueue

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"overseer/pkg/models"
)

var debug = os.Getenv("OVERSEER_DEBUG") != ""

func debugLog(format string, args ...interface{}) {
	if debug {
		log.Printf("[taskqueue] "+format, args...)
	}
}

const (
	defaultMaxActive       = 3
	defaultTaskTimeout     = 30 * time.Minute
	defaultCheckpointEvery = 5
	defaultRetention       = 24 * time.Hour
	defaultMaxIterations   = 50
)

// Store persists tasks. Writes are best-effort: failures are logged and the
// in-memory state stays authoritative.
type Store interface {
	SaveTask(t *models.BackgroundTask) error
	DeleteTask(id string) error
}

// Executor runs one background task. It receives a snapshot of the task and
// a context cancelled on CancelTask; it should consult the queue for progress
// reporting and stop promptly once ctx is done.
type Executor func(ctx context.Context, task models.BackgroundTask) (result string, err error)

// Queue is the background task registry. Construct with New.
type Queue struct {
	mu      sync.Mutex
	tasks   map[string]*models.BackgroundTask
	cancels map[string]context.CancelFunc
	updates map[string]int

	maxActive       int
	taskTimeout     time.Duration
	checkpointEvery int
	retention       time.Duration
	store           Store
	now             func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxActive caps how many tasks may run at once.
func WithMaxActive(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxActive = n
		}
	}
}

// WithTaskTimeout sets the watchdog timeout for a single task.
func WithTaskTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.taskTimeout = d
		}
	}
}

// WithCheckpointEvery sets how many progress updates elapse between
// auto-checkpoints.
func WithCheckpointEvery(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.checkpointEvery = n
		}
	}
}

// WithRetention sets how long terminal tasks survive before Cleanup removes
// them.
func WithRetention(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.retention = d
		}
	}
}

// WithStore attaches a persistent store.
func WithStore(s Store) Option {
	return func(q *Queue) { q.store = s }
}

func New(opts ...Option) *Queue {
	q := &Queue{
		tasks:           make(map[string]*models.BackgroundTask),
		cancels:         make(map[string]context.CancelFunc),
		updates:         make(map[string]int),
		maxActive:       defaultMaxActive,
		taskTimeout:     defaultTaskTimeout,
		checkpointEvery: defaultCheckpointEvery,
		retention:       defaultRetention,
		now:             time.Now,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue registers a new task in the queued state.
func (q *Queue) Enqueue(instruction string, maxIterations int) (*models.BackgroundTask, error) {
	if instruction == "" {
		return nil, fmt.Errorf("instruction must not be empty")
	}
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	t := &models.BackgroundTask{
		ID:            uuid.New().String(),
		Instruction:   instruction,
		Status:        models.TaskStatusQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
		MaxIterations: maxIterations,
	}
	q.tasks[t.ID] = t
	q.persist(t)
	debugLog("enqueued task %s", t.ID)
	return snapshot(t), nil
}

// RunInBackground starts the executor for a queued task. The admission check
// and the transition to running happen under one lock acquisition; at
// capacity it fails synchronously without touching the task.
func (q *Queue) RunInBackground(ctx context.Context, id string, exec Executor) error {
	q.mu.Lock()
	t, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("task %s not found", id)
	}
	if t.Status != models.TaskStatusQueued {
		q.mu.Unlock()
		return fmt.Errorf("task %s is %s, not queued", id, t.Status)
	}
	active := 0
	for _, other := range q.tasks {
		if other.Status == models.TaskStatusRunning {
			active++
		}
	}
	if active >= q.maxActive {
		q.mu.Unlock()
		return fmt.Errorf("task queue at capacity: %d of %d tasks running", active, q.maxActive)
	}

	t.Status = models.TaskStatusRunning
	t.UpdatedAt = q.now()
	runCtx, cancel := context.WithCancel(ctx)
	q.cancels[id] = cancel
	task := *t
	q.persist(t)
	q.mu.Unlock()

	watchdog := time.AfterFunc(q.taskTimeout, func() {
		if q.expire(id, fmt.Sprintf("watchdog: exceeded %s", q.taskTimeout)) {
			log.Printf("[taskqueue] task %s failed by watchdog after %s", id, q.taskTimeout)
			cancel()
		}
	})

	go func() {
		defer watchdog.Stop()
		defer cancel()
		result, err := exec(runCtx, task)
		if err != nil {
			if ferr := q.FailTask(id, err.Error()); ferr != nil {
				debugLog("task %s already terminal: %v", id, ferr)
			}
			return
		}
		if cerr := q.CompleteTask(id, result); cerr != nil {
			debugLog("task %s already terminal: %v", id, cerr)
		}
	}()
	return nil
}

// UpdateProgress records executor progress on a running task. Every Nth
// update also snapshots an auto-checkpoint; the iteration counter advances on
// every update regardless.
func (q *Queue) UpdateProgress(id string, progress int, currentStep string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	if t.Status != models.TaskStatusRunning {
		return fmt.Errorf("task %s is %s, not running", id, t.Status)
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	t.Progress = progress
	t.CurrentStep = currentStep
	t.UpdatedAt = q.now()

	q.updates[id]++
	if q.updates[id]%q.checkpointEvery == 0 {
		t.Checkpoint = &models.Checkpoint{
			Iteration:          q.updates[id],
			TranscriptSnapshot: currentStep,
			SavedAt:            q.now(),
		}
		debugLog("auto-checkpoint for %s at iteration %d", id, q.updates[id])
	}
	q.persist(t)
	return nil
}

// SaveCheckpoint stores an explicit checkpoint. Iterations must strictly
// increase within a task.
func (q *Queue) SaveCheckpoint(id string, cp models.Checkpoint) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	if t.Status.Terminal() {
		return fmt.Errorf("task %s is %s; checkpoints are closed", id, t.Status)
	}
	if t.Checkpoint != nil && cp.Iteration <= t.Checkpoint.Iteration {
		return fmt.Errorf("checkpoint iteration %d not greater than %d", cp.Iteration, t.Checkpoint.Iteration)
	}
	if cp.SavedAt.IsZero() {
		cp.SavedAt = q.now()
	}
	t.Checkpoint = &cp
	t.UpdatedAt = q.now()
	if cp.Iteration > q.updates[id] {
		q.updates[id] = cp.Iteration
	}
	q.persist(t)
	return nil
}

// GetResumeData returns the latest checkpoint and the remaining iteration
// budget for a paused or failed task. It is purely informational: resuming a
// task does not replay its loop.
func (q *Queue) GetResumeData(id string) (*models.Checkpoint, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil, 0, fmt.Errorf("task %s not found", id)
	}
	var cp *models.Checkpoint
	if t.Checkpoint != nil {
		c := *t.Checkpoint
		cp = &c
	}
	return cp, t.RemainingIterations(), nil
}

// CompleteTask marks a running task completed.
func (q *Queue) CompleteTask(id, result string) error {
	return q.finish(id, models.TaskStatusCompleted, func(t *models.BackgroundTask) {
		t.Result = result
		t.Progress = 100
	})
}

// FailTask marks a queued, running, or paused task failed.
func (q *Queue) FailTask(id, errMsg string) error {
	return q.finish(id, models.TaskStatusFailed, func(t *models.BackgroundTask) {
		t.Error = errMsg
	})
}

// CancelTask cancels a non-terminal task and signals its executor context.
func (q *Queue) CancelTask(id string) error {
	err := q.finish(id, models.TaskStatusCancelled, nil)
	if err != nil {
		return err
	}
	q.mu.Lock()
	cancel := q.cancels[id]
	delete(q.cancels, id)
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// PauseTask moves a running task to paused. The executor keeps its context;
// pausing is a cooperative signal, not preemption.
func (q *Queue) PauseTask(id string) error {
	return q.transition(id, models.TaskStatusPaused, nil)
}

// ResumeTask moves a paused task back to running, the only backward edge in
// the state machine.
func (q *Queue) ResumeTask(id string) error {
	return q.transition(id, models.TaskStatusRunning, nil)
}

// RetryTask resets a failed task to queued so it can run again. The
// checkpoint is kept for resume data; error and progress are cleared.
func (q *Queue) RetryTask(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	if t.Status != models.TaskStatusFailed {
		return fmt.Errorf("task %s is %s; only failed tasks can be retried", id, t.Status)
	}
	t.Status = models.TaskStatusQueued
	t.Error = ""
	t.Progress = 0
	t.CompletedAt = nil
	t.UpdatedAt = q.now()
	q.persist(t)
	return nil
}

// Get returns a snapshot of one task.
func (q *Queue) Get(id string) (*models.BackgroundTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return nil, false
	}
	return snapshot(t), true
}

// List returns snapshots of all tasks ordered by creation time.
func (q *Queue) List() []*models.BackgroundTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.BackgroundTask, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, snapshot(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Cleanup removes terminal tasks older than the retention window and returns
// how many were removed.
func (q *Queue) Cleanup() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-q.retention)
	removed := 0
	for id, t := range q.tasks {
		if !t.Status.Terminal() {
			continue
		}
		done := t.UpdatedAt
		if t.CompletedAt != nil {
			done = *t.CompletedAt
		}
		if done.Before(cutoff) {
			delete(q.tasks, id)
			delete(q.updates, id)
			if q.store != nil {
				if err := q.store.DeleteTask(id); err != nil {
					log.Printf("[taskqueue] delete task %s from store: %v", id, err)
				}
			}
			removed++
		}
	}
	if removed > 0 {
		debugLog("cleanup removed %d tasks", removed)
	}
	return removed
}

// transition applies a non-terminal status change with state machine checks.
func (q *Queue) transition(id string, next models.TaskStatus, mutate func(*models.BackgroundTask)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	if !t.Status.CanTransition(next) {
		return fmt.Errorf("task %s cannot go from %s to %s", id, t.Status, next)
	}
	t.Status = next
	t.UpdatedAt = q.now()
	if mutate != nil {
		mutate(t)
	}
	q.persist(t)
	return nil
}

// expire fails a task that is still running, reporting whether it did. The
// watchdog uses it so that paused tasks outlive their deadline untouched.
func (q *Queue) expire(id, errMsg string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, ok := q.tasks[id]
	if !ok || t.Status != models.TaskStatusRunning {
		return false
	}
	now := q.now()
	t.Status = models.TaskStatusFailed
	t.Error = errMsg
	t.UpdatedAt = now
	t.CompletedAt = &now
	q.persist(t)
	return true
}

// finish applies a terminal status change and stamps CompletedAt.
func (q *Queue) finish(id string, next models.TaskStatus, mutate func(*models.BackgroundTask)) error {
	return q.transition(id, next, func(t *models.BackgroundTask) {
		now := q.now()
		t.CompletedAt = &now
		if mutate != nil {
			mutate(t)
		}
	})
}

// persist writes a task to the store, logging failures. Callers hold q.mu.
func (q *Queue) persist(t *models.BackgroundTask) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveTask(snapshot(t)); err != nil {
		log.Printf("[taskqueue] persist task %s: %v", t.ID, err)
	}
}

func snapshot(t *models.BackgroundTask) *models.BackgroundTask {
	c := *t
	if t.Checkpoint != nil {
		cp := *t.Checkpoint
		c.Checkpoint = &cp
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}
