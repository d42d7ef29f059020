// Package schedule evaluates 5-field cron expressions and runs scheduled
// jobs by spawning sessions. A job failure is logged and the job stays
// enabled; the scheduler never gives up on a job by itself.
package schedule

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"overseer/internal/session"
	"overseer/pkg/models"
)

var debug = os.Getenv("OVERSEER_DEBUG") != ""

func debugLog(format string, args ...interface{}) {
	if debug {
		log.Printf("[schedule] "+format, args...)
	}
}

const (
	// debounceWindow suppresses re-firing a job whose last run was moments
	// ago, covering tick jitter around the matching minute.
	debounceWindow = 2 * time.Minute
	// defaultTickInterval is how often the run loop evaluates jobs.
	defaultTickInterval = 30 * time.Second
)

// Spawner starts a session for a due job. *session.Spawner satisfies it.
type Spawner interface {
	Spawn(ctx context.Context, cfg session.Config, exec session.Executor) (*models.SpawnedSession, error)
}

// ExecutorFactory builds the session executor that carries out a job's
// instruction.
type ExecutorFactory func(job models.ScheduledJob) session.Executor

// Store persists jobs. Writes are best-effort.
type Store interface {
	SaveJob(j *models.ScheduledJob) error
	DeleteJob(id string) error
}

// Scheduler owns the job registry and the tick loop. Construct with New.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*models.ScheduledJob

	spawner      Spawner
	makeExecutor ExecutorFactory
	store        Store
	tickInterval time.Duration
	now          func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithStore attaches a persistent store.
func WithStore(s Store) Option {
	return func(sc *Scheduler) { sc.store = s }
}

// WithTickInterval overrides how often Run evaluates jobs.
func WithTickInterval(d time.Duration) Option {
	return func(sc *Scheduler) {
		if d > 0 {
			sc.tickInterval = d
		}
	}
}

func New(spawner Spawner, makeExecutor ExecutorFactory, opts ...Option) *Scheduler {
	sc := &Scheduler{
		jobs:         make(map[string]*models.ScheduledJob),
		spawner:      spawner,
		makeExecutor: makeExecutor,
		tickInterval: defaultTickInterval,
		now:          time.Now,
	}
	for _, o := range opts {
		o(sc)
	}
	return sc
}

// CreateJob validates the cron expression and registers the job. Invalid
// syntax fails synchronously and registers nothing.
func (sc *Scheduler) CreateJob(name, cronExpr, instruction string) (*models.ScheduledJob, error) {
	if instruction == "" {
		return nil, fmt.Errorf("instruction must not be empty")
	}
	if _, err := Parse(cronExpr); err != nil {
		return nil, err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	now := sc.now()
	job := &models.ScheduledJob{
		ID:             uuid.New().String(),
		Name:           name,
		CronExpression: cronExpr,
		Instruction:    instruction,
		Enabled:        true,
		CreatedAt:      now,
	}
	if next, ok, _ := NextRun(cronExpr, now); ok {
		job.NextRunAt = &next
	}
	sc.jobs[job.ID] = job
	sc.persist(job)
	debugLog("created job %s (%s)", job.ID, name)
	snap := *job
	return &snap, nil
}

// GetJob returns a snapshot of one job.
func (sc *Scheduler) GetJob(id string) (*models.ScheduledJob, bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	job, ok := sc.jobs[id]
	if !ok {
		return nil, false
	}
	snap := *job
	return &snap, true
}

// ListJobs returns snapshots of all jobs ordered by creation time.
func (sc *Scheduler) ListJobs() []*models.ScheduledJob {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make([]*models.ScheduledJob, 0, len(sc.jobs))
	for _, job := range sc.jobs {
		snap := *job
		out = append(out, &snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Adopt registers jobs loaded from a persistent store. Jobs already in the
// registry keep their in-memory state.
func (sc *Scheduler) Adopt(jobs []models.ScheduledJob) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for i := range jobs {
		j := jobs[i]
		if _, ok := sc.jobs[j.ID]; ok {
			continue
		}
		sc.jobs[j.ID] = &j
	}
}

// DeleteJob removes a job from the registry and the store.
func (sc *Scheduler) DeleteJob(id string) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if _, ok := sc.jobs[id]; !ok {
		return fmt.Errorf("job %s not found", id)
	}
	delete(sc.jobs, id)
	if sc.store != nil {
		if err := sc.store.DeleteJob(id); err != nil {
			log.Printf("[schedule] delete job %s from store: %v", id, err)
		}
	}
	return nil
}

// SetEnabled flips a job's enabled flag.
func (sc *Scheduler) SetEnabled(id string, enabled bool) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	job, ok := sc.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	job.Enabled = enabled
	sc.persist(job)
	return nil
}

// Tick evaluates every enabled job against the current minute and spawns
// sessions for the ones that are due. A job whose last run falls inside the
// debounce window is skipped. Spawn failures are logged; the job stays
// enabled either way.
func (sc *Scheduler) Tick(ctx context.Context) {
	now := sc.now()

	sc.mu.Lock()
	var due []models.ScheduledJob
	for _, job := range sc.jobs {
		if !job.Enabled {
			continue
		}
		if job.LastRunAt != nil && now.Sub(*job.LastRunAt) < debounceWindow {
			continue
		}
		match, err := ShouldRunNow(job.CronExpression, now)
		if err != nil {
			log.Printf("[schedule] job %s has unparseable expression %q: %v", job.ID, job.CronExpression, err)
			continue
		}
		if match {
			due = append(due, *job)
		}
	}
	sc.mu.Unlock()

	for _, job := range due {
		sc.launch(ctx, job, now)
	}
}

// RunNow forces immediate execution of a job, bypassing cron matching and
// debounce.
func (sc *Scheduler) RunNow(ctx context.Context, id string) error {
	sc.mu.Lock()
	job, ok := sc.jobs[id]
	if !ok {
		sc.mu.Unlock()
		return fmt.Errorf("job %s not found", id)
	}
	snap := *job
	sc.mu.Unlock()

	return sc.launch(ctx, snap, sc.now())
}

// Run ticks on the configured interval until ctx is cancelled.
func (sc *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(sc.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sc.Tick(ctx)
		}
	}
}

func (sc *Scheduler) launch(ctx context.Context, job models.ScheduledJob, now time.Time) error {
	_, err := sc.spawner.Spawn(ctx, session.Config{
		Name:        "job:" + job.Name,
		Instruction: job.Instruction,
	}, sc.makeExecutor(job))
	if err != nil {
		log.Printf("[schedule] job %s (%s) failed to start: %v", job.ID, job.Name, err)
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	stored, ok := sc.jobs[job.ID]
	if !ok {
		return nil
	}
	at := now
	stored.LastRunAt = &at
	stored.RunCount++
	if next, ok, _ := NextRun(stored.CronExpression, now); ok {
		stored.NextRunAt = &next
	} else {
		stored.NextRunAt = nil
	}
	sc.persist(stored)
	debugLog("job %s ran (count %d)", job.ID, stored.RunCount)
	return nil
}

// persist writes a job to the store, logging failures. Callers hold sc.mu.
func (sc *Scheduler) persist(job *models.ScheduledJob) {
	if sc.store == nil {
		return
	}
	snap := *job
	if err := sc.store.SaveJob(&snap); err != nil {
		log.Printf("[schedule] persist job %s: %v", job.ID, err)
	}
}
