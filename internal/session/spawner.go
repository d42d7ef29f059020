// Package session spawns capacity-capped child sessions, each running an
// executor in its own goroutine with a cooperative context, a per-session
// timeout, and lifecycle events fanned out to subscribers.
package session

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"overseer/pkg/models"
)

var debug = os.Getenv("OVERSEER_DEBUG") != ""

func debugLog(format string, args ...interface{}) {
	if debug {
		log.Printf("[session] "+format, args...)
	}
}

const (
	defaultMaxActive      = 3
	defaultSessionTimeout = 10 * time.Minute
)

// Outcome is what an executor produced.
type Outcome struct {
	// Result is the session's final output.
	Result string
	// ToolsUsed lists capability names the session invoked.
	ToolsUsed []string
	// Signature is the audit signature of the result, if signed.
	Signature string
}

// Executor runs one session. The context is cancelled on Cancel; executors
// should return promptly once it is done.
type Executor func(ctx context.Context, session models.SpawnedSession) (*Outcome, error)

// Config describes a session to spawn.
type Config struct {
	// Name is a short label for the session.
	Name string
	// Instruction is the task the session works on.
	Instruction string
	// Timeout overrides the spawner default when positive.
	Timeout time.Duration
}

// Store persists sessions. Writes are best-effort.
type Store interface {
	SaveSession(s *models.SpawnedSession) error
}

// Spawner manages child sessions. Construct with New.
type Spawner struct {
	mu       sync.Mutex
	sessions map[string]*models.SpawnedSession
	cancels  map[string]context.CancelFunc

	maxActive      int
	sessionTimeout time.Duration
	store          Store
	events         *emitter
	now            func() time.Time
}

// Option configures a Spawner.
type Option func(*Spawner)

// WithMaxActive caps concurrently active (pending or running) sessions.
func WithMaxActive(n int) Option {
	return func(s *Spawner) {
		if n > 0 {
			s.maxActive = n
		}
	}
}

// WithSessionTimeout sets the default per-session timeout.
func WithSessionTimeout(d time.Duration) Option {
	return func(s *Spawner) {
		if d > 0 {
			s.sessionTimeout = d
		}
	}
}

// WithStore attaches a persistent store.
func WithStore(st Store) Option {
	return func(s *Spawner) { s.store = st }
}

func New(opts ...Option) *Spawner {
	s := &Spawner{
		sessions:       make(map[string]*models.SpawnedSession),
		cancels:        make(map[string]context.CancelFunc),
		maxActive:      defaultMaxActive,
		sessionTimeout: defaultSessionTimeout,
		events:         newEmitter(),
		now:            time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Subscribe registers a subscriber for one session's events and returns an
// unsubscribe function.
func (s *Spawner) Subscribe(runID string, fn Subscriber) func() {
	return s.events.subscribe(runID, fn)
}

// SubscribeAll registers a subscriber for every session's events.
func (s *Spawner) SubscribeAll(fn Subscriber) func() {
	return s.events.subscribeAll(fn)
}

// Spawn admits a new session and starts its executor. At capacity it fails
// synchronously, naming the limit and the active sessions; nothing is
// created or started.
func (s *Spawner) Spawn(ctx context.Context, cfg Config, exec Executor) (*models.SpawnedSession, error) {
	if cfg.Instruction == "" {
		return nil, fmt.Errorf("instruction must not be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = s.sessionTimeout
	}

	s.mu.Lock()
	var activeNames []string
	for _, sess := range s.sessions {
		if !sess.Status.Terminal() {
			activeNames = append(activeNames, sess.Name)
		}
	}
	if len(activeNames) >= s.maxActive {
		s.mu.Unlock()
		sort.Strings(activeNames)
		return nil, fmt.Errorf("session limit reached (%d/%d active): %s",
			len(activeNames), s.maxActive, strings.Join(activeNames, ", "))
	}

	sess := &models.SpawnedSession{
		RunID:       uuid.New().String(),
		Name:        cfg.Name,
		Instruction: cfg.Instruction,
		Status:      models.SessionStatusPending,
		CreatedAt:   s.now(),
	}
	s.sessions[sess.RunID] = sess
	runCtx, cancel := context.WithCancel(ctx)
	s.cancels[sess.RunID] = cancel
	s.persist(sess)
	snap := *sess
	s.mu.Unlock()

	s.events.emit(Event{Type: EventSpawned, RunID: snap.RunID, Session: snap, At: s.now()})
	debugLog("spawned %s (%s)", snap.RunID, snap.Name)

	timer := time.AfterFunc(timeout, func() {
		if s.fail(snap.RunID, fmt.Sprintf("timed out after %s", timeout)) {
			log.Printf("[session] %s timed out after %s", snap.RunID, timeout)
			cancel()
		}
	})

	go s.run(runCtx, snap.RunID, exec, timer, cancel)
	return &snap, nil
}

func (s *Spawner) run(ctx context.Context, runID string, exec Executor, timer *time.Timer, cancel context.CancelFunc) {
	defer timer.Stop()
	defer cancel()

	started, ok := s.markStarted(runID)
	if !ok {
		return
	}
	s.events.emit(Event{Type: EventStarted, RunID: runID, Session: started, At: s.now()})

	outcome, err := exec(ctx, started)
	if err != nil {
		s.fail(runID, err.Error())
		return
	}
	if outcome == nil {
		outcome = &Outcome{}
	}
	s.complete(runID, outcome)
}

// markStarted flips pending to running. It reports false when the session
// already reached a terminal state (cancelled or timed out before starting).
func (s *Spawner) markStarted(runID string) (models.SpawnedSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[runID]
	if !ok || !sess.Status.CanTransition(models.SessionStatusRunning) {
		return models.SpawnedSession{}, false
	}
	now := s.now()
	sess.Status = models.SessionStatusRunning
	sess.StartedAt = &now
	s.persist(sess)
	return *sess, true
}

// UpdateProgress records executor progress and emits a progress event.
func (s *Spawner) UpdateProgress(runID string, progress int, currentStep string) error {
	s.mu.Lock()
	sess, ok := s.sessions[runID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("session %s not found", runID)
	}
	if sess.Status != models.SessionStatusRunning {
		s.mu.Unlock()
		return fmt.Errorf("session %s is %s, not running", runID, sess.Status)
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	sess.Progress = progress
	sess.CurrentStep = currentStep
	s.persist(sess)
	snap := *sess
	s.mu.Unlock()

	s.events.emit(Event{Type: EventProgress, RunID: runID, Session: snap, At: s.now()})
	return nil
}

// Cancel moves a non-terminal session to cancelled and signals its executor.
// It reports whether the session was actually cancelled.
func (s *Spawner) Cancel(runID string) bool {
	snap, ok := s.finish(runID, models.SessionStatusCancelled, func(sess *models.SpawnedSession) {})
	if !ok {
		return false
	}
	s.mu.Lock()
	cancel := s.cancels[runID]
	delete(s.cancels, runID)
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.events.emit(Event{Type: EventCancelled, RunID: runID, Session: snap, At: s.now()})
	return true
}

// AwaitCompletion blocks until the session reaches a terminal state or the
// timeout elapses. On timeout the session is force-failed, so the returned
// session is always terminal.
func (s *Spawner) AwaitCompletion(runID string, timeout time.Duration) (*models.SpawnedSession, error) {
	s.mu.Lock()
	sess, ok := s.sessions[runID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("session %s not found", runID)
	}
	if sess.Status.Terminal() {
		snap := *sess
		s.mu.Unlock()
		return &snap, nil
	}
	s.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	unsubscribe := s.events.subscribe(runID, func(ev Event) {
		if ev.Session.Status.Terminal() {
			once.Do(func() { close(done) })
		}
	})
	defer unsubscribe()

	// The subscription raced the terminal transition; re-check.
	if sess, ok := s.Get(runID); ok && sess.Status.Terminal() {
		return sess, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		if s.fail(runID, fmt.Sprintf("await timed out after %s", timeout)) {
			s.mu.Lock()
			if cancel := s.cancels[runID]; cancel != nil {
				cancel()
			}
			s.mu.Unlock()
		}
	}

	final, ok := s.Get(runID)
	if !ok {
		return nil, fmt.Errorf("session %s disappeared", runID)
	}
	return final, nil
}

// Get returns a snapshot of one session.
func (s *Spawner) Get(runID string) (*models.SpawnedSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[runID]
	if !ok {
		return nil, false
	}
	snap := *sess
	return &snap, true
}

// List returns snapshots of all sessions ordered by creation time.
func (s *Spawner) List() []*models.SpawnedSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.SpawnedSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		snap := *sess
		out = append(out, &snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Adopt loads persisted sessions, marking anything that was in flight when
// the process died as failed("interrupted"). Called once at startup before
// new sessions spawn.
func (s *Spawner) Adopt(sessions []models.SpawnedSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range sessions {
		sess := sessions[i]
		if !sess.Status.Terminal() {
			now := s.now()
			sess.Status = models.SessionStatusFailed
			sess.Error = "interrupted"
			sess.CompletedAt = &now
			debugLog("adopted in-flight session %s as failed", sess.RunID)
		}
		copied := sess
		s.sessions[sess.RunID] = &copied
		s.persist(&copied)
	}
}

func (s *Spawner) complete(runID string, outcome *Outcome) {
	snap, ok := s.finish(runID, models.SessionStatusCompleted, func(sess *models.SpawnedSession) {
		sess.Result = outcome.Result
		sess.ToolsUsed = outcome.ToolsUsed
		sess.Signature = outcome.Signature
		sess.Progress = 100
	})
	if !ok {
		return
	}
	s.events.emit(Event{Type: EventCompleted, RunID: runID, Session: snap, At: s.now()})
}

func (s *Spawner) fail(runID, errMsg string) bool {
	snap, ok := s.finish(runID, models.SessionStatusFailed, func(sess *models.SpawnedSession) {
		sess.Error = errMsg
	})
	if !ok {
		return false
	}
	s.events.emit(Event{Type: EventFailed, RunID: runID, Session: snap, At: s.now()})
	return true
}

// finish applies a terminal transition under the lock and returns a snapshot
// for event emission. It reports false when the transition is illegal.
func (s *Spawner) finish(runID string, next models.SessionStatus, mutate func(*models.SpawnedSession)) (models.SpawnedSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[runID]
	if !ok || !sess.Status.CanTransition(next) {
		return models.SpawnedSession{}, false
	}
	sess.Status = next
	now := s.now()
	sess.CompletedAt = &now
	mutate(sess)
	s.persist(sess)
	return *sess, true
}

// persist writes a session to the store, logging failures. Callers hold s.mu.
func (s *Spawner) persist(sess *models.SpawnedSession) {
	if s.store == nil {
		return
	}
	snap := *sess
	if err := s.store.SaveSession(&snap); err != nil {
		log.Printf("[session] persist %s: %v", sess.RunID, err)
	}
}
