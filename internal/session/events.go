package session

import (
	"log"
	"sync"
	"time"

	"overseer/pkg/models"
)

// EventType identifies a session lifecycle event.
type EventType string

const (
	EventSpawned   EventType = "spawned"
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventCancelled EventType = "cancelled"
)

// Event is one session lifecycle notification. Session is a snapshot taken
// at emit time.
type Event struct {
	Type    EventType
	RunID   string
	Session models.SpawnedSession
	At      time.Time
}

// Subscriber receives events. Subscribers run synchronously on the emitting
// goroutine; a panicking subscriber is recovered and logged, never crashing
// the spawner.
type Subscriber func(Event)

// emitter fans events out to per-session and global subscribers.
type emitter struct {
	mu      sync.Mutex
	nextID  int
	global  map[int]Subscriber
	session map[string]map[int]Subscriber
}

func newEmitter() *emitter {
	return &emitter{
		global:  make(map[int]Subscriber),
		session: make(map[string]map[int]Subscriber),
	}
}

// subscribeAll registers a global subscriber and returns an unsubscribe
// function.
func (e *emitter) subscribeAll(fn Subscriber) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.global[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.global, id)
	}
}

// subscribe registers a subscriber for one session's events.
func (e *emitter) subscribe(runID string, fn Subscriber) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	if e.session[runID] == nil {
		e.session[runID] = make(map[int]Subscriber)
	}
	e.session[runID][id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.session[runID], id)
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	subs := make([]Subscriber, 0, len(e.global)+len(e.session[ev.RunID]))
	for _, fn := range e.global {
		subs = append(subs, fn)
	}
	for _, fn := range e.session[ev.RunID] {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		deliver(fn, ev)
	}
}

func deliver(fn Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[session] subscriber panicked on %s event for %s: %v", ev.Type, ev.RunID, r)
		}
	}()
	fn(ev)
}
