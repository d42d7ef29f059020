// Package signal coordinates cooperative stop/pause of background work via
// marker files in a watched directory. Executors poll ShouldStop/ShouldPause
// between iterations; the watcher only makes the flags flip sooner, and a
// missing watcher degrades to pure stat polling.
package signal

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	stopPrefix  = "stop"
	pausePrefix = "pause"
)

// Manager watches a signal directory for stop/pause marker files. Markers
// are either global ("stop", "pause") or scoped to one task
// ("stop-<taskID>").
type Manager struct {
	dir string

	mu    sync.RWMutex
	flags map[string]bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New creates a Manager rooted at baseDir/signals, creating the directory if
// needed. A watcher failure is not an error; the manager falls back to stat
// polling.
func New(baseDir string) (*Manager, error) {
	dir := filepath.Join(baseDir, "signals")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	m := &Manager{
		dir:   dir,
		flags: make(map[string]bool),
		done:  make(chan struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return m, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return m, nil
	}
	m.watcher = watcher
	go m.watch()
	return m, nil
}

func (m *Manager) watch() {
	for {
		select {
		case <-m.done:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			m.mu.Lock()
			m.flags[filepath.Base(event.Name)] = true
			m.mu.Unlock()
		case <-m.watcher.Errors:
			// Keep watching; polling covers missed events.
		}
	}
}

// markerName builds the file name for a signal kind and optional task scope.
func markerName(kind, taskID string) string {
	if taskID == "" {
		return kind
	}
	return kind + "-" + taskID
}

// check reads the cached flag and falls back to a stat so a signal written
// while the watcher was down is still seen.
func (m *Manager) check(kind, taskID string) bool {
	name := markerName(kind, taskID)

	m.mu.RLock()
	set := m.flags[name]
	m.mu.RUnlock()
	if set {
		return true
	}

	if _, err := os.Stat(filepath.Join(m.dir, name)); err == nil {
		m.mu.Lock()
		m.flags[name] = true
		m.mu.Unlock()
		return true
	}
	return false
}

// ShouldStop reports whether a stop signal exists for the task, or globally.
// An empty taskID checks only the global signal.
func (m *Manager) ShouldStop(taskID string) bool {
	if m.check(stopPrefix, "") {
		return true
	}
	return taskID != "" && m.check(stopPrefix, taskID)
}

// ShouldPause reports whether a pause signal exists for the task, or
// globally.
func (m *Manager) ShouldPause(taskID string) bool {
	if m.check(pausePrefix, "") {
		return true
	}
	return taskID != "" && m.check(pausePrefix, taskID)
}

// SendStop writes a stop marker for the task (or globally for "").
func (m *Manager) SendStop(taskID string) error {
	return m.write(markerName(stopPrefix, taskID))
}

// SendPause writes a pause marker for the task (or globally for "").
func (m *Manager) SendPause(taskID string) error {
	return m.write(markerName(pausePrefix, taskID))
}

func (m *Manager) write(name string) error {
	return os.WriteFile(filepath.Join(m.dir, name), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Clear removes the task's markers and resets its cached flags. An empty
// taskID clears the global markers.
func (m *Manager) Clear(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kind := range []string{stopPrefix, pausePrefix} {
		name := markerName(kind, taskID)
		delete(m.flags, name)
		os.Remove(filepath.Join(m.dir, name))
	}
}

// Dir returns the watched signal directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Close shuts down the watcher.
func (m *Manager) Close() {
	close(m.done)
	if m.watcher != nil {
		m.watcher.Close()
	}
}
