package router

import (
	"fmt"
	"sync"
	"time"
)

// ResourceManager gates capability calls on quota before invocation. A nil
// manager on the router means no quota enforcement.
type ResourceManager interface {
	// Acquire returns an error when the capability may not run right now.
	Acquire(capName string) error
}

// WindowLimiter allows at most maxCalls per capability within a sliding
// window. It satisfies ResourceManager.
type WindowLimiter struct {
	mu       sync.Mutex
	maxCalls int
	window   time.Duration
	calls    map[string][]time.Time
	now      func() time.Time
}

func NewWindowLimiter(maxCalls int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		maxCalls: maxCalls,
		window:   window,
		calls:    make(map[string][]time.Time),
		now:      time.Now,
	}
}

func (l *WindowLimiter) Acquire(capName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.calls[capName][:0]
	for _, t := range l.calls[capName] {
		if now.Sub(t) <= l.window {
			recent = append(recent, t)
		}
	}
	if len(recent) >= l.maxCalls {
		l.calls[capName] = recent
		return &RateLimitError{
			Capability: capName,
			Detail:     fmt.Sprintf("%d calls in %s", len(recent), l.window),
		}
	}
	l.calls[capName] = append(recent, now)
	return nil
}
