package router

import (
	"log"
	"time"

	"overseer/internal/capability"
)

// HookRecord describes one completed routing decision for audit consumers.
type HookRecord struct {
	Capability string
	Args       capability.Args
	Result     *capability.Result
	Err        error
	Cached     bool
	Duration   time.Duration
	At         time.Time
}

// AuditHook observes completed routing decisions. Hooks run fire-and-forget
// on their own goroutine; a panicking or slow hook never affects the call it
// observed.
type AuditHook interface {
	Observe(rec HookRecord)
}

// AuditHookFunc adapts a function to AuditHook.
type AuditHookFunc func(rec HookRecord)

func (f AuditHookFunc) Observe(rec HookRecord) { f(rec) }

func dispatchHooks(hooks []AuditHook, rec HookRecord) {
	for _, h := range hooks {
		go func(h AuditHook) {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[router] audit hook panicked: %v", r)
				}
			}()
			h.Observe(rec)
		}(h)
	}
}
