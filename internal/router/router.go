// Package router executes capability calls behind a pipeline of safety
// gates: argument path validation, workflow enforcement, result caching,
// resource quotas, loop detection, and error classification with a single
// recovery attempt.
package router

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"overseer/internal/capability"
)

var debug = os.Getenv("OVERSEER_DEBUG") != ""

func debugLog(format string, args ...interface{}) {
	if debug {
		log.Printf("[router] "+format, args...)
	}
}

// Router runs capability invocations through the execution pipeline. The
// zero value is not usable; construct with New.
type Router struct {
	registry *capability.Registry
	cache    *ResultCache
	gate     *WorkflowGate
	history  *callHistory
	limiter  ResourceManager
	hooks    []AuditHook

	allowedPrefixes []string

	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Router.
type Option func(*Router)

// WithResourceManager installs a quota gate. Without one, no quota is
// enforced.
func WithResourceManager(rm ResourceManager) Option {
	return func(r *Router) { r.limiter = rm }
}

// WithAuditHook appends an observer for completed routing decisions.
func WithAuditHook(h AuditHook) Option {
	return func(r *Router) { r.hooks = append(r.hooks, h) }
}

// WithAllowedPathPrefixes sets the absolute path prefixes that path-like
// arguments may reference. Relative paths without traversal are always
// allowed.
func WithAllowedPathPrefixes(prefixes []string) Option {
	return func(r *Router) { r.allowedPrefixes = prefixes }
}

func New(registry *capability.Registry, opts ...Option) *Router {
	r := &Router{
		registry: registry,
		cache:    NewResultCache(),
		gate:     &WorkflowGate{},
		history:  newCallHistory(),
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Workflow exposes the follow-up gate so callers can register obligations.
func (r *Router) Workflow() *WorkflowGate { return r.gate }

// CacheStats reports result cache hit and miss counts.
func (r *Router) CacheStats() (hits, misses int64) { return r.cache.Stats() }

// Execute runs one capability call through every gate. Gate violations and
// unrecoverable invocation errors return an error; recoverable invocation
// paths return a result. A nil result from a capability is converted to an
// explicit failure so callers never observe a nil/nil pair.
func (r *Router) Execute(ctx context.Context, capName string, args capability.Args) (*capability.Result, error) {
	start := time.Now()

	if err := validatePaths(args, r.allowedPrefixes); err != nil {
		debugLog("rejected %s: %v", capName, err)
		return nil, err
	}
	if err := r.gate.Check(capName); err != nil {
		debugLog("rejected %s: %v", capName, err)
		return nil, err
	}

	key := cacheKey(capName, args)
	if res, ok := r.cache.Get(key); ok {
		debugLog("cache hit for %s", capName)
		r.observe(capName, args, res, nil, true, time.Since(start))
		return res, nil
	}

	if r.limiter != nil {
		if err := r.limiter.Acquire(capName); err != nil {
			return nil, err
		}
	}

	res, err := r.invoke(ctx, capName, args)
	if err != nil {
		res, err = r.recover(ctx, capName, args, err)
	}
	if err != nil {
		r.observe(capName, args, nil, err, false, time.Since(start))
		return nil, err
	}

	streak := r.history.record(capName, res)
	if streak >= loopThreshold {
		loopErr := &LoopDetectedError{Capability: capName, Repeats: streak}
		r.observe(capName, args, res, loopErr, false, time.Since(start))
		return nil, loopErr
	}
	if d := backoffFor(streak); d > 0 {
		debugLog("backing off %s for %s after %d identical results", capName, d, streak)
		if serr := r.sleep(ctx, d); serr != nil {
			return nil, serr
		}
	}

	if res.Success {
		r.cache.Put(key, res)
	}
	r.observe(capName, args, res, nil, false, time.Since(start))
	return res, nil
}

func (r *Router) invoke(ctx context.Context, capName string, args capability.Args) (*capability.Result, error) {
	c := r.registry.Get(capName)
	if c == nil {
		return nil, fmt.Errorf("unknown capability %q", capName)
	}
	if err := c.Validate(args); err != nil {
		return nil, fmt.Errorf("invalid arguments for %q: %w", capName, err)
	}
	res, err := c.Invoke(ctx, args)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return capability.Failure("capability %q returned no result", capName), nil
	}
	return res, nil
}

// recover classifies an invocation error and makes at most one recovery
// attempt. Abort-class errors propagate immediately; skip-class errors turn
// into a failure result so the caller can move past the step.
func (r *Router) recover(ctx context.Context, capName string, args capability.Args, cause error) (*capability.Result, error) {
	c := Classify(cause)
	debugLog("%s failed (%s, strategy=%s): %v", capName, c.Kind, c.Strategy, cause)

	switch c.Strategy {
	case StrategyAbort:
		return nil, fmt.Errorf("%s: %w", c.Kind, cause)
	case StrategySkipStep:
		return capability.Failure("%s skipped after %s: %v", capName, c.Kind, cause), nil
	case StrategySimplifyRequest:
		return nil, fmt.Errorf("%s: %w", c.Kind, cause)
	}

	if !c.Retryable {
		return nil, fmt.Errorf("%s: %w", c.Kind, cause)
	}
	if c.Strategy == StrategyRetryWithBackoff {
		if err := r.sleep(ctx, backoffBase); err != nil {
			return nil, err
		}
	}
	res, err := r.invoke(ctx, capName, args)
	if err != nil {
		return nil, fmt.Errorf("%s (recovery failed): %w", c.Kind, cause)
	}
	debugLog("%s recovered after %s", capName, c.Kind)
	return res, nil
}

func (r *Router) observe(capName string, args capability.Args, res *capability.Result, err error, cached bool, d time.Duration) {
	if len(r.hooks) == 0 {
		return
	}
	dispatchHooks(r.hooks, HookRecord{
		Capability: capName,
		Args:       args,
		Result:     res,
		Err:        err,
		Cached:     cached,
		Duration:   d,
		At:         time.Now(),
	})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
