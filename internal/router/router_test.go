package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"overseer/internal/capability"
)

// countingCap records invocations and replays scripted outcomes.
type countingCap struct {
	mu       sync.Mutex
	name     string
	calls    int
	results  []*capability.Result
	errs     []error
	validate func(capability.Args) error
}

func (c *countingCap) Name() string { return c.name }

func (c *countingCap) Validate(args capability.Args) error {
	if c.validate != nil {
		return c.validate(args)
	}
	return nil
}

func (c *countingCap) Invoke(ctx context.Context, args capability.Args) (*capability.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return nil, c.errs[i]
	}
	if i < len(c.results) {
		return c.results[i], nil
	}
	return &capability.Result{Success: true, Content: fmt.Sprintf("result %d", i)}, nil
}

func (c *countingCap) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestRouter(t *testing.T, caps ...capability.Capability) *Router {
	t.Helper()
	reg := capability.NewRegistry()
	for _, c := range caps {
		if err := reg.Register(c); err != nil {
			t.Fatalf("register %s: %v", c.Name(), err)
		}
	}
	r := New(reg)
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return r
}

func TestExecuteRejectsTraversalBeforeInvocation(t *testing.T) {
	c := &countingCap{name: "file_export"}
	r := newTestRouter(t, c)

	_, err := r.Execute(context.Background(), "file_export",
		capability.Args{"path": "../../etc/passwd"})

	var pv *PathViolationError
	if !errors.As(err, &pv) {
		t.Fatalf("expected PathViolationError, got %v", err)
	}
	if c.callCount() != 0 {
		t.Errorf("capability invoked %d times, want 0", c.callCount())
	}
}

func TestExecuteRejectsAbsolutePathOutsidePrefixes(t *testing.T) {
	c := &countingCap{name: "file_export"}
	reg := capability.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatal(err)
	}
	r := New(reg, WithAllowedPathPrefixes([]string{"/tmp/work"}))
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	if _, err := r.Execute(context.Background(), "file_export",
		capability.Args{"output": "/etc/shadow"}); err == nil {
		t.Fatal("expected rejection for path outside prefixes")
	}
	if _, err := r.Execute(context.Background(), "file_export",
		capability.Args{"output": "/tmp/work/report.txt"}); err != nil {
		t.Fatalf("allowed prefix rejected: %v", err)
	}
}

func TestExecuteCachesIdenticalCalls(t *testing.T) {
	c := &countingCap{name: "web_search", results: []*capability.Result{
		{Success: true, Content: "answer"},
	}}
	r := newTestRouter(t, c)
	args := capability.Args{"query": "weather"}

	first, err := r.Execute(context.Background(), "web_search", args)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Execute(context.Background(), "web_search", args)
	if err != nil {
		t.Fatal(err)
	}
	if c.callCount() != 1 {
		t.Errorf("capability invoked %d times, want 1", c.callCount())
	}
	if first.Content != second.Content {
		t.Errorf("cached result differs: %q vs %q", first.Content, second.Content)
	}
	hits, misses := r.CacheStats()
	if hits != 1 || misses != 1 {
		t.Errorf("stats hits=%d misses=%d, want 1/1", hits, misses)
	}
}

func TestExecuteDoesNotCacheFailures(t *testing.T) {
	c := &countingCap{name: "analyzer", results: []*capability.Result{
		{Success: false, Error: "no data"},
		{Success: true, Content: "found it"},
	}}
	r := newTestRouter(t, c)
	args := capability.Args{"subject": "logs"}

	res, err := r.Execute(context.Background(), "analyzer", args)
	if err != nil || res.Success {
		t.Fatalf("want failure result, got %+v err=%v", res, err)
	}
	res, err = r.Execute(context.Background(), "analyzer", args)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Error("second call should re-invoke and succeed")
	}
	if c.callCount() != 2 {
		t.Errorf("capability invoked %d times, want 2", c.callCount())
	}
}

func TestResultCacheFIFOEviction(t *testing.T) {
	cache := NewResultCache()
	for i := 0; i < cacheCapacity; i++ {
		cache.Put(fmt.Sprintf("key-%d", i), &capability.Result{Success: true})
	}
	if cache.Len() != cacheCapacity {
		t.Fatalf("len=%d, want %d", cache.Len(), cacheCapacity)
	}

	cache.Put("key-overflow", &capability.Result{Success: true})

	if cache.Len() != cacheCapacity {
		t.Fatalf("len=%d after overflow, want %d", cache.Len(), cacheCapacity)
	}
	if _, ok := cache.Get("key-0"); ok {
		t.Error("earliest entry key-0 should have been evicted")
	}
	if _, ok := cache.Get("key-1"); !ok {
		t.Error("key-1 should survive a single eviction")
	}
	if _, ok := cache.Get("key-overflow"); !ok {
		t.Error("newest entry missing")
	}
}

func TestWorkflowGateBlocksUntilFollowUp(t *testing.T) {
	search := &countingCap{name: "web_search"}
	extract := &countingCap{name: "content_extract"}
	r := newTestRouter(t, search, extract)

	r.Workflow().Require("content_extract", "search results need extraction")

	_, err := r.Execute(context.Background(), "web_search", capability.Args{"query": "x"})
	var wv *WorkflowViolationError
	if !errors.As(err, &wv) {
		t.Fatalf("expected WorkflowViolationError, got %v", err)
	}

	if _, err := r.Execute(context.Background(), "content_extract",
		capability.Args{"url": "https://example.com"}); err != nil {
		t.Fatalf("required follow-up rejected: %v", err)
	}
	// Gate cleared; anything may run again.
	if _, err := r.Execute(context.Background(), "web_search",
		capability.Args{"query": "x"}); err != nil {
		t.Fatalf("gate not cleared: %v", err)
	}
}

func TestExecuteEnforcesResourceQuota(t *testing.T) {
	c := &countingCap{name: "calculator"}
	reg := capability.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatal(err)
	}
	r := New(reg, WithResourceManager(NewWindowLimiter(2, time.Minute)))
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	for i := 0; i < 2; i++ {
		args := capability.Args{"expr": fmt.Sprintf("%d+1", i)}
		if _, err := r.Execute(context.Background(), "calculator", args); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	_, err := r.Execute(context.Background(), "calculator", capability.Args{"expr": "3+1"})
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
}

func TestExecuteConvertsNilResult(t *testing.T) {
	c := &countingCap{name: "browser", results: []*capability.Result{nil}}
	r := newTestRouter(t, c)

	res, err := r.Execute(context.Background(), "browser", capability.Args{"url": "https://e.com"})
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || res.Success {
		t.Fatalf("nil capability result should become an explicit failure, got %+v", res)
	}
}

func TestExecuteDetectsLoops(t *testing.T) {
	empty := &capability.Result{Success: true, Content: "{}"}
	c := &countingCap{name: "web_search", results: []*capability.Result{empty, empty, empty}}
	r := newTestRouter(t, c)

	// Identical args would hit the cache, so vary them per call.
	for i := 0; i < 2; i++ {
		args := capability.Args{"query": fmt.Sprintf("q%d", i)}
		if _, err := r.Execute(context.Background(), "web_search", args); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	_, err := r.Execute(context.Background(), "web_search", capability.Args{"query": "q2"})
	var loop *LoopDetectedError
	if !errors.As(err, &loop) {
		t.Fatalf("expected LoopDetectedError on third identical result, got %v", err)
	}
}

func TestExecuteRecoversOnceFromTransientError(t *testing.T) {
	c := &countingCap{
		name:    "web_search",
		errs:    []error{errors.New("connection refused")},
		results: []*capability.Result{nil, {Success: true, Content: "recovered"}},
	}
	r := newTestRouter(t, c)

	res, err := r.Execute(context.Background(), "web_search", capability.Args{"query": "a"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "recovered" {
		t.Errorf("content = %q, want recovered", res.Content)
	}
	if c.callCount() != 2 {
		t.Errorf("capability invoked %d times, want 2", c.callCount())
	}
}

func TestExecuteAbortsOnAuthError(t *testing.T) {
	c := &countingCap{name: "web_search", errs: []error{errors.New("401 unauthorized")}}
	r := newTestRouter(t, c)

	_, err := r.Execute(context.Background(), "web_search", capability.Args{"query": "a"})
	if err == nil {
		t.Fatal("expected error")
	}
	if c.callCount() != 1 {
		t.Errorf("auth error retried: %d invocations, want 1", c.callCount())
	}
}

func TestExecuteSkipsStepOn404(t *testing.T) {
	c := &countingCap{name: "content_extract", errs: []error{errors.New("404 not found")}}
	r := newTestRouter(t, c)

	res, err := r.Execute(context.Background(), "content_extract", capability.Args{"url": "https://gone"})
	if err != nil {
		t.Fatalf("404 should become a failure result, got error %v", err)
	}
	if res.Success {
		t.Error("skipped step should report failure")
	}
	if c.callCount() != 1 {
		t.Errorf("404 retried: %d invocations, want 1", c.callCount())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg       string
		kind      ErrorKind
		retryable bool
		strategy  string
	}{
		{"rate limit exceeded", KindRateLimit, true, StrategyRetryWithBackoff},
		{"got 429 from upstream", KindRateLimit, true, StrategyRetryWithBackoff},
		{"401 unauthorized", KindAuthentication, false, StrategyAbort},
		{"request timed out", KindTimeout, true, StrategyRetryWithBackoff},
		{"dial tcp: connection refused", KindNetwork, true, StrategyRetryWithBackoff},
		{"server returned 503", KindAPI, true, StrategyRetryWithBackoff},
		{"resource 404 not found", KindAPI, false, StrategySkipStep},
		{"400 bad request", KindAPI, false, StrategyAbort},
		{"missing required field: url", KindValidation, false, StrategySimplifyRequest},
		{"something odd happened", KindUnknown, true, StrategyRetry},
	}
	for _, tt := range tests {
		c := Classify(errors.New(tt.msg))
		if c.Kind != tt.kind {
			t.Errorf("%q: kind = %s, want %s", tt.msg, c.Kind, tt.kind)
		}
		if c.Retryable != tt.retryable {
			t.Errorf("%q: retryable = %v, want %v", tt.msg, c.Retryable, tt.retryable)
		}
		if c.Strategy != tt.strategy {
			t.Errorf("%q: strategy = %s, want %s", tt.msg, c.Strategy, tt.strategy)
		}
	}
}

func TestBackoffSchedule(t *testing.T) {
	tests := []struct {
		streak int
		want   time.Duration
	}{
		{1, 0},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 8 * time.Second},
	}
	for _, tt := range tests {
		if got := backoffFor(tt.streak); got != tt.want {
			t.Errorf("backoffFor(%d) = %s, want %s", tt.streak, got, tt.want)
		}
	}
}

func TestAuditHooksFireAndForget(t *testing.T) {
	c := &countingCap{name: "calculator"}
	reg := capability.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var seen []HookRecord
	done := make(chan struct{}, 2)
	record := AuditHookFunc(func(rec HookRecord) {
		mu.Lock()
		seen = append(seen, rec)
		mu.Unlock()
		done <- struct{}{}
	})
	panicky := AuditHookFunc(func(rec HookRecord) {
		done <- struct{}{}
		panic("hook bug")
	})

	r := New(reg, WithAuditHook(record), WithAuditHook(panicky))
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	res, err := r.Execute(context.Background(), "calculator", capability.Args{"expr": "1+1"})
	if err != nil || !res.Success {
		t.Fatalf("execute: res=%+v err=%v", res, err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("hooks did not run")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0].Capability != "calculator" {
		t.Errorf("hook records = %+v", seen)
	}
}

func TestValidateArgsErrorClassifiedAsValidation(t *testing.T) {
	c := &countingCap{
		name:     "transformer",
		validate: func(capability.Args) error { return errors.New("missing required field: input") },
	}
	r := newTestRouter(t, c)

	_, err := r.Execute(context.Background(), "transformer", capability.Args{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if c.callCount() != 0 {
		t.Errorf("invalid args invoked capability %d times", c.callCount())
	}
}
