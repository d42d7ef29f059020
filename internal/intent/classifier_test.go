package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"overseer/internal/api"
	"overseer/pkg/models"
)

// scriptedBackend returns canned responses, or an error, for each call.
type scriptedBackend struct {
	response string
	err      error
	calls    int
}

func (b *scriptedBackend) Complete(_ context.Context, _ api.Request) (*api.Turn, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return &api.Turn{Text: b.response, Done: true}, nil
}

func TestClassifyModelPath(t *testing.T) {
	backend := &scriptedBackend{
		response: `{"steps":[{"action":"search","requiredCapabilities":["web_search"]},{"action":"create","requiredCapabilities":["file_export"]}]}`,
	}
	c := New(backend)

	in := c.Classify(context.Background(), "search market data then create a report", []string{"web_search", "file_export"})

	if in.ClassifiedBy != models.ClassifiedByModel {
		t.Errorf("expected model classification, got %s", in.ClassifiedBy)
	}
	if !in.IsMultiStep || len(in.Steps) != 2 {
		t.Errorf("expected 2-step intent, got %+v", in)
	}
}

func TestClassifyModelFailureFallsBack(t *testing.T) {
	backend := &scriptedBackend{err: errors.New("backend unavailable")}
	c := New(backend)

	in := c.Classify(context.Background(), "search for recent papers", nil)

	if in.ClassifiedBy != models.ClassifiedByFallback {
		t.Errorf("expected fallback classification, got %s", in.ClassifiedBy)
	}
	if len(in.Steps) == 0 {
		t.Fatal("fallback must always produce at least one step")
	}
	if in.Steps[0].Action != models.ActionSearch {
		t.Errorf("expected search step, got %s", in.Steps[0].Action)
	}
}

func TestClassifyMalformedModelOutputFallsBack(t *testing.T) {
	backend := &scriptedBackend{response: "I cannot produce JSON today."}
	c := New(backend)

	in := c.Classify(context.Background(), "compare the two quotes", nil)

	if in.ClassifiedBy != models.ClassifiedByFallback {
		t.Errorf("expected fallback, got %s", in.ClassifiedBy)
	}
}

func TestClassifyNilBackendUsesFallback(t *testing.T) {
	c := New(nil)

	in := c.Classify(context.Background(), "calculate the quarterly totals", nil)

	if in.ClassifiedBy != models.ClassifiedByFallback {
		t.Errorf("expected fallback, got %s", in.ClassifiedBy)
	}
	if in.Steps[0].Action != models.ActionCalculate {
		t.Errorf("expected calculate, got %s", in.Steps[0].Action)
	}
}

func TestClassifyFallbackMultiStep(t *testing.T) {
	c := New(nil)

	in := c.Classify(context.Background(), "search X then create report", nil)

	if len(in.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d: %+v", len(in.Steps), in.Steps)
	}
	if in.Steps[0].Action != models.ActionSearch || in.Steps[1].Action != models.ActionCreate {
		t.Errorf("expected [search create], got [%s %s]", in.Steps[0].Action, in.Steps[1].Action)
	}
	if !in.IsMultiStep {
		t.Error("expected multi-step intent")
	}
}

func TestClassifyCachesResult(t *testing.T) {
	backend := &scriptedBackend{
		response: `{"steps":[{"action":"analyze","requiredCapabilities":["analyzer"]}]}`,
	}
	c := New(backend)

	c.Classify(context.Background(), "Analyze the logs", nil)
	c.Classify(context.Background(), "analyze   the LOGS", nil) // normalizes to the same key

	if backend.calls != 1 {
		t.Errorf("expected 1 backend call, got %d", backend.calls)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	cache := NewCache()
	base := time.Now()
	now := base
	cache.now = func() time.Time { return now }

	cache.Put("check inventory", models.Intent{ClassifiedBy: models.ClassifiedByModel})

	if _, ok := cache.Get("check inventory"); !ok {
		t.Fatal("expected fresh entry")
	}

	now = base.Add(cacheTTL + time.Second)
	if _, ok := cache.Get("check inventory"); ok {
		t.Error("expected entry to expire after TTL")
	}
	if cache.Len() != 0 {
		t.Errorf("expected empty cache, got %d entries", cache.Len())
	}
}

func TestExplicitSequenceFastPath(t *testing.T) {
	c := New(&scriptedBackend{err: errors.New("must not be called")})

	in := c.Classify(context.Background(),
		"Required tools: web.search, file_export\nSummarize findings.",
		[]string{"web.search", "file_export"})

	if len(in.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %+v", in.Steps)
	}
	if in.Steps[0].RequiredCapabilities[0] != "web.search" {
		t.Errorf("expected web.search first, got %v", in.Steps[0].RequiredCapabilities)
	}
}

func TestExplicitSequenceDedupesShortNames(t *testing.T) {
	names := dedupeQualified([]string{"web.search", "search", "file_export"})

	if len(names) != 2 {
		t.Fatalf("expected short name dropped, got %v", names)
	}
	for _, n := range names {
		if n == "search" {
			t.Errorf("short name should be covered by web.search: %v", names)
		}
	}
}

func TestExplicitSequenceNumberedSteps(t *testing.T) {
	instruction := "Please do the following:\n1. run web_search for the topic\n2. use file_export to save results"

	in, ok := explicitSequence(instruction, []string{"web_search", "file_export", "calculator"})
	if !ok {
		t.Fatal("expected fast path to trigger")
	}
	if len(in.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %+v", in.Steps)
	}
	if in.Steps[1].RequiredCapabilities[0] != "file_export" {
		t.Errorf("expected file_export second, got %v", in.Steps[1].RequiredCapabilities)
	}
}
