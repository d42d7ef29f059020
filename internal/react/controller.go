// Package react runs the think-act-observe loop: classify the instruction,
// let the model request capability calls, execute them through the router,
// and keep nudging the model until the classified steps are covered or the
// continuation budget runs out. A run always produces a best-effort result;
// it never returns an error.
package react

import (
	"context"
	"log"
	"os"

	"overseer/internal/api"
	"overseer/internal/capability"
	"overseer/internal/intent"
	"overseer/internal/router"
	"overseer/pkg/models"
)

const (
	// maxContinuationAttempts bounds how many times an incomplete run is
	// nudged with a continuation hint.
	maxContinuationAttempts = 3
	// defaultMaxIterations bounds model round-trips inside one think-act
	// cycle.
	defaultMaxIterations = 10
)

var debug = os.Getenv("OVERSEER_DEBUG") != ""

func debugLog(format string, args ...interface{}) {
	if debug {
		log.Printf("[react] "+format, args...)
	}
}

const runSystemPrompt = `You are an orchestrator working through a task step by step.
Think about what the task needs, call the capabilities that serve each step, and
use their results. When every step is covered, answer in plain text.`

// ExecutedCall records one capability invocation made during a run.
type ExecutedCall struct {
	Capability string
	Args       capability.Args
	Result     *capability.Result
	Err        error
}

// RunResult is the best-effort outcome of one run.
type RunResult struct {
	// Text is the model's final (or last) text output.
	Text string
	// Intent is the classified decomposition the run worked against.
	Intent models.Intent
	// Calls are the capability invocations executed, in order.
	Calls []ExecutedCall
	// Iterations counts model round-trips across the whole run.
	Iterations int
	// ContinuationAttempts counts how many continuation hints were issued.
	ContinuationAttempts int
	// Complete reports whether every classified step was satisfied.
	Complete bool
}

// Controller drives runs. Construct with New; the zero value is not usable.
type Controller struct {
	backend       api.Backend
	router        *router.Router
	classifier    *intent.Classifier
	registry      *capability.Registry
	specs         []api.CapabilitySpec
	maxIterations int
}

// Option configures a Controller.
type Option func(*Controller)

// WithCapabilitySpecs overrides the capability descriptions offered to the
// model. Without it, bare specs are derived from the registry names.
func WithCapabilitySpecs(specs []api.CapabilitySpec) Option {
	return func(c *Controller) { c.specs = specs }
}

// WithMaxIterations bounds model round-trips per think-act cycle.
func WithMaxIterations(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

func New(backend api.Backend, rt *router.Router, registry *capability.Registry, opts ...Option) *Controller {
	c := &Controller{
		backend:       backend,
		router:        rt,
		classifier:    intent.New(backend),
		registry:      registry,
		maxIterations: defaultMaxIterations,
	}
	for _, o := range opts {
		o(c)
	}
	if c.specs == nil {
		for _, name := range registry.Names() {
			c.specs = append(c.specs, api.CapabilitySpec{
				Name:        name,
				Description: "Invoke the " + name + " capability.",
				Parameters:  map[string]any{},
			})
		}
	}
	return c
}

// Run executes one instruction. history carries prior conversation turns and
// attachments carry extra context lines; both may be nil. Run never returns
// an error: backend failures end the run with whatever was produced so far.
func (c *Controller) Run(ctx context.Context, instruction string, history []api.Message, attachments []string) *RunResult {
	in := c.classifier.Classify(ctx, instruction, c.registry.Names())
	res := &RunResult{Intent: in}

	prompt := instruction
	for _, a := range attachments {
		prompt += "\n\nContext:\n" + a
	}
	messages := append(append([]api.Message{}, history...), api.Message{Role: "user", Content: prompt})
	seen := make(map[string]bool)

	for attempt := 0; ; attempt++ {
		newCalls, ok := c.cycle(ctx, &messages, seen, res)
		if !ok {
			return res
		}

		missing := missingSteps(in, res.Calls)
		if len(missing) == 0 {
			res.Complete = true
			return res
		}
		if !in.IsMultiStep {
			// Single-step intents take the first answer as final; hints
			// only make sense when there are further steps to push toward.
			debugLog("single-step intent, not continuing")
			return res
		}
		if len(res.Calls) == 0 {
			// The model answered without touching any capability. Treat the
			// answer as final rather than arguing with it.
			debugLog("run ended with zero capability calls")
			return res
		}
		if attempt > 0 && newCalls == 0 {
			debugLog("stagnation: no new calls on continuation attempt %d", attempt)
			return res
		}
		if res.ContinuationAttempts >= maxContinuationAttempts {
			debugLog("continuation budget exhausted with %d steps missing", len(missing))
			return res
		}

		res.ContinuationAttempts++
		hint := continuationHint(missing[0], res.Calls)
		debugLog("continuation %d: %s", res.ContinuationAttempts, hint)
		messages = append(messages, api.Message{Role: "user", Content: hint})
	}
}

// cycle runs model round-trips until the model stops requesting calls or the
// iteration bound is hit. It reports how many new capability calls executed
// and whether the run can continue (false after a backend failure).
func (c *Controller) cycle(ctx context.Context, messages *[]api.Message, seen map[string]bool, res *RunResult) (int, bool) {
	newCalls := 0
	for i := 0; i < c.maxIterations; i++ {
		turn, err := c.backend.Complete(ctx, api.Request{
			System:       runSystemPrompt,
			Messages:     *messages,
			Capabilities: c.specs,
		})
		if err != nil {
			log.Printf("[react] backend failed, returning partial result: %v", err)
			return newCalls, false
		}
		res.Iterations++
		if turn.Text != "" {
			res.Text = turn.Text
		}
		if len(turn.Calls) == 0 {
			return newCalls, true
		}

		*messages = append(*messages, api.Message{Role: "assistant", Content: turn.Text, Calls: turn.Calls})
		var results []api.CallResult
		for _, call := range turn.Calls {
			results = append(results, c.executeCall(ctx, call, seen, res, &newCalls))
		}
		*messages = append(*messages, api.Message{Role: "user", Results: results})
	}
	debugLog("iteration bound reached")
	return newCalls, true
}

func (c *Controller) executeCall(ctx context.Context, call api.Call, seen map[string]bool, res *RunResult, newCalls *int) api.CallResult {
	sig := call.Name + "\x00" + call.Args.Canonical()
	if seen[sig] {
		debugLog("skipping duplicate call to %s", call.Name)
		return api.CallResult{
			CallID:  call.ID,
			Content: "This exact call already ran in this task. Use its earlier result.",
			IsError: true,
		}
	}
	seen[sig] = true
	*newCalls++

	result, err := c.router.Execute(ctx, call.Name, call.Args)
	res.Calls = append(res.Calls, ExecutedCall{Capability: call.Name, Args: call.Args, Result: result, Err: err})

	if err != nil {
		return api.CallResult{CallID: call.ID, Content: err.Error(), IsError: true}
	}
	if !result.Success {
		return api.CallResult{CallID: call.ID, Content: result.Error, IsError: true}
	}
	return api.CallResult{CallID: call.ID, Content: result.Content}
}
