package react

import (
	"fmt"
	"strings"

	"overseer/internal/intent"
	"overseer/pkg/models"
)

// missingSteps returns the intent steps not yet satisfied by the executed
// calls, in intent order. A step is satisfied when a successful call used one
// of its required capabilities, or when any executed call's action category
// matches the step's action. Compute-class steps are additionally satisfied
// by any prior compute-class call: the model can carry arithmetic and
// comparison in its own reasoning, so those steps never force a re-trigger
// once some computation happened.
func missingSteps(in models.Intent, calls []ExecutedCall) []models.TaskStep {
	var missing []models.TaskStep
	for _, step := range in.Steps {
		if stepSatisfied(step, calls) {
			continue
		}
		missing = append(missing, step)
	}
	return missing
}

func stepSatisfied(step models.TaskStep, calls []ExecutedCall) bool {
	for _, call := range calls {
		if call.Result != nil && call.Result.Success {
			for _, want := range step.RequiredCapabilities {
				if call.Capability == want {
					return true
				}
			}
		}
		if intent.ActionFor(call.Capability) == step.Action {
			return true
		}
	}
	if step.Action.ComputeClass() {
		for _, call := range calls {
			if intent.ActionFor(call.Capability).ComputeClass() {
				return true
			}
		}
	}
	return false
}

// continuationHint names the next missing step and the most recent capability
// result so the model can pick up where it stopped.
func continuationHint(step models.TaskStep, calls []ExecutedCall) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The task is not finished. The next step is to %s", step.Action)
	if len(step.RequiredCapabilities) > 0 {
		fmt.Fprintf(&b, " using %s", strings.Join(step.RequiredCapabilities, " or "))
	}
	b.WriteString(".")
	if last := lastResult(calls); last != "" {
		fmt.Fprintf(&b, " The most recent capability result was: %s", last)
	}
	return b.String()
}

func lastResult(calls []ExecutedCall) string {
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Result == nil {
			continue
		}
		content := strings.TrimSpace(calls[i].Result.Content)
		if content == "" {
			continue
		}
		if len(content) > 500 {
			content = content[:500] + "..."
		}
		return content
	}
	return ""
}
