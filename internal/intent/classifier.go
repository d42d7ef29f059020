// Package intent decomposes natural-language instructions into ordered task
// steps with the capabilities each step requires. Classification is
// backend-assisted with a deterministic fast path and a regex fallback; the
// caller never sees a classification failure.
package intent

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"overseer/internal/api"
	"overseer/pkg/models"
)

const classifySystemPrompt = `You decompose a user instruction into ordered steps.
Respond with a single JSON object of the form:
{"steps":[{"action":"search","reasoning":"...","requiredCapabilities":["web_search"]}]}
Valid actions: extract, search, calculate, create, compare, analyze, transform, navigate, configure, diagnose.
Only use capability names from the provided list. Do not add commentary.`

// Classifier turns instructions into intents. The backend is optional: when
// nil (or failing), classification falls through to the pattern table.
type Classifier struct {
	backend api.Backend
	cache   *Cache
}

// New creates a Classifier with its own intent cache.
func New(backend api.Backend) *Classifier {
	return &Classifier{
		backend: backend,
		cache:   NewCache(),
	}
}

// Classify decomposes the instruction. It tries, in order: the explicit
// capability-sequence fast path, model-assisted classification, and the regex
// fallback table. Results are cached by normalized instruction for five
// minutes. Classify never fails: every error path degrades to the fallback.
func (c *Classifier) Classify(ctx context.Context, instruction string, availableCapabilities []string) models.Intent {
	if cached, ok := c.cache.Get(instruction); ok {
		return cached
	}

	if in, ok := explicitSequence(instruction, availableCapabilities); ok {
		c.cache.Put(instruction, in)
		return in
	}

	if c.backend != nil {
		in, err := c.classifyWithModel(ctx, instruction, availableCapabilities)
		if err == nil {
			c.cache.Put(instruction, in)
			return in
		}
		log.Printf("[intent] model classification failed, using fallback: %v", err)
	}

	in := classifyFallback(instruction)
	c.cache.Put(instruction, in)
	return in
}

// classifyWithModel asks the backend for a structured decomposition.
func (c *Classifier) classifyWithModel(ctx context.Context, instruction string, availableCapabilities []string) (models.Intent, error) {
	prompt := fmt.Sprintf("Instruction:\n%s\n\nAvailable capabilities:\n%s",
		instruction, strings.Join(availableCapabilities, "\n"))

	turn, err := c.backend.Complete(ctx, api.Request{
		System:    classifySystemPrompt,
		Messages:  []api.Message{{Role: "user", Content: prompt}},
		MaxTokens: 2048,
	})
	if err != nil {
		return models.Intent{}, fmt.Errorf("classification call: %w", err)
	}

	steps, err := Decode(turn.Text)
	if err != nil {
		return models.Intent{}, fmt.Errorf("decode classification: %w", err)
	}

	return models.Intent{
		Steps:        steps,
		IsMultiStep:  len(steps) > 1,
		ClassifiedBy: models.ClassifiedByModel,
	}, nil
}

var (
	requiredToolsRe = regexp.MustCompile(`(?i)required tools?\s*:\s*(.+)`)
	numberedStepRe  = regexp.MustCompile(`(?m)^\s*\d+[.)]\s*(.+)$`)
)

// explicitSequence detects instructions that literally enumerate the
// capabilities to run, either via a "Required tools:" header or numbered
// steps naming an available capability. When found, the intent is built
// deterministically without a model call.
func explicitSequence(instruction string, availableCapabilities []string) (models.Intent, bool) {
	var names []string

	if m := requiredToolsRe.FindStringSubmatch(instruction); m != nil {
		for _, part := range strings.Split(m[1], ",") {
			name := strings.TrimSpace(part)
			if name != "" {
				names = append(names, name)
			}
		}
	} else {
		for _, m := range numberedStepRe.FindAllStringSubmatch(instruction, -1) {
			line := strings.ToLower(m[1])
			for _, capName := range availableCapabilities {
				if strings.Contains(line, strings.ToLower(capName)) {
					names = append(names, capName)
					break
				}
			}
		}
	}

	names = dedupeQualified(names)
	if len(names) == 0 {
		return models.Intent{}, false
	}

	steps := make([]models.TaskStep, len(names))
	for i, name := range names {
		steps[i] = models.TaskStep{
			Action:               inferAction(name),
			RequiredCapabilities: []string{name},
			Reasoning:            "explicitly requested in the instruction",
		}
	}

	return models.Intent{
		Steps:        steps,
		IsMultiStep:  len(steps) > 1,
		ClassifiedBy: models.ClassifiedByFallback,
	}, true
}

// dedupeQualified removes duplicate names, and short names that are already
// covered by a fully-qualified entry (e.g. "search" when "web.search" is
// listed).
func dedupeQualified(names []string) []string {
	seen := make(map[string]bool)
	var unique []string
	for _, name := range names {
		key := strings.ToLower(name)
		if !seen[key] {
			seen[key] = true
			unique = append(unique, name)
		}
	}

	var out []string
	for _, name := range unique {
		covered := false
		for _, other := range unique {
			if name == other {
				continue
			}
			if coversShortName(other, name) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, name)
		}
	}
	return out
}

// coversShortName reports whether qualified ends with short as its final
// separator-delimited segment.
func coversShortName(qualified, short string) bool {
	q := strings.ToLower(qualified)
	s := strings.ToLower(short)
	if len(q) <= len(s) {
		return false
	}
	for _, sep := range []string{".", ":", "/", "_"} {
		if strings.HasSuffix(q, sep+s) {
			return true
		}
	}
	return false
}
