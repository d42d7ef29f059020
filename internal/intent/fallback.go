package intent

import (
	"regexp"
	"strings"

	"overseer/pkg/models"
)

// fallbackRule maps an action category to the instruction pattern that
// suggests it and the capability that serves it.
type fallbackRule struct {
	action     models.ActionType
	pattern    *regexp.Regexp
	capability string
}

// fallbackRules is the fixed classification table used when the model is
// unavailable or returns garbage. Order matters: steps are emitted in table
// order so "search then create" style instructions decompose predictably.
var fallbackRules = []fallbackRule{
	{models.ActionSearch, regexp.MustCompile(`(?i)\b(search|find|look up|lookup|research)\b`), "web_search"},
	{models.ActionExtract, regexp.MustCompile(`(?i)\b(extract|scrape|parse out)\b`), "content_extract"},
	{models.ActionNavigate, regexp.MustCompile(`(?i)\b(navigate|go to|visit|browse|open page)\b`), "browser"},
	{models.ActionCalculate, regexp.MustCompile(`(?i)\b(calculate|compute|sum up|average|total of)\b`), "calculator"},
	{models.ActionCompare, regexp.MustCompile(`(?i)\b(compare|versus|vs\.)\b`), "comparator"},
	{models.ActionAnalyze, regexp.MustCompile(`(?i)\b(analy[sz]e|assess|evaluate|summari[sz]e)\b`), "analyzer"},
	{models.ActionTransform, regexp.MustCompile(`(?i)\b(convert|transform|reformat|translate)\b`), "transformer"},
	{models.ActionCreate, regexp.MustCompile(`(?i)\b(create|write|generate|draft|produce|export|report)\b`), "file_export"},
	{models.ActionConfigure, regexp.MustCompile(`(?i)\b(configure|set up|setup|enable|disable)\b`), "configurator"},
	{models.ActionDiagnose, regexp.MustCompile(`(?i)\b(diagnose|debug|troubleshoot|root cause)\b`), "diagnostics"},
}

// classifyFallback matches the instruction against the fixed pattern table.
// It always produces at least one step so classification can never fail.
func classifyFallback(instruction string) models.Intent {
	var steps []models.TaskStep
	for _, rule := range fallbackRules {
		if rule.pattern.MatchString(instruction) {
			steps = append(steps, models.TaskStep{
				Action:               rule.action,
				RequiredCapabilities: []string{rule.capability},
				Reasoning:            "matched fallback pattern for " + string(rule.action),
			})
		}
	}

	if len(steps) == 0 {
		steps = []models.TaskStep{{
			Action:    models.ActionAnalyze,
			Reasoning: "no fallback pattern matched; treating as a single analysis step",
		}}
	}

	return models.Intent{
		Steps:        steps,
		IsMultiStep:  len(steps) > 1,
		ClassifiedBy: models.ClassifiedByFallback,
	}
}

// ActionFor reports the action category a capability name most plausibly
// serves. Completion validation uses it to match executed calls to steps.
func ActionFor(capabilityName string) models.ActionType {
	return inferAction(capabilityName)
}

// inferAction guesses an action category from a capability name, used by the
// explicit-sequence fast path. Unrecognized names default to analyze.
func inferAction(capabilityName string) models.ActionType {
	for _, rule := range fallbackRules {
		if rule.pattern.MatchString(capabilityName) {
			return rule.action
		}
	}
	switch {
	case containsAny(capabilityName, "search", "find"):
		return models.ActionSearch
	case containsAny(capabilityName, "export", "create", "write", "generate"):
		return models.ActionCreate
	case containsAny(capabilityName, "calc", "compute"):
		return models.ActionCalculate
	case containsAny(capabilityName, "extract", "scrape"):
		return models.ActionExtract
	default:
		return models.ActionAnalyze
	}
}

func containsAny(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
