package models

// ActionType categorizes what a step of an instruction is trying to do.
type ActionType string

const (
	ActionExtract   ActionType = "extract"
	ActionSearch    ActionType = "search"
	ActionCalculate ActionType = "calculate"
	ActionCreate    ActionType = "create"
	ActionCompare   ActionType = "compare"
	ActionAnalyze   ActionType = "analyze"
	ActionTransform ActionType = "transform"
	ActionNavigate  ActionType = "navigate"
	ActionConfigure ActionType = "configure"
	ActionDiagnose  ActionType = "diagnose"
)

// Valid returns true if the action is a known value.
func (a ActionType) Valid() bool {
	switch a {
	case ActionExtract, ActionSearch, ActionCalculate, ActionCreate, ActionCompare,
		ActionAnalyze, ActionTransform, ActionNavigate, ActionConfigure, ActionDiagnose:
		return true
	default:
		return false
	}
}

// ComputeClass reports whether the action produces a value rather than an
// artifact. Compute-class steps are not re-run once satisfied; artifact steps
// (create, transform) may legitimately re-trigger to refine their output.
func (a ActionType) ComputeClass() bool {
	switch a {
	case ActionCalculate, ActionCompare, ActionAnalyze:
		return true
	default:
		return false
	}
}

// TaskStep is one ordered step of a classified instruction.
type TaskStep struct {
	// Action is the category of work this step performs.
	Action ActionType `json:"action"`
	// RequiredCapabilities lists capability names that can satisfy this step.
	RequiredCapabilities []string `json:"requiredCapabilities"`
	// Reasoning explains why the classifier produced this step.
	Reasoning string `json:"reasoning,omitempty"`
}

// Classification sources for an Intent.
const (
	ClassifiedByModel    = "model"
	ClassifiedByFallback = "fallback"
)

// Intent is the decomposition of a natural-language instruction into ordered
// steps with the capabilities each step needs.
type Intent struct {
	// Steps are the ordered steps of the instruction.
	Steps []TaskStep `json:"steps"`
	// IsMultiStep is true when the instruction decomposed into more than one step.
	IsMultiStep bool `json:"isMultiStep"`
	// ClassifiedBy records whether the model or the fallback produced the intent.
	ClassifiedBy string `json:"classifiedBy"`
}

// Capabilities returns the union of required capabilities across all steps,
// in first-seen order.
func (in Intent) Capabilities() []string {
	seen := make(map[string]bool)
	var out []string
	for _, step := range in.Steps {
		for _, c := range step.RequiredCapabilities {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}
