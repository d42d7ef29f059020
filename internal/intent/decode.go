package intent

import (
	"encoding/json"
	"fmt"
	"strings"

	"overseer/pkg/models"
)

// decodedStep is the JSON structure the model returns for a single step.
type decodedStep struct {
	Action               string   `json:"action"`
	Reasoning            string   `json:"reasoning"`
	RequiredCapabilities []string `json:"requiredCapabilities"`
}

type decodedPlan struct {
	Steps []decodedStep `json:"steps"`
}

// Decode parses the model's classification output into task steps. It
// tolerates code-fence wrapping and prose around the payload by extracting the
// first balanced JSON object. Steps with unknown actions are dropped; zero
// surviving steps is an error.
func Decode(text string) ([]models.TaskStep, error) {
	payload, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}

	var plan decodedPlan
	if err := json.Unmarshal([]byte(payload), &plan); err != nil {
		return nil, fmt.Errorf("unmarshal classification: %w", err)
	}

	var steps []models.TaskStep
	for _, ds := range plan.Steps {
		action := models.ActionType(strings.ToLower(strings.TrimSpace(ds.Action)))
		if !action.Valid() {
			continue
		}
		steps = append(steps, models.TaskStep{
			Action:               action,
			RequiredCapabilities: ds.RequiredCapabilities,
			Reasoning:            ds.Reasoning,
		})
	}

	if len(steps) == 0 {
		return nil, fmt.Errorf("no valid steps in classification output")
	}
	return steps, nil
}

// extractJSONObject returns the first balanced top-level JSON object in text.
// Code fences are stripped before scanning. Braces inside JSON strings are
// ignored while balancing.
func extractJSONObject(text string) (string, error) {
	text = stripCodeFences(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON object found in %d chars of output", len(text))
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// characters inside strings never affect depth
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}

	return "", fmt.Errorf("unbalanced JSON object in output")
}

// stripCodeFences removes markdown code fences, keeping their contents.
func stripCodeFences(text string) string {
	if !strings.Contains(text, "```") {
		return text
	}
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
