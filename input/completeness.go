package input

import (
	"fmt"
	"sort"
	"strings"
)

// GateConfig tunes CompletenessGate thresholds. The zero value uses the
// defaults below, grounded on completeness_gate.py's class constants.
type GateConfig struct {
	MinTotalBytes int
	Placeholders  []string
	RequiredKeys  []string
}

func (c GateConfig) withDefaults() GateConfig {
	if c.MinTotalBytes == 0 {
		c.MinTotalBytes = 200
	}
	if c.Placeholders == nil {
		c.Placeholders = defaultPlaceholders
	}
	return c
}

var defaultPlaceholders = []string{
	"TODO", "TBD", "[Insert", "Lorem ipsum",
	"[Your content here]", "[Add content]",
	"Coming soon", "Under construction",
}

// GateResult is the outcome of a CompletenessGate check.
type GateResult struct {
	Valid  bool
	Errors []string
}

// CompletenessGate is the final guard before a job is allowed to reach
// completed: it rejects empty, placeholder-only, or under-specified
// final output (spec.md §4.8), grounded on completeness_gate.py,
// generalized away from markdown/frontmatter specifics to the opaque
// key/value output map every job produces.
type CompletenessGate struct {
	cfg GateConfig
}

// NewCompletenessGate returns a gate using cfg (zero value for
// defaults).
func NewCompletenessGate(cfg GateConfig) *CompletenessGate {
	return &CompletenessGate{cfg: cfg.withDefaults()}
}

// Check validates outputs, the full merged output map for a job about to
// complete, against the gate's rules: minimum aggregate size, presence
// of caller-declared required keys, and absence of placeholder tokens in
// any string-valued output.
func (g *CompletenessGate) Check(outputs map[string]any) GateResult {
	var errors []string

	if len(outputs) == 0 {
		return GateResult{Valid: false, Errors: []string{"no outputs produced"}}
	}

	total := 0
	var textParts []string
	for _, v := range outputs {
		total += outputSize(map[string]any{"v": v})
		if s, ok := v.(string); ok {
			textParts = append(textParts, s)
		}
	}
	if total < g.cfg.MinTotalBytes {
		errors = append(errors, fmt.Sprintf("aggregate output too small: %d bytes (minimum %d)", total, g.cfg.MinTotalBytes))
	}

	missing := missingKeys(outputs, g.cfg.RequiredKeys)
	if len(missing) > 0 {
		sort.Strings(missing)
		errors = append(errors, fmt.Sprintf("missing required keys: %s", strings.Join(missing, ", ")))
	}

	combined := strings.Join(textParts, "\n")
	var foundPlaceholders []string
	for _, p := range g.cfg.Placeholders {
		if strings.Contains(combined, p) {
			foundPlaceholders = append(foundPlaceholders, p)
		}
	}
	if len(foundPlaceholders) > 0 {
		errors = append(errors, fmt.Sprintf("found placeholder text: %s", strings.Join(foundPlaceholders, ", ")))
	}

	return GateResult{Valid: len(errors) == 0, Errors: errors}
}

func missingKeys(outputs map[string]any, required []string) []string {
	var missing []string
	for _, k := range required {
		if _, ok := outputs[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}
