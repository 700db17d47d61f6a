package input

import (
	"encoding/json"
	"fmt"
	"sort"
)

// SectionRequirement names a required output section and the step whose
// output must satisfy it (grounded on aggregator.py's SectionRequirement,
// generalized from word counts to byte-length bounds on the step's
// serialized output since this module's outputs are opaque maps rather
// than markdown strings).
type SectionRequirement struct {
	Name      string
	StepID    string
	Required  bool
	MinBytes  int
	MaxBytes  int // 0 means unbounded
}

// OutputSchema describes the sections a completed job's outputs must
// contain and an overall size envelope for the aggregate.
type OutputSchema struct {
	Name              string
	RequiredSections  []SectionRequirement
	MinTotalBytes     int
	MaxTotalBytes     int // 0 means unbounded
}

// AggregatorReport is the result of checking a job's accumulated step
// outputs against an OutputSchema (spec.md §4.8).
type AggregatorReport struct {
	Complete      bool
	Errors        []string
	Warnings      []string
	Sections      map[string]SectionStatus
	TotalBytes    int
}

// SectionStatus records whether a required section's source step ran
// and how large its output was.
type SectionStatus struct {
	Present  bool
	Bytes    int
	StepID   string
	Name     string
}

// Aggregator collects per-step outputs and validates completeness
// against an OutputSchema, grounded on aggregator.py's OutputAggregator.
type Aggregator struct {
	schema  OutputSchema
	outputs map[string]map[string]any
}

// NewAggregator returns an Aggregator checking against schema.
func NewAggregator(schema OutputSchema) *Aggregator {
	return &Aggregator{schema: schema, outputs: make(map[string]map[string]any)}
}

// AddStepOutput registers stepID's output map. Later calls for the same
// stepID overwrite earlier ones, matching a step's final recorded
// output being the one that counts.
func (a *Aggregator) AddStepOutput(stepID string, output map[string]any) {
	a.outputs[stepID] = output
}

func outputSize(output map[string]any) int {
	data, err := json.Marshal(output)
	if err != nil {
		return 0
	}
	return len(data)
}

// ValidateCompleteness checks that every required section's step ran
// and produced output within its byte bounds.
func (a *Aggregator) ValidateCompleteness() (bool, []string) {
	var errors []string
	for _, section := range a.schema.RequiredSections {
		if !section.Required {
			continue
		}
		output, ok := a.outputs[section.StepID]
		if !ok {
			errors = append(errors, fmt.Sprintf("missing section %q: step %q did not run", section.Name, section.StepID))
			continue
		}
		size := outputSize(output)
		if size == 0 {
			errors = append(errors, fmt.Sprintf("empty section %q (from step %q)", section.Name, section.StepID))
			continue
		}
		if section.MinBytes > 0 && size < section.MinBytes {
			errors = append(errors, fmt.Sprintf("section %q too small: %d bytes (minimum %d)", section.Name, size, section.MinBytes))
		}
		if section.MaxBytes > 0 && size > section.MaxBytes {
			errors = append(errors, fmt.Sprintf("section %q too large: %d bytes (maximum %d)", section.Name, size, section.MaxBytes))
		}
	}
	return len(errors) == 0, errors
}

// GenerateReport produces a full AggregatorReport, including
// total-aggregate size warnings alongside per-section completeness
// errors.
func (a *Aggregator) GenerateReport() AggregatorReport {
	complete, errors := a.ValidateCompleteness()

	total := 0
	sections := make(map[string]SectionStatus, len(a.schema.RequiredSections))
	for _, section := range a.schema.RequiredSections {
		output, ok := a.outputs[section.StepID]
		size := outputSize(output)
		total += size
		sections[section.StepID] = SectionStatus{
			Present: ok,
			Bytes:   size,
			StepID:  section.StepID,
			Name:    section.Name,
		}
	}

	var warnings []string
	if a.schema.MinTotalBytes > 0 && total < a.schema.MinTotalBytes {
		warnings = append(warnings, fmt.Sprintf("aggregate output too small: %d bytes (minimum %d)", total, a.schema.MinTotalBytes))
	}
	if a.schema.MaxTotalBytes > 0 && total > a.schema.MaxTotalBytes {
		warnings = append(warnings, fmt.Sprintf("aggregate output too large: %d bytes (maximum %d)", total, a.schema.MaxTotalBytes))
	}

	return AggregatorReport{
		Complete:   complete && len(warnings) == 0,
		Errors:     errors,
		Warnings:   warnings,
		Sections:   sections,
		TotalBytes: total,
	}
}

// StepIDs returns the registered step ids in sorted order, for
// deterministic iteration by callers building diagnostics.
func (a *Aggregator) StepIDs() []string {
	ids := make([]string, 0, len(a.outputs))
	for id := range a.outputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
