package input

import "testing"

func schema() OutputSchema {
	return OutputSchema{
		Name: "article",
		RequiredSections: []SectionRequirement{
			{Name: "intro", StepID: "intro", Required: true, MinBytes: 10},
			{Name: "body", StepID: "body", Required: true, MinBytes: 20},
			{Name: "optional-extra", StepID: "extra", Required: false},
		},
	}
}

func TestAggregatorCompleteWhenAllRequiredPresent(t *testing.T) {
	a := NewAggregator(schema())
	a.AddStepOutput("intro", map[string]any{"content": "this is the introduction section"})
	a.AddStepOutput("body", map[string]any{"content": "this is a much longer body section with real content"})

	ok, errs := a.ValidateCompleteness()
	if !ok {
		t.Fatalf("expected complete, got errors: %v", errs)
	}
}

func TestAggregatorMissingRequiredSection(t *testing.T) {
	a := NewAggregator(schema())
	a.AddStepOutput("intro", map[string]any{"content": "this is the introduction section"})

	ok, errs := a.ValidateCompleteness()
	if ok {
		t.Fatal("expected incomplete when body step never ran")
	}
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want 1 entry", errs)
	}
}

func TestAggregatorTooSmallSection(t *testing.T) {
	a := NewAggregator(schema())
	a.AddStepOutput("intro", map[string]any{"c": "x"}) // serializes to 9 bytes
	a.AddStepOutput("body", map[string]any{"content": "this is a much longer body section with real content"})

	ok, errs := a.ValidateCompleteness()
	if ok {
		t.Fatalf("expected incomplete, intro output is below MinBytes: %v", errs)
	}
}

func TestAggregatorReportIncludesOptionalSectionAsAbsent(t *testing.T) {
	a := NewAggregator(schema())
	a.AddStepOutput("intro", map[string]any{"content": "this is the introduction section"})
	a.AddStepOutput("body", map[string]any{"content": "this is a much longer body section with real content"})

	report := a.GenerateReport()
	if !report.Complete {
		t.Fatalf("expected complete report, got: %+v", report)
	}
	if report.Sections["extra"].Present {
		t.Fatal("extra section was never added, should be reported absent")
	}
}

func TestAggregatorTotalBytesBounds(t *testing.T) {
	s := schema()
	s.MinTotalBytes = 100000
	a := NewAggregator(s)
	a.AddStepOutput("intro", map[string]any{"content": "this is the introduction section"})
	a.AddStepOutput("body", map[string]any{"content": "this is a much longer body section with real content"})

	report := a.GenerateReport()
	if report.Complete {
		t.Fatal("expected aggregate-too-small warning to mark report incomplete")
	}
	if len(report.Warnings) != 1 {
		t.Fatalf("warnings = %v, want 1", report.Warnings)
	}
}
