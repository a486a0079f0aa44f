package planner

import (
	"strings"
	"testing"
)

func validPlanJSON() string {
	return `{
        "locale": "en-US",
        "has_enough_context": false,
        "thought": "We need to gather comprehensive information first.",
        "title": "AI Market Research Plan",
        "steps": [
            {"need_search": true, "title": "Market Analysis", "description": "Collect data on the global AI market.", "step_type": "research"},
            {"need_search": false, "title": "Data Analysis", "description": "Process and analyse collected data.", "step_type": "processing"}
        ]
    }`
}

func TestValidateAcceptsWellFormedPlan(t *testing.T) {
	plan, err := Validate([]byte(validPlanJSON()), Options{})
	if err != nil {
		t.Fatalf("expected plan to validate: %v", err)
	}
	if plan.Title != "AI Market Research Plan" {
		t.Fatalf("unexpected title: %q", plan.Title)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(plan.Steps))
	}
	if plan.Steps[0].StepType != StepResearch || plan.Steps[1].StepType != StepProcessing {
		t.Fatalf("step types not preserved: %v %v", plan.Steps[0].StepType, plan.Steps[1].StepType)
	}
}

func TestValidateAllowsEmptyStepsByDefault(t *testing.T) {
	payload := `{
        "locale": "en-US",
        "has_enough_context": true,
        "thought": "` + strings.Repeat("x", 20) + `",
        "title": "Test Plan Title",
        "steps": []
    }`
	plan, err := Validate([]byte(payload), Options{})
	if err != nil {
		t.Fatalf("expected empty-step plan to validate: %v", err)
	}
	if !plan.HasEnoughContext {
		t.Fatalf("has_enough_context not carried through")
	}
	if !plan.AllStepsCompleted() {
		t.Fatalf("empty plan should count as completed")
	}
}

func TestValidateRequireStepsOption(t *testing.T) {
	payload := `{
        "locale": "en-US",
        "has_enough_context": true,
        "thought": "` + strings.Repeat("x", 20) + `",
        "title": "Test Plan Title",
        "steps": []
    }`
	_, err := Validate([]byte(payload), Options{RequireSteps: true})
	if err == nil {
		t.Fatalf("expected empty-step plan to fail when steps are required")
	}
	if !strings.Contains(err.Error(), "at least one step") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateNormalizesLocaleCasing(t *testing.T) {
	payload := strings.Replace(validPlanJSON(), `"en-US"`, `"EN-us"`, 1)
	plan, err := Validate([]byte(payload), Options{})
	if err != nil {
		t.Fatalf("expected mixed-case locale to normalise: %v", err)
	}
	if plan.Locale != "en-US" {
		t.Fatalf("expected en-US, got %q", plan.Locale)
	}
}

func TestValidateFieldLevelErrors(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantSub string
	}{
		{"short thought", func(s string) string {
			return strings.Replace(s, "We need to gather comprehensive information first.", "too short", 1)
		}, "thought"},
		{"short title", func(s string) string {
			return strings.Replace(s, "AI Market Research Plan", "abc", 1)
		}, "title"},
		{"whitespace step title", func(s string) string {
			return strings.Replace(s, "Market Analysis", "   ", 1)
		}, "steps[0].title"},
		{"short description", func(s string) string {
			return strings.Replace(s, "Collect data on the global AI market.", "tiny", 1)
		}, "description"},
		{"bad locale", func(s string) string {
			return strings.Replace(s, "en-US", "english", 1)
		}, "locale"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Validate([]byte(tc.mutate(validPlanJSON())), Options{})
			if err == nil {
				t.Fatalf("expected validation failure")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q does not mention %q", err.Error(), tc.wantSub)
			}
		})
	}
}

func TestValidateRejectsNonJSON(t *testing.T) {
	if _, err := Validate([]byte("not a plan at all"), Options{}); err == nil {
		t.Fatalf("expected non-JSON input to fail")
	}
}

func TestValidateDefaultsMissingStepType(t *testing.T) {
	payload := strings.Replace(validPlanJSON(), `, "step_type": "research"`, "", 1)
	plan, err := Validate([]byte(payload), Options{})
	if err != nil {
		t.Fatalf("expected plan to validate: %v", err)
	}
	if plan.Steps[0].StepType != StepResearch {
		t.Fatalf("missing step_type should default to research, got %q", plan.Steps[0].StepType)
	}
}

func TestParseStepType(t *testing.T) {
	if st, ok := ParseStepType(" Research "); !ok || st != StepResearch {
		t.Fatalf("expected research, got %q ok=%v", st, ok)
	}
	if st, ok := ParseStepType("PROCESSING"); !ok || st != StepProcessing {
		t.Fatalf("expected processing, got %q ok=%v", st, ok)
	}
	if _, ok := ParseStepType("analysis"); ok {
		t.Fatalf("unknown step type should not parse")
	}
}
