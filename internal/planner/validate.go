package planner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed plan_schema.json
var planSchemaJSON string

var localePattern = regexp.MustCompile(`^[a-z]{2}(-[A-Z]{2})?$`)

// ValidationError describes a single field-level constraint failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates every constraint failure found in one pass so
// callers can surface all of them at once.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, v := range e {
		parts[i] = v.Error()
	}
	return strings.Join(parts, "; ")
}

// Options tunes validation behaviour.
type Options struct {
	// RequireSteps rejects plans with an empty steps list. Off by default:
	// a zero-step plan with enough context goes straight to reporting.
	RequireSteps bool
}

var (
	compileOnce sync.Once
	planSchema  *jsonschema.Schema
	compileErr  error
)

// PlanSchema returns the compiled JSON Schema for plan documents.
func PlanSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("plan_schema.json", strings.NewReader(planSchemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("plan_schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile plan schema: %w", err)
			return
		}
		planSchema = schema
	})
	return planSchema, compileErr
}

// Validate parses raw JSON into a Plan, enforcing the schema and the
// field-level constraints the schema cannot express (locale shape, trimmed
// titles, step type normalisation). It is a pure transformation: no I/O.
func Validate(raw []byte, opts Options) (Plan, error) {
	schema, err := PlanSchema()
	if err != nil {
		return Plan{}, err
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Plan{}, fmt.Errorf("plan is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Plan{}, fmt.Errorf("plan does not match schema: %w", err)
	}

	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return Plan{}, fmt.Errorf("decode plan: %w", err)
	}

	var errs ValidationErrors

	plan.Locale = normalizeLocale(plan.Locale)
	if !localePattern.MatchString(plan.Locale) {
		errs = append(errs, ValidationError{Field: "locale", Message: fmt.Sprintf("invalid locale %q, expected a language-region code like en-US", plan.Locale)})
	}
	if len(strings.TrimSpace(plan.Thought)) < 20 {
		errs = append(errs, ValidationError{Field: "thought", Message: "must be at least 20 characters"})
	}
	title := strings.TrimSpace(plan.Title)
	if len(title) < 5 || len(title) > 200 {
		errs = append(errs, ValidationError{Field: "title", Message: "must be between 5 and 200 characters"})
	}
	plan.Title = title

	if opts.RequireSteps && len(plan.Steps) == 0 {
		errs = append(errs, ValidationError{Field: "steps", Message: "plan must contain at least one step"})
	}
	if len(plan.Steps) > 10 {
		errs = append(errs, ValidationError{Field: "steps", Message: "plan cannot contain more than 10 steps"})
	}
	for i := range plan.Steps {
		step := &plan.Steps[i]
		step.Title = strings.TrimSpace(step.Title)
		if step.Title == "" || len(step.Title) > 200 {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("steps[%d].title", i), Message: "must be 1-200 non-whitespace characters"})
		}
		if len(step.Description) < 10 {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("steps[%d].description", i), Message: "must be at least 10 characters"})
		}
		if step.StepType == "" {
			step.StepType = StepResearch
		} else if st, ok := ParseStepType(string(step.StepType)); ok {
			step.StepType = st
		}
		// Unrecognised step types are kept as-is: the research team router
		// treats them as a fallback-to-planner case rather than an error.
	}

	if len(errs) > 0 {
		return Plan{}, errs
	}
	return plan, nil
}

// normalizeLocale lowercases the language and uppercases the region so that
// inputs like "EN-us" validate as "en-US".
func normalizeLocale(locale string) string {
	locale = strings.TrimSpace(locale)
	if idx := strings.Index(locale, "-"); idx > 0 && idx < len(locale)-1 {
		return strings.ToLower(locale[:idx]) + "-" + strings.ToUpper(locale[idx+1:])
	}
	return strings.ToLower(locale)
}
