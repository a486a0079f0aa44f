package planner

import "strings"

// StepType classifies a plan step by the kind of agent that executes it.
type StepType string

const (
	// StepResearch marks steps that gather information from external sources.
	StepResearch StepType = "research"
	// StepProcessing marks steps that transform or analyse already-collected data.
	StepProcessing StepType = "processing"
)

// ParseStepType maps a raw string onto a StepType. Unrecognised values return
// false so the router can fall back instead of misclassifying a step.
func ParseStepType(raw string) (StepType, bool) {
	switch StepType(strings.ToLower(strings.TrimSpace(raw))) {
	case StepResearch:
		return StepResearch, true
	case StepProcessing:
		return StepProcessing, true
	}
	return "", false
}

// Step is a single executable unit within a research plan.
type Step struct {
	NeedSearch   bool     `json:"need_search"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	StepType     StepType `json:"step_type"`
	ExecutionRes *string  `json:"execution_res,omitempty"`
}

// Completed reports whether the step already carries an execution result.
func (s Step) Completed() bool {
	return s.ExecutionRes != nil
}

// Plan is the validated research strategy produced by the planner LLM.
type Plan struct {
	Locale           string `json:"locale"`
	HasEnoughContext bool   `json:"has_enough_context"`
	Thought          string `json:"thought"`
	Title            string `json:"title"`
	Steps            []Step `json:"steps"`
}

// FirstIncompleteStep returns the index of the first step without a result,
// or -1 when every step is complete.
func (p *Plan) FirstIncompleteStep() int {
	for i := range p.Steps {
		if !p.Steps[i].Completed() {
			return i
		}
	}
	return -1
}

// AllStepsCompleted reports whether every step carries an execution result.
// An empty plan counts as completed.
func (p *Plan) AllStepsCompleted() bool {
	return p.FirstIncompleteStep() == -1
}
