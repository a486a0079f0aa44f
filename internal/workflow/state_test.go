package workflow

import (
	"testing"

	"github.com/mohammad-safakhou/researchflow/internal/planner"
	"github.com/mohammad-safakhou/researchflow/provider"
)

func TestApplyAppendsListsAndReplacesScalars(t *testing.T) {
	state := State{
		Messages:     []provider.Message{{Role: "user", Content: "first"}},
		Observations: []string{"obs-1"},
		Locale:       "en-US",
	}

	next := state.Apply(Patch{
		Messages:       []provider.Message{{Role: "assistant", Content: "second"}},
		Observations:   []string{"obs-2"},
		Locale:         strptr("zh-CN"),
		PlanIterations: intptr(2),
	})

	if len(next.Messages) != 2 || next.Messages[1].Content != "second" {
		t.Fatalf("messages not appended: %+v", next.Messages)
	}
	if len(next.Observations) != 2 || next.Observations[1] != "obs-2" {
		t.Fatalf("observations not appended: %+v", next.Observations)
	}
	if next.Locale != "zh-CN" {
		t.Fatalf("locale = %q", next.Locale)
	}
	if next.PlanIterations != 2 {
		t.Fatalf("plan iterations = %d", next.PlanIterations)
	}

	// Source state untouched.
	if len(state.Messages) != 1 || state.Locale != "en-US" || state.PlanIterations != 0 {
		t.Fatalf("apply mutated its receiver: %+v", state)
	}
}

func TestApplyEmptyPatchKeepsState(t *testing.T) {
	state := State{Locale: "en-US", PlanIterations: 1, FinalReport: "done"}
	next := state.Apply(Patch{})
	if next.Locale != "en-US" || next.PlanIterations != 1 || next.FinalReport != "done" {
		t.Fatalf("empty patch changed state: %+v", next)
	}
}

func TestStateMarshalRoundTrip(t *testing.T) {
	res := "result"
	state := State{
		Messages:       []provider.Message{{Role: "user", Content: "q"}},
		Locale:         "en-US",
		PlanIterations: 1,
		Plan: &planner.Plan{
			Locale:  "en-US",
			Thought: "thinking about the question at length",
			Title:   "A valid plan",
			Steps: []planner.Step{
				{Title: "look", Description: "look something up", StepType: planner.StepResearch, ExecutionRes: &res},
			},
		},
	}

	raw, err := state.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalState(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Plan == nil || got.Plan.Steps[0].ExecutionRes == nil || *got.Plan.Steps[0].ExecutionRes != "result" {
		t.Fatalf("plan lost in round trip: %+v", got.Plan)
	}
	if got.PlanIterations != 1 || got.Locale != "en-US" {
		t.Fatalf("scalars lost: %+v", got)
	}
}
