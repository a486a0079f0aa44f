package workflow

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/researchflow/config"
	"github.com/mohammad-safakhou/researchflow/internal/planner"
	"github.com/mohammad-safakhou/researchflow/provider"
	"github.com/mohammad-safakhou/researchflow/tools"
	"github.com/mohammad-safakhou/researchflow/tools/retriever"
	"github.com/mohammad-safakhou/researchflow/tools/websearch"
)

// fakeProvider replays canned responses in order across all agents.
type fakeProvider struct {
	mu        sync.Mutex
	responses []provider.Response
	calls     int
}

func (f *fakeProvider) next() provider.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls >= len(f.responses) {
		return provider.Response{Content: "", FinishReason: "stop"}
	}
	r := f.responses[f.calls]
	f.calls++
	return r
}

func (f *fakeProvider) Invoke(ctx context.Context, messages []provider.Message, opts ...provider.Option) (provider.Response, error) {
	return f.next(), nil
}

func (f *fakeProvider) Stream(ctx context.Context, messages []provider.Message, opts ...provider.Option) (<-chan provider.Chunk, error) {
	r := f.next()
	ch := make(chan provider.Chunk, 1)
	ch <- provider.Chunk{ID: r.ID, Content: r.Content, ToolCalls: r.ToolCalls, FinishReason: "stop"}
	close(ch)
	return ch, nil
}

type fakeSearch struct{ results []websearch.Result }

func (f fakeSearch) Discover(ctx context.Context, q string, k int) ([]websearch.Result, error) {
	return f.results, nil
}

type fakeToolbox struct {
	cleanups *int
}

func (f fakeToolbox) ToolsFor(ctx context.Context, agentName string, resources []retriever.Resource) ([]tools.Tool, func(), error) {
	cleanup := func() {
		if f.cleanups != nil {
			*f.cleanups++
		}
	}
	return nil, cleanup, nil
}

type emissionRecorder struct {
	mu        sync.Mutex
	emissions []Emission
}

func (r *emissionRecorder) sink() Sink {
	return func(e Emission) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.emissions = append(r.emissions, e)
	}
}

func testNodes(p provider.Provider, cfg config.WorkflowConfig, rec *emissionRecorder) *Nodes {
	registry := provider.NewRegistryWith(map[provider.Capability]provider.Provider{
		provider.Basic:     p,
		provider.Reasoning: p,
	})
	var sink Sink
	if rec != nil {
		sink = rec.sink()
	}
	return &Nodes{
		Cfg:       cfg,
		Providers: registry,
		Search:    fakeSearch{},
		Toolbox:   fakeToolbox{},
		Sink:      sink,
		Logger:    log.New(io.Discard, "", 0),
		StepLimit: 5,
	}
}

func defaultWorkflowConfig() config.WorkflowConfig {
	return config.WorkflowConfig{
		MaxPlanIterations: 1,
		MaxStepNum:        3,
		MaxSearchResults:  3,
	}
}

const validPlanJSON = `{"locale":"en-US","has_enough_context":false,` +
	`"thought":"the user's question needs a proper investigation",` +
	`"title":"Research the question",` +
	`"steps":[{"need_search":true,"title":"Investigate","description":"Search for relevant background material.","step_type":"research"}]}`

// Scenario: coordinator hands off and routes to the planner when
// background investigation is disabled.
func TestCoordinatorHandoffRoutesToPlanner(t *testing.T) {
	p := &fakeProvider{responses: []provider.Response{
		{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "handoff_to_planner",
			Arguments: `{"research_topic":"quantum computing","locale":"en-US"}`}}},
	}}
	n := testNodes(p, defaultWorkflowConfig(), nil)

	cmd, err := n.Coordinator(context.Background(), State{
		Messages: []provider.Message{{Role: "user", Content: "Tell me about quantum computing"}},
	})
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	if cmd.Goto != NodePlanner {
		t.Fatalf("goto = %s, want planner", cmd.Goto)
	}
	if cmd.Patch.ResearchTopic == nil || *cmd.Patch.ResearchTopic != "quantum computing" {
		t.Fatalf("research topic not extracted: %+v", cmd.Patch)
	}
	if cmd.Patch.Locale == nil || *cmd.Patch.Locale != "en-US" {
		t.Fatalf("locale not extracted: %+v", cmd.Patch)
	}
}

func TestCoordinatorHandoffPrefersInvestigationWhenEnabled(t *testing.T) {
	p := &fakeProvider{responses: []provider.Response{
		{ToolCalls: []provider.ToolCall{{ID: "c1", Name: "handoff_to_planner",
			Arguments: `{"research_topic":"x","locale":"en-US"}`}}},
	}}
	n := testNodes(p, defaultWorkflowConfig(), nil)

	cmd, err := n.Coordinator(context.Background(), State{EnableBackgroundInvestigation: true})
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	if cmd.Goto != NodeBackgroundInvestigator {
		t.Fatalf("goto = %s, want background_investigator", cmd.Goto)
	}
}

func TestCoordinatorNoHandoffTerminates(t *testing.T) {
	p := &fakeProvider{responses: []provider.Response{{Content: "Hello! How can I help?"}}}
	n := testNodes(p, defaultWorkflowConfig(), nil)

	cmd, err := n.Coordinator(context.Background(), State{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("coordinator: %v", err)
	}
	if cmd.Goto != NodeEnd {
		t.Fatalf("goto = %s, want __end__", cmd.Goto)
	}
}

// Scenario A: malformed planner JSON with plan_iterations == 0 ends the
// run; with a prior iteration it falls back to the reporter.
func TestPlannerMalformedJSONFallback(t *testing.T) {
	cases := []struct {
		name       string
		iterations int
		want       Node
	}{
		{"first iteration terminates", 0, NodeEnd},
		{"later iteration reports", 1, NodeReporter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &fakeProvider{responses: []provider.Response{{Content: "I could not produce a plan, sorry."}}}
			cfg := defaultWorkflowConfig()
			cfg.MaxPlanIterations = 3
			n := testNodes(p, cfg, nil)

			cmd, err := n.Planner(context.Background(), State{PlanIterations: tc.iterations})
			if err != nil {
				t.Fatalf("planner: %v", err)
			}
			if cmd.Goto != tc.want {
				t.Fatalf("goto = %s, want %s", cmd.Goto, tc.want)
			}
		})
	}
}

func TestPlannerIterationBudgetExhausted(t *testing.T) {
	p := &fakeProvider{}
	n := testNodes(p, defaultWorkflowConfig(), nil)

	cmd, err := n.Planner(context.Background(), State{PlanIterations: 1})
	if err != nil {
		t.Fatalf("planner: %v", err)
	}
	if cmd.Goto != NodeReporter {
		t.Fatalf("goto = %s, want reporter", cmd.Goto)
	}
	if p.calls != 0 {
		t.Fatalf("planner invoked the model %d times with an exhausted budget", p.calls)
	}
}

func TestPlannerSufficientContextGoesToReporter(t *testing.T) {
	full := `{"locale":"en-US","has_enough_context":true,` +
		`"thought":"the conversation already contains everything needed",` +
		`"title":"Answer directly","steps":[]}`
	p := &fakeProvider{responses: []provider.Response{{Content: full}}}
	n := testNodes(p, defaultWorkflowConfig(), nil)

	cmd, err := n.Planner(context.Background(), State{})
	if err != nil {
		t.Fatalf("planner: %v", err)
	}
	if cmd.Goto != NodeReporter {
		t.Fatalf("goto = %s, want reporter", cmd.Goto)
	}
	if cmd.Patch.Plan == nil || cmd.Patch.Plan.Title != "Answer directly" {
		t.Fatalf("plan not validated: %+v", cmd.Patch.Plan)
	}
}

func TestPlannerInsufficientContextGoesToHumanFeedback(t *testing.T) {
	p := &fakeProvider{responses: []provider.Response{{Content: "```json\n" + validPlanJSON + "\n```"}}}
	n := testNodes(p, defaultWorkflowConfig(), nil)

	cmd, err := n.Planner(context.Background(), State{})
	if err != nil {
		t.Fatalf("planner: %v", err)
	}
	if cmd.Goto != NodeHumanFeedback {
		t.Fatalf("goto = %s, want human_feedback", cmd.Goto)
	}
	if cmd.Patch.CurrentPlan == nil || *cmd.Patch.CurrentPlan != validPlanJSON {
		t.Fatalf("raw plan not kept (fences should be stripped): %+v", cmd.Patch.CurrentPlan)
	}
	if cmd.Patch.Plan != nil {
		t.Fatal("plan must stay unvalidated until accepted")
	}
}

// Scenario B: auto_accepted_plan=false suspends with the fixed options.
func TestHumanFeedbackSuspends(t *testing.T) {
	n := testNodes(&fakeProvider{}, defaultWorkflowConfig(), nil)

	_, interrupt, err := n.HumanFeedback(context.Background(), State{CurrentPlan: validPlanJSON}, "")
	if err != nil {
		t.Fatalf("human_feedback: %v", err)
	}
	if interrupt == nil {
		t.Fatal("expected an interrupt")
	}
	if interrupt.Prompt != "Please review the plan." {
		t.Fatalf("prompt = %q", interrupt.Prompt)
	}
	if len(interrupt.Options) != 2 ||
		interrupt.Options[0].Value != "edit_plan" ||
		interrupt.Options[1].Value != "accepted" {
		t.Fatalf("options = %+v", interrupt.Options)
	}
}

// Scenario C: [ACCEPTED] increments plan_iterations and routes to
// research_team for a plan with incomplete steps.
func TestHumanFeedbackAccepted(t *testing.T) {
	n := testNodes(&fakeProvider{}, defaultWorkflowConfig(), nil)

	cmd, interrupt, err := n.HumanFeedback(context.Background(), State{CurrentPlan: validPlanJSON}, "[ACCEPTED]")
	if err != nil {
		t.Fatalf("human_feedback: %v", err)
	}
	if interrupt != nil {
		t.Fatal("accepted feedback must not suspend")
	}
	if cmd.Goto != NodeResearchTeam {
		t.Fatalf("goto = %s, want research_team", cmd.Goto)
	}
	if cmd.Patch.PlanIterations == nil || *cmd.Patch.PlanIterations != 1 {
		t.Fatalf("plan_iterations patch = %+v", cmd.Patch.PlanIterations)
	}
	if cmd.Patch.Plan == nil || len(cmd.Patch.Plan.Steps) != 1 {
		t.Fatalf("plan not validated: %+v", cmd.Patch.Plan)
	}
}

func TestHumanFeedbackAcceptedWithEnoughContext(t *testing.T) {
	full := `{"locale":"en-US","has_enough_context":true,` +
		`"thought":"context is already sufficient for an answer",` +
		`"title":"Answer directly","steps":[]}`
	n := testNodes(&fakeProvider{}, defaultWorkflowConfig(), nil)

	cmd, _, err := n.HumanFeedback(context.Background(), State{CurrentPlan: full}, "[ACCEPTED]")
	if err != nil {
		t.Fatalf("human_feedback: %v", err)
	}
	if cmd.Goto != NodeReporter {
		t.Fatalf("goto = %s, want reporter", cmd.Goto)
	}
}

// Scenario D: [EDIT_PLAN] feedback is appended verbatim and triggers a
// fresh planning pass.
func TestHumanFeedbackEditPlan(t *testing.T) {
	n := testNodes(&fakeProvider{}, defaultWorkflowConfig(), nil)

	feedback := "[EDIT_PLAN] please add a step"
	cmd, interrupt, err := n.HumanFeedback(context.Background(), State{CurrentPlan: validPlanJSON}, feedback)
	if err != nil {
		t.Fatalf("human_feedback: %v", err)
	}
	if interrupt != nil {
		t.Fatal("edit feedback must not suspend")
	}
	if cmd.Goto != NodePlanner {
		t.Fatalf("goto = %s, want planner", cmd.Goto)
	}
	if len(cmd.Patch.Messages) != 1 || cmd.Patch.Messages[0].Content != feedback {
		t.Fatalf("feedback not appended: %+v", cmd.Patch.Messages)
	}
}

// Prefix matching ignores case; the original value still lands in the
// message log untouched.
func TestHumanFeedbackPrefixIsCaseInsensitive(t *testing.T) {
	n := testNodes(&fakeProvider{}, defaultWorkflowConfig(), nil)

	feedback := "[edit_plan] please add a step"
	cmd, interrupt, err := n.HumanFeedback(context.Background(), State{CurrentPlan: validPlanJSON}, feedback)
	if err != nil {
		t.Fatalf("human_feedback: %v", err)
	}
	if interrupt != nil {
		t.Fatal("edit feedback must not suspend")
	}
	if cmd.Goto != NodePlanner {
		t.Fatalf("goto = %s, want planner", cmd.Goto)
	}
	if len(cmd.Patch.Messages) != 1 || cmd.Patch.Messages[0].Content != feedback {
		t.Fatalf("feedback not appended verbatim: %+v", cmd.Patch.Messages)
	}
}

func TestHumanFeedbackUnsupportedValueIsFatal(t *testing.T) {
	n := testNodes(&fakeProvider{}, defaultWorkflowConfig(), nil)

	_, _, err := n.HumanFeedback(context.Background(), State{CurrentPlan: validPlanJSON}, "maybe later")
	var fe *FeedbackError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want FeedbackError", err)
	}
}

func TestHumanFeedbackMalformedPlanFallback(t *testing.T) {
	n := testNodes(&fakeProvider{}, defaultWorkflowConfig(), nil)

	// First acceptance of a broken plan terminates.
	cmd, _, err := n.HumanFeedback(context.Background(), State{CurrentPlan: "not json", AutoAcceptedPlan: true}, "")
	if err != nil {
		t.Fatalf("human_feedback: %v", err)
	}
	if cmd.Goto != NodeEnd {
		t.Fatalf("goto = %s, want __end__", cmd.Goto)
	}

	// With a prior successful iteration, fall back to the reporter.
	cmd, _, err = n.HumanFeedback(context.Background(), State{CurrentPlan: "not json", AutoAcceptedPlan: true, PlanIterations: 1}, "")
	if err != nil {
		t.Fatalf("human_feedback: %v", err)
	}
	if cmd.Goto != NodeReporter {
		t.Fatalf("goto = %s, want reporter", cmd.Goto)
	}
}

func TestResearchTeamRouting(t *testing.T) {
	res := "done"
	cases := []struct {
		name  string
		state State
		want  Node
	}{
		{"no plan", State{}, NodePlanner},
		{"empty steps", State{Plan: &planner.Plan{}}, NodePlanner},
		{"all complete", State{Plan: &planner.Plan{Steps: []planner.Step{
			{Title: "a", StepType: planner.StepResearch, ExecutionRes: &res},
		}}}, NodePlanner},
		{"research step", State{Plan: &planner.Plan{Steps: []planner.Step{
			{Title: "a", StepType: planner.StepResearch},
		}}}, NodeResearcher},
		{"processing step", State{Plan: &planner.Plan{Steps: []planner.Step{
			{Title: "a", StepType: planner.StepProcessing},
		}}}, NodeCoder},
		{"unknown step type", State{Plan: &planner.Plan{Steps: []planner.Step{
			{Title: "a", StepType: planner.StepType("mystery")},
		}}}, NodePlanner},
		{"skips completed prefix", State{Plan: &planner.Plan{Steps: []planner.Step{
			{Title: "a", StepType: planner.StepResearch, ExecutionRes: &res},
			{Title: "b", StepType: planner.StepProcessing},
		}}}, NodeCoder},
	}
	n := testNodes(&fakeProvider{}, defaultWorkflowConfig(), nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := n.ResearchTeam(tc.state).Goto; got != tc.want {
				t.Fatalf("goto = %s, want %s", got, tc.want)
			}
		})
	}
}

// Scenario E: a research step gains an execution_res and exactly one
// observation after the researcher runs.
func TestResearcherCompletesStep(t *testing.T) {
	p := &fakeProvider{responses: []provider.Response{{Content: "findings about the topic"}}}
	rec := &emissionRecorder{}
	n := testNodes(p, defaultWorkflowConfig(), rec)

	state := State{
		Locale: "en-US",
		Plan: &planner.Plan{
			Title: "Research the question",
			Steps: []planner.Step{
				{Title: "Investigate", Description: "Search for background.", StepType: planner.StepResearch},
			},
		},
	}
	cmd, err := n.Researcher(context.Background(), state)
	if err != nil {
		t.Fatalf("researcher: %v", err)
	}
	if cmd.Goto != NodeResearchTeam {
		t.Fatalf("goto = %s, want research_team", cmd.Goto)
	}
	if cmd.Patch.Plan == nil || cmd.Patch.Plan.Steps[0].ExecutionRes == nil {
		t.Fatal("execution_res not set")
	}
	if *cmd.Patch.Plan.Steps[0].ExecutionRes != "findings about the topic" {
		t.Fatalf("execution_res = %q", *cmd.Patch.Plan.Steps[0].ExecutionRes)
	}
	if len(cmd.Patch.Observations) != 1 {
		t.Fatalf("observations = %d, want 1", len(cmd.Patch.Observations))
	}
	// The shared state's plan must stay untouched.
	if state.Plan.Steps[0].ExecutionRes != nil {
		t.Fatal("executor mutated the shared plan")
	}
}

func TestResearcherReleasesToolSet(t *testing.T) {
	p := &fakeProvider{responses: []provider.Response{{Content: "done"}}}
	n := testNodes(p, defaultWorkflowConfig(), nil)
	var cleanups int
	n.Toolbox = fakeToolbox{cleanups: &cleanups}

	state := State{
		Plan: &planner.Plan{
			Title: "Research the question",
			Steps: []planner.Step{
				{Title: "Investigate", Description: "Search.", StepType: planner.StepResearch},
			},
		},
	}
	if _, err := n.Researcher(context.Background(), state); err != nil {
		t.Fatalf("researcher: %v", err)
	}
	if cleanups != 1 {
		t.Fatalf("tool cleanup ran %d times, want 1", cleanups)
	}
}

func TestReporterProducesFinalReport(t *testing.T) {
	p := &fakeProvider{responses: []provider.Response{{Content: "# Final Report\n\nEverything checks out."}}}
	n := testNodes(p, defaultWorkflowConfig(), nil)

	cmd, err := n.Reporter(context.Background(), State{
		Plan:         &planner.Plan{Title: "T", Thought: "a thought that is long enough here"},
		Observations: []string{"obs"},
	})
	if err != nil {
		t.Fatalf("reporter: %v", err)
	}
	if cmd.Goto != NodeEnd {
		t.Fatalf("goto = %s, want __end__", cmd.Goto)
	}
	if cmd.Patch.FinalReport == nil || *cmd.Patch.FinalReport == "" {
		t.Fatal("final report missing")
	}
}
