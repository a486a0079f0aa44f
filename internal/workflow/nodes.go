package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/researchflow/config"
	"github.com/mohammad-safakhou/researchflow/internal/planner"
	"github.com/mohammad-safakhou/researchflow/provider"
	"github.com/mohammad-safakhou/researchflow/tools"
	"github.com/mohammad-safakhou/researchflow/tools/retriever"
	"github.com/mohammad-safakhou/researchflow/tools/websearch"
)

// FeedbackError is returned when a resume value violates the input
// contract: anything not prefixed [EDIT_PLAN] or [ACCEPTED].
type FeedbackError struct {
	Value string
}

func (e *FeedbackError) Error() string {
	return fmt.Sprintf("interrupt value of %q is not supported", e.Value)
}

const (
	feedbackEditPrefix   = "[EDIT_PLAN]"
	feedbackAcceptPrefix = "[ACCEPTED]"
)

// ToolProvider assembles the tool set for a worker agent. A failure to
// load optional external tools should degrade to the default set, not
// error. The cleanup releases any external tool server connections and
// is called once the step completes.
type ToolProvider interface {
	ToolsFor(ctx context.Context, agentName string, resources []retriever.Resource) ([]tools.Tool, func(), error)
}

// Nodes holds the dependencies shared by all transition functions.
type Nodes struct {
	Cfg       config.WorkflowConfig
	Providers *provider.Registry
	Search    websearch.Engine
	Toolbox   ToolProvider

	Sink   Sink
	Logger *log.Logger

	// StepLimit bounds the tool-call loop inside one agent step.
	StepLimit int
}

// streamCall streams one model turn, forwarding every chunk to the sink,
// and returns the accumulated response.
func (n *Nodes) streamCall(ctx context.Context, agentName string, node Node, messages []provider.Message, opts ...provider.Option) (provider.Response, error) {
	p, err := n.Providers.ForAgent(agentName)
	if err != nil {
		return provider.Response{}, err
	}
	chunks, err := p.Stream(ctx, messages, opts...)
	if err != nil {
		return provider.Response{}, fmt.Errorf("%s: %w", agentName, err)
	}
	messageID := uuid.NewString()
	var resp provider.Response
	for chunk := range chunks {
		if chunk.Err != nil {
			return provider.Response{}, fmt.Errorf("%s: %w", agentName, chunk.Err)
		}
		c := chunk
		n.Sink.emit(Emission{Agent: agentName, Node: node, MessageID: messageID, Chunk: &c})
		if chunk.ID != "" {
			resp.ID = chunk.ID
		}
		resp.Content += chunk.Content
		resp.ReasoningContent += chunk.ReasoningContent
		if len(chunk.ToolCalls) > 0 {
			resp.ToolCalls = append(resp.ToolCalls, chunk.ToolCalls...)
		}
		if chunk.FinishReason != "" {
			resp.FinishReason = chunk.FinishReason
		}
	}
	return resp, nil
}

// Coordinator is the entry node. The model either hands off to the
// planner via tool call or handles the exchange itself, which ends the
// run.
func (n *Nodes) Coordinator(ctx context.Context, state State) (Command, error) {
	messages := append([]provider.Message{
		{Role: "system", Content: coordinatorSystemPrompt + "\n\n" + currentTimeLine()},
	}, state.Messages...)

	resp, err := n.streamCall(ctx, "coordinator", NodeCoordinator, messages,
		provider.WithTools([]provider.ToolDef{{
			Name:        handoffToolName,
			Description: "Handoff to planner agent to do plan.",
			InputSchema: handoffToolDef(),
		}}))
	if err != nil {
		return Command{}, err
	}

	if len(resp.ToolCalls) == 0 {
		n.Logger.Printf("[FLOW] coordinator answered directly, terminating")
		return Command{Goto: NodeEnd}, nil
	}

	var args struct {
		ResearchTopic string `json:"research_topic"`
		Locale        string `json:"locale"`
	}
	for _, call := range resp.ToolCalls {
		if call.Name != handoffToolName {
			continue
		}
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			n.Logger.Printf("[FLOW] coordinator handoff args unparseable: %v", err)
		}
		break
	}

	patch := Patch{}
	if args.Locale != "" {
		patch.Locale = strptr(args.Locale)
	}
	if args.ResearchTopic != "" {
		patch.ResearchTopic = strptr(args.ResearchTopic)
	}
	next := NodePlanner
	if state.EnableBackgroundInvestigation {
		next = NodeBackgroundInvestigator
	}
	return Command{Patch: patch, Goto: next}, nil
}

// BackgroundInvestigator searches the web for the topic and summarizes
// the hits so the planner starts informed.
func (n *Nodes) BackgroundInvestigator(ctx context.Context, state State) (Command, error) {
	topic := state.ResearchTopic
	if topic == "" && len(state.Messages) > 0 {
		topic = state.Messages[len(state.Messages)-1].Content
	}

	results, err := n.Search.Discover(ctx, topic, n.Cfg.MaxSearchResults)
	if err != nil {
		// A failed lookup should not kill the run; the planner just
		// starts cold.
		n.Logger.Printf("[FLOW] background investigation search failed: %v", err)
		return Command{Goto: NodePlanner}, nil
	}
	results = websearch.Dedupe(results)

	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "## %s\n\n%s\n\nSource: %s\n\n", r.Title, r.Snippet, r.URL)
	}

	resp, err := n.streamCall(ctx, "background_investigator", NodeBackgroundInvestigator, []provider.Message{
		{Role: "system", Content: "Summarize the following search results into a concise briefing for a research planner. Keep concrete facts, figures, and source names."},
		{Role: "user", Content: backgroundInvestigationPrompt(topic, b.String())},
	})
	if err != nil {
		n.Logger.Printf("[FLOW] background investigation summary failed: %v", err)
		return Command{Patch: Patch{Investigations: strptr(b.String())}, Goto: NodePlanner}, nil
	}
	return Command{Patch: Patch{Investigations: strptr(resp.Content)}, Goto: NodePlanner}, nil
}

// Planner asks the planning model for a step list. Malformed output is
// recovered by the iteration-budget policy so a broken model never loops
// the run forever.
func (n *Nodes) Planner(ctx context.Context, state State) (Command, error) {
	if state.PlanIterations >= n.Cfg.MaxPlanIterations {
		return Command{Goto: NodeReporter}, nil
	}

	messages := []provider.Message{
		{Role: "system", Content: plannerSystemPrompt(n.Cfg.MaxStepNum) + "\n\n" + currentTimeLine()},
	}
	messages = append(messages, state.Messages...)
	if state.Investigations != "" {
		messages = append(messages, provider.Message{Role: "user", Content: "background investigation results:\n" + state.Investigations})
	}

	var opts []provider.Option
	if !n.Cfg.EnableDeepThinking {
		opts = append(opts, provider.WithJSONMode())
	}
	resp, err := n.streamCall(ctx, "planner", NodePlanner, messages, opts...)
	if err != nil {
		return Command{}, err
	}

	full := planner.Repair(resp.Content)
	var probe struct {
		HasEnoughContext bool `json:"has_enough_context"`
	}
	if err := json.Unmarshal([]byte(full), &probe); err != nil {
		n.Logger.Printf("[FLOW] planner output is not valid JSON: %v", err)
		if state.PlanIterations > 0 {
			return Command{Goto: NodeReporter}, nil
		}
		return Command{Goto: NodeEnd}, nil
	}

	assistantMsg := provider.Message{Role: "assistant", Content: full, Name: "planner"}

	if probe.HasEnoughContext {
		plan, err := planner.Validate([]byte(full), planner.Options{RequireSteps: n.Cfg.RequirePlanSteps})
		if err != nil {
			n.Logger.Printf("[FLOW] planner output failed validation: %v", err)
			if state.PlanIterations > 0 {
				return Command{Goto: NodeReporter}, nil
			}
			return Command{Goto: NodeEnd}, nil
		}
		return Command{
			Patch: Patch{Messages: []provider.Message{assistantMsg}, CurrentPlan: strptr(full), Plan: &plan},
			Goto:  NodeReporter,
		}, nil
	}

	return Command{
		Patch: Patch{Messages: []provider.Message{assistantMsg}, CurrentPlan: strptr(full)},
		Goto:  NodeHumanFeedback,
	}, nil
}

// HumanFeedback gates the plan on external review. With no feedback and
// auto-accept off it returns an Interrupt; the runner suspends the
// thread until a resume arrives.
func (n *Nodes) HumanFeedback(ctx context.Context, state State, feedback string) (Command, *Interrupt, error) {
	if !state.AutoAcceptedPlan {
		if feedback == "" {
			return Command{}, &Interrupt{
				ID:      uuid.NewString(),
				Prompt:  "Please review the plan.",
				Options: InterruptOptions(),
			}, nil
		}
		switch upper := strings.ToUpper(feedback); {
		case strings.HasPrefix(upper, feedbackEditPrefix):
			return Command{
				Patch: Patch{Messages: []provider.Message{{Role: "user", Content: feedback}}},
				Goto:  NodePlanner,
			}, nil, nil
		case strings.HasPrefix(upper, feedbackAcceptPrefix):
			n.Logger.Printf("[FLOW] plan accepted by user")
		default:
			return Command{}, nil, &FeedbackError{Value: feedback}
		}
	}

	iterations := state.PlanIterations + 1
	patch := Patch{PlanIterations: intptr(iterations)}

	full := planner.Repair(state.CurrentPlan)
	var probe struct {
		HasEnoughContext bool `json:"has_enough_context"`
	}
	if err := json.Unmarshal([]byte(full), &probe); err != nil {
		n.Logger.Printf("[FLOW] accepted plan is not valid JSON: %v", err)
		if iterations > 1 {
			return Command{Patch: patch, Goto: NodeReporter}, nil, nil
		}
		return Command{Patch: patch, Goto: NodeEnd}, nil, nil
	}

	plan, err := planner.Validate([]byte(full), planner.Options{RequireSteps: n.Cfg.RequirePlanSteps})
	if err != nil {
		n.Logger.Printf("[FLOW] accepted plan failed validation: %v", err)
		if iterations > 1 {
			return Command{Patch: patch, Goto: NodeReporter}, nil, nil
		}
		return Command{Patch: patch, Goto: NodeEnd}, nil, nil
	}
	patch.Plan = &plan

	if probe.HasEnoughContext {
		return Command{Patch: patch, Goto: NodeReporter}, nil, nil
	}
	return Command{Patch: patch, Goto: NodeResearchTeam}, nil, nil
}

// ResearchTeam routes to the worker for the first incomplete step. Pure;
// no model call.
func (n *Nodes) ResearchTeam(state State) Command {
	plan := state.Plan
	if plan == nil || len(plan.Steps) == 0 {
		return Command{Goto: NodePlanner}
	}
	idx := plan.FirstIncompleteStep()
	if idx < 0 {
		return Command{Goto: NodePlanner}
	}
	switch plan.Steps[idx].StepType {
	case planner.StepResearch:
		return Command{Goto: NodeResearcher}
	case planner.StepProcessing:
		return Command{Goto: NodeCoder}
	default:
		// An unknown step type means the plan is malformed; send it back
		// for replanning rather than stalling on the step.
		n.Logger.Printf("[FLOW] step %q has unknown type %q, replanning", plan.Steps[idx].Title, plan.Steps[idx].StepType)
		return Command{Goto: NodePlanner}
	}
}

// Reporter synthesizes the final report from the plan and observations.
// Terminal.
func (n *Nodes) Reporter(ctx context.Context, state State) (Command, error) {
	title := state.ResearchTopic
	thought := ""
	if state.Plan != nil {
		title = state.Plan.Title
		thought = state.Plan.Thought
	}

	messages := []provider.Message{
		{Role: "system", Content: reporterSystemPrompt(state.ReportStyle) + "\n\n" + currentTimeLine()},
		{Role: "user", Content: fmt.Sprintf("# Research Requirements\n\n## Task\n\n%s\n\n## Description\n\n%s", title, thought)},
	}
	for _, obs := range state.Observations {
		messages = append(messages, provider.Message{
			Role:    "user",
			Content: "Below are some observations for the research task:\n\n" + obs,
		})
	}

	resp, err := n.streamCall(ctx, "reporter", NodeReporter, messages)
	if err != nil {
		return Command{}, err
	}
	return Command{
		Patch: Patch{
			FinalReport: strptr(resp.Content),
			Messages:    []provider.Message{{Role: "assistant", Content: resp.Content, Name: "reporter"}},
		},
		Goto: NodeEnd,
	}, nil
}
