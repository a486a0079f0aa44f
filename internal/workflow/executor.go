package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/researchflow/internal/agent"
	"github.com/mohammad-safakhou/researchflow/internal/planner"
	"github.com/mohammad-safakhou/researchflow/provider"
	"github.com/mohammad-safakhou/researchflow/tools"
)

const researcherSystemPrompt = `You are a researcher. Investigate the given task using your tools and
report verified findings in markdown. Always cite where information came
from.`

const coderSystemPrompt = `You are a coder. Solve the given task by writing and executing Python
code with your tool, then report methodology and results in markdown.`

// Researcher runs the next research step with the web toolset.
func (n *Nodes) Researcher(ctx context.Context, state State) (Command, error) {
	agentTools, cleanup, err := n.Toolbox.ToolsFor(ctx, "researcher", state.Resources)
	if err != nil {
		return Command{}, fmt.Errorf("loading researcher tools: %w", err)
	}
	defer cleanup()
	return n.executeStep(ctx, state, "researcher", researcherSystemPrompt, agentTools)
}

// Coder runs the next processing step with the code-execution toolset.
func (n *Nodes) Coder(ctx context.Context, state State) (Command, error) {
	agentTools, cleanup, err := n.Toolbox.ToolsFor(ctx, "coder", state.Resources)
	if err != nil {
		return Command{}, fmt.Errorf("loading coder tools: %w", err)
	}
	defer cleanup()
	return n.executeStep(ctx, state, "coder", coderSystemPrompt, agentTools)
}

// executeStep is the agent step executor: it picks the first pending
// step, builds its context, runs the tool loop, and records the result
// as an observation.
func (n *Nodes) executeStep(ctx context.Context, state State, agentName, systemPrompt string, agentTools []tools.Tool) (Command, error) {
	plan := state.Plan
	if plan == nil {
		return Command{Goto: NodeResearchTeam}, nil
	}
	idx := plan.FirstIncompleteStep()
	if idx < 0 {
		return Command{Goto: NodeResearchTeam}, nil
	}
	step := &plan.Steps[idx]

	messages := []provider.Message{
		{Role: "system", Content: systemPrompt + "\n\n" + currentTimeLine()},
	}
	if agentName == "researcher" && len(state.Resources) > 0 {
		uris := make([]string, 0, len(state.Resources))
		for _, r := range state.Resources {
			uris = append(uris, r.URI)
		}
		messages = append(messages, provider.Message{Role: "user", Content: resourceNotice(uris)})
	}
	input := stepContext(plan, step, state.Locale)
	messages = append(messages, provider.Message{Role: "user", Content: input})
	if agentName == "researcher" {
		messages = append(messages, provider.Message{Role: "user", Content: researcherCitationReminder})
	}

	p, err := n.Providers.ForAgent(agentName)
	if err != nil {
		return Command{}, err
	}

	messageID := uuid.NewString()
	worker := &agent.Agent{
		Name:          agentName,
		Provider:      p,
		Tools:         agentTools,
		MaxIterations: n.StepLimit,
		Logger:        n.Logger,
		Hooks: agent.Hooks{
			OnChunk: func(chunk provider.Chunk) {
				c := chunk
				n.Sink.emit(Emission{Agent: agentName, Node: Node(agentName), MessageID: messageID, Chunk: &c})
			},
			OnToolResult: func(call provider.ToolCall, result string, callErr error) {
				content := result
				if callErr != nil {
					content = fmt.Sprintf("Error executing tool %s: %v", call.Name, callErr)
				}
				n.Sink.emit(Emission{Agent: agentName, Node: Node(agentName), ToolResult: &ToolResult{
					CallID:  call.ID,
					Name:    call.Name,
					Content: content,
				}})
			},
		},
	}

	transcript, err := worker.Run(ctx, messages)
	if err != nil {
		return Command{}, err
	}
	result := transcript[len(transcript)-1].Content

	// Copy the plan so the completed step lands via patch, never by
	// mutating the shared state.
	updated := *plan
	updated.Steps = append([]planner.Step{}, plan.Steps...)
	updated.Steps[idx].ExecutionRes = &result

	n.Logger.Printf("[FLOW] %s completed step %q", agentName, step.Title)
	return Command{
		Patch: Patch{
			Plan:         &updated,
			Observations: []string{result},
			Messages:     []provider.Message{{Role: "assistant", Content: result, Name: agentName}},
		},
		Goto: NodeResearchTeam,
	}, nil
}
