// Package agent runs the tool-calling loop around a single LLM-backed
// worker. The loop streams model output, executes requested tools, and
// feeds results back until the model stops asking for tools or the
// recursion limit is hit.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/researchflow/provider"
	"github.com/mohammad-safakhou/researchflow/tools"
)

var agentTracer trace.Tracer = otel.Tracer("researchflow/internal/agent")

// DefaultRecursionLimit bounds tool-call iterations per step.
const DefaultRecursionLimit = 25

const recursionLimitEnv = "AGENT_RECURSION_LIMIT"

// RecursionLimit resolves the iteration bound: the environment variable
// overrides the configured value, and invalid or non-positive values fall
// back to the default with a warning.
func RecursionLimit(configured int, logger *log.Logger) int {
	fallback := configured
	if fallback <= 0 {
		fallback = DefaultRecursionLimit
	}
	raw := os.Getenv(recursionLimitEnv)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		logger.Printf("invalid %s value %q, using %d", recursionLimitEnv, raw, fallback)
		return fallback
	}
	return n
}

// Hooks receive streaming output as the loop progresses. Nil hooks are
// skipped.
type Hooks struct {
	OnChunk      func(chunk provider.Chunk)
	OnToolCalls  func(calls []provider.ToolCall)
	OnToolResult func(call provider.ToolCall, result string, callErr error)
}

// Agent is one configured worker: a model plus its tool set.
type Agent struct {
	Name          string
	Provider      provider.Provider
	Tools         []tools.Tool
	MaxIterations int
	Hooks         Hooks
	Logger        *log.Logger
}

// Run drives the loop until the model produces a final answer. It returns
// the full transcript including tool messages; the last entry is the
// final assistant message.
func (a *Agent) Run(ctx context.Context, messages []provider.Message) ([]provider.Message, error) {
	ctx, span := agentTracer.Start(ctx, "agent.run",
		trace.WithAttributes(attribute.String("agent.name", a.Name)))
	defer span.End()

	limit := a.MaxIterations
	if limit <= 0 {
		limit = DefaultRecursionLimit
	}
	transcript := append([]provider.Message{}, messages...)

	for iteration := 0; iteration < limit; iteration++ {
		response, err := a.invoke(ctx, transcript)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", a.Name, err)
		}

		assistant := provider.Message{
			Role:      "assistant",
			Content:   response.Content,
			Name:      a.Name,
			ToolCalls: response.ToolCalls,
		}
		transcript = append(transcript, assistant)

		if len(response.ToolCalls) == 0 {
			return transcript, nil
		}
		if a.Hooks.OnToolCalls != nil {
			a.Hooks.OnToolCalls(response.ToolCalls)
		}
		for _, call := range response.ToolCalls {
			result, callErr := a.callTool(ctx, call)
			if a.Hooks.OnToolResult != nil {
				a.Hooks.OnToolResult(call, result, callErr)
			}
			if callErr != nil {
				result = fmt.Sprintf("Error executing tool %s: %v", call.Name, callErr)
			}
			transcript = append(transcript, provider.Message{
				Role:       "tool",
				Content:    result,
				Name:       call.Name,
				ToolCallID: call.ID,
			})
		}
	}
	return nil, fmt.Errorf("agent %s: recursion limit %d reached without a final answer", a.Name, limit)
}

// invoke streams one model turn and folds the chunks into a Response.
func (a *Agent) invoke(ctx context.Context, messages []provider.Message) (provider.Response, error) {
	chunks, err := a.Provider.Stream(ctx, messages, provider.WithTools(tools.Defs(a.Tools)))
	if err != nil {
		return provider.Response{}, err
	}

	var resp provider.Response
	for chunk := range chunks {
		if chunk.Err != nil {
			return provider.Response{}, chunk.Err
		}
		if a.Hooks.OnChunk != nil {
			a.Hooks.OnChunk(chunk)
		}
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

func (a *Agent) callTool(ctx context.Context, call provider.ToolCall) (string, error) {
	tool := tools.Find(a.Tools, call.Name)
	if tool == nil {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}
	args := map[string]interface{}{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return "", fmt.Errorf("decoding arguments for %s: %w", call.Name, err)
		}
	}
	a.Logger.Printf("agent %s calling tool %s", a.Name, call.Name)
	return tool.Call(ctx, args)
}
