package provider

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/researchflow/config"
)

// Capability identifies a tier of model strength. Agents are mapped to a
// capability, never to a concrete model.
type Capability string

const (
	Basic     Capability = "basic"
	Reasoning Capability = "reasoning"
	Vision    Capability = "vision"
)

// AgentCapability returns the capability tier an agent requires.
func AgentCapability(agent string) Capability {
	switch agent {
	case "planner", "coder":
		return Reasoning
	default:
		// coordinator, researcher, reporter, background_investigator
		return Basic
	}
}

// Message is one role-tagged entry in a model conversation.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a completed tool invocation request emitted by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallChunk is a streamed fragment of a tool call's arguments.
type ToolCallChunk struct {
	Name  string `json:"name"`
	Args  string `json:"args"`
	ID    string `json:"id"`
	Index int    `json:"index"`
	Type  string `json:"type"`
}

// ToolDef declares a callable tool bound into a model invocation.
type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Response is the full, non-streamed result of one model invocation.
type Response struct {
	ID               string
	Content          string
	ReasoningContent string
	ToolCalls        []ToolCall
	FinishReason     string
}

// Chunk is one streamed fragment of a model response.
type Chunk struct {
	ID               string
	Content          string
	ReasoningContent string
	ToolCalls        []ToolCall
	ToolCallChunks   []ToolCallChunk
	FinishReason     string
	Err              error
}

// Options carries per-invocation settings.
type Options struct {
	Tools    []ToolDef
	JSONMode bool
}

// Option mutates invocation Options.
type Option func(*Options)

// WithTools binds tool definitions so the model can elect to call them.
func WithTools(tools []ToolDef) Option {
	return func(o *Options) { o.Tools = tools }
}

// WithJSONMode forces the model to emit a single JSON object.
func WithJSONMode() Option {
	return func(o *Options) { o.JSONMode = true }
}

// Provider is the abstract LLM capability the workflow core depends on.
// Implementations must be safe for concurrent use: one client per capability
// tier is constructed at startup and shared across threads.
type Provider interface {
	Invoke(ctx context.Context, messages []Message, opts ...Option) (Response, error)
	Stream(ctx context.Context, messages []Message, opts ...Option) (<-chan Chunk, error)
}

// Registry caches one provider client per capability tier. It is built once
// at startup and passed by injection into the components that need it.
type Registry struct {
	clients map[Capability]Provider
}

// NewRegistry constructs provider clients from configuration. Every routed
// capability gets a client; the fallback model covers unrouted tiers.
func NewRegistry(cfg config.LLMConfig) (*Registry, error) {
	routes := map[Capability]string{
		Basic:     cfg.Routing.Basic,
		Reasoning: cfg.Routing.Reasoning,
		Vision:    cfg.Routing.Vision,
	}
	clients := make(map[Capability]Provider, len(routes))
	for capability, modelKey := range routes {
		if modelKey == "" {
			modelKey = cfg.Routing.Fallback
		}
		if modelKey == "" {
			continue
		}
		client, err := buildClient(cfg, modelKey)
		if err != nil {
			return nil, fmt.Errorf("capability %s: %w", capability, err)
		}
		clients[capability] = client
	}
	if len(clients) == 0 {
		return nil, fmt.Errorf("no LLM models routed: configure llm.routing")
	}
	return &Registry{clients: clients}, nil
}

// NewRegistryWith builds a registry from pre-constructed providers; used by
// tests to inject fakes.
func NewRegistryWith(clients map[Capability]Provider) *Registry {
	return &Registry{clients: clients}
}

// ForCapability returns the cached client for a capability tier.
func (r *Registry) ForCapability(capability Capability) (Provider, error) {
	if client, ok := r.clients[capability]; ok {
		return client, nil
	}
	if client, ok := r.clients[Basic]; ok {
		return client, nil
	}
	return nil, fmt.Errorf("no provider configured for capability %s", capability)
}

// ForAgent returns the cached client for an agent's capability tier.
func (r *Registry) ForAgent(agent string) (Provider, error) {
	return r.ForCapability(AgentCapability(agent))
}

func buildClient(cfg config.LLMConfig, modelKey string) (Provider, error) {
	for _, providerCfg := range cfg.Providers {
		model, ok := providerCfg.Models[modelKey]
		if !ok {
			continue
		}
		switch providerCfg.Type {
		case "openai", "":
			return newOpenAIClient(openAIConfig{
				APIKey:      providerCfg.APIKey,
				BaseURL:     providerCfg.BaseURL,
				Model:       model.APIName,
				Temperature: model.Temperature,
				MaxTokens:   model.MaxTokens,
				Timeout:     providerCfg.Timeout,
			}), nil
		case "anthropic":
			return nil, fmt.Errorf("anthropic client not implemented yet")
		default:
			return nil, fmt.Errorf("unsupported LLM provider type %q", providerCfg.Type)
		}
	}
	return nil, fmt.Errorf("model %q not found in any configured provider", modelKey)
}
