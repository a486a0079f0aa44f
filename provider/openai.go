package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type openAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// openAIClient implements Provider against the OpenAI chat completions API.
type openAIClient struct {
	cfg        openAIConfig
	httpClient *http.Client
}

func newOpenAIClient(cfg openAIConfig) *openAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &openAIClient{
		cfg: cfg,
		// No client-level timeout: streamed completions can legitimately
		// outlive any fixed request budget. Context cancellation applies.
		httpClient: &http.Client{},
	}
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"function"`
}

func (c *openAIClient) buildBody(messages []Message, opts Options, stream bool) map[string]interface{} {
	wire := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		wm := wireMessage{Role: m.Role, Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wtc := wireToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = tc.Arguments
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		wire = append(wire, wm)
	}
	body := map[string]interface{}{
		"model":       c.cfg.Model,
		"messages":    wire,
		"temperature": c.cfg.Temperature,
	}
	if c.cfg.MaxTokens > 0 {
		body["max_tokens"] = c.cfg.MaxTokens
	}
	if stream {
		body["stream"] = true
	}
	if opts.JSONMode {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	if len(opts.Tools) > 0 {
		tools := make([]wireTool, 0, len(opts.Tools))
		for _, t := range opts.Tools {
			wt := wireTool{Type: "function"}
			wt.Function.Name = t.Name
			wt.Function.Description = t.Description
			wt.Function.Parameters = t.InputSchema
			tools = append(tools, wt)
		}
		body["tools"] = tools
	}
	return body
}

func (c *openAIClient) newRequest(ctx context.Context, body map[string]interface{}) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	return req, nil
}

// Invoke performs a single blocking chat completion.
func (c *openAIClient) Invoke(ctx context.Context, messages []Message, opts ...Option) (Response, error) {
	var options Options
	for _, opt := range opts {
		opt(&options)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := c.newRequest(ctx, c.buildBody(messages, options, false))
	if err != nil {
		return Response{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("chat completion request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Response{}, fmt.Errorf("chat completion API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var raw struct {
		ID      string `json:"id"`
		Choices []struct {
			Message struct {
				Content          string         `json:"content"`
				ReasoningContent string         `json:"reasoning_content"`
				ToolCalls        []wireToolCall `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if len(raw.Choices) == 0 {
		return Response{}, fmt.Errorf("chat completion returned no choices")
	}
	choice := raw.Choices[0]
	out := Response{
		ID:               raw.ID,
		Content:          choice.Message.Content,
		ReasoningContent: choice.Message.ReasoningContent,
		FinishReason:     choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return out, nil
}

// Stream performs a streaming chat completion, yielding one Chunk per SSE
// delta. The channel is closed when the stream ends; a transport error is
// delivered as a final Chunk with Err set.
func (c *openAIClient) Stream(ctx context.Context, messages []Message, opts ...Option) (<-chan Chunk, error) {
	var options Options
	for _, opt := range opts {
		opt(&options)
	}
	req, err := c.newRequest(ctx, c.buildBody(messages, options, true))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat completion stream request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, fmt.Errorf("chat completion API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		// Pending tool calls accumulate across deltas; argument fragments are
		// surfaced immediately as chunks and the assembled calls are attached
		// to the final delta of the message.
		pending := map[int]*ToolCall{}
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				return
			}
			var delta struct {
				ID      string `json:"id"`
				Choices []struct {
					Delta struct {
						Content          string `json:"content"`
						ReasoningContent string `json:"reasoning_content"`
						ToolCalls        []struct {
							Index    int    `json:"index"`
							ID       string `json:"id"`
							Function struct {
								Name      string `json:"name"`
								Arguments string `json:"arguments"`
							} `json:"function"`
						} `json:"tool_calls"`
					} `json:"delta"`
					FinishReason string `json:"finish_reason"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(payload), &delta); err != nil {
				continue
			}
			if len(delta.Choices) == 0 {
				continue
			}
			choice := delta.Choices[0]
			chunk := Chunk{
				ID:               delta.ID,
				Content:          choice.Delta.Content,
				ReasoningContent: choice.Delta.ReasoningContent,
				FinishReason:     choice.FinishReason,
			}
			for _, tc := range choice.Delta.ToolCalls {
				call := pending[tc.Index]
				if call == nil {
					call = &ToolCall{}
					pending[tc.Index] = call
				}
				if tc.ID != "" {
					call.ID = tc.ID
				}
				if tc.Function.Name != "" {
					call.Name = tc.Function.Name
				}
				call.Arguments += tc.Function.Arguments
				chunk.ToolCallChunks = append(chunk.ToolCallChunks, ToolCallChunk{
					Name:  tc.Function.Name,
					Args:  tc.Function.Arguments,
					ID:    tc.ID,
					Index: tc.Index,
					Type:  "function",
				})
			}
			if choice.FinishReason != "" && len(pending) > 0 {
				// Indexes may be sparse, so walk the map's keys in
				// order rather than counting up to its length.
				idxs := make([]int, 0, len(pending))
				for i := range pending {
					idxs = append(idxs, i)
				}
				sort.Ints(idxs)
				for _, i := range idxs {
					chunk.ToolCalls = append(chunk.ToolCalls, *pending[i])
				}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case out <- Chunk{Err: fmt.Errorf("read stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}
