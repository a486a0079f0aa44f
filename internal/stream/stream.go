// Package stream turns workflow emissions into the typed event sequence
// clients consume, persisting every event before it is yielded so a
// thread can be replayed byte for byte after the connection dies.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/researchflow/internal/checkpoint"
	"github.com/mohammad-safakhou/researchflow/internal/workflow"
	"github.com/mohammad-safakhou/researchflow/provider"
)

// Event kinds.
const (
	KindMessageChunk   = "message_chunk"
	KindToolCalls      = "tool_calls"
	KindToolCallChunks = "tool_call_chunks"
	KindToolCallResult = "tool_call_result"
	KindInterrupt      = "interrupt"
	KindError          = "error"
)

const nsMessages = "messages"

// Event is one typed unit of the client stream.
type Event struct {
	Kind string `json:"-"`

	ThreadID         string                     `json:"thread_id"`
	Agent            string                     `json:"agent,omitempty"`
	Node             string                     `json:"node,omitempty"`
	ID               string                     `json:"id,omitempty"`
	Role             string                     `json:"role,omitempty"`
	Content          string                     `json:"content,omitempty"`
	ReasoningContent string                     `json:"reasoning_content,omitempty"`
	FinishReason     string                     `json:"finish_reason,omitempty"`
	ToolCalls        []provider.ToolCall        `json:"tool_calls,omitempty"`
	ToolCallChunks   []provider.ToolCallChunk   `json:"tool_call_chunks,omitempty"`
	ToolCallID       string                     `json:"tool_call_id,omitempty"`
	Options          []workflow.InterruptOption `json:"options,omitempty"`
}

// SanitizeArgs escapes brackets and braces in tool-call argument
// fragments so downstream markdown renderers cannot misread them as
// syntax.
func SanitizeArgs(args string) string {
	replacer := strings.NewReplacer(
		"[", "&#91;",
		"]", "&#93;",
		"{", "&#123;",
		"}", "&#125;",
	)
	return replacer.Replace(args)
}

// Translate maps one emission to zero or more events. Empty message
// chunks are suppressed.
func Translate(threadID string, e workflow.Emission) []Event {
	base := Event{
		ThreadID: threadID,
		Agent:    e.Agent,
		Node:     string(e.Node),
		ID:       e.MessageID,
	}

	switch {
	case e.Interrupt != nil:
		ev := base
		ev.Kind = KindInterrupt
		ev.ID = e.Interrupt.ID
		ev.Role = "assistant"
		ev.Content = e.Interrupt.Prompt
		ev.FinishReason = "interrupt"
		ev.Options = e.Interrupt.Options
		return []Event{ev}

	case e.ToolResult != nil:
		ev := base
		ev.Kind = KindToolCallResult
		ev.Role = "tool"
		ev.ToolCallID = e.ToolResult.CallID
		ev.Content = e.ToolResult.Content
		return []Event{ev}

	case e.Chunk != nil:
		chunk := e.Chunk
		ev := base
		ev.Role = "assistant"
		ev.Content = chunk.Content
		ev.ReasoningContent = chunk.ReasoningContent
		ev.FinishReason = chunk.FinishReason

		switch {
		case len(chunk.ToolCalls) > 0:
			ev.Kind = KindToolCalls
			ev.ToolCalls = sanitizeCalls(chunk.ToolCalls)
			ev.ToolCallChunks = sanitizeChunks(chunk.ToolCallChunks)
		case len(chunk.ToolCallChunks) > 0:
			ev.Kind = KindToolCallChunks
			ev.ToolCallChunks = sanitizeChunks(chunk.ToolCallChunks)
		default:
			if chunk.Content == "" && chunk.ReasoningContent == "" && chunk.FinishReason == "" {
				return nil
			}
			ev.Kind = KindMessageChunk
		}
		return []Event{ev}
	}
	return nil
}

func sanitizeCalls(calls []provider.ToolCall) []provider.ToolCall {
	out := make([]provider.ToolCall, len(calls))
	for i, c := range calls {
		c.Arguments = SanitizeArgs(c.Arguments)
		out[i] = c
	}
	return out
}

func sanitizeChunks(chunks []provider.ToolCallChunk) []provider.ToolCallChunk {
	out := make([]provider.ToolCallChunk, len(chunks))
	for i, c := range chunks {
		c.Args = SanitizeArgs(c.Args)
		out[i] = c
	}
	return out
}

// ErrorEvent builds the single terminal event for a failed stream.
func ErrorEvent(threadID, message string) Event {
	return Event{
		Kind:     KindError,
		ThreadID: threadID,
		Role:     "assistant",
		Content:  message,
	}
}

// persistedEvent is the durable form of one stream event.
type persistedEvent struct {
	Kind string `json:"event"`
	Data Event  `json:"data"`
}

// Translator persists and forwards events for one thread.
type Translator struct {
	ThreadID    string
	Checkpoints checkpoint.Store
	Logger      *log.Logger
	Forward     func(Event)
}

// Sink adapts the translator to the workflow's emission callback.
func (t *Translator) Sink() workflow.Sink {
	return func(e workflow.Emission) {
		for _, ev := range Translate(t.ThreadID, e) {
			t.Emit(ev)
		}
	}
}

// Emit persists one event under the thread's message cursor and then
// forwards it. Persistence is best-effort.
func (t *Translator) Emit(ev Event) {
	ctx := context.Background()
	raw, err := json.Marshal(persistedEvent{Kind: ev.Kind, Data: ev})
	if err != nil {
		t.Logger.Printf("[STREAM] event marshal failed: %v", err)
	} else {
		seq, _ := t.Checkpoints.Append(ctx, nsMessages, t.ThreadID, raw)
		if seq > 0 {
			_ = t.Checkpoints.Put(ctx, nsMessages, t.ThreadID, "cursor", []byte(strconv.FormatInt(seq, 10)))
		}
	}
	if t.Forward != nil {
		t.Forward(ev)
	}
}

// Replay reads back every persisted event for a thread in order.
func Replay(ctx context.Context, store checkpoint.Store, threadID string) ([]Event, error) {
	entries, err := store.ReadLog(ctx, nsMessages, threadID, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("replaying thread %s: %w", threadID, err)
	}
	out := make([]Event, 0, len(entries))
	for _, raw := range entries {
		var pe persistedEvent
		if err := json.Unmarshal(raw, &pe); err != nil {
			return nil, fmt.Errorf("replaying thread %s: %w", threadID, err)
		}
		ev := pe.Data
		ev.Kind = pe.Kind
		out = append(out, ev)
	}
	return out, nil
}
