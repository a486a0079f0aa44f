package workflow

import "github.com/mohammad-safakhou/researchflow/provider"

// Emission is one unit of run output handed to the stream translator.
// Exactly one of Chunk, ToolCalls, ToolCallChunks, ToolResult, or
// Interrupt is set.
type Emission struct {
	Agent     string
	Node      Node
	MessageID string

	Chunk          *provider.Chunk
	ToolCalls      []provider.ToolCall
	ToolCallChunks []provider.ToolCallChunk
	ToolResult     *ToolResult
	Interrupt      *Interrupt
}

// ToolResult is the outcome of one executed tool call.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
}

// InterruptOption is one way a suspended run may be resumed.
type InterruptOption struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// Interrupt describes a suspension awaiting external input.
type Interrupt struct {
	ID      string            `json:"id"`
	Prompt  string            `json:"prompt"`
	Options []InterruptOption `json:"options"`
}

// InterruptOptions are the fixed resume choices offered at plan review.
func InterruptOptions() []InterruptOption {
	return []InterruptOption{
		{Text: "Edit plan", Value: "edit_plan"},
		{Text: "Start research", Value: "accepted"},
	}
}

// Sink receives emissions in order. Implementations must not block
// indefinitely; the runner calls it inline.
type Sink func(Emission)

func (s Sink) emit(e Emission) {
	if s != nil {
		s(e)
	}
}
