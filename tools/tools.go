package tools

import (
	"context"

	"github.com/mohammad-safakhou/researchflow/provider"
)

// Tool is a named, described, invocable unit of work an agent can call.
// Implementations must tolerate concurrent calls.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Call(ctx context.Context, args map[string]interface{}) (string, error)
}

// Defs converts tools into provider tool definitions for model binding.
func Defs(tools []Tool) []provider.ToolDef {
	defs := make([]provider.ToolDef, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, provider.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}

// Find returns the tool with the given name, or nil.
func Find(tools []Tool, name string) Tool {
	for _, t := range tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// Described wraps a tool with a description prefix, used when a dynamically
// loaded tool should advertise the server it came from.
type Described struct {
	Tool
	Prefix string
}

func (d Described) Description() string {
	return d.Prefix + d.Tool.Description()
}
