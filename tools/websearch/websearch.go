// Package websearch provides the web search tool backed by Brave or Serper.
package websearch

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/researchflow/config"
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Engine is a search backend.
type Engine interface {
	Discover(ctx context.Context, q string, k int) ([]Result, error)
}

// Tool adapts an Engine to the agent tool contract.
type Tool struct {
	engine     Engine
	maxResults int
}

// New builds the search tool from configuration. The engine selection follows
// tools.web_search.engine; an unknown engine is an error at startup, not at
// call time.
func New(cfg config.WebSearchConfig, maxResults int) (*Tool, error) {
	if maxResults <= 0 {
		maxResults = cfg.MaxResults
	}
	var engine Engine
	switch cfg.Engine {
	case "brave", "":
		engine = Brave{APIKey: cfg.BraveAPIKey}
	case "serper":
		engine = Serper{APIKey: cfg.SerperAPIKey}
	default:
		return nil, fmt.Errorf("unsupported search engine %q", cfg.Engine)
	}
	return &Tool{engine: engine, maxResults: maxResults}, nil
}

// NewWithEngine builds the tool around an explicit engine; used by tests.
func NewWithEngine(engine Engine, maxResults int) *Tool {
	return &Tool{engine: engine, maxResults: maxResults}
}

// Engine returns the underlying search backend.
func (t *Tool) Engine() Engine { return t.engine }

func (t *Tool) Name() string { return "web_search" }

func (t *Tool) Description() string {
	return "Search the web for up-to-date information. Returns a list of result titles, URLs and snippets."
}

func (t *Tool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The search query.",
			},
		},
		"required": []string{"query"},
	}
}

func (t *Tool) Call(ctx context.Context, args map[string]interface{}) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("web_search requires a non-empty query")
	}
	results, err := t.engine.Discover(ctx, query, t.maxResults)
	if err != nil {
		return "", fmt.Errorf("web search: %w", err)
	}
	results = Dedupe(results)
	if len(results) == 0 {
		return "No results found.", nil
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "## %s\n%s\n%s\n", r.Title, r.URL, r.Snippet)
		if i < len(results)-1 {
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}
