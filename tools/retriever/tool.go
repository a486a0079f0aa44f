package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const DefaultMaxResults = 5

// Tool exposes BM25 retrieval over the resources attached to a run.
// It should be listed ahead of web search so local knowledge wins.
type Tool struct {
	Index      *Index
	Resources  []Resource
	MaxResults int
}

func (t *Tool) Name() string { return "local_search_tool" }

func (t *Tool) Description() string {
	return "Useful for retrieving information from the file with `rag://` uri prefix, " +
		"it should be higher priority than the web search or writing code."
}

func (t *Tool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"keywords": map[string]interface{}{
				"type":        "string",
				"description": "The keywords to search for in the local documents.",
			},
		},
		"required": []string{"keywords"},
	}
}

func (t *Tool) Call(ctx context.Context, args map[string]interface{}) (string, error) {
	keywords, _ := args["keywords"].(string)
	if strings.TrimSpace(keywords) == "" {
		return "", errors.New("local_search_tool: keywords is required")
	}
	k := t.MaxResults
	if k <= 0 {
		k = DefaultMaxResults
	}
	uris := make([]string, 0, len(t.Resources))
	for _, r := range t.Resources {
		uris = append(uris, r.URI)
	}
	hits, err := t.Index.Query(keywords, k, uris)
	if err != nil {
		return "", fmt.Errorf("local_search_tool: %w", err)
	}
	if len(hits) == 0 {
		return "No results found from the local knowledge base.", nil
	}
	body, err := json.Marshal(hits)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
