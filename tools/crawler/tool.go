package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Tool exposes the crawler to agents.
type Tool struct {
	Fetcher Fetcher
}

func (t *Tool) Name() string { return "crawl_tool" }

func (t *Tool) Description() string {
	return "Use this to crawl a url and get a readable content in markdown format."
}

func (t *Tool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"description": "The url to crawl.",
			},
		},
		"required": []string{"url"},
	}
}

func (t *Tool) Call(ctx context.Context, args map[string]interface{}) (string, error) {
	rawURL, _ := args["url"].(string)
	if strings.TrimSpace(rawURL) == "" {
		return "", errors.New("crawl_tool: url is required")
	}
	article, err := t.Fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return "", fmt.Errorf("crawl_tool: %w", err)
	}
	var b strings.Builder
	if article.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", article.Title)
	}
	b.WriteString(article.Text)
	return b.String(), nil
}
