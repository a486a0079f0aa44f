package server

import (
	"context"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/researchflow/config"
	"github.com/mohammad-safakhou/researchflow/tools"
	"github.com/mohammad-safakhou/researchflow/tools/coderunner"
	"github.com/mohammad-safakhou/researchflow/tools/crawler"
	"github.com/mohammad-safakhou/researchflow/tools/mcpclient"
	"github.com/mohammad-safakhou/researchflow/tools/retriever"
	"github.com/mohammad-safakhou/researchflow/tools/websearch"
)

// Toolbox builds the per-agent tool sets. External tool servers are
// optional: a server that fails to load is logged and skipped so the
// agent still runs with its default tools.
type Toolbox struct {
	cfg    *config.Config
	logger *log.Logger

	search  *websearch.Tool
	crawl   *crawler.Tool
	runner  *coderunner.Tool
	index   *retriever.Index
	servers map[string]config.ToolServer
}

func NewToolbox(cfg *config.Config, logger *log.Logger) (*Toolbox, error) {
	search, err := websearch.New(cfg.Tools.WebSearch, cfg.Workflow.MaxSearchResults)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	index, err := retriever.NewIndex()
	if err != nil {
		return nil, fmt.Errorf("retriever index: %w", err)
	}
	tb := &Toolbox{
		cfg:     cfg,
		logger:  logger,
		search:  search,
		runner:  coderunner.New(cfg.Tools.CodeRunner),
		index:   index,
		servers: cfg.Tools.Servers,
	}
	if cfg.Tools.Crawler.Enabled {
		tb.crawl = &crawler.Tool{Fetcher: crawler.NewChromedpFetcher(cfg.Tools.Crawler)}
	}
	return tb, nil
}

// SearchEngine exposes the configured engine for background
// investigation.
func (t *Toolbox) SearchEngine() websearch.Engine { return t.search.Engine() }

// Index exposes the resource index so uploads can be registered.
func (t *Toolbox) Index() *retriever.Index { return t.index }

// ToolsFor assembles the tool set for one agent. The returned cleanup
// closes any external tool server connections and must be called once
// the step is done with the tools.
func (t *Toolbox) ToolsFor(ctx context.Context, agentName string, resources []retriever.Resource) ([]tools.Tool, func(), error) {
	var out []tools.Tool
	switch agentName {
	case "researcher":
		if len(resources) > 0 {
			out = append(out, &retriever.Tool{
				Index:      t.index,
				Resources:  resources,
				MaxResults: t.cfg.Workflow.MaxSearchResults,
			})
		}
		out = append(out, t.search)
		if t.crawl != nil {
			out = append(out, t.crawl)
		}
	case "coder":
		out = append(out, t.runner)
	}
	remote, cleanup := t.remoteTools(ctx, agentName)
	out = append(out, remote...)
	return out, cleanup, nil
}

// remoteTools loads tools from configured external servers scoped to the
// agent. Failures degrade to the default set. The cleanup closes every
// client whose tools were handed out; a stdio server holds a child
// process open until then.
func (t *Toolbox) remoteTools(ctx context.Context, agentName string) ([]tools.Tool, func()) {
	var out []tools.Tool
	var clients []*mcpclient.Client
	for name, serverCfg := range t.servers {
		client, err := mcpclient.Connect(name, serverCfg)
		if err != nil {
			t.logger.Printf("tool server %s unavailable, continuing without it: %v", name, err)
			continue
		}
		if !client.ServesAgent(agentName) {
			_ = client.Close()
			continue
		}
		remote, err := client.ListTools(ctx)
		if err != nil {
			t.logger.Printf("tool server %s list failed, continuing without it: %v", name, err)
			_ = client.Close()
			continue
		}
		out = append(out, remote...)
		clients = append(clients, client)
	}
	cleanup := func() {
		for _, client := range clients {
			if err := client.Close(); err != nil {
				t.logger.Printf("tool server close: %v", err)
			}
		}
	}
	return out, cleanup
}
