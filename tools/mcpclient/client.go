// Package mcpclient connects to external tool servers over stdio or HTTP
// JSON-RPC and surfaces their tools to agents. The wire protocol is the
// usual "tools/list" / "tools/call" pair.
package mcpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/mohammad-safakhou/researchflow/config"
	"github.com/mohammad-safakhou/researchflow/tools"
)

type rpcReq struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      any                    `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

type rpcResp struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      any                    `json:"id"`
	Result  map[string]interface{} `json:"result,omitempty"`
	Error   *rpcError              `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ToolDesc mirrors what tool servers advertise from tools/list.
type ToolDesc struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Transport performs one JSON-RPC round trip.
type Transport interface {
	Call(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error)
	Close() error
}

// ---------- stdio ----------

// StdioTransport talks to a child process over its stdin/stdout.
type StdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader

	mu     sync.Mutex
	nextID atomic.Int64
}

func NewStdioTransport(command string, args, env []string) (*StdioTransport, error) {
	cmd := exec.Command(command, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting tool server %q: %w", command, err)
	}
	return &StdioTransport{
		cmd:    cmd,
		stdin:  stdin,
		reader: bufio.NewReader(stdout),
	}, nil
}

func (t *StdioTransport) Call(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error) {
	// Requests are serialized; the server answers in order on one pipe.
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID.Add(1)
	req := rpcReq{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := json.NewEncoder(t.stdin).Encode(req); err != nil {
		return nil, fmt.Errorf("writing %s request: %w", method, err)
	}

	type readResult struct {
		line []byte
		err  error
	}
	done := make(chan readResult, 1)
	go func() {
		line, err := t.reader.ReadBytes('\n')
		done <- readResult{line, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("reading %s response: %w", method, r.err)
		}
		var resp rpcResp
		if err := json.Unmarshal(r.line, &resp); err != nil {
			return nil, fmt.Errorf("decoding %s response: %w", method, err)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("tool server error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	}
}

func (t *StdioTransport) Close() error {
	_ = t.stdin.Close()
	return t.cmd.Wait()
}

// ---------- http ----------

// HTTPTransport posts JSON-RPC requests to a remote tool server.
type HTTPTransport struct {
	URL    string
	Client *http.Client

	nextID atomic.Int64
}

func NewHTTPTransport(url string) *HTTPTransport {
	return &HTTPTransport{URL: url, Client: http.DefaultClient}
}

func (t *HTTPTransport) Call(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error) {
	req := rpcReq{JSONRPC: "2.0", ID: t.nextID.Add(1), Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpResp, err := t.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling tool server %s: %w", t.URL, err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tool server %s returned status %d", t.URL, httpResp.StatusCode)
	}
	var resp rpcResp
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", method, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tool server error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}

func (t *HTTPTransport) Close() error { return nil }

// ---------- client ----------

// Client wraps one configured tool server.
type Client struct {
	ServerName  string
	AddToAgents []string

	transport Transport
	enabled   map[string]bool
}

// Connect opens a transport for a configured server.
func Connect(name string, cfg config.ToolServer) (*Client, error) {
	var transport Transport
	switch cfg.Transport {
	case "stdio":
		t, err := NewStdioTransport(cfg.Command, cfg.Args, cfg.Env)
		if err != nil {
			return nil, err
		}
		transport = t
	case "sse":
		transport = NewHTTPTransport(cfg.URL)
	default:
		return nil, fmt.Errorf("tool server %s: unsupported transport %q", name, cfg.Transport)
	}
	enabled := map[string]bool{}
	for _, t := range cfg.EnabledTools {
		enabled[t] = true
	}
	return &Client{
		ServerName:  name,
		AddToAgents: cfg.AddToAgents,
		transport:   transport,
		enabled:     enabled,
	}, nil
}

// ListTools asks the server for its tools, filtered to the enabled set.
func (c *Client) ListTools(ctx context.Context) ([]tools.Tool, error) {
	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("listing tools on %s: %w", c.ServerName, err)
	}
	raw, err := json.Marshal(result["tools"])
	if err != nil {
		return nil, err
	}
	var descs []ToolDesc
	if err := json.Unmarshal(raw, &descs); err != nil {
		return nil, fmt.Errorf("decoding tool list from %s: %w", c.ServerName, err)
	}
	var out []tools.Tool
	for _, d := range descs {
		if len(c.enabled) > 0 && !c.enabled[d.Name] {
			continue
		}
		out = append(out, &remoteTool{client: c, desc: d})
	}
	return out, nil
}

// ServesAgent reports whether this server's tools belong on the given agent.
func (c *Client) ServesAgent(agent string) bool {
	for _, a := range c.AddToAgents {
		if a == agent {
			return true
		}
	}
	return false
}

func (c *Client) Close() error { return c.transport.Close() }

// remoteTool forwards Call to the server.
type remoteTool struct {
	client *Client
	desc   ToolDesc
}

func (r *remoteTool) Name() string        { return r.desc.Name }
func (r *remoteTool) Description() string { return r.desc.Description }
func (r *remoteTool) InputSchema() map[string]interface{} {
	return r.desc.InputSchema
}

func (r *remoteTool) Call(ctx context.Context, args map[string]interface{}) (string, error) {
	result, err := r.client.transport.Call(ctx, "tools/call", map[string]interface{}{
		"name":      r.desc.Name,
		"arguments": args,
	})
	if err != nil {
		return "", err
	}
	if text, ok := result["content"].(string); ok {
		return text, nil
	}
	body, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
