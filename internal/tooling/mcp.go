package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/surveyor-ai/surveyor/config"
)

// DefaultMCPInitTimeout is the ceiling for connecting and initializing one
// MCP session.
const DefaultMCPInitTimeout = 5 * time.Minute

// MCPPool holds one initialized client session per enabled MCP server for
// the lifetime of a run. Sessions are shared by all tool calls in the run.
type MCPPool struct {
	initTimeout time.Duration
	logger      *log.Logger

	mu       sync.Mutex
	sessions map[string]*client.Client
	tools    []Tool
}

func NewMCPPool(initTimeout time.Duration) *MCPPool {
	if initTimeout <= 0 {
		initTimeout = DefaultMCPInitTimeout
	}
	return &MCPPool{
		initTimeout: initTimeout,
		sessions:    map[string]*client.Client{},
		logger:      log.New(log.Writer(), "[MCP] ", log.LstdFlags),
	}
}

// Setup connects every enabled server, runs discovery, and registers its
// tools. A server that fails to initialize is logged and skipped; it never
// fails the run.
func (p *MCPPool) Setup(ctx context.Context, servers []config.MCPServerEntry) {
	for _, entry := range servers {
		if !entry.Enabled {
			continue
		}
		if err := p.connect(ctx, entry); err != nil {
			p.logger.Printf("server %s unavailable: %v", entry.Name, err)
		}
	}
}

func (p *MCPPool) connect(ctx context.Context, entry config.MCPServerEntry) error {
	ctx, cancel := context.WithTimeout(ctx, p.initTimeout)
	defer cancel()

	var tr transport.Interface
	var err error
	switch entry.Type {
	case "sse":
		url := entry.URL
		if !strings.HasSuffix(url, "/sse") {
			url = strings.TrimRight(url, "/") + "/sse"
		}
		var opts []transport.ClientOption
		if len(entry.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(entry.Headers))
		}
		tr, err = transport.NewSSE(url, opts...)
		if err != nil {
			return fmt.Errorf("sse transport: %w", err)
		}
	case "stdio", "":
		env := make([]string, 0, len(entry.Env))
		for k, v := range entry.Env {
			env = append(env, k+"="+v)
		}
		tr = transport.NewStdio(entry.Command, env, entry.Args...)
	default:
		return fmt.Errorf("unsupported transport %q", entry.Type)
	}

	c := client.NewClient(tr)
	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("start client: %w", err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.Capabilities = mcp.ClientCapabilities{}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return fmt.Errorf("initialize: %w", err)
	}
	listed, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		c.Close()
		return fmt.Errorf("list tools: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[entry.Name] = c
	for _, t := range listed.Tools {
		p.tools = append(p.tools, p.adapt(entry.Name, t))
	}
	p.logger.Printf("server %s connected with %d tools", entry.Name, len(listed.Tools))
	return nil
}

// adapt wraps a discovered remote tool as a registry tool. Names are
// prefixed with the server name to avoid collisions across servers.
func (p *MCPPool) adapt(serverName string, t mcp.Tool) Tool {
	schema, err := json.Marshal(t.InputSchema)
	if err != nil {
		schema = []byte(`{"type":"object","properties":{}}`)
	}
	name := serverName + "__" + t.Name
	remote := t.Name
	return Tool{
		Name:        name,
		Description: t.Description,
		Schema:      schema,
		Invoke: func(ctx context.Context, args json.RawMessage) (string, error) {
			p.mu.Lock()
			session := p.sessions[serverName]
			p.mu.Unlock()
			if session == nil {
				return "", fmt.Errorf("mcp server %s is not connected", serverName)
			}
			var arguments map[string]interface{}
			if len(args) > 0 {
				if err := json.Unmarshal(args, &arguments); err != nil {
					return "", fmt.Errorf("invalid arguments: %w", err)
				}
			}
			req := mcp.CallToolRequest{}
			req.Params.Name = remote
			req.Params.Arguments = arguments
			result, err := session.CallTool(ctx, req)
			if err != nil {
				return "", fmt.Errorf("call %s on %s: %w", remote, serverName, err)
			}
			var b strings.Builder
			for _, content := range result.Content {
				if text, ok := content.(mcp.TextContent); ok {
					b.WriteString(text.Text)
					b.WriteString("\n")
				}
			}
			out := strings.TrimSpace(b.String())
			if result.IsError {
				return "", fmt.Errorf("%s", out)
			}
			return out, nil
		},
	}
}

// Tools returns the discovered tool adapters.
func (p *MCPPool) Tools() []Tool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Tool, len(p.tools))
	copy(out, p.tools)
	return out
}

// Teardown closes every session. Safe to call once per run.
func (p *MCPPool) Teardown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, c := range p.sessions {
		if err := c.Close(); err != nil {
			p.logger.Printf("close %s: %v", name, err)
		}
	}
	p.sessions = map[string]*client.Client{}
	p.tools = nil
}
