// Package tools implements the tool execution boundary over MCP: a client
// for the domain tool server and a model-driven loop that invokes tools
// until the query is answered.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// Tool describes one callable tool exposed by the server.
type Tool struct {
	Name        string
	Description string
}

// Client is the narrow surface the executor needs from a tool server.
type Client interface {
	ListTools(ctx context.Context) ([]Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// MCPClient talks to an MCP tool server over streamable HTTP.
type MCPClient struct {
	mcp *client.Client
}

// Connect dials the MCP endpoint and completes the initialize handshake.
func Connect(ctx context.Context, endpoint string) (*MCPClient, error) {
	c, err := client.NewStreamableHttpClient(endpoint)
	if err != nil {
		return nil, fmt.Errorf("creating MCP client for %s: %w", endpoint, err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting MCP transport: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "taskflow", Version: "0.1.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("initializing MCP session: %w", err)
	}
	return &MCPClient{mcp: c}, nil
}

// ListTools returns the server's tool listing.
func (c *MCPClient) ListTools(ctx context.Context) ([]Tool, error) {
	res, err := c.mcp.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	tools := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, Tool{Name: t.Name, Description: t.Description})
	}
	return tools, nil
}

// CallTool invokes one tool and returns its text content.
func (c *MCPClient) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := c.mcp.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("calling tool %s: %w", name, err)
	}

	var sb strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			sb.WriteString(tc.Text)
			sb.WriteString("\n")
		}
	}
	text := strings.TrimSpace(sb.String())
	if res.IsError {
		return "", fmt.Errorf("tool %s returned an error: %s", name, text)
	}
	return text, nil
}

// Close shuts the underlying transport down.
func (c *MCPClient) Close() error {
	return c.mcp.Close()
}
