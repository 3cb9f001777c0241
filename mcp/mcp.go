// Package mcp exposes the tools of a Model Context Protocol server as a
// steward tool set. The server handshake and tool discovery happen at
// construction; Run forwards tool calls over the established session.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/steward"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	// DefaultClientName is reported to the server during initialization.
	DefaultClientName    = "steward"
	DefaultClientVersion = "0.0.1"
)

// Client connects to one MCP server and implements steward.ToolSet.
type Client struct {
	// For a local MCP server spawned as a subprocess.
	path    string
	args    []string
	envVars []string

	// For a remote MCP server over HTTP SSE.
	baseURL string
	headers map[string]string

	name    string
	version string

	client     *client.Client
	initResult *mcp.InitializeResult
	specs      []*steward.ToolSpec

	closeMutex sync.Mutex
}

// StdioOption configures a stdio-transport MCP client.
type StdioOption func(*Client)

// WithEnvVars appends environment variables for the spawned server process.
func WithEnvVars(envVars []string) StdioOption {
	return func(m *Client) {
		m.envVars = append(m.envVars, envVars...)
	}
}

// WithStdioClientInfo sets the client name and version reported to the server.
func WithStdioClientInfo(name, version string) StdioOption {
	return func(m *Client) {
		m.name = name
		m.version = version
	}
}

// NewStdio connects to a local MCP server executable via stdio and lists its
// tools.
func NewStdio(ctx context.Context, path string, args []string, options ...StdioOption) (*Client, error) {
	c := &Client{
		path:    path,
		args:    args,
		name:    DefaultClientName,
		version: DefaultClientVersion,
	}
	for _, option := range options {
		option(c)
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// SSEOption configures an SSE-transport MCP client.
type SSEOption func(*Client)

// WithHeaders sets the HTTP headers sent to the server. It replaces any
// existing header setting.
func WithHeaders(headers map[string]string) SSEOption {
	return func(m *Client) {
		m.headers = headers
	}
}

// WithSSEClientInfo sets the client name and version reported to the server.
func WithSSEClientInfo(name, version string) SSEOption {
	return func(m *Client) {
		m.name = name
		m.version = version
	}
}

// NewSSE connects to a remote MCP server via HTTP SSE and lists its tools.
func NewSSE(ctx context.Context, baseURL string, options ...SSEOption) (*Client, error) {
	c := &Client{
		baseURL: baseURL,
		name:    DefaultClientName,
		version: DefaultClientVersion,
	}
	for _, option := range options {
		option(c)
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	var tp transport.Interface
	if c.path != "" {
		tp = transport.NewStdio(c.path, c.envVars, c.args...)
	}
	if c.baseURL != "" {
		sse, err := transport.NewSSE(c.baseURL, transport.WithHeaders(c.headers))
		if err != nil {
			return goerr.Wrap(err, "failed to create SSE transport")
		}
		tp = sse
	}
	if tp == nil {
		return goerr.New("no transport configured")
	}

	c.client = client.NewClient(tp)

	if err := c.client.Start(ctx); err != nil {
		return goerr.Wrap(err, "failed to start MCP client")
	}

	var initRequest mcp.InitializeRequest
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    c.name,
		Version: c.version,
	}

	resp, err := c.client.Initialize(ctx, initRequest)
	if err != nil {
		return goerr.Wrap(err, "failed to initialize MCP client")
	}
	c.initResult = resp

	return c.loadSpecs(ctx)
}

func (c *Client) loadSpecs(ctx context.Context) error {
	resp, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return goerr.Wrap(err, "failed to list tools")
	}

	specs := make([]*steward.ToolSpec, 0, len(resp.Tools))
	for _, tool := range resp.Tools {
		spec, err := toolToSpec(tool)
		if err != nil {
			return goerr.Wrap(err, "failed to convert tool schema", goerr.V("tool", tool.Name))
		}
		specs = append(specs, spec)
	}
	c.specs = specs

	return nil
}

// ServerName returns the name the server reported during initialization.
func (c *Client) ServerName() string {
	if c.initResult == nil {
		return ""
	}
	return c.initResult.ServerInfo.Name
}

// Specs implements steward.ToolSet.
func (c *Client) Specs() []*steward.ToolSpec {
	return c.specs
}

// Run implements steward.ToolSet. It forwards the call to the server and
// folds text content into a result map.
func (c *Client) Run(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := c.client.CallTool(ctx, req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call MCP tool", goerr.V("tool", name))
	}

	return contentToMap(resp.Content), nil
}

// Close shuts down the server connection. Safe to call more than once.
func (c *Client) Close() error {
	c.closeMutex.Lock()
	defer c.closeMutex.Unlock()

	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close MCP client")
	}
	c.client = nil
	return nil
}

// toolToSpec converts an MCP tool definition to a steward tool spec.
func toolToSpec(tool mcp.Tool) (*steward.ToolSpec, error) {
	parameters := map[string]*steward.Parameter{}
	for name, property := range tool.InputSchema.Properties {
		prop, ok := property.(map[string]any)
		if !ok {
			return nil, goerr.Wrap(steward.ErrInvalidParameter, "invalid property schema", goerr.V("property", property))
		}
		parameter, err := propertyToParameter(prop)
		if err != nil {
			return nil, err
		}
		parameters[name] = parameter
	}

	return &steward.ToolSpec{
		Name:        tool.Name,
		Description: tool.Description,
		Parameters:  parameters,
		Required:    tool.InputSchema.Required,
	}, nil
}

func propertyToParameter(prop map[string]any) (*steward.Parameter, error) {
	propType := valueOrEmpty[string](prop["type"])

	var properties map[string]*steward.Parameter
	if propType == "object" {
		properties = map[string]*steward.Parameter{}
		for name, nested := range valueOrEmpty[map[string]any](prop["properties"]) {
			nestedMap, ok := nested.(map[string]any)
			if !ok {
				return nil, goerr.Wrap(steward.ErrInvalidParameter, "invalid nested property", goerr.V("property", name))
			}
			parameter, err := propertyToParameter(nestedMap)
			if err != nil {
				return nil, err
			}
			properties[name] = parameter
		}
	}

	var items *steward.Parameter
	if propType == "array" {
		itemsMap, ok := prop["items"].(map[string]any)
		if !ok {
			return nil, goerr.Wrap(steward.ErrInvalidParameter, "array property without items", goerr.V("property", prop))
		}
		v, err := propertyToParameter(itemsMap)
		if err != nil {
			return nil, err
		}
		items = v
	}

	var required []string
	for _, r := range valueOrEmpty[[]any](prop["required"]) {
		if s, ok := r.(string); ok {
			required = append(required, s)
		}
	}

	var enum []string
	for _, e := range valueOrEmpty[[]any](prop["enum"]) {
		enum = append(enum, fmt.Sprintf("%v", e))
	}

	return &steward.Parameter{
		Type:        steward.ParameterType(propType),
		Title:       valueOrEmpty[string](prop["title"]),
		Description: valueOrEmpty[string](prop["description"]),
		Required:    required,
		Enum:        enum,
		Properties:  properties,
		Items:       items,
		Default:     prop["default"],
	}, nil
}

func valueOrEmpty[T any](v any) T {
	var empty T
	if v == nil {
		return empty
	}
	if v, ok := v.(T); ok {
		return v
	}
	return empty
}

// contentToMap folds MCP tool output into a result map. A single text
// content that parses as a JSON object passes through as-is.
func contentToMap(contents []mcp.Content) map[string]any {
	if len(contents) == 0 {
		return map[string]any{}
	}

	if len(contents) == 1 {
		if txt, ok := contents[0].(mcp.TextContent); ok {
			return textToMap(txt.Text)
		}
		if txt, ok := contents[0].(*mcp.TextContent); ok {
			return textToMap(txt.Text)
		}
		return map[string]any{}
	}

	result := map[string]any{}
	for i, c := range contents {
		switch v := c.(type) {
		case mcp.TextContent:
			result[fmt.Sprintf("content_%d", i+1)] = v.Text
		case *mcp.TextContent:
			result[fmt.Sprintf("content_%d", i+1)] = v.Text
		}
	}
	return result
}

func textToMap(text string) map[string]any {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		if mapData, ok := v.(map[string]any); ok {
			return mapData
		}
		return map[string]any{"result": v}
	}
	return map[string]any{"result": text}
}
