package mcp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// State is the lifecycle state of a client session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateHandshaking  State = "handshaking"
	StateReady        State = "ready"
)

// DefaultClientInfo identifies this client during initialize.
var DefaultClientInfo = ClientInfo{Name: "swarm", Version: "1.0.0"}

// Client is a session with one MCP server.
type Client struct {
	cfg       *ServerConfig
	transport Transport
	info      ClientInfo
	log       *zap.SugaredLogger
	seq       atomic.Int64

	mu         sync.RWMutex
	state      State
	caps       ServerCapabilities
	serverInfo ServerInfo
}

type ClientOption func(*Client)

// WithTransport overrides the transport built from the config.
func WithTransport(t Transport) ClientOption {
	return func(c *Client) { c.transport = t }
}

func WithLogger(log *zap.SugaredLogger) ClientOption {
	return func(c *Client) { c.log = log }
}

func WithClientInfo(info ClientInfo) ClientOption {
	return func(c *Client) { c.info = info }
}

// NewClient creates a disconnected client for cfg.
func NewClient(cfg *ServerConfig, opts ...ClientOption) (*Client, error) {
	c := &Client{cfg: cfg, info: DefaultClientInfo, state: StateDisconnected}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = zap.NewNop().Sugar()
	}
	c.log = c.log.With("mcp_server", cfg.Name)
	if c.transport == nil {
		t, err := NewTransport(cfg, c.log)
		if err != nil {
			return nil, err
		}
		c.transport = t
	}
	return c, nil
}

func (c *Client) Name() string          { return c.cfg.Name }
func (c *Client) Config() *ServerConfig { return c.cfg }

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) Ready() bool { return c.State() == StateReady }

func (c *Client) Capabilities() ServerCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caps
}

func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect opens the transport and performs the initialize handshake. On
// any failure the transport is closed and the client is left disconnected.
func (c *Client) Connect(ctx context.Context) error {
	if c.Ready() {
		return nil
	}
	c.setState(StateConnecting)

	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeoutDuration())
	defer cancel()
	if err := c.transport.Connect(connectCtx); err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("connect to %s: %w", c.cfg.Name, err)
	}

	c.setState(StateHandshaking)
	if err := c.initialize(ctx); err != nil {
		c.transport.Disconnect()
		c.setState(StateDisconnected)
		return fmt.Errorf("connect to %s: %w", c.cfg.Name, err)
	}

	c.setState(StateReady)
	info, caps := c.ServerInfo(), c.Capabilities()
	c.log.Infow("mcp server connected", "server_name", info.Name, "server_version", info.Version,
		"tools", caps.SupportsTools(), "resources", caps.SupportsResources())
	return nil
}

func (c *Client) initialize(ctx context.Context) error {
	params := initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{"roots": map[string]any{"listChanged": true}},
		ClientInfo:      c.info,
	}
	var result InitializeResult
	if err := c.call(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	c.mu.Lock()
	c.caps = result.Capabilities
	c.serverInfo = result.ServerInfo
	c.mu.Unlock()

	if err := c.transport.Notify(ctx, newRequest("", "notifications/initialized", nil)); err != nil {
		c.log.Debugw("initialized notification failed", "error", err)
	}
	return nil
}

// Disconnect closes the transport and forgets the handshake. It is safe to
// call repeatedly.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	wasConnected := c.state != StateDisconnected
	c.state = StateDisconnected
	c.caps = ServerCapabilities{}
	c.serverInfo = ServerInfo{}
	c.mu.Unlock()

	if !wasConnected && !c.transport.Connected() {
		return nil
	}
	err := c.transport.Disconnect()
	c.log.Infow("mcp server disconnected")
	return err
}

func (c *Client) nextID() string {
	return fmt.Sprintf("%s-%d", c.cfg.Name, c.seq.Add(1))
}

// send issues a request with retries and returns the raw response.
func (c *Client) send(ctx context.Context, method string, params any) (*Response, error) {
	req := newRequest(c.nextID(), method, params)
	return sendWithRetry(ctx, c.transport, req, c.cfg.Retries(), c.cfg.RetryDelayDuration(), c.log)
}

// call issues a request and decodes its result into out. RPC errors are
// returned as *RPCError.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	resp, err := c.send(ctx, method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

func (c *Client) requireReady() error {
	if !c.Ready() {
		return fmt.Errorf("%s: %w", c.cfg.Name, ErrNotConnected)
	}
	return nil
}

// ListTools returns the server's tools, or none when the server does not
// advertise the tools capability.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	if !c.Capabilities().SupportsTools() {
		return nil, nil
	}
	var result toolsListResult
	if err := c.call(ctx, "tools/list", map[string]any{}, &result); err != nil {
		return nil, fmt.Errorf("%s tools/list: %w", c.cfg.Name, err)
	}
	return result.Tools, nil
}

// CallTool invokes a remote tool. An RPC error is reported as an error
// result rather than a Go error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	resp, err := c.send(ctx, "tools/call", callToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("%s tools/call %s: %w", c.cfg.Name, name, err)
	}
	if resp.Error != nil {
		return &CallToolResult{
			Content: []Content{{Type: "text", Text: resp.Error.Message}},
			IsError: true,
		}, nil
	}
	var result CallToolResult
	if err := resp.Decode(&result); err != nil {
		return nil, fmt.Errorf("%s tools/call %s: decode: %w", c.cfg.Name, name, err)
	}
	return &result, nil
}

// ListResources returns the server's resources, or none when the server
// does not advertise the resources capability.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	if !c.Capabilities().SupportsResources() {
		return nil, nil
	}
	var result resourcesListResult
	if err := c.call(ctx, "resources/list", map[string]any{}, &result); err != nil {
		return nil, fmt.Errorf("%s resources/list: %w", c.cfg.Name, err)
	}
	return result.Resources, nil
}

// ReadResource returns the first content item of a resource.
func (c *Client) ReadResource(ctx context.Context, uri string) (*ResourceContents, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	var result readResourceResult
	if err := c.call(ctx, "resources/read", map[string]any{"uri": uri}, &result); err != nil {
		return nil, fmt.Errorf("%s resources/read: %w", c.cfg.Name, err)
	}
	if len(result.Contents) == 0 {
		return nil, fmt.Errorf("%s resources/read %s: no contents", c.cfg.Name, uri)
	}
	return &result.Contents[0], nil
}

// Ping reports whether the server answers a ping.
func (c *Client) Ping(ctx context.Context) bool {
	if !c.Ready() {
		return false
	}
	resp, err := c.send(ctx, "ping", map[string]any{})
	return err == nil && resp.Error == nil
}
