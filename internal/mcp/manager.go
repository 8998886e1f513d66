package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownServer is returned for a server name that was never registered.
var ErrUnknownServer = errors.New("mcp: server not registered")

// Manager owns the clients for every configured server.
type Manager struct {
	log  *zap.SugaredLogger
	opts []ClientOption

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewManager returns an empty manager. opts are applied to every client it
// creates.
func NewManager(log *zap.SugaredLogger, opts ...ClientOption) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{log: log, opts: opts, clients: make(map[string]*Client)}
}

// Register adds or replaces the client for cfg.Name.
func (m *Manager) Register(cfg *ServerConfig) error {
	opts := append([]ClientOption{WithLogger(m.log)}, m.opts...)
	c, err := NewClient(cfg, opts...)
	if err != nil {
		return err
	}
	return m.Add(c)
}

// Add registers an already built client.
func (m *Manager) Add(c *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[c.Name()]; ok {
		m.log.Warnw("mcp server already registered, replacing", "server", c.Name())
	}
	m.clients[c.Name()] = c
	return nil
}

func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	delete(m.clients, name)
	m.mu.Unlock()
}

// Load registers every enabled, valid server from configs and returns how
// many were registered. Invalid servers are logged and skipped.
func (m *Manager) Load(configs map[string]*ServerConfig) int {
	names := make([]string, 0, len(configs))
	for n := range configs {
		names = append(names, n)
	}
	sort.Strings(names)

	count := 0
	for _, name := range names {
		cfg := configs[name]
		if cfg.Name == "" {
			cfg.Name = name
		}
		if !cfg.IsEnabled() {
			m.log.Debugw("skipping disabled mcp server", "server", name)
			continue
		}
		if errs := cfg.Validate(); len(errs) > 0 {
			for _, e := range errs {
				m.log.Errorw("invalid mcp server config", "error", e)
			}
			continue
		}
		if err := m.Register(cfg); err != nil {
			m.log.Errorw("failed to register mcp server", "server", name, "error", err)
			continue
		}
		count++
	}
	m.log.Infow("loaded mcp server configurations", "count", count)
	return count
}

func (m *Manager) Get(name string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[name]
	return c, ok
}

// Servers returns registered server names in sorted order.
func (m *Manager) Servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.clients))
	for n := range m.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Connected returns the names of ready servers in sorted order.
func (m *Manager) Connected() []string {
	var out []string
	for _, n := range m.Servers() {
		if c, ok := m.Get(n); ok && c.Ready() {
			out = append(out, n)
		}
	}
	return out
}

func (m *Manager) snapshot() map[string]*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Client, len(m.clients))
	for k, v := range m.clients {
		out[k] = v
	}
	return out
}

// Connect connects a single server.
func (m *Manager) Connect(ctx context.Context, name string) error {
	c, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	return c.Connect(ctx)
}

// ConnectAll connects every server concurrently and reports which
// succeeded. Individual failures are logged, not returned.
func (m *Manager) ConnectAll(ctx context.Context) map[string]bool {
	clients := m.snapshot()
	var mu sync.Mutex
	results := make(map[string]bool, len(clients))

	g, gctx := errgroup.WithContext(ctx)
	for name, c := range clients {
		g.Go(func() error {
			err := c.Connect(gctx)
			if err != nil {
				m.log.Errorw("failed to connect mcp server", "server", name, "error", err)
			}
			mu.Lock()
			results[name] = err == nil
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	connected := 0
	for _, ok := range results {
		if ok {
			connected++
		}
	}
	m.log.Infow("connected mcp servers", "connected", connected, "total", len(results))
	return results
}

// DisconnectAll disconnects every server concurrently.
func (m *Manager) DisconnectAll() {
	var g errgroup.Group
	for name, c := range m.snapshot() {
		g.Go(func() error {
			if err := c.Disconnect(); err != nil {
				m.log.Warnw("mcp disconnect failed", "server", name, "error", err)
			}
			return nil
		})
	}
	g.Wait()
	m.log.Infow("disconnected all mcp servers")
}

// HealthCheck pings every ready server. Servers that are not ready report false.
func (m *Manager) HealthCheck(ctx context.Context) map[string]bool {
	clients := m.snapshot()
	var mu sync.Mutex
	results := make(map[string]bool, len(clients))
	var g errgroup.Group
	for name, c := range clients {
		g.Go(func() error {
			ok := c.Ready() && c.Ping(ctx)
			mu.Lock()
			results[name] = ok
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

// ListAllTools returns the tools of every ready server. A server whose
// listing fails maps to an empty list.
func (m *Manager) ListAllTools(ctx context.Context) map[string][]Tool {
	results := make(map[string][]Tool)
	for name, c := range m.snapshot() {
		if !c.Ready() {
			continue
		}
		tools, err := c.ListTools(ctx)
		if err != nil {
			m.log.Errorw("failed to list mcp tools", "server", name, "error", err)
			tools = nil
		}
		results[name] = tools
	}
	return results
}

// CallTool invokes a tool on the named server.
func (m *Manager) CallTool(ctx context.Context, server, tool string, args map[string]any) (*CallToolResult, error) {
	c, ok := m.Get(server)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServer, server)
	}
	if !c.Ready() {
		return nil, fmt.Errorf("%s: %w", server, ErrNotConnected)
	}
	return c.CallTool(ctx, tool, args)
}
