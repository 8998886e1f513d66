package mcp

import (
	"context"
	"fmt"
	"sort"

	"github.com/h1v3-io/swarm/internal/tool"
)

// RemoteTool exposes a tool on an MCP server as a local tool.
type RemoteTool struct {
	server  string
	remote  Tool
	manager *Manager
}

// NewRemoteTool wraps remote, which lives on server, for the registry.
func NewRemoteTool(manager *Manager, server string, remote Tool) *RemoteTool {
	return &RemoteTool{server: server, remote: remote, manager: manager}
}

func (r *RemoteTool) Name() string {
	return fmt.Sprintf("%s%s_%s", tool.RemotePrefix, r.server, r.remote.Name)
}

func (r *RemoteTool) Description() string {
	return fmt.Sprintf("[MCP:%s] %s", r.server, r.remote.Description)
}

// Params derives parameters from the tool's input schema.
func (r *RemoteTool) Params() []tool.Param {
	props, _ := r.remote.InputSchema["properties"].(map[string]any)
	required := map[string]bool{}
	switch req := r.remote.InputSchema["required"].(type) {
	case []any:
		for _, v := range req {
			if s, ok := v.(string); ok {
				required[s] = true
			}
		}
	case []string:
		for _, s := range req {
			required[s] = true
		}
	}

	names := make([]string, 0, len(props))
	for n := range props {
		names = append(names, n)
	}
	sort.Strings(names)

	params := make([]tool.Param, 0, len(names))
	for _, n := range names {
		p := tool.Param{Name: n, Type: "string", Required: required[n]}
		if prop, ok := props[n].(map[string]any); ok {
			if t, ok := prop["type"].(string); ok {
				p.Type = t
			}
			p.Description, _ = prop["description"].(string)
			p.Default = prop["default"]
			if items, ok := prop["items"].(map[string]any); ok {
				p.ItemsType, _ = items["type"].(string)
			}
		}
		params = append(params, p)
	}
	return params
}

func (r *RemoteTool) Execute(ctx context.Context, args map[string]any) (*tool.Result, error) {
	res, err := r.manager.CallTool(ctx, r.server, r.remote.Name, args)
	if err != nil {
		return nil, err
	}
	text := res.Text()
	if res.IsError {
		return tool.Errorf("%s", text), nil
	}
	return tool.Success(text).WithMeta("server", r.server), nil
}

// RegisterTools adds every tool of every ready server to reg and returns
// how many were added.
func RegisterTools(ctx context.Context, m *Manager, reg *tool.Registry) int {
	count := 0
	all := m.ListAllTools(ctx)
	servers := make([]string, 0, len(all))
	for s := range all {
		servers = append(servers, s)
	}
	sort.Strings(servers)
	for _, server := range servers {
		for _, t := range all[server] {
			reg.Register(NewRemoteTool(m, server, t))
			count++
		}
	}
	if count > 0 {
		m.log.Infow("registered mcp tools", "count", count)
	}
	return count
}
