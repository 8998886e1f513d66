package mcp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h1v3-io/swarm/internal/tool"
)

func newTestManager(t *testing.T) (*Manager, *fakeServer, *fakeServer) {
	t.Helper()
	m := NewManager(nil)
	good := newFakeServer()
	bad := newFakeServer()
	bad.initErr = &RPCError{Code: CodeInternalError, Message: "boom"}
	require.NoError(t, m.Add(newTestClient(good, fastConfig("docs"))))
	require.NoError(t, m.Add(newTestClient(bad, fastConfig("broken"))))
	return m, good, bad
}

func TestManager_ConnectAll(t *testing.T) {
	m, _, _ := newTestManager(t)
	results := m.ConnectAll(context.Background())
	assert.Equal(t, map[string]bool{"docs": true, "broken": false}, results)
	assert.Equal(t, []string{"docs"}, m.Connected())
	assert.Equal(t, []string{"broken", "docs"}, m.Servers())

	health := m.HealthCheck(context.Background())
	assert.Equal(t, map[string]bool{"docs": true, "broken": false}, health)

	m.DisconnectAll()
	assert.Empty(t, m.Connected())
}

func TestManager_ListAllToolsOnlyReady(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.ConnectAll(context.Background())
	all := m.ListAllTools(context.Background())
	require.Len(t, all, 1)
	assert.Len(t, all["docs"], 1)
}

func TestManager_CallTool(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.CallTool(ctx, "nope", "search", nil)
	assert.ErrorIs(t, err, ErrUnknownServer)

	_, err = m.CallTool(ctx, "docs", "search", nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	m.ConnectAll(ctx)
	res, err := m.CallTool(ctx, "docs", "search", map[string]any{"query": "q"})
	require.NoError(t, err)
	assert.Equal(t, "result for q\npage 2", res.Text())
}

func TestManager_LoadSkipsDisabledAndInvalid(t *testing.T) {
	off := false
	m := NewManager(nil)
	n := m.Load(map[string]*ServerConfig{
		"a":        {Name: "a", URL: "http://localhost:9"},
		"disabled": {Name: "disabled", URL: "http://localhost:9", Enabled: &off},
		"invalid":  {Name: "invalid", Transport: TransportStdio},
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a"}, m.Servers())
}

func TestRemoteTool(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	m.ConnectAll(ctx)

	reg := tool.NewRegistry()
	assert.Equal(t, 1, RegisterTools(ctx, m, reg))
	require.True(t, reg.Has("mcp_docs_search"))
	assert.Equal(t, []string{"mcp_docs_search"}, reg.Remote())

	rt, _ := reg.Get("mcp_docs_search")
	assert.Equal(t, "[MCP:docs] Search docs", rt.Description())

	params := rt.Params()
	require.Len(t, params, 2)
	assert.Equal(t, tool.Param{Name: "limit", Type: "integer", Default: float64(5)}, params[0])
	assert.Equal(t, tool.Param{Name: "query", Type: "string", Description: "Query text", Required: true}, params[1])

	res, err := reg.Execute(ctx, "mcp_docs_search", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "Missing required parameter: query", res.Error)

	res, err = reg.Execute(ctx, "mcp_docs_search", map[string]any{"query": "zap"})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, "result for zap\npage 2", res.Text())
}

func TestRemoteTool_ErrorResult(t *testing.T) {
	m, good, _ := newTestManager(t)
	ctx := context.Background()
	m.ConnectAll(ctx)
	good.callErr = &RPCError{Code: CodeInvalidParams, Message: "bad query"}

	rt := NewRemoteTool(m, "docs", good.tools[0])
	res, err := rt.Execute(ctx, map[string]any{"query": "x"})
	require.NoError(t, err)
	assert.Equal(t, tool.StatusError, res.Status)
	assert.Equal(t, "Error: bad query", res.Text())
}
