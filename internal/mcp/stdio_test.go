package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/h1v3-io/swarm/internal/tool"
)

// TestHelperProcess is not a real test. It runs a minimal MCP server on
// stdio when the test binary is re-executed by stdioConfig.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	silent := os.Getenv("HELPER_MODE") == "silent"
	fmt.Fprintln(os.Stderr, "helper server started")

	scanner := bufio.NewScanner(os.Stdin)
	out := json.NewEncoder(os.Stdout)
	for scanner.Scan() {
		var req struct {
			ID     string         `json:"id"`
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil || req.ID == "" || silent {
			continue
		}
		var result any
		switch req.Method {
		case "initialize":
			result = map[string]any{
				"protocolVersion": ProtocolVersion,
				"capabilities":    map[string]any{"tools": map[string]any{}},
				"serverInfo":      map[string]any{"name": "helper", "version": "1"},
			}
		case "tools/list":
			result = map[string]any{"tools": []map[string]any{
				{"name": "echo", "description": "Echo text"},
				{
					"name":        "greet",
					"description": "Greet someone",
					"inputSchema": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"name":     map[string]any{"type": "string", "description": "Who to greet"},
							"greeting": map[string]any{"type": "string", "default": "hello"},
						},
						"required": []string{"name"},
					},
				},
			}}
		case "tools/call":
			args, _ := req.Params["arguments"].(map[string]any)
			text := fmt.Sprint(args["text"])
			if req.Params["name"] == "greet" {
				text = fmt.Sprintf("%v %v", args["greeting"], args["name"])
			}
			result = map[string]any{"content": []map[string]any{{"type": "text", "text": text}}}
		case "exit":
			os.Exit(0)
		default:
			result = map[string]any{}
		}
		// Server notifications must be ignored by the client.
		out.Encode(map[string]any{"jsonrpc": "2.0", "method": "notifications/message"})
		out.Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}
	os.Exit(0)
}

func stdioConfig(mode string) *ServerConfig {
	zero := 0
	return &ServerConfig{
		Name:           "helper",
		Transport:      TransportStdio,
		Command:        os.Args[0],
		Args:           []string{"-test.run=^TestHelperProcess$"},
		Env:            map[string]string{"GO_WANT_HELPER_PROCESS": "1", "HELPER_MODE": mode},
		RequestTimeout: 10,
		MaxRetries:     &zero,
	}
}

func TestStdioTransport_RoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c, err := NewClient(stdioConfig(""))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))
	assert.Equal(t, "helper", c.ServerInfo().Name)

	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, "greet", tools[1].Name)

	res, err := c.CallTool(ctx, "echo", map[string]any{"text": "hi there"})
	require.NoError(t, err)
	assert.Equal(t, "hi there", res.Text())

	require.NoError(t, c.Disconnect())
	assert.Equal(t, StateDisconnected, c.State())
	assert.False(t, c.Ping(ctx))
}

func TestStdioTransport_BridgedTools(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := NewManager(nil)
	require.NoError(t, m.Register(stdioConfig("")))
	ctx := context.Background()
	require.Equal(t, map[string]bool{"helper": true}, m.ConnectAll(ctx))
	defer m.DisconnectAll()

	reg := tool.NewRegistry()
	require.Equal(t, 2, RegisterTools(ctx, m, reg))
	assert.Equal(t, []string{"mcp_helper_echo", "mcp_helper_greet"}, reg.Remote())

	echo, _ := reg.Get("mcp_helper_echo")
	assert.Empty(t, echo.Params())

	greet, _ := reg.Get("mcp_helper_greet")
	assert.Equal(t, []tool.Param{
		{Name: "greeting", Type: "string", Default: "hello"},
		{Name: "name", Type: "string", Description: "Who to greet", Required: true},
	}, greet.Params())

	res, err := reg.Execute(ctx, "mcp_helper_greet", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "Missing required parameter: name", res.Error)

	res, err = reg.Execute(ctx, "mcp_helper_greet", map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, "hello ada", res.Text(), "optional default is applied before the call")
}

func TestStdioTransport_Timeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := stdioConfig("silent")
	cfg.RequestTimeout = 0.2
	tr := NewStdioTransport(cfg, nil)
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Disconnect()

	resp, err := tr.Send(context.Background(), newRequest("helper-1", "initialize", nil))
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeRequestTimeout, resp.Error.Code)
	assert.Equal(t, "Request timed out after 0.2s", resp.Error.Message)
}

func TestStdioTransport_ProcessExitFailsPending(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	tr := NewStdioTransport(stdioConfig(""), nil)
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Disconnect()

	resp, err := tr.Send(context.Background(), newRequest("helper-1", "exit", nil))
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInternalError, resp.Error.Code)

	assert.Eventually(t, func() bool { return !tr.Connected() }, 2*time.Second, 10*time.Millisecond)
}

func TestStdioTransport_StartFailure(t *testing.T) {
	cfg := stdioConfig("")
	cfg.Command = "/nonexistent/mcp-server"
	tr := NewStdioTransport(cfg, nil)
	assert.Error(t, tr.Connect(context.Background()))
	assert.False(t, tr.Connected())
}
