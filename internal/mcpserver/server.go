// Package mcpserver exposes the local tool registry as an MCP server, over
// stdio or as JSON-RPC over HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/h1v3-io/swarm/internal/tool"
)

// Version is reported in serverInfo.
var Version = "dev"

// New builds an MCP server offering every tool in reg. Remote tools
// (themselves bridged from MCP servers) are not re-exported.
func New(reg *tool.Registry, log *zap.SugaredLogger) *server.MCPServer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := server.NewMCPServer(
		"swarm",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	remote := map[string]bool{}
	for _, n := range reg.Remote() {
		remote[n] = true
	}
	count := 0
	for _, name := range reg.List() {
		if remote[name] {
			continue
		}
		t, _ := reg.Get(name)
		schema, err := json.Marshal(tool.Schema(t))
		if err != nil {
			log.Warnw("skipping tool with unencodable schema", "tool", name, "error", err)
			continue
		}
		s.AddTool(mcpgo.NewToolWithRawSchema(name, t.Description(), schema), handler(reg, name, log))
		count++
	}
	log.Infow("mcp server ready", "tools", count)
	return s
}

func handler(reg *tool.Registry, name string, log *zap.SugaredLogger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		res, err := reg.Execute(ctx, name, req.GetArguments())
		if err != nil {
			log.Warnw("tool call failed", "tool", name, "error", err)
			return mcpgo.NewToolResultError(err.Error()), nil
		}
		if res.Status == tool.StatusError {
			return mcpgo.NewToolResultError(res.Error), nil
		}
		return mcpgo.NewToolResultText(res.Text()), nil
	}
}

// ServeStdio serves s on the process's stdin and stdout until EOF.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

// maxBody caps the size of a single JSON-RPC request.
const maxBody = 4 << 20

// Handler serves one JSON-RPC message per POST and writes the reply as
// JSON. Notifications get 202 Accepted with no body.
func Handler(s *server.MCPServer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
		if err != nil {
			http.Error(w, fmt.Sprintf("read body: %v", err), http.StatusBadRequest)
			return
		}
		reply := s.HandleMessage(r.Context(), json.RawMessage(body))
		if reply == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(reply)
	})
}
