package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/h1v3-io/swarm/internal/config"
	"github.com/h1v3-io/swarm/internal/mcp"
	"github.com/h1v3-io/swarm/internal/mcpserver"
	"github.com/h1v3-io/swarm/internal/tool"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Inspect MCP servers or serve the local tools over MCP",
}

var serveHTTP string

// connectServers loads the MCP config and connects every enabled server.
// Callers must DisconnectAll.
func connectServers(ctx context.Context, c *config.Config) (*mcp.Manager, error) {
	if c.MCPConfig == "" {
		return nil, errors.New("mcp_config is not set")
	}
	servers, err := mcp.LoadConfig(c.MCPConfig)
	if err != nil {
		return nil, err
	}
	log := logger.Sugar().Named("mcp")
	for _, problem := range mcp.ValidateAll(servers) {
		log.Warnw("mcp config problem", "problem", problem)
	}
	m := mcp.NewManager(log)
	m.Load(servers)
	for name, ok := range m.ConnectAll(ctx) {
		if !ok {
			log.Warnw("mcp server failed to connect", "server", name)
		}
	}
	return m, nil
}

var mcpToolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools of every connected MCP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()
		m, err := connectServers(ctx, cfg)
		if err != nil {
			return err
		}
		defer m.DisconnectAll()

		all := m.ListAllTools(ctx)
		names := make([]string, 0, len(all))
		for n := range all {
			names = append(names, n)
		}
		sort.Strings(names)

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SERVER\tTOOL\tBRIDGED AS\tDESCRIPTION")
		for _, server := range names {
			for _, t := range all[server] {
				bridged := mcp.NewRemoteTool(m, server, t).Name()
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", server, t.Name, bridged, firstLine(t.Description))
			}
		}
		return w.Flush()
	},
}

var mcpHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Connect and ping every configured MCP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()
		m, err := connectServers(ctx, cfg)
		if err != nil {
			return err
		}
		defer m.DisconnectAll()

		health := m.HealthCheck(ctx)
		unhealthy := 0
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SERVER\tSTATE\tHEALTHY")
		for _, name := range m.Servers() {
			c, _ := m.Get(name)
			fmt.Fprintf(w, "%s\t%s\t%t\n", name, c.State(), health[name])
			if !health[name] {
				unhealthy++
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if unhealthy > 0 {
			return fmt.Errorf("%d of %d servers unhealthy", unhealthy, len(health))
		}
		return nil
	},
}

var mcpCallCmd = &cobra.Command{
	Use:   "call <server> <tool> [json-arguments]",
	Short: "Call one tool on an MCP server and print its text result",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var callArgs map[string]any
		if len(args) == 3 {
			if err := json.Unmarshal([]byte(args[2]), &callArgs); err != nil {
				return fmt.Errorf("arguments must be a JSON object: %w", err)
			}
		}
		ctx, stop := signalContext(cmd.Context())
		defer stop()
		m, err := connectServers(ctx, cfg)
		if err != nil {
			return err
		}
		defer m.DisconnectAll()

		res, err := m.CallTool(ctx, args[0], args[1], callArgs)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Text())
		if res.IsError {
			return errors.New("tool reported an error")
		}
		return nil
	},
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the local tools as an MCP server",
	Long: `Serves the file, shell, git, web and ticket tools over MCP. By default the
server speaks JSON-RPC on stdin and stdout; with --http it accepts one
JSON-RPC message per POST on the given address.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		log := logger.Sugar().Named("mcpserver")
		reg := tool.NewRegistry()
		tool.RegisterDefaults(reg, toolOptions(cfg, store))
		s := mcpserver.New(reg, log)

		if serveHTTP == "" {
			return mcpserver.ServeStdio(s)
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()
		srv := &http.Server{Addr: serveHTTP, Handler: mcpserver.Handler(s), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()
		log.Infow("mcp server listening", "addr", serveHTTP, "tools", reg.Len())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

func init() {
	mcpServeCmd.Flags().StringVar(&serveHTTP, "http", "", "listen address for JSON-RPC over HTTP instead of stdio")
	mcpCmd.AddCommand(mcpToolsCmd, mcpHealthCmd, mcpCallCmd, mcpServeCmd)
}
