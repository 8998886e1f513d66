// Command swarmctl talks to a running swarmd daemon over its HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/h1v3-io/swarm/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	c := newClient()
	var err error
	switch os.Args[1] {
	case "health":
		err = c.printRaw("GET", "/api/health", nil)
	case "tickets":
		err = cmdTickets(c, os.Args[2:])
	case "cycle":
		err = c.printRaw("POST", "/api/cycles", nil)
	case "summary":
		err = c.printRaw("GET", "/api/summary", nil)
	case "roles":
		err = cmdRoles(c)
	case "servers":
		err = cmdServers(c)
	case "logs":
		err = cmdLogs(c, os.Args[2:])
	case "config":
		if len(os.Args) < 4 || os.Args[2] != "validate" {
			fmt.Fprintln(os.Stderr, "usage: swarmctl config validate <path>")
			os.Exit(1)
		}
		err = cmdConfigValidate(os.Args[3])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func cmdTickets(c *client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: swarmctl tickets <list|show|create|process>")
	}
	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("tickets list", flag.ExitOnError)
		status := fs.String("status", "", "Filter by status")
		assignee := fs.String("assignee", "", "Filter by assigned role")
		limit := fs.Int("limit", 50, "Max results")
		fs.Parse(args[1:])

		q := url.Values{}
		q.Set("limit", fmt.Sprint(*limit))
		if *status != "" {
			q.Set("status", *status)
		}
		if *assignee != "" {
			q.Set("assignee", *assignee)
		}
		var tickets []struct {
			ID             string `json:"id"`
			Status         string `json:"status"`
			Title          string `json:"title"`
			Implementation struct {
				AssignedTo string `json:"assigned_to"`
			} `json:"implementation"`
		}
		if err := c.do("GET", "/api/tickets?"+q.Encode(), nil, &tickets); err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, t := range tickets {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Implementation.AssignedTo, t.Title)
		}
		return w.Flush()
	case "show":
		if len(args) < 2 {
			return fmt.Errorf("usage: swarmctl tickets show <id>")
		}
		return c.printRaw("GET", "/api/tickets/"+url.PathEscape(args[1]), nil)
	case "create":
		fs := flag.NewFlagSet("tickets create", flag.ExitOnError)
		id := fs.String("id", "", "Ticket ID (generated when empty)")
		desc := fs.String("description", "", "Description")
		priority := fs.String("priority", "", "critical, high, medium or low")
		fs.Parse(args[1:])
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: swarmctl tickets create [flags] <title>")
		}
		body := map[string]any{
			"id":          *id,
			"title":       strings.Join(fs.Args(), " "),
			"description": *desc,
			"priority":    *priority,
		}
		return c.printRaw("POST", "/api/tickets", body)
	case "process":
		if len(args) < 2 {
			return fmt.Errorf("usage: swarmctl tickets process <id>")
		}
		return c.printRaw("POST", "/api/tickets/"+url.PathEscape(args[1])+"/process", nil)
	default:
		return fmt.Errorf("unknown tickets subcommand: %s", args[0])
	}
}

func cmdRoles(c *client) error {
	var roles []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.do("GET", "/api/roles", nil, &roles); err != nil {
		return err
	}
	for _, r := range roles {
		fmt.Printf("%-16s %s\n", r.ID, r.Name)
	}
	return nil
}

func cmdServers(c *client) error {
	var servers []struct {
		Name      string `json:"name"`
		Transport string `json:"transport"`
		State     string `json:"state"`
	}
	if err := c.do("GET", "/api/mcp/servers", nil, &servers); err != nil {
		return err
	}
	for _, s := range servers {
		fmt.Printf("%-20s %-6s %s\n", s.Name, s.Transport, s.State)
	}
	return nil
}

func cmdLogs(c *client, args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	level := fs.String("level", "", "Minimum level (debug, info, warn, error)")
	limit := fs.Int("limit", 100, "Max entries")
	since := fs.Duration("since", 0, "Only entries newer than this, e.g. 10m")
	fs.Parse(args)

	q := url.Values{}
	q.Set("limit", fmt.Sprint(*limit))
	if *level != "" {
		q.Set("level", *level)
	}
	if *since > 0 {
		q.Set("since", fmt.Sprint(time.Now().Add(-*since).UnixMilli()))
	}
	var entries []struct {
		Time    time.Time      `json:"time"`
		Level   string         `json:"level"`
		Logger  string         `json:"logger"`
		Message string         `json:"message"`
		Fields  map[string]any `json:"fields"`
	}
	if err := c.do("GET", "/api/logs?"+q.Encode(), nil, &entries); err != nil {
		return err
	}
	for _, e := range entries {
		fields, _ := json.Marshal(e.Fields)
		fmt.Printf("%s %-5s %-10s %s %s\n", e.Time.Format(time.TimeOnly), e.Level, e.Logger, e.Message, fields)
	}
	return nil
}

func cmdConfigValidate(path string) error {
	if _, err := config.Load(path); err != nil {
		return fmt.Errorf("invalid: %w", err)
	}
	fmt.Println("config is valid")
	return nil
}

// --- HTTP client ---

type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient() *client {
	return &client{
		base:  strings.TrimRight(envOr("SWARM_API_URL", "http://localhost:8080"), "/"),
		token: os.Getenv("SWARM_API_TOKEN"),
		http:  &http.Client{Timeout: 10 * time.Minute}, // cycles can take a while
	}
}

// do sends the request and decodes the JSON reply into out when non-nil.
// Error statuses are returned as errors carrying the body.
func (c *client) do(method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *client) printRaw(method, path string, body any) error {
	var raw json.RawMessage
	if err := c.do(method, path, body, &raw); err != nil {
		return err
	}
	fmt.Println(prettyJSON(raw))
	return nil
}

func prettyJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	return string(out)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("swarmctl - client for the swarmd HTTP API")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health                     Check daemon health")
	fmt.Println("  tickets list               List tickets (--status, --assignee, --limit)")
	fmt.Println("  tickets show <id>          Show ticket details")
	fmt.Println("  tickets create <title>     Create a backlog ticket (--id, --description, --priority)")
	fmt.Println("  tickets process <id>       Drive one ticket now")
	fmt.Println("  cycle                      Run one workflow cycle")
	fmt.Println("  summary                    Ticket counts per status")
	fmt.Println("  roles                      List roles")
	fmt.Println("  servers                    List MCP servers and their state")
	fmt.Println("  logs                       Recent daemon logs (--level, --limit, --since)")
	fmt.Println("  config validate <path>     Validate a config file")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  SWARM_API_URL    Daemon URL (default: http://localhost:8080)")
	fmt.Println("  SWARM_API_TOKEN  Bearer token")
}
