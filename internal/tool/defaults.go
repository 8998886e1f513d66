package tool

import "time"

// Options configures the built-in tool set.
type Options struct {
	Workspace       string
	AllowedCommands []string
	ShellTimeout    time.Duration
	BraveAPIKey     string
	Tickets         TicketStore // optional; ticket tools are skipped when nil
	Notes           NoteStore   // optional; note tools are skipped when nil
}

// RegisterDefaults adds the built-in file, shell, git, web, ticket and note tools to reg
// and returns how many were registered.
func RegisterDefaults(reg *Registry, opts Options) int {
	tools := []Tool{
		&ReadFileTool{Root: opts.Workspace},
		&WriteFileTool{Root: opts.Workspace},
		&EditFileTool{Root: opts.Workspace},
		&ListDirTool{Root: opts.Workspace},
		&FindFilesTool{Root: opts.Workspace},
		&ExecTool{WorkDir: opts.Workspace, Timeout: opts.ShellTimeout, Allowed: opts.AllowedCommands},
		&WebFetchTool{},
		&WebSearchTool{APIKey: opts.BraveAPIKey},
	}
	tools = append(tools, GitTools(&Git{Dir: opts.Workspace})...)
	if opts.Tickets != nil {
		tools = append(tools, TicketTools(opts.Tickets)...)
	}
	if opts.Notes != nil {
		tools = append(tools, NoteTools(opts.Notes)...)
	}
	for _, t := range tools {
		reg.Register(t)
	}
	return len(tools)
}
