package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/h1v3-io/swarm/internal/agent"
	"github.com/h1v3-io/swarm/internal/config"
	"github.com/h1v3-io/swarm/internal/memory"
	slacknotify "github.com/h1v3-io/swarm/internal/notify/slack"
	"github.com/h1v3-io/swarm/internal/notify/telegram"
	"github.com/h1v3-io/swarm/internal/notify/webhook"
	"github.com/h1v3-io/swarm/internal/provider"
	"github.com/h1v3-io/swarm/internal/ticket"
	"github.com/h1v3-io/swarm/internal/tool"
	"github.com/h1v3-io/swarm/internal/workflow"
)

// openStore opens the ticket database, creating its directory.
func openStore(c *config.Config) (*ticket.SQLiteStore, error) {
	if dir := filepath.Dir(c.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := ticket.NewSQLiteStore(c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open ticket store %s: %w", c.DBPath, err)
	}
	return store, nil
}

// toolOptions maps the tool settings onto tool.Options.
func toolOptions(c *config.Config, store tool.TicketStore) tool.Options {
	return tool.Options{
		Workspace:       c.Workspace,
		AllowedCommands: c.Tools.AllowedCommands,
		ShellTimeout:    c.ShellTimeoutDuration(),
		BraveAPIKey:     c.Tools.BraveAPIKey,
		Tickets:         store,
		Notes:           memory.NewStore(c.NotesDir()),
	}
}

// buildNotifiers creates a notifier per configured sink. A sink that fails
// to start is logged and left out.
func buildNotifiers(ctx context.Context, c *config.Config, log *zap.SugaredLogger) []workflow.Notifier {
	var out []workflow.Notifier
	if s := c.Notify.Slack; s != nil {
		n, err := slacknotify.New(slacknotify.Config{Token: s.Token, Channel: s.Channel, APIURL: s.APIURL}, log.Named("slack"))
		if err == nil {
			err = n.Check(ctx)
		}
		if err != nil {
			log.Warnw("slack notifications disabled", "error", err)
		} else {
			out = append(out, n)
		}
	}
	if tg := c.Notify.Telegram; tg != nil {
		n, err := telegram.New(telegram.Config{Token: tg.Token, ChatID: tg.ChatID, APIEndpoint: tg.APIEndpoint}, log.Named("telegram"))
		if err != nil {
			log.Warnw("telegram notifications disabled", "error", err)
		} else {
			out = append(out, n)
		}
	}
	if wh := c.Notify.Webhook; wh != nil {
		n, err := webhook.New(webhook.Config{URL: wh.URL, Secret: wh.Secret}, log.Named("webhook"))
		if err != nil {
			log.Warnw("webhook notifications disabled", "error", err)
		} else {
			out = append(out, n)
		}
	}
	return out
}

// app is a fully initialized workflow.
type app struct {
	store    *ticket.SQLiteStore
	orch     *workflow.Orchestrator
	activity *agent.ActivityLog
	log      *zap.SugaredLogger
}

// openApp builds the provider, store, notifiers and orchestrator from cfg
// and initializes the orchestrator.
func openApp(ctx context.Context, c *config.Config, log *zap.SugaredLogger) (*app, error) {
	prov, err := provider.New(provider.Config{
		Provider: c.LLM.Provider,
		Model:    c.LLM.Model,
		APIKey:   c.LLM.APIKey,
		BaseURL:  c.LLM.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	store, err := openStore(c)
	if err != nil {
		return nil, err
	}
	activity, err := agent.OpenActivityLog(c.ActivityPath(), 0)
	if err != nil {
		log.Warnw("activity log disabled", "error", err)
	}

	orch := workflow.New(store, prov, c.RoleSpecs(), workflow.Options{
		Workspace:     c.Workspace,
		MCPConfig:     c.MCPConfig,
		MaxHops:       c.Workflow.MaxHops,
		LoopBudget:    c.Workflow.LoopBudget,
		MaxToolRounds: c.Workflow.MaxToolRounds,
		ToolRetries:   c.Workflow.ToolRetries,
		MaxTokens:     c.LLM.MaxTokens,
		TestCommand:   c.Workflow.TestCommand,
		Tools:         toolOptions(c, store),
		Notifiers:     buildNotifiers(ctx, c, log),
		Activity:      activity,
		CycleDelay:    cycleDelay,
	}, log.Named("workflow"))

	if err := orch.Initialize(ctx); err != nil {
		store.Close()
		activity.Close()
		return nil, fmt.Errorf("initialize workflow: %w", err)
	}
	log.Infow("workflow ready",
		"provider", prov.Name(),
		"model", c.LLM.Model,
		"tools", orch.Tools().Len(),
		"mcp_servers", len(orch.MCP().Connected()),
		"activity", activity.Path(),
	)
	return &app{store: store, orch: orch, activity: activity, log: log}, nil
}

// Close stops the orchestrator and closes the store and the activity log.
func (a *app) Close(ctx context.Context) {
	a.orch.Stop(ctx)
	if err := a.store.Close(); err != nil {
		a.log.Warnw("close ticket store", "error", err)
	}
	if err := a.activity.Close(); err != nil {
		a.log.Warnw("close activity log", "error", err)
	}
}
