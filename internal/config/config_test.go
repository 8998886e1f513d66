package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h1v3-io/swarm/pkg/protocol"
)

const validYAML = `
workspace: /srv/project
db_path: /var/lib/swarm/tickets.db
llm:
  provider: anthropic
  model: claude-test
  api_key: sk-test-key
  temperature: 0.2
roles:
  architect:
    model: big-model
    tools_blacklist: [write_file]
workflow:
  max_cycles: 20
  loop_budget: 3
  schedule: "*/5 * * * *"
  test_command: go test ./...
tools:
  shell_timeout: 120
  allowed_commands: [go, git]
mcp_config: mcp.yaml
api:
  listen: ":9090"
  token: dashboard-token
notify:
  slack:
    token: xoxb-1
    channel: "#swarm"
  telegram:
    token: "123456:ABC"
    chat_id: -100200
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "swarm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "/srv/project", cfg.Workspace)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 20, cfg.Workflow.MaxCycles)
	assert.Equal(t, 3, cfg.Workflow.LoopBudget)
	assert.Equal(t, 10, cfg.Workflow.MaxHops, "unset fields keep their defaults")
	assert.Equal(t, []string{"go", "git"}, cfg.Tools.AllowedCommands)
	assert.Equal(t, "mcp.yaml", cfg.MCPConfig)
	require.NotNil(t, cfg.Notify.Telegram)
	assert.Equal(t, int64(-100200), cfg.Notify.Telegram.ChatID)
	assert.Equal(t, "#swarm", cfg.Notify.Slack.Channel)
	assert.Equal(t, 120, int(cfg.ShellTimeoutDuration().Seconds()))
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/swarm.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "workflow: [not a map"))
	if err == nil || !strings.Contains(err.Error(), "parse") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SWARM_DB_PATH", "/tmp/override.db")
	t.Setenv("SWARM_LLM_API_KEY", "sk-env")
	t.Setenv("SWARM_LOOP_BUDGET", "7")
	t.Setenv("SWARM_ALLOWED_COMMANDS", "npm, make ,")
	t.Setenv("SWARM_TELEGRAM_TOKEN", "999:XYZ")
	t.Setenv("SWARM_TELEGRAM_CHAT_ID", "42")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.DBPath)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, 7, cfg.Workflow.LoopBudget)
	assert.Equal(t, []string{"npm", "make"}, cfg.Tools.AllowedCommands)
	assert.Equal(t, TelegramConfig{Token: "999:XYZ", ChatID: 42}, *cfg.Notify.Telegram)
}

func TestLoad_BadIntegerEnvIsIgnored(t *testing.T) {
	t.Setenv("SWARM_MAX_HOPS", "many")
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Workflow.MaxHops)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.DBPath = ""
	cfg.LLM.Provider = "gemini"
	cfg.Workflow.LoopBudget = -1
	cfg.Roles = map[protocol.RoleID]RoleConfig{"qa": {}}
	cfg.Notify.Slack = &SlackConfig{Token: "xoxb"}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "config validation failed:\n  - "))
	for _, want := range []string{"db_path", "llm.provider", "workflow.loop_budget", "roles.qa", "notify.slack"} {
		assert.Contains(t, msg, want)
	}
}

func TestValidate_Defaults(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestNotesDir(t *testing.T) {
	c := Default()
	c.DBPath = "/var/lib/swarm/swarm.db"
	if got := c.NotesDir(); got != "/var/lib/swarm/notes" {
		t.Errorf("unexpected default notes dir %q", got)
	}
	c.Tools.NotesDir = "/tmp/notes"
	if got := c.NotesDir(); got != "/tmp/notes" {
		t.Errorf("expected explicit notes dir, got %q", got)
	}
}

func TestActivityPath(t *testing.T) {
	c := Default()
	c.DBPath = "/var/lib/swarm/swarm.db"
	assert.Equal(t, "/var/lib/swarm/activity.jsonl", c.ActivityPath())

	t.Setenv("SWARM_ACTIVITY_LOG", "/tmp/audit.jsonl")
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/audit.jsonl", cfg.ActivityPath())
}

func TestRoleSpecs(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	specs := cfg.RoleSpecs()
	require.Len(t, specs, 1)
	arch := specs[protocol.RoleArchitect]
	assert.Equal(t, protocol.RoleArchitect, arch.ID)
	assert.Equal(t, "big-model", arch.Model)
	assert.Equal(t, 0.2, arch.Temperature, "falls back to the llm temperature")
	assert.False(t, arch.ToolAllowed("write_file"))
}
