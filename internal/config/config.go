package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/h1v3-io/swarm/pkg/protocol"
)

// DefaultPath is where the CLI looks for the configuration file.
const DefaultPath = "swarm.yaml"

// Config is the top-level swarm configuration.
type Config struct {
	Workspace string                         `yaml:"workspace"`
	DBPath    string                         `yaml:"db_path"`
	LLM       LLMConfig                      `yaml:"llm"`
	Roles     map[protocol.RoleID]RoleConfig `yaml:"roles"`
	Workflow  WorkflowConfig                 `yaml:"workflow"`
	Tools     ToolsConfig                    `yaml:"tools"`
	MCPConfig string                         `yaml:"mcp_config"`
	API       APIConfig                      `yaml:"api"`
	Notify    NotifyConfig                   `yaml:"notify"`
	Log       LogConfig                      `yaml:"log"`
}

// LLMConfig selects the decision service.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai (default) or anthropic
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
}

// RoleConfig overrides the built-in settings of one role.
type RoleConfig struct {
	Instructions   string   `yaml:"instructions,omitempty"`
	Model          string   `yaml:"model,omitempty"`
	Temperature    float64  `yaml:"temperature,omitempty"`
	ToolsWhitelist []string `yaml:"tools_whitelist,omitempty"`
	ToolsBlacklist []string `yaml:"tools_blacklist,omitempty"`
}

// WorkflowConfig bounds the workflow.
type WorkflowConfig struct {
	MaxCycles     int    `yaml:"max_cycles"`
	MaxHops       int    `yaml:"max_hops"`
	LoopBudget    int    `yaml:"loop_budget"`
	MaxToolRounds int    `yaml:"max_tool_rounds"`
	ToolRetries   int    `yaml:"tool_retries"`
	Schedule      string `yaml:"schedule,omitempty"` // cron spec for the daemon
	TestCommand   string `yaml:"test_command,omitempty"`
	ActivityLog   string `yaml:"activity_log,omitempty"`
	Inbox         string `yaml:"inbox,omitempty"` // directory the daemon files YAML tickets from
}

// ToolsConfig holds tool-level settings.
type ToolsConfig struct {
	ShellTimeout    int      `yaml:"shell_timeout,omitempty"` // seconds, default 60
	AllowedCommands []string `yaml:"allowed_commands,omitempty"`
	BraveAPIKey     string   `yaml:"brave_api_key,omitempty"`
	NotesDir        string   `yaml:"notes_dir,omitempty"` // default: "notes" next to db_path
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Listen string `yaml:"listen"`
	Token  string `yaml:"token"`
}

// NotifyConfig configures where Blocked and Done transitions are posted.
type NotifyConfig struct {
	Slack    *SlackConfig    `yaml:"slack,omitempty"`
	Telegram *TelegramConfig `yaml:"telegram,omitempty"`
	Webhook  *WebhookConfig  `yaml:"webhook,omitempty"`
}

// SlackConfig holds Slack bot settings.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
	APIURL  string `yaml:"api_url,omitempty"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token       string `yaml:"token"`
	ChatID      int64  `yaml:"chat_id"`
	APIEndpoint string `yaml:"api_endpoint,omitempty"`
}

// WebhookConfig posts transition events as signed JSON.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret,omitempty"` // HMAC-SHA256 key for X-Swarm-Signature-256
}

// LogConfig sets the root logger.
type LogConfig struct {
	Level string `yaml:"level"`
	Dev   bool   `yaml:"dev,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Workspace: ".",
		DBPath:    "swarm.db",
		LLM:       LLMConfig{Provider: "openai", Model: "gpt-4o"},
		Workflow: WorkflowConfig{
			MaxCycles:     10,
			MaxHops:       10,
			LoopBudget:    5,
			MaxToolRounds: 10,
			ToolRetries:   2,
		},
		Tools: ToolsConfig{ShellTimeout: 60},
		API:   APIConfig{Listen: "127.0.0.1:8080"},
		Log:   LogConfig{Level: "info"},
	}
}

// Load reads .env (when present), then the YAML file at path on top of
// the defaults, then SWARM_ environment overrides, and validates the
// result. A missing file at DefaultPath is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv builds a config from the defaults and SWARM_ variables only.
func LoadFromEnv() (*Config, error) {
	cfg := Default()
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from SWARM_ prefixed environment variables.
func (c *Config) ApplyEnv() {
	c.Workspace = getenv("SWARM_WORKSPACE", c.Workspace)
	c.DBPath = getenv("SWARM_DB_PATH", c.DBPath)
	c.MCPConfig = getenv("SWARM_MCP_CONFIG", c.MCPConfig)

	c.LLM.Provider = getenv("SWARM_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = getenv("SWARM_LLM_MODEL", c.LLM.Model)
	c.LLM.APIKey = getenv("SWARM_LLM_API_KEY", c.LLM.APIKey)
	c.LLM.BaseURL = getenv("SWARM_LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.MaxTokens = getenvInt("SWARM_LLM_MAX_TOKENS", c.LLM.MaxTokens)

	c.Workflow.MaxCycles = getenvInt("SWARM_MAX_CYCLES", c.Workflow.MaxCycles)
	c.Workflow.MaxHops = getenvInt("SWARM_MAX_HOPS", c.Workflow.MaxHops)
	c.Workflow.LoopBudget = getenvInt("SWARM_LOOP_BUDGET", c.Workflow.LoopBudget)
	c.Workflow.Schedule = getenv("SWARM_SCHEDULE", c.Workflow.Schedule)
	c.Workflow.Inbox = getenv("SWARM_INBOX", c.Workflow.Inbox)
	c.Workflow.TestCommand = getenv("SWARM_TEST_COMMAND", c.Workflow.TestCommand)
	c.Workflow.ActivityLog = getenv("SWARM_ACTIVITY_LOG", c.Workflow.ActivityLog)

	c.Tools.ShellTimeout = getenvInt("SWARM_SHELL_TIMEOUT", c.Tools.ShellTimeout)
	c.Tools.BraveAPIKey = getenv("SWARM_BRAVE_API_KEY", c.Tools.BraveAPIKey)
	c.Tools.NotesDir = getenv("SWARM_NOTES_DIR", c.Tools.NotesDir)
	if v := os.Getenv("SWARM_ALLOWED_COMMANDS"); v != "" {
		c.Tools.AllowedCommands = splitList(v)
	}

	c.API.Listen = getenv("SWARM_API_LISTEN", c.API.Listen)
	c.API.Token = getenv("SWARM_API_TOKEN", c.API.Token)
	c.Log.Level = getenv("SWARM_LOG_LEVEL", c.Log.Level)

	if token := os.Getenv("SWARM_SLACK_TOKEN"); token != "" {
		if c.Notify.Slack == nil {
			c.Notify.Slack = &SlackConfig{}
		}
		c.Notify.Slack.Token = token
		c.Notify.Slack.Channel = getenv("SWARM_SLACK_CHANNEL", c.Notify.Slack.Channel)
	}
	if token := os.Getenv("SWARM_TELEGRAM_TOKEN"); token != "" {
		if c.Notify.Telegram == nil {
			c.Notify.Telegram = &TelegramConfig{}
		}
		c.Notify.Telegram.Token = token
		if id, err := strconv.ParseInt(os.Getenv("SWARM_TELEGRAM_CHAT_ID"), 10, 64); err == nil {
			c.Notify.Telegram.ChatID = id
		}
	}
	if url := os.Getenv("SWARM_WEBHOOK_URL"); url != "" {
		if c.Notify.Webhook == nil {
			c.Notify.Webhook = &WebhookConfig{}
		}
		c.Notify.Webhook.URL = url
		c.Notify.Webhook.Secret = getenv("SWARM_WEBHOOK_SECRET", c.Notify.Webhook.Secret)
	}
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Workspace == "" {
		errs = append(errs, "workspace is required")
	}
	if c.DBPath == "" {
		errs = append(errs, "db_path is required")
	}
	switch c.LLM.Provider {
	case "", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Sprintf("llm.provider %q is not supported (openai, anthropic)", c.LLM.Provider))
	}
	for id := range c.Roles {
		if !id.Valid() {
			errs = append(errs, fmt.Sprintf("roles.%s is not a known role", id))
		}
	}
	for name, v := range map[string]int{
		"workflow.max_cycles":      c.Workflow.MaxCycles,
		"workflow.max_hops":        c.Workflow.MaxHops,
		"workflow.loop_budget":     c.Workflow.LoopBudget,
		"workflow.max_tool_rounds": c.Workflow.MaxToolRounds,
		"workflow.tool_retries":    c.Workflow.ToolRetries,
	} {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("%s must not be negative", name))
		}
	}
	if c.Tools.ShellTimeout < 0 || c.Tools.ShellTimeout > 300 {
		errs = append(errs, "tools.shell_timeout must be between 0 and 300 seconds")
	}
	if s := c.Notify.Slack; s != nil && (s.Token == "" || s.Channel == "") {
		errs = append(errs, "notify.slack needs token and channel")
	}
	if tg := c.Notify.Telegram; tg != nil && (tg.Token == "" || tg.ChatID == 0) {
		errs = append(errs, "notify.telegram needs token and chat_id")
	}
	if wh := c.Notify.Webhook; wh != nil && wh.URL == "" {
		errs = append(errs, "notify.webhook needs url")
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RoleSpecs turns the role overrides into specs.
func (c *Config) RoleSpecs() map[protocol.RoleID]protocol.RoleSpec {
	out := make(map[protocol.RoleID]protocol.RoleSpec, len(c.Roles))
	for id, rc := range c.Roles {
		spec := protocol.RoleSpec{
			ID:             id,
			Instructions:   rc.Instructions,
			Model:          rc.Model,
			Temperature:    rc.Temperature,
			ToolsWhitelist: rc.ToolsWhitelist,
			ToolsBlacklist: rc.ToolsBlacklist,
		}
		if spec.Temperature == 0 {
			spec.Temperature = c.LLM.Temperature
		}
		out[id] = spec
	}
	return out
}

// ShellTimeoutDuration returns the shell timeout as a duration.
func (c *Config) ShellTimeoutDuration() time.Duration {
	return time.Duration(c.Tools.ShellTimeout) * time.Second
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NotesDir returns where per-role notes are kept.
func (c *Config) NotesDir() string {
	if c.Tools.NotesDir != "" {
		return c.Tools.NotesDir
	}
	return filepath.Join(filepath.Dir(c.DBPath), "notes")
}

// ActivityPath returns the audit trail file, activity.jsonl next to
// db_path unless set.
func (c *Config) ActivityPath() string {
	if c.Workflow.ActivityLog != "" {
		return c.Workflow.ActivityLog
	}
	return filepath.Join(filepath.Dir(c.DBPath), "activity.jsonl")
}
