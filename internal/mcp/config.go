package mcp

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport kinds.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportSSE   = "sse"
)

// ServerConfig describes one MCP server.
type ServerConfig struct {
	Name        string `yaml:"-" json:"name"`
	Transport   string `yaml:"transport" json:"transport"`
	Enabled     *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// stdio
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Cwd     string            `yaml:"cwd,omitempty" json:"cwd,omitempty"`

	// http / sse
	URL          string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	APIKey       string            `yaml:"api_key,omitempty" json:"-"`
	APIKeyHeader string            `yaml:"api_key_header,omitempty" json:"api_key_header,omitempty"`
	APIKeyPrefix *string           `yaml:"api_key_prefix,omitempty" json:"api_key_prefix,omitempty"`

	ConnectTimeout float64 `yaml:"connect_timeout,omitempty" json:"connect_timeout,omitempty"`
	RequestTimeout float64 `yaml:"request_timeout,omitempty" json:"request_timeout,omitempty"`
	MaxRetries     *int    `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	RetryDelay     float64 `yaml:"retry_delay,omitempty" json:"retry_delay,omitempty"`
}

// Defaults.
const (
	DefaultConnectTimeout = 30.0
	DefaultRequestTimeout = 120.0
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 1.0
)

// IsEnabled reports whether the server should be connected. Servers are
// enabled unless configured otherwise.
func (c *ServerConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

func (c *ServerConfig) TransportKind() string {
	if c.Transport == "" {
		return TransportHTTP
	}
	return c.Transport
}

func (c *ServerConfig) ConnectTimeoutDuration() time.Duration {
	return seconds(c.ConnectTimeout, DefaultConnectTimeout)
}

func (c *ServerConfig) RequestTimeoutDuration() time.Duration {
	return seconds(c.RequestTimeout, DefaultRequestTimeout)
}

func (c *ServerConfig) RetryDelayDuration() time.Duration {
	return seconds(c.RetryDelay, DefaultRetryDelay)
}

func (c *ServerConfig) Retries() int {
	if c.MaxRetries == nil || *c.MaxRetries < 0 {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

func seconds(v, def float64) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v * float64(time.Second))
}

// AuthHeader returns the header carrying the API key, or ok=false when no
// key is configured.
func (c *ServerConfig) AuthHeader() (name, value string, ok bool) {
	if c.APIKey == "" {
		return "", "", false
	}
	name = c.APIKeyHeader
	if name == "" {
		name = "Authorization"
	}
	prefix := "Bearer "
	if c.APIKeyPrefix != nil {
		prefix = *c.APIKeyPrefix
	}
	return name, prefix + c.APIKey, true
}

// Validate returns human-readable problems with the configuration.
func (c *ServerConfig) Validate() []string {
	var errs []string
	switch c.TransportKind() {
	case TransportStdio:
		if c.Command == "" {
			errs = append(errs, fmt.Sprintf("Server '%s': stdio transport requires 'command'", c.Name))
		}
	case TransportHTTP, TransportSSE:
		if c.URL == "" {
			errs = append(errs, fmt.Sprintf("Server '%s': %s transport requires 'url'", c.Name, c.TransportKind()))
		}
	default:
		errs = append(errs, fmt.Sprintf("Server '%s': unknown transport '%s'", c.Name, c.Transport))
	}
	return errs
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// ExpandEnv replaces ${VAR} references with environment values. Unset
// variables expand to the empty string.
func ExpandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(m[2 : len(m)-1])
	})
}

func (c *ServerConfig) resolveEnv() {
	c.URL = ExpandEnv(c.URL)
	c.APIKey = ExpandEnv(c.APIKey)
	c.Command = ExpandEnv(c.Command)
	c.Cwd = ExpandEnv(c.Cwd)
	for k, v := range c.Headers {
		c.Headers[k] = ExpandEnv(v)
	}
	for k, v := range c.Env {
		c.Env[k] = ExpandEnv(v)
	}
}

type configFile struct {
	Servers map[string]*ServerConfig `yaml:"mcp_servers"`
}

// LoadConfig reads server definitions from a YAML file rooted at
// mcp_servers. A missing file yields an empty set.
func LoadConfig(path string) (map[string]*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]*ServerConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read mcp config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML server definitions and resolves ${VAR} references.
func ParseConfig(data []byte) (map[string]*ServerConfig, error) {
	var f configFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse mcp config: %w", err)
	}
	out := make(map[string]*ServerConfig, len(f.Servers))
	for name, sc := range f.Servers {
		if sc == nil {
			sc = &ServerConfig{}
		}
		sc.Name = name
		sc.resolveEnv()
		out[name] = sc
	}
	return out, nil
}

// ValidateAll validates every server, in name order.
func ValidateAll(servers map[string]*ServerConfig) []string {
	names := make([]string, 0, len(servers))
	for n := range servers {
		names = append(names, n)
	}
	sort.Strings(names)
	var errs []string
	for _, n := range names {
		errs = append(errs, servers[n].Validate()...)
	}
	return errs
}
