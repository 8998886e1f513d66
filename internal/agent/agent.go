// Package agent runs a role against the decision service: prompt assembly,
// the bounded tool-invocation loop, and the workspace safety nets used
// around it.
package agent

import (
	"go.uber.org/zap"

	"github.com/h1v3-io/swarm/internal/provider"
	"github.com/h1v3-io/swarm/internal/tool"
	"github.com/h1v3-io/swarm/pkg/protocol"
)

const (
	defaultMaxRounds   = 10
	defaultToolRetries = 2
)

// Agent is one role's view of the decision service and its tools.
type Agent struct {
	Spec     protocol.RoleSpec
	Provider provider.Provider
	Tools    *tool.Registry // nil means the role never invokes tools
	Logger   *zap.SugaredLogger
	// Activity receives tool calls; nil disables it.
	Activity *ActivityLog
	// Project adds the workspace's project context to the system prompt.
	Project *Project

	// MaxRounds bounds decision calls per Invoke.
	MaxRounds int
	// ToolRetries is the number of re-executions after a failed attempt.
	ToolRetries int
	MaxTokens   int
}

// New creates an Agent with defaults. The registry is narrowed to the
// tools the role spec allows.
func New(spec protocol.RoleSpec, prov provider.Provider, tools *tool.Registry, log *zap.SugaredLogger) *Agent {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if tools != nil && (len(spec.ToolsWhitelist) > 0 || len(spec.ToolsBlacklist) > 0) {
		tools = tools.Filter(spec.ToolAllowed)
	}
	return &Agent{
		Spec:        spec,
		Provider:    prov,
		Tools:       tools,
		Logger:      log.With("role", spec.ID),
		MaxRounds:   defaultMaxRounds,
		ToolRetries: defaultToolRetries,
	}
}

func (a *Agent) ID() protocol.RoleID { return a.Spec.ID }

func (a *Agent) maxRounds() int {
	if a.MaxRounds <= 0 {
		return defaultMaxRounds
	}
	return a.MaxRounds
}

func (a *Agent) toolRetries() int {
	if a.ToolRetries < 0 {
		return 0
	}
	return a.ToolRetries
}
