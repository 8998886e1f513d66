package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/h1v3-io/swarm/internal/agent"
	"github.com/h1v3-io/swarm/internal/mcp"
	"github.com/h1v3-io/swarm/internal/provider"
	"github.com/h1v3-io/swarm/internal/ticket"
	"github.com/h1v3-io/swarm/internal/tool"
	"github.com/h1v3-io/swarm/pkg/protocol"
)

// ErrNotInitialized is returned by cycles run before Initialize.
var ErrNotInitialized = errors.New("orchestrator not initialized")

// Driver actions that do not come from a role.
const (
	ActionTicketNotFound    = "ticket_not_found"
	ActionTicketAlreadyDone = "ticket_already_done"
)

// Options configures an Orchestrator. Zero values mean defaults.
type Options struct {
	Workspace string
	// MCPConfig is the path of the MCP servers file; empty disables MCP.
	MCPConfig string

	MaxHops       int
	LoopBudget    int
	MaxToolRounds int
	ToolRetries   int
	MaxTokens     int
	TestCommand   string

	Tools     tool.Options
	Notifiers []Notifier
	// Activity is the audit trail of the run; nil disables it.
	Activity *agent.ActivityLog
	// CycleDelay is the pause between cycles in Run.
	CycleDelay time.Duration
}

// Orchestrator wires the store, the decision service, the tools and the
// MCP servers to the role table, and drives workflow cycles.
type Orchestrator struct {
	store ticket.Store
	prov  provider.Provider
	specs map[protocol.RoleID]protocol.RoleSpec
	opts  Options
	log   *zap.SugaredLogger

	tools  *tool.Registry
	mcp    *mcp.Manager
	bus    *Bus
	router *Router
	roles  Table

	cycle  sync.Mutex // one cycle at a time
	mu     sync.Mutex
	ready  bool
	stopCh chan struct{}
	cycles int
}

// New creates an Orchestrator. Roles missing from specs get DefaultSpecs.
func New(store ticket.Store, prov provider.Provider, specs map[protocol.RoleID]protocol.RoleSpec, opts Options, log *zap.SugaredLogger) *Orchestrator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	merged := DefaultSpecs()
	for id, s := range specs {
		if s.ID == "" {
			s.ID = id
		}
		if s.Instructions == "" {
			s.Instructions = merged[id].Instructions
		}
		if s.Name == "" {
			s.Name = merged[id].Name
		}
		merged[id] = s
	}

	bus := NewBus(0)
	router := NewRouter(store, bus,
		WithMaxHops(opts.MaxHops),
		WithLoopBudget(opts.LoopBudget),
		WithNotifiers(opts.Notifiers...),
		WithActivity(opts.Activity),
		WithRouterLogger(log.Named("router")),
	)
	return &Orchestrator{
		store:  store,
		prov:   prov,
		specs:  merged,
		opts:   opts,
		log:    log,
		tools:  tool.NewRegistry(),
		mcp:    mcp.NewManager(log.Named("mcp")),
		bus:    bus,
		router: router,
		stopCh: make(chan struct{}),
	}
}

// Initialize registers the local tools, connects the configured MCP
// servers, bridges their tools and builds the role table.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ready {
		return nil
	}

	topts := o.opts.Tools
	if topts.Workspace == "" {
		topts.Workspace = o.opts.Workspace
	}
	topts.Tickets = o.store
	n := tool.RegisterDefaults(o.tools, topts)
	o.log.Infow("local tools registered", "count", n, "workspace", topts.Workspace)

	if o.opts.MCPConfig != "" {
		if err := o.connectMCP(ctx); err != nil {
			return err
		}
	}

	// Agents are built after registration so their filtered views see
	// the remote tools too.
	settings := Settings{TestCommand: o.opts.TestCommand}
	project := agent.NewProject(topts.Workspace)
	agents := make(map[protocol.RoleID]*agent.Agent, len(protocol.Roles))
	for _, id := range protocol.Roles {
		a := agent.New(o.specs[id], o.prov, o.tools, o.log.Named(string(id)))
		a.Activity = o.opts.Activity
		a.Project = project
		if o.opts.MaxToolRounds > 0 {
			a.MaxRounds = o.opts.MaxToolRounds
		}
		if o.opts.ToolRetries > 0 {
			a.ToolRetries = o.opts.ToolRetries
		}
		a.MaxTokens = o.opts.MaxTokens
		agents[id] = a
	}

	backend, err := NewImplementer(agents[protocol.RoleBackendDev], o.store, o.bus, settings)
	if err != nil {
		return err
	}
	frontend, err := NewImplementer(agents[protocol.RoleFrontendDev], o.store, o.bus, settings)
	if err != nil {
		return err
	}
	table, err := NewTable(
		NewCoordinator(agents[protocol.RoleScrumMaster], o.store, o.bus, o.router, settings),
		NewRefiner(agents[protocol.RoleProductOwner], o.store, o.bus, settings),
		NewPlanner(agents[protocol.RoleArchitect], o.store, o.bus, settings),
		backend,
		frontend,
	)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	o.roles = table
	o.router.SetRoles(table)
	o.ready = true
	o.log.Infow("orchestrator initialized", "roles", len(table), "tools", o.tools.Len())
	return nil
}

func (o *Orchestrator) connectMCP(ctx context.Context) error {
	cfgs, err := mcp.LoadConfig(o.opts.MCPConfig)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	for _, problem := range mcp.ValidateAll(cfgs) {
		o.log.Warnw("mcp server config rejected", "problem", problem)
	}
	if o.mcp.Load(cfgs) == 0 {
		return nil
	}
	for name, ok := range o.mcp.ConnectAll(ctx) {
		if !ok {
			o.log.Warnw("mcp server unavailable", "server", name)
		}
	}
	n := mcp.RegisterTools(ctx, o.mcp, o.tools)
	o.log.Infow("mcp tools registered", "count", n, "servers", o.mcp.Connected())
	return nil
}

// SetRoles replaces the role table. It is how tests and embedders plug in
// their own handlers.
func (o *Orchestrator) SetRoles(t Table) {
	o.mu.Lock()
	o.roles = t
	o.ready = true
	o.mu.Unlock()
	o.router.SetRoles(t)
}

func (o *Orchestrator) initialized() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ready
}

// RunCycle sends one task to the scrum_master and follows the resulting
// handoffs.
func (o *Orchestrator) RunCycle(ctx context.Context) (*protocol.RoleResponse, error) {
	if !o.initialized() {
		return nil, ErrNotInitialized
	}
	o.cycle.Lock()
	defer o.cycle.Unlock()

	msg := protocol.NewRoleMessage(Driver, protocol.RoleScrumMaster, protocol.KindTask, "", "Select and advance the next ticket.")
	resp, err := o.router.Run(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("cycle: %w", err)
	}
	o.mu.Lock()
	o.cycles++
	o.mu.Unlock()
	return resp, nil
}

// Run executes up to maxCycles cycles (0 means unbounded). A failed cycle
// is logged and skipped. Run stops when no ticket is left, when ctx ends
// or when Stop is called.
func (o *Orchestrator) Run(ctx context.Context, maxCycles int) error {
	if !o.initialized() {
		return ErrNotInitialized
	}
	o.log.Infow("workflow started", "max_cycles", maxCycles)
	defer o.logSummary()

	for i := 1; maxCycles <= 0 || i <= maxCycles; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.stopCh:
			o.log.Infow("workflow stopped")
			return nil
		default:
		}

		resp, err := o.RunCycle(ctx)
		if err == nil {
			o.opts.Activity.Cycle(i, maxCycles, resp)
		}
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.log.Errorw("cycle failed", "cycle", i, "error", err)
		case resp == nil:
			o.log.Warnw("cycle produced no response", "cycle", i)
		case resp.Action == ActionNoTickets:
			o.log.Infow("no tickets left", "cycle", i)
			return nil
		default:
			o.log.Infow("cycle complete", "cycle", i, "role", resp.Role, "action", resp.Action, "ticket", resp.TicketID)
		}

		if o.opts.CycleDelay > 0 {
			t := time.NewTimer(o.opts.CycleDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-o.stopCh:
				t.Stop()
				return nil
			case <-t.C:
			}
		}
	}
	return nil
}

// ProcessTicket advances one ticket, starting at the role its status calls for.
func (o *Orchestrator) ProcessTicket(ctx context.Context, id string) (*protocol.RoleResponse, error) {
	if !o.initialized() {
		return nil, ErrNotInitialized
	}
	t, err := o.store.Get(id)
	if errors.Is(err, ticket.ErrNotFound) {
		return &protocol.RoleResponse{Role: Driver, TicketID: id, Action: ActionTicketNotFound,
			Message: fmt.Sprintf("Ticket %s not found.", id), Result: map[string]any{}}, nil
	}
	if err != nil {
		return nil, err
	}

	var to protocol.RoleID
	switch t.Status {
	case protocol.StatusBacklog, protocol.StatusReview:
		to = protocol.RoleProductOwner
	case protocol.StatusRefined:
		to = protocol.RoleArchitect
	case protocol.StatusPlanned:
		to = protocol.RoleBackendDev
	case protocol.StatusInProgress:
		to = t.Implementation.AssignedTo
		if to == "" {
			to = protocol.RoleBackendDev
		}
	case protocol.StatusDone:
		return &protocol.RoleResponse{Success: true, Role: Driver, TicketID: id, Action: ActionTicketAlreadyDone,
			Message: fmt.Sprintf("Ticket %s is already done.", id), Result: map[string]any{}}, nil
	default:
		return &protocol.RoleResponse{Role: Driver, TicketID: id, Action: "ticket_blocked",
			Message: fmt.Sprintf("Ticket %s is %s and needs manual review.", id, t.Status), Result: map[string]any{}}, nil
	}

	o.cycle.Lock()
	defer o.cycle.Unlock()
	o.log.Infow("processing ticket", "ticket", id, "status", t.Status, "role", to)
	msg := protocol.NewRoleMessage(Driver, to, protocol.KindTask, id, "Process ticket "+id+".")
	return o.router.Run(ctx, msg)
}

// Stop ends Run after the current cycle and disconnects every MCP server.
func (o *Orchestrator) Stop(context.Context) {
	o.mu.Lock()
	select {
	case <-o.stopCh:
	default:
		close(o.stopCh)
	}
	o.mu.Unlock()
	o.mcp.DisconnectAll()
	o.log.Infow("orchestrator stopped")
}

// Summary counts tickets per status.
type Summary struct {
	Cycles   int                           `json:"cycles"`
	ByStatus map[protocol.TicketStatus]int `json:"by_status"`
	Total    int                           `json:"total"`
}

func (o *Orchestrator) Summary() (Summary, error) {
	all, err := o.store.List(ticket.Filter{})
	if err != nil {
		return Summary{}, err
	}
	o.mu.Lock()
	s := Summary{Cycles: o.cycles, ByStatus: map[protocol.TicketStatus]int{}, Total: len(all)}
	o.mu.Unlock()
	for _, t := range all {
		s.ByStatus[t.Status]++
	}
	return s, nil
}

func (o *Orchestrator) logSummary() {
	s, err := o.Summary()
	if err != nil {
		o.log.Warnw("status summary unavailable", "error", err)
		return
	}
	o.log.Infow("workflow summary", "cycles", s.Cycles, "total", s.Total, "by_status", s.ByStatus)
}

func (o *Orchestrator) Tools() *tool.Registry { return o.tools }
func (o *Orchestrator) Router() *Router       { return o.router }
func (o *Orchestrator) Bus() *Bus             { return o.bus }
func (o *Orchestrator) MCP() *mcp.Manager     { return o.mcp }
func (o *Orchestrator) Store() ticket.Store   { return o.store }

// Roles returns the role specs in workflow order.
func (o *Orchestrator) Roles() []protocol.RoleSpec {
	out := make([]protocol.RoleSpec, 0, len(protocol.Roles))
	for _, id := range protocol.Roles {
		out = append(out, o.specs[id])
	}
	return out
}

// DefaultSpecs returns the built-in instructions for every role.
func DefaultSpecs() map[protocol.RoleID]protocol.RoleSpec {
	return map[protocol.RoleID]protocol.RoleSpec{
		protocol.RoleScrumMaster: {
			ID:   protocol.RoleScrumMaster,
			Name: "Scrum Master",
			Instructions: `You coordinate the team. Keep tickets moving, spot blocked work
and propose concrete steps to unblock it.`,
			ToolsWhitelist: []string{"get_ticket", "add_ticket_comment"},
		},
		protocol.RoleProductOwner: {
			ID:   protocol.RoleProductOwner,
			Name: "Product Owner",
			Instructions: `You own the product backlog. Turn rough tickets into user stories
with clear, testable acceptance criteria, and accept work only when every
criterion is met.`,
			ToolsWhitelist: []string{"get_ticket", "add_ticket_comment", "read_file", "list_directory", "web_search", "web_fetch"},
		},
		protocol.RoleArchitect: {
			ID:   protocol.RoleArchitect,
			Name: "Software Architect",
			Instructions: `You design the technical approach. Break tickets into small
subtasks for the backend and frontend developers, and review their code for
correctness, security and maintainability.`,
			ToolsBlacklist: []string{"write_file", "edit_file", "git_commit", "git_reset"},
		},
		protocol.RoleBackendDev: {
			ID:   protocol.RoleBackendDev,
			Name: "Backend Developer",
			Instructions: `You implement server-side code: APIs, data access, business logic
and their tests. Follow the existing project conventions.`,
		},
		protocol.RoleFrontendDev: {
			ID:   protocol.RoleFrontendDev,
			Name: "Frontend Developer",
			Instructions: `You implement user interface code: pages, components, forms and
styling, with tests. Follow the existing project conventions.`,
		},
	}
}
