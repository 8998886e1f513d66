package workflow

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/h1v3-io/swarm/internal/agent"
	"github.com/h1v3-io/swarm/internal/ticket"
	"github.com/h1v3-io/swarm/pkg/protocol"
)

const (
	DefaultMaxHops    = 10
	DefaultLoopBudget = 5
)

// Selection actions.
const (
	ActionSelectedForWork       = "ticket_selected_for_work"
	ActionSelectedForRefinement = "ticket_selected_for_refinement"
	ActionNoTickets             = "no_tickets_available"
)

// frontendKeywords classify affected areas for the unassigned-work fallback.
var frontendKeywords = []string{"frontend", "ui", "component", "page", "css", "react", "vue"}

// Selection is the outcome of picking the next ticket.
type Selection struct {
	Ticket *protocol.Ticket // nil when nothing qualifies
	Next   protocol.RoleID
	Action string
}

// Router owns the workflow state machine: ticket selection, handoff
// chaining and loop detection. The visit counters belong to one Router.
type Router struct {
	store     ticket.Store
	bus       *Bus
	log       *zap.SugaredLogger
	notifiers []Notifier
	activity  *agent.ActivityLog

	maxHops    int
	loopBudget int

	mu     sync.Mutex
	roles  Table
	visits map[string]int
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithMaxHops bounds the handoffs followed per chain.
func WithMaxHops(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.maxHops = n
		}
	}
}

// WithLoopBudget sets how many revisits a ticket gets before it is blocked.
func WithLoopBudget(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.loopBudget = n
		}
	}
}

// WithNotifiers adds notifiers told about tickets becoming Blocked or Done.
func WithNotifiers(n ...Notifier) RouterOption {
	return func(r *Router) { r.notifiers = append(r.notifiers, n...) }
}

// WithActivity records role runs, handoffs and status changes in l.
func WithActivity(l *agent.ActivityLog) RouterOption {
	return func(r *Router) { r.activity = l }
}

// WithRouterLogger sets the router's logger.
func WithRouterLogger(log *zap.SugaredLogger) RouterOption {
	return func(r *Router) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRouter creates a Router. Roles are bound later with SetRoles since
// the coordinator itself needs the Router.
func NewRouter(store ticket.Store, bus *Bus, opts ...RouterOption) *Router {
	r := &Router{
		store:      store,
		bus:        bus,
		log:        zap.NewNop().Sugar(),
		maxHops:    DefaultMaxHops,
		loopBudget: DefaultLoopBudget,
		visits:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.bus == nil {
		r.bus = NewBus(0)
	}
	return r
}

// SetRoles binds the validated role table.
func (r *Router) SetRoles(t Table) {
	r.mu.Lock()
	r.roles = t
	r.mu.Unlock()
}

func (r *Router) role(id protocol.RoleID) (Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[id]
	return role, ok
}

func (r *Router) MaxHops() int    { return r.maxHops }
func (r *Router) LoopBudget() int { return r.loopBudget }

// Select picks the next ticket: a planned ticket that can start goes to
// the architect, otherwise an unrefined backlog ticket goes to the product
// owner. The store orders candidates by priority, then insertion.
func (r *Router) Select() (Selection, error) {
	t, err := r.store.NextForWork()
	if err != nil {
		return Selection{}, fmt.Errorf("select: %w", err)
	}
	if t != nil {
		return Selection{Ticket: t, Next: protocol.RoleArchitect, Action: ActionSelectedForWork}, nil
	}

	t, err = r.store.NextForRefinement()
	if err != nil {
		return Selection{}, fmt.Errorf("select: %w", err)
	}
	if t != nil {
		return Selection{Ticket: t, Next: protocol.RoleProductOwner, Action: ActionSelectedForRefinement}, nil
	}
	return Selection{Action: ActionNoTickets}, nil
}

// Visit counts one more routing of a ticket that is in Review or
// InProgress. Once the count exceeds the loop budget the ticket is blocked,
// commented, saved and its counter deleted; Visit then reports true.
func (r *Router) Visit(ctx context.Context, t *protocol.Ticket) (bool, error) {
	if t.Status != protocol.StatusReview && t.Status != protocol.StatusInProgress {
		return false, nil
	}

	r.mu.Lock()
	r.visits[t.ID]++
	n := r.visits[t.ID]
	blocked := n > r.loopBudget
	if blocked {
		delete(r.visits, t.ID)
	}
	r.mu.Unlock()

	if !blocked {
		return false, nil
	}

	prev := t.Status
	r.log.Warnw("loop detected, blocking ticket", "ticket", t.ID, "visits", n, "status", prev)
	t.SetStatus(protocol.StatusBlocked)
	t.AddComment(string(protocol.RoleScrumMaster), fmt.Sprintf(
		"Ticket blocked after %d routing cycles without completion. Manual review required. Status before blocking: %s.",
		n, prev))
	if err := r.store.Save(t); err != nil {
		return true, fmt.Errorf("block %s: %w", t.ID, err)
	}
	r.activity.StatusChange(protocol.RoleScrumMaster, t.ID, prev, t.Status)
	r.notify(ctx, Event{Ticket: t, Previous: prev, Role: protocol.RoleScrumMaster, Reason: "loop detected"})
	return true, nil
}

// Visits returns the current visit count for a ticket.
func (r *Router) Visits(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visits[id]
}

// ResetCycleCounter forgets the visits of a ticket.
func (r *Router) ResetCycleCounter(id string) {
	r.mu.Lock()
	delete(r.visits, id)
	r.mu.Unlock()
}

// Assign gives an unassigned ticket to frontend_dev when any affected area
// matches the frontend vocabulary, otherwise to backend_dev, and saves it.
func (r *Router) Assign(t *protocol.Ticket) (protocol.RoleID, error) {
	dev := protocol.RoleBackendDev
	for _, area := range t.TechnicalContext.AffectedAreas {
		if containsAny(area, frontendKeywords) {
			dev = protocol.RoleFrontendDev
			break
		}
	}
	t.Implementation.AssignedTo = dev
	if err := r.store.Save(t); err != nil {
		return "", fmt.Errorf("assign %s: %w", t.ID, err)
	}
	return dev, nil
}

// Dispatch delivers one message to its role and records it on the bus.
func (r *Router) Dispatch(ctx context.Context, msg protocol.RoleMessage) (*protocol.RoleResponse, error) {
	role, ok := r.role(msg.To)
	if !ok {
		return nil, fmt.Errorf("dispatch: %w: %q", ErrUnknownRole, msg.To)
	}

	var before protocol.TicketStatus
	if msg.TicketID != "" {
		if t, err := r.store.Get(msg.TicketID); err == nil {
			before = t.Status
		}
	}

	r.bus.Record(msg)
	r.activity.RoleStart(msg)
	resp, err := role.Handle(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", msg.To, err)
	}
	r.activity.RoleComplete(resp)
	if resp != nil && resp.TicketID != "" {
		if resp.TicketID != msg.TicketID {
			before = ""
		}
		r.observe(ctx, resp, before)
	}
	return resp, nil
}

// observe clears the visit counter of finished tickets, records status
// changes and notifies about tickets that became Blocked or Done during the
// dispatch.
func (r *Router) observe(ctx context.Context, resp *protocol.RoleResponse, before protocol.TicketStatus) {
	t, err := r.store.Get(resp.TicketID)
	if err != nil {
		return
	}
	if t.Status == protocol.StatusDone {
		r.ResetCycleCounter(t.ID)
	}
	if before == "" || before == t.Status {
		return
	}
	r.activity.StatusChange(resp.Role, t.ID, before, t.Status)
	if t.Status == protocol.StatusDone || t.Status == protocol.StatusBlocked {
		r.notify(ctx, Event{Ticket: t, Previous: before, Role: resp.Role, Reason: resp.Message})
	}
}

// Run dispatches msg and follows NextRole handoffs until a response has no
// next role, the hop bound is reached or a role returns nothing. It
// returns the last response.
func (r *Router) Run(ctx context.Context, msg protocol.RoleMessage) (*protocol.RoleResponse, error) {
	resp, err := r.Dispatch(ctx, msg)
	if err != nil || resp == nil {
		return resp, err
	}

	ticketID := msg.TicketID
	hops := 0
	for resp.HasNext() && hops < r.maxHops {
		if err := ctx.Err(); err != nil {
			return resp, err
		}
		if !resp.NextRole.Valid() {
			r.log.Warnw("handoff to unknown role", "role", resp.NextRole, "from", resp.Role)
			break
		}
		if resp.TicketID != "" {
			ticketID = resp.TicketID
		}

		next := protocol.NewRoleMessage(resp.Role, resp.NextRole, protocol.KindHandoff, ticketID, resp.Message)
		for k, v := range resp.Result {
			next.Context[k] = v
		}
		r.log.Infow("handoff", "from", resp.Role, "to", resp.NextRole, "ticket", ticketID, "hop", hops+1)
		r.activity.Handoff(resp.Role, resp.NextRole, ticketID, resp.Message)

		last := resp
		resp, err = r.Dispatch(ctx, next)
		if err != nil {
			return nil, err
		}
		hops++
		if resp == nil {
			return last, nil
		}
	}
	if resp.HasNext() {
		r.log.Warnw("hop bound reached", "hops", hops, "next", resp.NextRole, "ticket", resp.TicketID)
	}
	return resp, nil
}

func (r *Router) notify(ctx context.Context, ev Event) {
	for _, n := range r.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			r.log.Warnw("notification failed", "ticket", ev.Ticket.ID, "status", ev.Ticket.Status, "error", err)
		}
	}
}
