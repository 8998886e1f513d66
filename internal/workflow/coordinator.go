package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/h1v3-io/swarm/internal/agent"
	"github.com/h1v3-io/swarm/internal/ticket"
	"github.com/h1v3-io/swarm/pkg/protocol"
)

// Coordinator is the scrum_master: it decides what the workflow does next.
type Coordinator struct {
	base
	router *Router

	mu sync.Mutex
	// analyzed remembers which blocked ticket versions were already analyzed.
	analyzed map[string]time.Time
}

func NewCoordinator(a *agent.Agent, store ticket.Store, bus *Bus, router *Router, settings Settings) *Coordinator {
	return &Coordinator{
		base:     newBase(a, store, bus, settings),
		router:   router,
		analyzed: make(map[string]time.Time),
	}
}

func (c *Coordinator) Handle(ctx context.Context, msg protocol.RoleMessage) (*protocol.RoleResponse, error) {
	return c.dispatch(ctx, msg, c)
}

// process analyzes newly blocked tickets, then continues review work,
// then implementation work, and only then selects a new ticket.
func (c *Coordinator) process(ctx context.Context, _ protocol.RoleMessage) (*protocol.RoleResponse, error) {
	analysis, err := c.analyzeBlockers(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.orchestrate(ctx)
	if err != nil {
		return nil, err
	}
	if analysis != nil {
		resp.Result["blocker_analysis"] = analysis
	}
	return resp, nil
}

func (c *Coordinator) orchestrate(ctx context.Context) (*protocol.RoleResponse, error) {
	review, err := c.store.ByStatus(protocol.StatusReview)
	if err != nil {
		return nil, err
	}
	if len(review) > 0 {
		t := review[0]
		blocked, err := c.router.Visit(ctx, t)
		if err != nil {
			return nil, err
		}
		if blocked {
			return c.selectNext()
		}
		resp := c.respond(t.ID, "delegating_to_review", fmt.Sprintf("Ticket %s is waiting for code review.", t.ID))
		resp.Result = map[string]any{"ticket_id": t.ID, "status": string(t.Status)}
		resp.NextRole = protocol.RoleArchitect
		return resp, nil
	}

	inProgress, err := c.store.ByStatus(protocol.StatusInProgress)
	if err != nil {
		return nil, err
	}
	if len(inProgress) > 0 {
		t := inProgress[0]
		blocked, err := c.router.Visit(ctx, t)
		if err != nil {
			return nil, err
		}
		if blocked {
			return c.selectNext()
		}

		action := "delegating_to_developer"
		dev := t.Implementation.AssignedTo
		if dev == "" {
			if dev, err = c.router.Assign(t); err != nil {
				return nil, err
			}
			action = "developer_assigned"
		}
		resp := c.respond(t.ID, action, fmt.Sprintf("Ticket %s handed to %s.", t.ID, dev))
		resp.Result = map[string]any{"ticket_id": t.ID, "assigned_to": string(dev)}
		resp.NextRole = dev
		return resp, nil
	}

	return c.selectNext()
}

func (c *Coordinator) selectNext() (*protocol.RoleResponse, error) {
	sel, err := c.router.Select()
	if err != nil {
		return nil, err
	}
	if sel.Ticket == nil {
		return c.respond("", sel.Action, "No tickets available."), nil
	}

	t := sel.Ticket
	var msg, status string
	if sel.Action == ActionSelectedForWork {
		msg, status = fmt.Sprintf("Ticket %s is ready for implementation.", t.ID), "ready_for_implementation"
	} else {
		msg, status = fmt.Sprintf("Ticket %s needs refinement.", t.ID), "needs_refinement"
	}
	resp := c.respond(t.ID, sel.Action, msg)
	resp.Result = map[string]any{"ticket_id": t.ID, "status": status}
	resp.NextRole = sel.Next
	return resp, nil
}

// analyzeBlockers asks for a resolution plan for blocked tickets that
// changed since they were last analyzed. It returns nil when there is
// nothing new.
func (c *Coordinator) analyzeBlockers(ctx context.Context) (map[string]any, error) {
	blocked, err := c.store.ByStatus(protocol.StatusBlocked)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	var fresh []*protocol.Ticket
	for _, t := range blocked {
		if seen, ok := c.analyzed[t.ID]; !ok || !seen.Equal(t.UpdatedAt) {
			fresh = append(fresh, t)
		}
	}
	c.mu.Unlock()
	if len(fresh) == 0 {
		return nil, nil
	}

	var b strings.Builder
	details := make([]map[string]any, 0, len(fresh))
	for _, t := range fresh {
		reason := ""
		if n := len(t.Comments); n > 0 {
			reason = t.Comments[n-1].Message
		}
		details = append(details, map[string]any{
			"ticket_id": t.ID, "title": t.Title, "blocked_by": t.Dependencies.BlockedBy, "last_comment": reason,
		})
		fmt.Fprintf(&b, "- %s (%s): blocked by %v. Last comment: %s\n", t.ID, t.Title, t.Dependencies.BlockedBy, reason)
	}

	text, err := c.agent.Ask(ctx, agent.Instruction{
		Prompt: "Analyze these blocked tickets and propose concrete steps to unblock each one.\n\n" + b.String(),
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for _, t := range fresh {
		c.analyzed[t.ID] = t.UpdatedAt
	}
	c.mu.Unlock()
	c.log.Infow("blockers analyzed", "count", len(fresh))

	return map[string]any{"blocked_count": len(fresh), "details": details, "analysis": text}, nil
}
