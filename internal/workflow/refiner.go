package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/h1v3-io/swarm/internal/agent"
	"github.com/h1v3-io/swarm/internal/ticket"
	"github.com/h1v3-io/swarm/pkg/protocol"
)

// Refiner is the product_owner: it refines backlog tickets and validates
// reviewed work against the acceptance criteria.
type Refiner struct {
	base
}

func NewRefiner(a *agent.Agent, store ticket.Store, bus *Bus, settings Settings) *Refiner {
	return &Refiner{base: newBase(a, store, bus, settings)}
}

func (r *Refiner) Handle(ctx context.Context, msg protocol.RoleMessage) (*protocol.RoleResponse, error) {
	return r.dispatch(ctx, msg, r)
}

// process validates tickets in Review and refines everything else.
func (r *Refiner) process(ctx context.Context, msg protocol.RoleMessage) (*protocol.RoleResponse, error) {
	t, failed, err := r.loadTicket(msg, "refinement_failed")
	if failed != nil || err != nil {
		return failed, err
	}
	if t.Status == protocol.StatusReview {
		return r.validate(ctx, t)
	}
	extra := ""
	if msg.Kind == protocol.KindHandoff {
		extra = msg.Content
	}
	return r.refine(ctx, t, extra)
}

type refinement struct {
	AcceptanceCriteria []string            `json:"acceptance_criteria"`
	UserStory          *protocol.UserStory `json:"user_story"`
	RefinementNotes    string              `json:"refinement_notes"`
}

const refinePrompt = `Refine this ticket as the product owner.
Write at least three clear, testable acceptance criteria and a user story
("As a X, I want Y, so that Z").

Respond with JSON:
{"acceptance_criteria": ["..."], "user_story": {"as_a": "...", "i_want": "...", "so_that": "..."}, "refinement_notes": "..."}`

func (r *Refiner) refine(ctx context.Context, t *protocol.Ticket, extra string) (*protocol.RoleResponse, error) {
	in := r.instruction(refinePrompt, t)
	in.Extra = extra

	var out refinement
	ok, err := r.callJSON(ctx, in, &out)
	if err != nil {
		return nil, err
	}
	if !ok || len(out.AcceptanceCriteria) == 0 {
		return r.fail(t.ID, "refinement_failed", "Refinement of %s produced no acceptance criteria.", t.ID), nil
	}

	t.AcceptanceCriteria = out.AcceptanceCriteria
	if !out.UserStory.Empty() {
		t.UserStory = out.UserStory
	}
	t.AddComment(string(r.ID()), strings.TrimSpace("Refinement complete. "+out.RefinementNotes))
	t.SetStatus(protocol.StatusRefined)
	if err := r.save(t); err != nil {
		return nil, err
	}

	resp := r.respond(t.ID, "ticket_refined", fmt.Sprintf("Ticket %s refined. Handing off to the architect for technical analysis.", t.ID))
	resp.Result = map[string]any{"acceptance_criteria": t.AcceptanceCriteria, "user_story": toMap(t.UserStory)}
	resp.NextRole = protocol.RoleArchitect
	return resp, nil
}

type criterionResult struct {
	Criterion string `json:"criterion"`
	Passed    bool   `json:"passed"`
	Evidence  string `json:"evidence"`
}

type validation struct {
	ValidationResults []criterionResult `json:"validation_results"`
	OverallPassed     bool              `json:"overall_passed"`
	Feedback          string            `json:"feedback"`
	Issues            []string          `json:"issues"`
}

const validatePrompt = `Validate the implementation against the acceptance criteria.
Judge each criterion on the implementation details and the test results below.

Respond with JSON:
{"validation_results": [{"criterion": "...", "passed": true, "evidence": "..."}], "overall_passed": true, "feedback": "...", "issues": ["..."]}`

func (r *Refiner) validate(ctx context.Context, t *protocol.Ticket) (*protocol.RoleResponse, error) {
	if t.Status != protocol.StatusReview {
		return r.fail(t.ID, "validation_failed", "Ticket %s is not in review.", t.ID), nil
	}

	impl, _ := json.MarshalIndent(map[string]any{
		"branch":   t.Implementation.Branch,
		"commits":  t.Implementation.Commits,
		"subtasks": t.Implementation.Subtasks,
	}, "", "  ")
	tests, _ := json.MarshalIndent(r.runTests(ctx), "", "  ")

	in := r.instruction(validatePrompt, t)
	in.Extra = fmt.Sprintf("## Implementation\n%s\n\n## Test Results\n%s", impl, tests)

	var out validation
	ok, err := r.callJSON(ctx, in, &out)
	if err != nil {
		return nil, err
	}
	if !ok {
		return r.fail(t.ID, "validation_failed", "Validation of %s returned no usable verdict.", t.ID), nil
	}

	var next protocol.RoleID
	if out.OverallPassed {
		t.SetStatus(protocol.StatusDone)
		t.AddComment(string(r.ID()), "All acceptance criteria met. Ticket closed.")
		next = protocol.RoleScrumMaster
	} else {
		t.SetStatus(protocol.StatusInProgress)
		t.AddComment(string(r.ID()), "Validation failed. Issues: "+strings.Join(out.Issues, ", "))
		next = t.Implementation.AssignedTo
		if next == "" {
			next = protocol.RoleBackendDev
		}
	}
	if err := r.save(t); err != nil {
		return nil, err
	}

	resp := r.respond(t.ID, "validation_complete", out.Feedback)
	resp.Success = out.OverallPassed
	resp.Result = toMap(out)
	resp.NextRole = next
	return resp, nil
}
