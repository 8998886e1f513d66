package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/h1v3-io/swarm/internal/agent"
	"github.com/h1v3-io/swarm/internal/ticket"
	"github.com/h1v3-io/swarm/pkg/protocol"
)

// frontendSubtaskKeywords split subtasks between the two developers. They
// are matched as whole words.
var frontendSubtaskKeywords = []string{"frontend", "ui", "component", "styling"}

// Implementer is a developer role. backend_dev and frontend_dev share it
// and differ only in which subtasks they own.
type Implementer struct {
	base
	frontend bool
	other    protocol.RoleID
}

// NewImplementer creates the developer for a.Spec.ID, which must be
// backend_dev or frontend_dev.
func NewImplementer(a *agent.Agent, store ticket.Store, bus *Bus, settings Settings) (*Implementer, error) {
	im := &Implementer{base: newBase(a, store, bus, settings)}
	switch a.ID() {
	case protocol.RoleBackendDev:
		im.other = protocol.RoleFrontendDev
	case protocol.RoleFrontendDev:
		im.frontend = true
		im.other = protocol.RoleBackendDev
	default:
		return nil, fmt.Errorf("%w: %s is not a developer role", ErrUnknownRole, a.ID())
	}
	return im, nil
}

func (d *Implementer) Handle(ctx context.Context, msg protocol.RoleMessage) (*protocol.RoleResponse, error) {
	return d.dispatch(ctx, msg, d)
}

func (d *Implementer) process(ctx context.Context, msg protocol.RoleMessage) (*protocol.RoleResponse, error) {
	t, failed, err := d.loadTicket(msg, "implementation_failed")
	if failed != nil || err != nil {
		return failed, err
	}
	if fixRequested(msg) {
		return d.fix(ctx, t, msg)
	}
	return d.implement(ctx, t)
}

// fixRequested reports whether a handoff carries review or validation
// findings rather than fresh work.
func fixRequested(msg protocol.RoleMessage) bool {
	if msg.Kind != protocol.KindHandoff {
		return false
	}
	if approved, ok := msg.Context["approved"].(bool); ok && !approved {
		return true
	}
	if passed, ok := msg.Context["overall_passed"].(bool); ok && !passed {
		return true
	}
	return strings.Contains(strings.ToLower(msg.Content), "fix")
}

func (d *Implementer) owns(st protocol.Subtask) bool {
	return containsWord(st.Description, frontendSubtaskKeywords) == d.frontend
}

func (d *Implementer) domain() string {
	if d.frontend {
		return "frontend"
	}
	return "backend"
}

const implementPrompt = `Implement the %s part of this ticket.

## Subtasks
%s
Use the file tools: explore the project structure first (list_directory,
find_files), read the relevant files (read_file), then create (write_file)
or change (edit_file) files. Write complete, working code and tests.
Summarize what you implemented at the end.`

func (d *Implementer) implement(ctx context.Context, t *protocol.Ticket) (*protocol.RoleResponse, error) {
	t.SetStatus(protocol.StatusInProgress)
	t.Implementation.AssignedTo = d.ID()
	if err := d.save(t); err != nil {
		return nil, err
	}

	var mine []protocol.Subtask
	for _, st := range t.PendingSubtasks() {
		if d.owns(st) {
			mine = append(mine, st)
		}
	}
	if len(mine) == 0 {
		mine = t.PendingSubtasks()
	}
	var list strings.Builder
	for _, st := range mine {
		fmt.Fprintf(&list, "- %s: %s\n", st.ID, st.Description)
	}

	result, err := d.runWork(ctx, t, "implement", fmt.Sprintf(implementPrompt, d.domain(), list.String()))
	if err != nil {
		return nil, err
	}

	if t, err = d.reload(t); err != nil {
		return nil, err
	}
	for _, st := range mine {
		t.MarkSubtask(st.ID, protocol.SubtaskDone)
	}
	t.AddComment(string(d.ID()), fmt.Sprintf("%s implementation complete. %v files created, %v files edited. %s",
		capitalize(d.domain()), result["files_created"], result["files_edited"], testStatus(result)))

	var otherPending int
	for _, st := range t.PendingSubtasks() {
		if !d.owns(st) {
			otherPending++
		}
	}
	if otherPending > 0 {
		if err := d.save(t); err != nil {
			return nil, err
		}
		resp := d.respond(t.ID, d.domain()+"_implementation_complete",
			fmt.Sprintf("%s done. %d %s subtasks remain.", capitalize(d.domain()), otherPending, d.otherDomain()))
		resp.Result = result
		resp.NextRole = d.other
		return resp, nil
	}

	t.SetStatus(protocol.StatusReview)
	if err := d.save(t); err != nil {
		return nil, err
	}
	resp := d.respond(t.ID, "implementation_complete", "Implementation complete. Ready for code review.")
	resp.Result = result
	resp.NextRole = protocol.RoleArchitect
	return resp, nil
}

const fixPrompt = `Fix the following issues from review or validation:

%s
Read the affected files (read_file) and fix the problems (edit_file).
Summarize the fixes you made at the end.`

func (d *Implementer) fix(ctx context.Context, t *protocol.Ticket, msg protocol.RoleMessage) (*protocol.RoleResponse, error) {
	issues := stringList(msg.Context["issues"])
	if len(issues) == 0 {
		issues = stringList(msg.Context["findings"])
	}
	if len(issues) == 0 && msg.Content != "" {
		issues = []string{msg.Content}
	}
	var list strings.Builder
	for _, is := range issues {
		fmt.Fprintf(&list, "- %s\n", is)
	}

	result, err := d.runWork(ctx, t, "fix", fmt.Sprintf(fixPrompt, list.String()))
	if err != nil {
		return nil, err
	}

	if t, err = d.reload(t); err != nil {
		return nil, err
	}
	t.Implementation.AssignedTo = d.ID()
	t.AddComment(string(d.ID()), fmt.Sprintf("Addressed %d review issues. %s", len(issues), testStatus(result)))
	t.SetStatus(protocol.StatusReview)
	if err := d.save(t); err != nil {
		return nil, err
	}

	resp := d.respond(t.ID, "issues_fixed", "Issues addressed. Another review is required.")
	resp.Result = result
	resp.Result["issues"] = issues
	resp.NextRole = protocol.RoleArchitect
	return resp, nil
}

// runWork runs the tool loop on the feature branch, discarding the changes
// when it fails, then runs the tests. Without tools it asks for a plan.
func (d *Implementer) runWork(ctx context.Context, t *protocol.Ticket, op, prompt string) (map[string]any, error) {
	tools := d.agent.Tools
	if tools == nil || tools.Len() == 0 {
		text, err := d.agent.Ask(ctx, d.instruction(prompt+"\n\nNo tools are available: describe the planned changes.", t))
		if err != nil {
			return nil, err
		}
		return map[string]any{"summary": text, "files_created": 0, "files_edited": 0, "tests": d.runTests(ctx)}, nil
	}

	if t.Implementation.Branch == "" {
		t.Implementation.Branch = agent.BranchName(t)
		if err := d.save(t); err != nil {
			return nil, err
		}
	}
	agent.EnsureFeatureBranch(ctx, tools, d.log, t.Implementation.Branch)

	var out agent.Outcome
	err := agent.WithRollback(ctx, tools, d.log, op+" "+t.ID, func(ctx context.Context) error {
		var err error
		out, err = d.agent.Invoke(ctx, d.instruction(prompt, t), tools)
		return err
	})
	if err != nil {
		return nil, err
	}

	var created, edited int
	for _, inv := range out.Log {
		if !inv.Success {
			continue
		}
		switch inv.Tool {
		case "write_file":
			created++
		case "edit_file":
			edited++
		}
	}
	return map[string]any{
		"summary":          out.Text,
		"tool_calls":       len(out.Log),
		"files_created":    created,
		"files_edited":     edited,
		"critical_failure": out.CriticalFailure(),
		"tests":            d.runTests(ctx),
	}, nil
}

func (d *Implementer) otherDomain() string {
	if d.frontend {
		return "backend"
	}
	return "frontend"
}

func testStatus(result map[string]any) string {
	tests, _ := result["tests"].(map[string]any)
	switch {
	case tests == nil || tests["skipped"] == true:
		return "Tests skipped."
	case tests["passed"] == true:
		return "Tests passed."
	default:
		return "Tests failed."
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
