package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/h1v3-io/swarm/internal/agent"
	"github.com/h1v3-io/swarm/internal/ticket"
	"github.com/h1v3-io/swarm/pkg/protocol"
)

// Keyword sets the architect uses to pick the first developer.
var (
	frontendAreaKeywords = []string{"frontend", "ui", "component", "css", "style", "react", "vue", "page"}
	backendAreaKeywords  = []string{"backend", "api", "database", "server", "auth", "service"}
)

// Planner is the architect: technical analysis before implementation and
// code review after it.
type Planner struct {
	base
}

func NewPlanner(a *agent.Agent, store ticket.Store, bus *Bus, settings Settings) *Planner {
	return &Planner{base: newBase(a, store, bus, settings)}
}

func (p *Planner) Handle(ctx context.Context, msg protocol.RoleMessage) (*protocol.RoleResponse, error) {
	return p.dispatch(ctx, msg, p)
}

func (p *Planner) process(ctx context.Context, msg protocol.RoleMessage) (*protocol.RoleResponse, error) {
	t, failed, err := p.loadTicket(msg, "analysis_failed")
	if failed != nil || err != nil {
		return failed, err
	}
	switch {
	case t.Status == protocol.StatusReview:
		return p.review(ctx, t)
	case t.CanStart() && len(t.Implementation.Subtasks) > 0:
		return p.handToDeveloper(t)
	default:
		return p.analyze(ctx, t, msg.Content)
	}
}

// answer estimates the ticket a question is about.
func (p *Planner) answer(ctx context.Context, msg protocol.RoleMessage) (*protocol.RoleResponse, error) {
	if msg.TicketID == "" {
		return p.base.answer(ctx, msg)
	}
	t, failed, err := p.loadTicket(msg, "estimation_failed")
	if failed != nil || err != nil {
		return failed, err
	}
	return p.estimate(ctx, t)
}

// Developer picks who starts implementation: frontend_dev only for purely
// frontend work, backend_dev otherwise.
func Developer(areas []string) protocol.RoleID {
	var frontend, backend bool
	for _, a := range areas {
		frontend = frontend || containsAny(a, frontendAreaKeywords)
		backend = backend || containsAny(a, backendAreaKeywords)
	}
	if frontend && !backend {
		return protocol.RoleFrontendDev
	}
	return protocol.RoleBackendDev
}

type analysis struct {
	AffectedAreas       []string               `json:"affected_areas"`
	Dependencies        []string               `json:"dependencies"`
	RelatedFiles        []protocol.RelatedFile `json:"related_files"`
	ImplementationNotes string                 `json:"implementation_notes"`
	Subtasks            []struct {
		ID          string `json:"id"`
		Description string `json:"description"`
	} `json:"subtasks"`
	Complexity         string   `json:"complexity"`
	StoryPoints        int      `json:"story_points"`
	Risks              []string `json:"risks"`
	ArchitecturalNotes string   `json:"architectural_notes,omitempty"`
}

// Architectural notes longer than minADRNotes become an ADR proposal
// instead of part of the analysis comment.
const minADRNotes = 20

const analyzePrompt = `Analyze this ticket and write a technical implementation plan:
affected areas, dependencies, relevant existing files with reasons,
implementation notes, subtasks for the developers and a complexity estimate.
Put significant architectural decisions in architectural_notes; leave it
empty when the ticket needs none.

Respond with JSON:
{"affected_areas": ["..."], "dependencies": ["..."], "related_files": [{"path": "...", "reason": "..."}],
 "implementation_notes": "...", "subtasks": [{"id": "1", "description": "..."}],
 "complexity": "low|medium|high", "story_points": 3, "risks": ["..."],
 "architectural_notes": "..."}`

func (p *Planner) analyze(ctx context.Context, t *protocol.Ticket, extra string) (*protocol.RoleResponse, error) {
	in := p.instruction(analyzePrompt, t)
	in.Extra = extra

	var out analysis
	ok, err := p.callJSON(ctx, in, &out)
	if err != nil {
		return nil, err
	}
	if !ok || len(out.AffectedAreas) == 0 {
		return p.fail(t.ID, "analysis_failed", "Technical analysis of %s named no affected areas.", t.ID), nil
	}

	t.TechnicalContext = protocol.TechnicalContext{
		AffectedAreas:       out.AffectedAreas,
		Dependencies:        out.Dependencies,
		RelatedFiles:        out.RelatedFiles,
		ImplementationNotes: out.ImplementationNotes,
	}
	if out.Complexity == "" {
		out.Complexity = "medium"
	}
	t.Estimation = protocol.Estimation{StoryPoints: out.StoryPoints, Complexity: out.Complexity}

	t.Implementation.Subtasks = t.Implementation.Subtasks[:0]
	for i, st := range out.Subtasks {
		id := st.ID
		if id == "" {
			id = fmt.Sprint(i + 1)
		}
		t.Implementation.Subtasks = append(t.Implementation.Subtasks,
			protocol.Subtask{ID: id, Description: st.Description, Status: protocol.SubtaskPending})
	}
	t.Implementation.Branch = agent.BranchName(t)

	comment := fmt.Sprintf("Technical analysis complete. Complexity: %s.", out.Complexity)
	if len(out.Risks) > 0 {
		comment += " Risks: " + strings.Join(out.Risks, ", ") + "."
	}
	adr := p.proposeADR(t, out.ArchitecturalNotes)
	switch notes := strings.TrimSpace(out.ArchitecturalNotes); {
	case adr != "":
		comment += fmt.Sprintf("\n\nADR proposed: `%s`. Please review.", adr)
	case notes != "":
		comment += " " + notes
	}
	t.AddComment(string(p.ID()), comment)
	t.SetStatus(protocol.StatusPlanned)
	if err := p.save(t); err != nil {
		return nil, err
	}

	dev := Developer(out.AffectedAreas)
	resp := p.respond(t.ID, "technical_analysis_complete",
		fmt.Sprintf("Technical analysis of %s complete. Recommended developer: %s.", t.ID, dev))
	resp.Result = toMap(out)
	if adr != "" {
		resp.Result["adr"] = adr
	}
	resp.NextRole = dev
	return resp, nil
}

// proposeADR writes a decision record for substantial architectural notes
// and returns its path. Failures are logged and yield "".
func (p *Planner) proposeADR(t *protocol.Ticket, notes string) string {
	notes = strings.TrimSpace(notes)
	if len(notes) <= minADRNotes || p.agent.Project == nil {
		return ""
	}
	decision, _, _ := strings.Cut(notes, ".")
	path, err := p.agent.Project.ProposeADR(agent.ADRProposal{
		Title:    t.Title,
		TicketID: t.ID,
		Context: fmt.Sprintf("Ticket %s: %s\n\n%s\n\nArchitecture notes: %s",
			t.ID, t.Title, t.Description, notes),
		Decision: "Proposed: " + strings.TrimSpace(decision),
	})
	if err != nil {
		p.log.Warnw("adr proposal failed", "ticket", t.ID, "error", err)
		return ""
	}
	p.log.Infow("adr proposed", "ticket", t.ID, "path", path)
	return path
}

// handToDeveloper routes an already planned ticket without analyzing it again.
func (p *Planner) handToDeveloper(t *protocol.Ticket) (*protocol.RoleResponse, error) {
	dev := Developer(t.TechnicalContext.AffectedAreas)
	resp := p.respond(t.ID, "ready_for_development", fmt.Sprintf("Ticket %s is planned. Handing off to %s.", t.ID, dev))
	resp.Result = map[string]any{"ticket_id": t.ID, "branch": t.Implementation.Branch}
	resp.NextRole = dev
	return resp, nil
}

type finding struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
}

type review struct {
	Approved     bool      `json:"approved"`
	QualityScore int       `json:"quality_score"`
	Findings     []finding `json:"findings"`
	Suggestions  []string  `json:"suggestions"`
	Summary      string    `json:"summary"`
}

const reviewPrompt = `Review the code written for this ticket.
Use git_diff to see the changes and read_file to read the changed files. Check
correctness, readability, naming and structure, potential bugs or security
issues, and whether the acceptance criteria are met.

Finish with JSON:
{"approved": true, "quality_score": 8, "findings": [{"severity": "info|warning|error", "message": "...", "file": "..."}],
 "suggestions": ["..."], "summary": "..."}`

const reviewSummaryPrompt = `Based on your code review below, return the verdict as JSON:
{"approved": true, "quality_score": 8, "findings": [{"severity": "info|warning|error", "message": "...", "file": "..."}],
 "suggestions": ["..."], "summary": "..."}

Your review:
%s`

func (p *Planner) review(ctx context.Context, t *protocol.Ticket) (*protocol.RoleResponse, error) {
	out, err := p.agent.Invoke(ctx, p.instruction(reviewPrompt, t), p.agent.Tools)
	if err != nil {
		return nil, err
	}

	var rv review
	if err := agent.DecodeJSON(out.Text, &rv); err != nil {
		ok, err := p.callJSON(ctx, p.instruction(fmt.Sprintf(reviewSummaryPrompt, truncate(out.Text, 2000)), t), &rv)
		if err != nil {
			return nil, err
		}
		if !ok {
			return p.fail(t.ID, "review_failed", "Code review of %s returned no usable verdict.", t.ID), nil
		}
	}

	if t, err = p.reload(t); err != nil {
		return nil, err
	}

	var next protocol.RoleID
	issues := make([]string, 0, len(rv.Findings))
	for _, f := range rv.Findings {
		if f.Severity == "error" || f.Severity == "warning" {
			issues = append(issues, f.Message)
		}
	}
	if rv.Approved {
		t.AddComment(string(p.ID()), fmt.Sprintf("Code review passed. Score: %d/10.", rv.QualityScore))
		next = protocol.RoleProductOwner
	} else {
		severe := 0
		for _, f := range rv.Findings {
			if f.Severity == "error" {
				severe++
			}
		}
		t.SetStatus(protocol.StatusInProgress)
		t.AddComment(string(p.ID()), fmt.Sprintf("Code review: %d errors found. Rework required, please fix.", severe))
		next = t.Implementation.AssignedTo
		if next == "" {
			next = protocol.RoleBackendDev
		}
	}
	if err := p.save(t); err != nil {
		return nil, err
	}

	resp := p.respond(t.ID, "code_review_complete", rv.Summary)
	resp.Success = rv.Approved
	resp.Result = toMap(rv)
	resp.Result["issues"] = append(issues, rv.Suggestions...)
	resp.Result["tool_calls"] = len(out.Log)
	resp.NextRole = next
	return resp, nil
}

type estimate struct {
	Complexity  string `json:"complexity"`
	StoryPoints int    `json:"story_points"`
	Reasoning   string `json:"reasoning"`
	Confidence  string `json:"confidence"`
}

const estimatePrompt = `Estimate the complexity and effort of this ticket, considering the
acceptance criteria, the technical context and the risks.

Respond with JSON:
{"complexity": "low|medium|high", "story_points": 3, "reasoning": "...", "confidence": "low|medium|high"}`

func (p *Planner) estimate(ctx context.Context, t *protocol.Ticket) (*protocol.RoleResponse, error) {
	var out estimate
	ok, err := p.callJSON(ctx, p.instruction(estimatePrompt, t), &out)
	if err != nil {
		return nil, err
	}
	if !ok {
		return p.fail(t.ID, "estimation_failed", "Estimation of %s returned no usable answer.", t.ID), nil
	}
	if out.Complexity == "" {
		out.Complexity = "medium"
	}
	t.Estimation = protocol.Estimation{StoryPoints: out.StoryPoints, Complexity: out.Complexity}
	if err := p.save(t); err != nil {
		return nil, err
	}

	resp := p.respond(t.ID, "estimation_complete",
		fmt.Sprintf("Estimate: %d story points, %s complexity.", out.StoryPoints, out.Complexity))
	resp.Result = toMap(out)
	return resp, nil
}
