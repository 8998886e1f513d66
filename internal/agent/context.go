package agent

import (
	"fmt"
	"strings"

	"github.com/h1v3-io/swarm/internal/tool"
	"github.com/h1v3-io/swarm/pkg/protocol"
)

// stabilityProtocol closes every role's system prompt.
const stabilityProtocol = `## STABILITY PROTOCOL
1. If a tool fails with "CRITICAL_FAILURE", DO NOT RETRY. Report the error immediately.
2. If you are stuck in a loop, STOP and ask for help.
3. Do not invent success. Tools must report success before you rely on their output.
`

// maxContextComments is how many recent comments FormatTicket includes.
const maxContextComments = 5

// SystemPrompt assembles the role's system prompt for a run with reg.
func (a *Agent) SystemPrompt(reg *tool.Registry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Role: %s\n", a.Spec.ID)
	if a.Spec.Name != "" {
		fmt.Fprintf(&b, "Name: %s\n", a.Spec.Name)
	}
	b.WriteString("\n")
	if a.Spec.Instructions != "" {
		b.WriteString(strings.TrimSpace(a.Spec.Instructions))
		b.WriteString("\n\n")
	}
	if pc := a.Project.Context(); pc != "" {
		b.WriteString("# Project Context\n")
		b.WriteString(pc)
		b.WriteString("\n\n")
	}

	if reg != nil && reg.Len() > 0 {
		b.WriteString("# Available Tools\n")
		for _, d := range reg.Definitions() {
			fmt.Fprintf(&b, "- **%s**: %s\n", d.Function.Name, d.Function.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString(stabilityProtocol)
	return b.String()
}

// FormatTicket renders the ticket as the markdown context block roles see.
func FormatTicket(t *protocol.Ticket) string {
	if t == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## Ticket: %s\n", t.ID)
	fmt.Fprintf(&b, "**Title:** %s\n", t.Title)
	fmt.Fprintf(&b, "**Type:** %s\n", t.Type)
	fmt.Fprintf(&b, "**Status:** %s\n", t.Status)
	fmt.Fprintf(&b, "**Priority:** %s\n", t.Priority)
	if t.Implementation.AssignedTo != "" {
		fmt.Fprintf(&b, "**Assigned to:** %s\n", t.Implementation.AssignedTo)
	}
	if t.Implementation.Branch != "" {
		fmt.Fprintf(&b, "**Branch:** %s\n", t.Implementation.Branch)
	}
	fmt.Fprintf(&b, "\n### Description\n%s\n", t.Description)

	if us := t.UserStory; us != nil && !us.Empty() {
		b.WriteString("\n### User Story\n")
		fmt.Fprintf(&b, "As a %s, I want %s, so that %s.\n", us.AsA, us.IWant, us.SoThat)
	}

	if len(t.AcceptanceCriteria) > 0 {
		b.WriteString("\n### Acceptance Criteria\n")
		for i, ac := range t.AcceptanceCriteria {
			fmt.Fprintf(&b, "%d. %s\n", i+1, ac)
		}
	}

	tc := t.TechnicalContext
	if len(tc.AffectedAreas) > 0 || len(tc.RelatedFiles) > 0 || tc.ImplementationNotes != "" {
		b.WriteString("\n### Technical Context\n")
		if len(tc.AffectedAreas) > 0 {
			fmt.Fprintf(&b, "**Affected areas:** %s\n", strings.Join(tc.AffectedAreas, ", "))
		}
		if len(tc.Dependencies) > 0 {
			fmt.Fprintf(&b, "**Dependencies:** %s\n", strings.Join(tc.Dependencies, ", "))
		}
		if len(tc.RelatedFiles) > 0 {
			b.WriteString("**Related files:**\n")
			for _, rf := range tc.RelatedFiles {
				fmt.Fprintf(&b, "- `%s`: %s\n", rf.Path, rf.Reason)
			}
		}
		if tc.ImplementationNotes != "" {
			fmt.Fprintf(&b, "**Implementation notes:**\n%s\n", tc.ImplementationNotes)
		}
	}

	if subs := t.Implementation.Subtasks; len(subs) > 0 {
		b.WriteString("\n### Subtasks\n")
		for _, s := range subs {
			mark := " "
			if s.Status == protocol.SubtaskDone {
				mark = "x"
			}
			fmt.Fprintf(&b, "- [%s] %s: %s\n", mark, s.ID, s.Description)
		}
	}

	if n := len(t.Comments); n > 0 {
		b.WriteString("\n### Recent Comments\n")
		start := max(0, n-maxContextComments)
		for _, c := range t.Comments[start:] {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", c.Timestamp.Format("2006-01-02 15:04"), c.Agent, c.Message)
		}
	}
	return b.String()
}

// userMessage joins the instruction's context blocks ahead of its prompt.
func userMessage(in Instruction) string {
	var parts []string
	if in.Ticket != nil {
		parts = append(parts, FormatTicket(in.Ticket))
	}
	if in.Extra != "" {
		parts = append(parts, in.Extra)
	}
	if in.History != "" {
		parts = append(parts, "## Conversation So Far\n"+in.History)
	}
	parts = append(parts, in.Prompt)
	return strings.Join(parts, "\n\n")
}
