// Package notify renders workflow transition events for chat and webhook
// sinks. The sinks live in the slack, telegram and webhook subpackages.
package notify

import (
	"fmt"
	"strings"

	"github.com/h1v3-io/swarm/internal/workflow"
)

// Field is one labelled line of a rendered event.
type Field struct {
	Label  string
	Values []string // more than one value reads as a transition
	Code   bool     // values are identifiers (status, branch)
}

// Join formats each value with format and joins them as a transition.
func (f Field) Join(format func(string) string) string {
	out := make([]string, len(f.Values))
	for i, v := range f.Values {
		out[i] = format(v)
	}
	return strings.Join(out, " -> ")
}

// Message is an event split into the parts every sink renders.
type Message struct {
	Headline string // "T-1 is done"
	Title    string
	Fields   []Field
	Reason   string
}

// Compose splits ev into a Message. It reports false for an event without
// a ticket.
func Compose(ev workflow.Event) (Message, bool) {
	t := ev.Ticket
	if t == nil {
		return Message{}, false
	}
	m := Message{
		Headline: fmt.Sprintf("%s is %s", t.ID, t.Status),
		Title:    t.Title,
		Reason:   strings.TrimSpace(ev.Reason),
	}
	if ev.Previous != "" {
		m.Fields = append(m.Fields, Field{Label: "Status", Values: []string{string(ev.Previous), string(t.Status)}, Code: true})
	}
	if ev.Role != "" {
		m.Fields = append(m.Fields, Field{Label: "By", Values: []string{string(ev.Role)}})
	}
	if t.Implementation.Branch != "" {
		m.Fields = append(m.Fields, Field{Label: "Branch", Values: []string{t.Implementation.Branch}, Code: true})
	}
	return m, true
}

// Render formats ev as Markdown. Slack converts it to mrkdwn.
func Render(ev workflow.Event) string {
	m, ok := Compose(ev)
	if !ok {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**: %s\n", m.Headline, m.Title)
	for _, f := range m.Fields {
		fmt.Fprintf(&b, "%s: %s\n", f.Label, f.Join(func(v string) string {
			if f.Code {
				return "`" + v + "`"
			}
			return v
		}))
	}
	if m.Reason != "" {
		fmt.Fprintf(&b, "\n%s", m.Reason)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Payload is the JSON shape of an event for machine consumers.
type Payload struct {
	Ticket   string `json:"ticket"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Previous string `json:"previous,omitempty"`
	Role     string `json:"role,omitempty"`
	Branch   string `json:"branch,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Text     string `json:"text"`
}

// NewPayload flattens ev.
func NewPayload(ev workflow.Event) Payload {
	p := Payload{
		Previous: string(ev.Previous),
		Role:     string(ev.Role),
		Reason:   ev.Reason,
		Text:     Render(ev),
	}
	if t := ev.Ticket; t != nil {
		p.Ticket = t.ID
		p.Title = t.Title
		p.Status = string(t.Status)
		p.Branch = t.Implementation.Branch
	}
	return p
}
