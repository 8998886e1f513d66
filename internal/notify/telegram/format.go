package telegram

import (
	"html"
	"regexp"
	"strings"

	"github.com/h1v3-io/swarm/internal/notify"
)

// maxReasonRunes keeps a message under Telegram's 4096 character limit.
const maxReasonRunes = 3500

var reCodeSpan = regexp.MustCompile("`([^`\n]+)`")

// HTML renders m in Telegram's HTML subset: a bold headline, identifiers
// as <code>, and the reason escaped with its inline code spans kept.
func HTML(m notify.Message) string {
	var b strings.Builder
	b.WriteString("<b>" + html.EscapeString(m.Headline) + "</b>: " + html.EscapeString(m.Title))
	for _, f := range m.Fields {
		b.WriteString("\n" + html.EscapeString(f.Label) + ": ")
		b.WriteString(f.Join(func(v string) string {
			if f.Code {
				return "<code>" + html.EscapeString(v) + "</code>"
			}
			return html.EscapeString(v)
		}))
	}
	if reason := truncate(m.Reason); reason != "" {
		b.WriteString("\n\n" + reasonHTML(reason))
	}
	return b.String()
}

// Plain renders m without markup. It is the fallback when Telegram rejects
// the HTML.
func Plain(m notify.Message) string {
	var b strings.Builder
	b.WriteString(m.Headline + ": " + m.Title)
	for _, f := range m.Fields {
		b.WriteString("\n" + f.Label + ": " + f.Join(func(v string) string { return v }))
	}
	if reason := truncate(m.Reason); reason != "" {
		b.WriteString("\n\n" + reason)
	}
	return b.String()
}

// reasonHTML escapes free text from a role, turning `x` into <code>x</code>.
func reasonHTML(s string) string {
	var b strings.Builder
	last := 0
	for _, loc := range reCodeSpan.FindAllStringSubmatchIndex(s, -1) {
		b.WriteString(html.EscapeString(s[last:loc[0]]))
		b.WriteString("<code>" + html.EscapeString(s[loc[2]:loc[3]]) + "</code>")
		last = loc[1]
	}
	b.WriteString(html.EscapeString(s[last:]))
	return b.String()
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxReasonRunes {
		return s
	}
	return string(r[:maxReasonRunes]) + "…"
}
