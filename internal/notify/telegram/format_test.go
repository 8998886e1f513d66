package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/h1v3-io/swarm/internal/notify"
)

func transitionMessage(reason string) notify.Message {
	return notify.Message{
		Headline: "T-3 is blocked",
		Title:    "Payments <v2> & refunds",
		Fields: []notify.Field{
			{Label: "Status", Values: []string{"in_progress", "blocked"}, Code: true},
			{Label: "By", Values: []string{"architect"}},
			{Label: "Branch", Values: []string{"feature/t-3-payments"}, Code: true},
		},
		Reason: reason,
	}
}

func TestHTML(t *testing.T) {
	got := HTML(transitionMessage("Loop detected after 6 visits in `review`."))
	assert.Equal(t, "<b>T-3 is blocked</b>: Payments &lt;v2&gt; &amp; refunds\n"+
		"Status: <code>in_progress</code> -> <code>blocked</code>\n"+
		"By: architect\n"+
		"Branch: <code>feature/t-3-payments</code>\n"+
		"\nLoop detected after 6 visits in <code>review</code>.", got)
}

func TestHTML_EscapesReason(t *testing.T) {
	got := HTML(transitionMessage("tests failed: <nil> != `a<b`"))
	assert.Contains(t, got, "tests failed: &lt;nil&gt; != <code>a&lt;b</code>")
	assert.NotContains(t, got, "<nil>")
}

func TestHTML_NoReason(t *testing.T) {
	got := HTML(notify.Message{Headline: "T-1 is done", Title: "Login"})
	assert.Equal(t, "<b>T-1 is done</b>: Login", got)
}

func TestPlain(t *testing.T) {
	got := Plain(transitionMessage("See `go test` output."))
	assert.Equal(t, "T-3 is blocked: Payments <v2> & refunds\n"+
		"Status: in_progress -> blocked\n"+
		"By: architect\n"+
		"Branch: feature/t-3-payments\n"+
		"\nSee `go test` output.", got)
}

func TestTruncateLongReason(t *testing.T) {
	long := strings.Repeat("é", maxReasonRunes+10)
	got := Plain(notify.Message{Headline: "T-1 is blocked", Title: "x", Reason: long})
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.Less(t, len([]rune(got)), 4096)
}
