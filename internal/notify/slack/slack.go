// Package slacknotify posts workflow transitions to a Slack channel.
package slacknotify

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/h1v3-io/swarm/internal/notify"
	"github.com/h1v3-io/swarm/internal/workflow"
)

// Config holds Slack notifier configuration.
type Config struct {
	Token   string // xoxb-... Bot User OAuth Token
	Channel string // channel ID or name
	APIURL  string // optional, defaults to slack.com; must end in "/"
}

// Notifier implements workflow.Notifier for Slack.
type Notifier struct {
	api     *slack.Client
	channel string
	logger  *zap.SugaredLogger
}

// New creates a Slack notifier. No request is made until Check or Notify.
func New(cfg Config, logger *zap.SugaredLogger) (*Notifier, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("slack: token is required")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var opts []slack.Option
	if cfg.APIURL != "" {
		url := cfg.APIURL
		if !strings.HasSuffix(url, "/") {
			url += "/"
		}
		opts = append(opts, slack.OptionAPIURL(url))
	}

	return &Notifier{
		api:     slack.New(cfg.Token, opts...),
		channel: cfg.Channel,
		logger:  logger,
	}, nil
}

// Check verifies the token.
func (n *Notifier) Check(ctx context.Context) error {
	resp, err := n.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	n.logger.Infow("slack bot authorized", "user", resp.User, "team", resp.Team)
	return nil
}

// Notify posts ev to the configured channel.
func (n *Notifier) Notify(ctx context.Context, ev workflow.Event) error {
	text := notify.Render(ev)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	_, ts, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(MarkdownToMrkdwn(text), false),
	)
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	n.logger.Debugw("slack notification sent", "channel", n.channel, "ts", ts, "ticket", ev.Ticket.ID)
	return nil
}

// MarkdownToMrkdwn converts standard Markdown to Slack's mrkdwn format.
func MarkdownToMrkdwn(md string) string {
	result := convertEmphasis(md)
	// ~~text~~ → ~text~
	result = strings.ReplaceAll(result, "~~", "~")
	return convertLinks(result)
}

// convertEmphasis handles both bold (**text** → *text*) and italic (*text* → _text_)
// in a single pass. Code spans are left alone.
func convertEmphasis(s string) string {
	var b strings.Builder
	inCode := false
	i := 0
	for i < len(s) {
		ch := s[i]
		switch {
		case ch == '`':
			inCode = !inCode
			b.WriteByte(ch)
			i++
		case ch == '*' && !inCode:
			if i+1 < len(s) && s[i+1] == '*' {
				b.WriteByte('*')
				i += 2
			} else {
				b.WriteByte('_')
				i++
			}
		default:
			b.WriteByte(ch)
			i++
		}
	}
	return b.String()
}

// convertLinks converts [text](url) to <url|text>.
func convertLinks(s string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		if s[i] != '[' {
			b.WriteByte(s[i])
			i++
			continue
		}
		closeB := strings.Index(s[i:], "](")
		if closeB == -1 {
			b.WriteByte(s[i])
			i++
			continue
		}
		closeB += i
		closeP := strings.Index(s[closeB:], ")")
		if closeP == -1 {
			b.WriteByte(s[i])
			i++
			continue
		}
		closeP += closeB
		fmt.Fprintf(&b, "<%s|%s>", s[closeB+2:closeP], s[i+1:closeB])
		i = closeP + 1
	}
	return b.String()
}
