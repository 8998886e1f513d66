// Package telegram posts workflow transitions to a Telegram chat.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/h1v3-io/swarm/internal/notify"
	"github.com/h1v3-io/swarm/internal/workflow"
)

// Config holds Telegram notifier configuration.
type Config struct {
	Token  string // bot token from @BotFather
	ChatID int64
	// APIEndpoint overrides tgbotapi.APIEndpoint; it takes the token and
	// method as %s verbs.
	APIEndpoint string
}

// Notifier implements workflow.Notifier for Telegram.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *zap.SugaredLogger
}

// New authorizes the bot and returns a notifier for cfg.ChatID.
func New(cfg Config, logger *zap.SugaredLogger) (*Notifier, error) {
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram: chat_id is required")
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	logger.Infow("telegram bot authorized", "username", bot.Self.UserName)

	return &Notifier{bot: bot, chatID: cfg.ChatID, logger: logger}, nil
}

// Notify sends ev as HTML, retrying as plain text if Telegram rejects the
// markup.
func (n *Notifier) Notify(_ context.Context, ev workflow.Event) error {
	m, ok := notify.Compose(ev)
	if !ok {
		return nil
	}

	msg := tgbotapi.NewMessage(n.chatID, HTML(m))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Warnw("HTML send failed, falling back to plain text",
			"chat_id", n.chatID,
			"error", err,
		)
		msg.Text = Plain(m)
		msg.ParseMode = ""
		if _, err := n.bot.Send(msg); err != nil {
			return fmt.Errorf("telegram: send: %w", err)
		}
	}
	return nil
}
