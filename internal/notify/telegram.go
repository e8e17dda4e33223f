package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/stellarlinkco/termpal/internal/bus"
	"github.com/stellarlinkco/termpal/internal/config"
)

// TelegramBot is the subset of the bot API used here.
type TelegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BotFactory creates TelegramBot instances.
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return bot, nil
}

type Telegram struct {
	token   string
	chatID  int64
	factory BotFactory
	bot     TelegramBot
}

func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
	return NewTelegramWithFactory(cfg, defaultBotFactory)
}

func NewTelegramWithFactory(cfg config.TelegramConfig, factory BotFactory) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram chatId is required")
	}
	return &Telegram{token: cfg.Token, chatID: cfg.ChatID, factory: factory}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// Notify sends n as HTML, retrying as plain text if Telegram rejects the
// markup. The bot is created on first use.
func (t *Telegram) Notify(ctx context.Context, n bus.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.bot == nil {
		bot, err := t.factory(t.token, tgbotapi.APIEndpoint, http.DefaultClient)
		if err != nil {
			return fmt.Errorf("create telegram bot: %w", err)
		}
		t.bot = bot
	}

	msg := tgbotapi.NewMessage(t.chatID, toHTML(n))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := t.bot.Send(msg); err != nil {
		msg.Text = Format(n)
		msg.ParseMode = ""
		if _, err2 := t.bot.Send(msg); err2 != nil {
			return fmt.Errorf("telegram send: %w", err2)
		}
	}
	return nil
}

func toHTML(n bus.Notification) string {
	if n.Title == "" {
		return "🔔 " + html.EscapeString(n.Text)
	}
	return fmt.Sprintf("🔔 <b>%s</b>\n%s", html.EscapeString(n.Title), html.EscapeString(n.Text))
}
