package notify

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/termpal/internal/bus"
	"github.com/stellarlinkco/termpal/internal/config"
)

type fakeBot struct {
	sent    []tgbotapi.MessageConfig
	failFor string // parse mode that fails
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg := c.(tgbotapi.MessageConfig)
	b.sent = append(b.sent, msg)
	if b.failFor != "" && msg.ParseMode == b.failFor {
		return tgbotapi.Message{}, errors.New("bad request: can't parse entities")
	}
	return tgbotapi.Message{MessageID: len(b.sent)}, nil
}

func factoryFor(bot *fakeBot, created *int) BotFactory {
	return func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
		*created++
		return bot, nil
	}
}

var sample = bus.Notification{
	Source: "reminder",
	Title:  "Reminder",
	Text:   "take <meds>",
	Time:   time.Date(2026, 3, 2, 9, 5, 0, 0, time.UTC),
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "🔔 [09:05] Reminder: take <meds>", Format(sample))
	assert.Equal(t, "🔔 [09:05] hello", Format(bus.Notification{Text: "hello", Time: sample.Time}))
}

func TestTerminal(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, nil)
	require.NoError(t, term.Notify(context.Background(), sample))
	assert.Equal(t, "\n🔔 [09:05] Reminder: take <meds>\n", buf.String())
}

func TestNewTelegramValidation(t *testing.T) {
	_, err := NewTelegram(config.TelegramConfig{ChatID: 1})
	assert.Error(t, err)
	_, err = NewTelegram(config.TelegramConfig{Token: "t"})
	assert.Error(t, err)
}

func TestTelegramSendsHTML(t *testing.T) {
	bot := &fakeBot{}
	created := 0
	tg, err := NewTelegramWithFactory(config.TelegramConfig{Token: "t", ChatID: 42}, factoryFor(bot, &created))
	require.NoError(t, err)

	require.NoError(t, tg.Notify(context.Background(), sample))
	require.NoError(t, tg.Notify(context.Background(), sample))
	assert.Equal(t, 1, created, "bot is created once")

	require.Len(t, bot.sent, 2)
	assert.Equal(t, int64(42), bot.sent[0].ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, bot.sent[0].ParseMode)
	assert.Equal(t, "🔔 <b>Reminder</b>\ntake &lt;meds&gt;", bot.sent[0].Text)
}

func TestTelegramFallsBackToPlainText(t *testing.T) {
	bot := &fakeBot{failFor: tgbotapi.ModeHTML}
	created := 0
	tg, err := NewTelegramWithFactory(config.TelegramConfig{Token: "t", ChatID: 7}, factoryFor(bot, &created))
	require.NoError(t, err)

	require.NoError(t, tg.Notify(context.Background(), sample))
	require.Len(t, bot.sent, 2)
	assert.Equal(t, "", bot.sent[1].ParseMode)
	assert.Equal(t, Format(sample), bot.sent[1].Text)
}

func TestManagerDeliversThroughBus(t *testing.T) {
	b := bus.NewMessageBus(4)
	var (
		buf bytes.Buffer
		mu  sync.Mutex
	)
	m, err := NewManager(config.NotifyConfig{}, b, NewTerminal(&buf, &mu))
	require.NoError(t, err)
	assert.Equal(t, []string{"terminal"}, m.Names())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.DispatchOutbound(ctx) }()

	require.NoError(t, b.Publish(sample))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return bytes.Contains(buf.Bytes(), []byte("take <meds>"))
	}, time.Second, 5*time.Millisecond)
}

func TestManagerTelegramNeedsToken(t *testing.T) {
	_, err := NewManager(config.NotifyConfig{Telegram: config.TelegramConfig{Enabled: true}}, bus.NewMessageBus(1))
	assert.Error(t, err)
}
