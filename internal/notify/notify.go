// Package notify delivers bus notifications to the terminal and, optionally,
// to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stellarlinkco/termpal/internal/bus"
	"github.com/stellarlinkco/termpal/internal/config"
)

type Notifier interface {
	Name() string
	Notify(ctx context.Context, n bus.Notification) error
}

// Manager subscribes notifiers to a message bus.
type Manager struct {
	notifiers []Notifier
	bus       *bus.MessageBus
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewManager builds the notifiers enabled in cfg in addition to the given
// ones (typically the terminal).
func NewManager(cfg config.NotifyConfig, b *bus.MessageBus, extra ...Notifier) (*Manager, error) {
	m := &Manager{
		bus:     b,
		timeout: 10 * time.Second,
		logger:  log.With().Str("component", "notify").Logger(),
	}
	for _, n := range extra {
		m.Add(n)
	}
	if cfg.Telegram.Enabled {
		tg, err := NewTelegram(cfg.Telegram)
		if err != nil {
			return nil, fmt.Errorf("init telegram notifier: %w", err)
		}
		m.Add(tg)
	}
	return m, nil
}

// Add subscribes n to the bus.
func (m *Manager) Add(n Notifier) {
	m.notifiers = append(m.notifiers, n)
	m.bus.SubscribeOutbound(n.Name(), func(msg bus.Notification) {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if err := n.Notify(ctx, msg); err != nil {
			m.logger.Error().Err(err).Str("notifier", n.Name()).Msg("notification failed")
		}
	})
}

func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.notifiers))
	for _, n := range m.notifiers {
		names = append(names, n.Name())
	}
	return names
}

// Terminal prints notifications to w. Printing takes the given lock so that
// it never interleaves with a running turn.
type Terminal struct {
	w    io.Writer
	lock sync.Locker
}

func NewTerminal(w io.Writer, lock sync.Locker) *Terminal {
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &Terminal{w: w, lock: lock}
}

func (t *Terminal) Name() string { return "terminal" }

func (t *Terminal) Notify(_ context.Context, n bus.Notification) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	_, err := fmt.Fprintf(t.w, "\n%s\n", Format(n))
	return err
}

// Format renders a notification as a single line.
func Format(n bus.Notification) string {
	stamp := n.Time.Format("15:04")
	if n.Title == "" {
		return fmt.Sprintf("🔔 [%s] %s", stamp, n.Text)
	}
	return fmt.Sprintf("🔔 [%s] %s: %s", stamp, n.Title, n.Text)
}
