// Package bus carries asynchronous notifications, such as fired reminders,
// from background services to the places that display them.
package bus

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrFull is returned by Publish when the outbound queue is full.
var ErrFull = errors.New("bus: outbound queue full")

type Notification struct {
	Source string // e.g. "reminder"
	Title  string
	Text   string
	Time   time.Time
}

// MessageBus queues notifications and fans them out to named subscribers.
type MessageBus struct {
	outbound chan Notification

	mu          sync.RWMutex
	subscribers map[string]func(Notification)
	logger      zerolog.Logger
}

func NewMessageBus(size int) *MessageBus {
	if size <= 0 {
		size = 1
	}
	return &MessageBus{
		outbound:    make(chan Notification, size),
		subscribers: make(map[string]func(Notification)),
		logger:      log.With().Str("component", "bus").Logger(),
	}
}

// Publish enqueues n without blocking.
func (b *MessageBus) Publish(n Notification) error {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	select {
	case b.outbound <- n:
		return nil
	default:
		b.logger.Warn().Str("source", n.Source).Msg("dropping notification, queue full")
		return ErrFull
	}
}

// SubscribeOutbound registers fn under name, replacing any previous
// subscriber with that name.
func (b *MessageBus) SubscribeOutbound(name string, fn func(Notification)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[name] = fn
}

func (b *MessageBus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, name)
}

// DispatchOutbound delivers queued notifications to every subscriber, in
// name order, until ctx is done.
func (b *MessageBus) DispatchOutbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-b.outbound:
			b.deliver(n)
		}
	}
}

func (b *MessageBus) deliver(n Notification) {
	b.mu.RLock()
	names := make([]string, 0, len(b.subscribers))
	for name := range b.subscribers {
		names = append(names, name)
	}
	sort.Strings(names)
	fns := make([]func(Notification), 0, len(names))
	for _, name := range names {
		fns = append(fns, b.subscribers[name])
	}
	b.mu.RUnlock()

	if len(fns) == 0 {
		b.logger.Debug().Str("source", n.Source).Msg("no subscribers for notification")
	}
	for _, fn := range fns {
		fn(n)
	}
}
