package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFull(t *testing.T) {
	b := NewMessageBus(1)
	require.NoError(t, b.Publish(Notification{Text: "one"}))
	assert.ErrorIs(t, b.Publish(Notification{Text: "two"}), ErrFull)
}

func TestDispatchOutbound(t *testing.T) {
	b := NewMessageBus(4)

	var (
		mu  sync.Mutex
		got []string
	)
	record := func(prefix string) func(Notification) {
		return func(n Notification) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, prefix+":"+n.Text)
			assert.False(t, n.Time.IsZero())
		}
	}
	b.SubscribeOutbound("terminal", record("terminal"))
	b.SubscribeOutbound("phone", record("phone"))
	b.SubscribeOutbound("gone", record("gone"))
	b.Unsubscribe("gone")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.DispatchOutbound(ctx) }()

	require.NoError(t, b.Publish(Notification{Source: "reminder", Text: "stretch"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"phone:stretch", "terminal:stretch"}, got)
}
