package events_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mautops/moderation-gin/internal/events"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBus_PublishSubscribe 测试所有订阅者都收到事件
func TestBus_PublishSubscribe(t *testing.T) {
	bus := events.NewBus(logrus.New())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	received := map[string][]events.Type{}
	for _, name := range []string{"webhooks", "cache"} {
		name := name
		require.NoError(t, bus.Subscribe(ctx, name, func(_ context.Context, e *events.Event) error {
			mu.Lock()
			defer mu.Unlock()
			received[name] = append(received[name], e.Type)
			return nil
		}))
	}

	require.NoError(t, bus.Publish(ctx,
		&events.Event{Type: events.WorkflowApproved, PageID: "p1"},
		&events.Event{Type: events.PagePublished, PageID: "p1"},
	))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received["webhooks"]) == 2 && len(received["cache"]) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.Type{events.WorkflowApproved, events.PagePublished}, received["webhooks"])
}

// TestBus_HandlerErrorDoesNotRedeliver 测试处理失败不会重复投递
func TestBus_HandlerErrorDoesNotRedeliver(t *testing.T) {
	bus := events.NewBus(logrus.New())
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	require.NoError(t, bus.Subscribe(ctx, "failing", func(context.Context, *events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return assert.AnError
	}))

	require.NoError(t, bus.Publish(ctx, &events.Event{Type: events.TaskStarted, PageID: "p1"}))
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}
