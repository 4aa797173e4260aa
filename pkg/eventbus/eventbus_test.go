package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_DeliversOnlyToMatchingSubscriptions(t *testing.T) {
	bus := New(nil)

	var matched, unmatched int32
	bus.Subscribe(func(n Notification) bool { return n.Category == "negotiation" }, func(_ context.Context, _ Notification) error {
		atomic.AddInt32(&matched, 1)
		return nil
	})
	bus.Subscribe(func(n Notification) bool { return n.Category == "transfer" }, func(_ context.Context, _ Notification) error {
		atomic.AddInt32(&unmatched, 1)
		return nil
	})

	bus.Publish(context.Background(), Notification{Category: "negotiation", MessageType: "ContractOfferMessage"})
	bus.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&matched))
	assert.Equal(t, int32(0), atomic.LoadInt32(&unmatched))
}

func TestPublish_NilFilterReceivesEverything(t *testing.T) {
	bus := New(nil)
	var count int32
	bus.Subscribe(nil, func(_ context.Context, _ Notification) error {
		atomic.AddInt32(&count, 1)
		return nil
	})

	bus.Publish(context.Background(), Notification{Category: "a"})
	bus.Publish(context.Background(), Notification{Category: "b"})
	bus.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&count))
}

func TestPublish_RetriesUntilSuccess(t *testing.T) {
	bus := New(nil)
	var attempts int32
	done := make(chan struct{})

	bus.Subscribe(nil, func(_ context.Context, _ Notification) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return errors.New("transient failure")
		}
		close(done)
		return nil
	})

	bus.Publish(context.Background(), Notification{Category: "retry-me"})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("delivery did not succeed within the retry window")
	}
	bus.Wait()
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))
}

func TestUnsubscribe_StopsFurtherDelivery(t *testing.T) {
	bus := New(nil)
	var count int32
	unsubscribe := bus.Subscribe(nil, func(_ context.Context, _ Notification) error {
		atomic.AddInt32(&count, 1)
		return nil
	})

	bus.Publish(context.Background(), Notification{Category: "before"})
	bus.Wait()
	unsubscribe()
	bus.Publish(context.Background(), Notification{Category: "after"})
	bus.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestPublish_StampsPublishedAtWhenZero(t *testing.T) {
	bus := New(nil)
	var mu sync.Mutex
	var seen Notification
	bus.Subscribe(nil, func(_ context.Context, n Notification) error {
		mu.Lock()
		seen = n
		mu.Unlock()
		return nil
	})

	before := time.Now()
	bus.Publish(context.Background(), Notification{Category: "stamped"})
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.False(t, seen.PublishedAt.IsZero())
	assert.True(t, !seen.PublishedAt.Before(before))
}
