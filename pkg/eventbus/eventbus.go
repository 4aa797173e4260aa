// Package eventbus implements the at-least-once notification bus described
// in §4.4: after every successful transition a Notification is published to
// every subscription whose filter matches. It is the only component in the
// system that retries — with capped exponential backoff — grounded on the
// teacher's poll-until-deadline idiom in pkg/node/node.go
// (waitForSharesWithRetry / waitForAcknowledgements), generalized from a
// fixed-interval poll into per-subscription backoff.
package eventbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Notification is the payload published after every successful transition.
type Notification struct {
	Category    string
	Subcategory string
	MessageType string
	Operation   string
	Content     any
	PublishedAt time.Time
}

// Filter decides whether a subscription wants a given notification.
type Filter func(Notification) bool

// Deliverer is the subscriber-supplied sink. An error means delivery
// failed and should be retried.
type Deliverer func(context.Context, Notification) error

const (
	maxRetries  = 8
	baseBackoff = 200 * time.Millisecond
	maxBackoff  = 30 * time.Second
)

type subscription struct {
	id      int64
	filter  Filter
	deliver Deliverer
	limiter *rate.Limiter
}

// Bus is an in-process publish/subscribe hub.
type Bus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	nextID int64
	subs   map[int64]*subscription

	wg sync.WaitGroup
}

// New constructs an empty Bus.
func New(logger *zap.Logger) *Bus {
	return &Bus{logger: logger, subs: make(map[int64]*subscription)}
}

// Subscribe registers deliver to receive every notification filter admits.
// It returns an unsubscribe function.
func (b *Bus) Subscribe(filter Filter, deliver Deliverer) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = &subscription{
		id:      id,
		filter:  filter,
		deliver: deliver,
		limiter: rate.NewLimiter(rate.Every(baseBackoff), 1),
	}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish fans n out to every matching subscription. Publish itself never
// blocks on delivery: each delivery attempt (and its retries) runs in its
// own goroutine so a slow or failing subscriber cannot hold up the
// transition that produced the notification. Delivery failures are logged,
// never propagated to the caller — per §7, event-bus failures do not roll
// back the transition that triggered them.
func (b *Bus) Publish(ctx context.Context, n Notification) {
	if n.PublishedAt.IsZero() {
		n.PublishedAt = time.Now()
	}

	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter == nil || s.filter(n) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	// Deliveries outlive the call that triggered them — often a request
	// whose context is cancelled the moment its handler returns — so
	// retries run against a detached context that keeps any values but
	// drops ctx's own cancellation.
	deliveryCtx := context.WithoutCancel(ctx)
	for _, s := range matched {
		b.wg.Add(1)
		go b.deliverWithRetry(deliveryCtx, s, n)
	}
}

func (b *Bus) deliverWithRetry(ctx context.Context, s *subscription, n Notification) {
	defer b.wg.Done()

	backoff := baseBackoff
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := s.deliver(ctx, n); err == nil {
			return
		} else if attempt == maxRetries-1 {
			if b.logger != nil {
				b.logger.Sugar().Errorw("event bus delivery exhausted retries",
					"subscriptionID", s.id, "category", n.Category, "messageType", n.MessageType, "error", err)
			}
			return
		} else if b.logger != nil {
			b.logger.Sugar().Warnw("event bus delivery failed, retrying",
				"subscriptionID", s.id, "attempt", attempt, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Wait blocks until every in-flight delivery (including retries) finishes.
// Used by graceful shutdown to drain the bus before exiting.
func (b *Bus) Wait() { b.wg.Wait() }
