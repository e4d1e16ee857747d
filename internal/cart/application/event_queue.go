package application

import (
	"context"
	"sync"

	"github.com/wyfcoding/jewelrycart/internal/cart/domain"
	"github.com/wyfcoding/jewelrycart/pkg/logger"
)

type queuedEvent struct {
	eventType string
	key       string
	event     any
}

// eventQueue 由单个协程按入队顺序发布购物车事件，同一身份键的事件在 Kafka 分区内保持变更顺序
type eventQueue struct {
	publisher domain.EventPublisher

	mu      sync.Mutex
	pending []queuedEvent
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// newEventQueue publisher 为空时返回的队列丢弃所有事件
func newEventQueue(publisher domain.EventPublisher) *eventQueue {
	q := &eventQueue{
		publisher: publisher,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	if publisher == nil {
		q.closed = true
		close(q.done)
		return q
	}
	go q.run()
	return q
}

// enqueue 不阻塞，可在持有业务锁时调用
func (q *eventQueue) enqueue(eventType, key string, event any) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, queuedEvent{eventType: eventType, key: key, event: event})
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run() {
	defer close(q.done)
	for range q.wake {
		for {
			q.mu.Lock()
			batch := q.pending
			q.pending = nil
			closed := q.closed
			q.mu.Unlock()

			if len(batch) == 0 {
				if closed {
					return
				}
				break
			}
			for _, ev := range batch {
				q.publish(ev)
			}
		}
	}
}

func (q *eventQueue) publish(ev queuedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := q.publisher.Publish(ctx, ev.eventType, ev.key, ev.event); err != nil {
		logger.Warn(ctx, "failed to publish cart event", "event", ev.eventType, "key", ev.key, "error", err)
	}
}

// Close 拒绝新事件并等待已入队事件发完
func (q *eventQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	alreadyClosed := q.closed
	q.closed = true
	q.mu.Unlock()
	if !alreadyClosed {
		q.signal()
	}

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
