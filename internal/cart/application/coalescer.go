package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wyfcoding/jewelrycart/internal/cart/domain"
	"github.com/wyfcoding/jewelrycart/pkg/logger"
	"github.com/wyfcoding/jewelrycart/pkg/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/wyfcoding/jewelrycart/internal/cart/application"

// DefaultSaveTimeout 单次持久化写入超时
const DefaultSaveTimeout = 3 * time.Second

// ErrCoalescerClosed 写入器已关闭
var ErrCoalescerClosed = errors.New("save coalescer closed")

type opKind int

const (
	opSet opKind = iota
	opDelete
)

func (k opKind) String() string {
	if k == opDelete {
		return "delete"
	}
	return "set"
}

type pendingOp struct {
	kind opKind
	data []byte
}

// SaveCoalescer 后台单协程写入器。
// 每个键只保留最新的一次待写操作，较旧的快照在写入前被替换，因此不会出现旧状态覆盖新状态。
type SaveCoalescer struct {
	store   domain.DurableStore
	metrics metrics.Collector
	timeout time.Duration
	tracer  trace.Tracer

	mu          sync.Mutex
	pending     map[string]pendingOp
	order       []string
	inflightKey string
	inflight    *pendingOp
	waiters     []chan struct{}
	closed      bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewSaveCoalescer 创建并启动写入器
func NewSaveCoalescer(store domain.DurableStore, collector metrics.Collector, timeout time.Duration) *SaveCoalescer {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if timeout <= 0 {
		timeout = DefaultSaveTimeout
	}
	c := &SaveCoalescer{
		store:   store,
		metrics: collector,
		timeout: timeout,
		tracer:  otel.Tracer(tracerName),
		pending: make(map[string]pendingOp),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

// Save 排队写入 key 的完整快照
func (c *SaveCoalescer) Save(key string, data []byte) error {
	return c.enqueue(key, pendingOp{kind: opSet, data: data})
}

// Delete 排队删除 key，与写入走同一队列，已排队的写入不会复活已删除的记录
func (c *SaveCoalescer) Delete(key string) error {
	return c.enqueue(key, pendingOp{kind: opDelete})
}

func (c *SaveCoalescer) enqueue(key string, op pendingOp) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrCoalescerClosed
	}
	if _, ok := c.pending[key]; ok {
		c.metrics.RecordSaveCoalesced()
	} else {
		c.order = append(c.order, key)
	}
	c.pending[key] = op
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Peek 返回 key 尚未落盘的最新操作。deleted 为 true 表示最新操作是删除
func (c *SaveCoalescer) Peek(key string) (data []byte, deleted, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	op, found := c.pending[key]
	if !found && c.inflight != nil && c.inflightKey == key {
		op, found = *c.inflight, true
	}
	if !found {
		return nil, false, false
	}
	return op.data, op.kind == opDelete, true
}

// Flush 等待队列中所有操作写完
func (c *SaveCoalescer) Flush(ctx context.Context) error {
	c.mu.Lock()
	if len(c.order) == 0 && c.inflight == nil {
		c.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接收新操作，写完剩余队列后退出后台协程
func (c *SaveCoalescer) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.Flush(ctx)
	close(c.stop)

	select {
	case <-c.done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

func (c *SaveCoalescer) run() {
	defer close(c.done)
	for {
		key, op, ok := c.next()
		if ok {
			c.apply(key, op)
			c.mu.Lock()
			c.inflight = nil
			c.inflightKey = ""
			c.mu.Unlock()
			continue
		}

		select {
		case <-c.wake:
		case <-c.stop:
			return
		}
	}
}

// next 取出队首操作；队列为空时唤醒所有 Flush 等待者
func (c *SaveCoalescer) next() (string, pendingOp, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.order) == 0 {
		for _, ch := range c.waiters {
			close(ch)
		}
		c.waiters = nil
		return "", pendingOp{}, false
	}

	key := c.order[0]
	c.order = c.order[1:]
	op := c.pending[key]
	delete(c.pending, key)
	c.inflightKey = key
	c.inflight = &op
	return key, op, true
}

func (c *SaveCoalescer) apply(key string, op pendingOp) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "cart.persist", trace.WithAttributes(
		attribute.String("cart.identity_key", key),
		attribute.String("cart.op", op.kind.String()),
	))
	defer span.End()

	start := time.Now()
	var err error
	switch op.kind {
	case opDelete:
		err = c.store.Delete(ctx, key)
	default:
		err = c.store.Set(ctx, key, op.data)
	}
	c.metrics.RecordStoreOp(op.kind.String(), time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error(ctx, "failed to persist cart", "key", key, "op", op.kind.String(), "error", err)
		return
	}
	logger.Debug(ctx, "cart persisted", "key", key, "op", op.kind.String(), "bytes", len(op.data))
}
