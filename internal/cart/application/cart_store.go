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
	"go.opentelemetry.io/otel/trace"
)

const publishTimeout = 5 * time.Second

// CartStore 当前身份的购物车。
// 内存中的购物车是本进程的权威状态，持久化存储只是用于跨重启恢复的镜像。
type CartStore struct {
	identity  domain.IdentityProvider
	store     domain.DurableStore
	writer    *SaveCoalescer
	publisher domain.EventPublisher
	metrics   metrics.Collector
	tracer    trace.Tracer

	keyPrefix     string
	saveTimeout   time.Duration
	clearOnLogout bool

	mu     sync.Mutex
	cart   *domain.Cart
	loaded bool
	// loadSeq 每次 Load 开始时递增；mutations 每次内存变更时递增
	loadSeq   uint64
	mutations uint64

	unsubscribe func()
	events      *eventQueue
}

// Option CartStore 配置项
type Option func(*CartStore)

// WithPublisher 设置事件发布者
func WithPublisher(p domain.EventPublisher) Option {
	return func(s *CartStore) { s.publisher = p }
}

// WithMetrics 设置指标收集器
func WithMetrics(c metrics.Collector) Option {
	return func(s *CartStore) { s.metrics = c }
}

// WithKeyPrefix 设置身份键前缀
func WithKeyPrefix(prefix string) Option {
	return func(s *CartStore) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// WithSaveTimeout 设置单次写入超时
func WithSaveTimeout(d time.Duration) Option {
	return func(s *CartStore) { s.saveTimeout = d }
}

// WithClearOnLogout 登出时同时删除该用户的持久化购物车
func WithClearOnLogout(enabled bool) Option {
	return func(s *CartStore) { s.clearOnLogout = enabled }
}

// NewCartStore 创建购物车存储
func NewCartStore(identity domain.IdentityProvider, store domain.DurableStore, opts ...Option) *CartStore {
	s := &CartStore{
		identity:    identity,
		store:       store,
		metrics:     metrics.NopCollector{},
		tracer:      otel.Tracer(tracerName),
		keyPrefix:   domain.DefaultKeyPrefix,
		saveTimeout: DefaultSaveTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.writer = NewSaveCoalescer(store, s.metrics, s.saveTimeout)
	s.events = newEventQueue(s.publisher)
	return s
}

// Start 订阅身份变化并完成首次加载
func (s *CartStore) Start(ctx context.Context) {
	s.unsubscribe = s.identity.Subscribe(s.onIdentityChange)
	s.Load(ctx)
}

// Flush 等待所有排队的持久化操作完成
func (s *CartStore) Flush(ctx context.Context) error {
	return s.writer.Flush(ctx)
}

// Close 取消订阅，发完排队的事件，写完剩余快照
func (s *CartStore) Close(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if err := s.events.Close(ctx); err != nil {
		logger.Warn(ctx, "cart events not fully published", "error", err)
	}
	return s.writer.Close(ctx)
}

// ResolveIdentityKey 根据当前身份计算持久化键；身份解析失败时按游客处理
func (s *CartStore) ResolveIdentityKey(ctx context.Context) string {
	userID, ok, err := s.identity.CurrentUserID(ctx)
	if err != nil {
		logger.Warn(ctx, "identity resolution failed, falling back to guest", "error", err)
		return domain.IdentityKey(s.keyPrefix, "")
	}
	if !ok {
		userID = ""
	}
	return domain.IdentityKey(s.keyPrefix, userID)
}

// Load 按当前身份键读取持久化购物车并替换内存购物车。
// 记录不存在、读取失败或内容损坏时都得到空购物车，错误只记录日志。
func (s *CartStore) Load(ctx context.Context) *domain.Cart {
	s.mu.Lock()
	s.loadSeq++
	seq, gen := s.loadSeq, s.mutations
	s.mu.Unlock()

	key := s.ResolveIdentityKey(ctx)

	ctx, span := s.tracer.Start(ctx, "cart.load", trace.WithAttributes(attribute.String("cart.identity_key", key)))
	defer span.End()

	lines, result := s.read(ctx, key)
	s.metrics.RecordLoad(result)
	span.SetAttributes(attribute.String("cart.load_result", result), attribute.Int("cart.lines", len(lines)))

	s.mu.Lock()
	// 并发加载时只接受最后一次发起的结果
	if seq != s.loadSeq {
		snapshot := s.snapshotLocked()
		s.mu.Unlock()
		return snapshot
	}
	// 读取期间同一键上发生了变更：内存已包含该变更且其快照已入队，读到的结果已过期
	if gen != s.mutations && s.cart != nil && s.cart.IdentityKey == key {
		s.loaded = true
		snapshot := s.cart.Clone()
		s.mu.Unlock()
		logger.Debug(ctx, "cart changed during load, keeping in-memory state", "key", key)
		return snapshot
	}
	s.cart = &domain.Cart{IdentityKey: key, Lines: lines}
	s.loaded = true
	s.metrics.SetCartLines(len(lines))
	snapshot := s.cart.Clone()
	s.publishLocked(domain.EventCartLoaded, key, domain.CartLoadedEvent{
		IdentityKey: key,
		Lines:       len(lines),
		Timestamp:   time.Now(),
	})
	s.mu.Unlock()

	logger.Debug(ctx, "cart loaded", "key", key, "lines", len(lines), "result", result)
	return snapshot
}

func (s *CartStore) read(ctx context.Context, key string) ([]domain.CartLine, string) {
	// 尚未落盘的操作优先，保证读到自己的写入
	if data, deleted, ok := s.writer.Peek(key); ok {
		if deleted {
			return []domain.CartLine{}, metrics.LoadPending
		}
		lines, err := domain.UnmarshalLines(data)
		if err != nil {
			logger.Error(ctx, "queued cart snapshot is corrupt", "key", key, "error", err)
			return []domain.CartLine{}, metrics.LoadCorrupt
		}
		return lines, metrics.LoadPending
	}

	start := time.Now()
	data, err := s.store.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		s.metrics.RecordStoreOp("get", time.Since(start), nil)
		return []domain.CartLine{}, metrics.LoadMiss
	}
	s.metrics.RecordStoreOp("get", time.Since(start), err)
	if err != nil {
		logger.Error(ctx, "failed to read cart", "key", key, "error", err)
		return []domain.CartLine{}, metrics.LoadError
	}

	lines, err := domain.UnmarshalLines(data)
	if err != nil {
		logger.Warn(ctx, "discarding corrupt cart", "key", key, "error", err)
		return []domain.CartLine{}, metrics.LoadCorrupt
	}
	return lines, metrics.LoadHit
}

func (s *CartStore) onIdentityChange(change domain.IdentityChange) {
	ctx := context.Background()
	logger.Info(ctx, "identity changed, reloading cart",
		"reason", string(change.Reason),
		"previous_user", change.PreviousUserID,
		"user", change.UserID,
	)

	if s.clearOnLogout && change.Reason == domain.ReasonLogout && change.PreviousUserID != "" {
		key := domain.IdentityKey(s.keyPrefix, change.PreviousUserID)
		if err := s.writer.Delete(key); err != nil {
			logger.Warn(ctx, "failed to queue cart delete on logout", "key", key, "error", err)
		}
	}
	s.Load(ctx)
}

// ensureCartLocked 保证内存购物车存在；首次加载前的变更作用于绑定到当前身份键的空购物车。
// 调用方持有 s.mu，解析身份时会临时释放锁。
func (s *CartStore) ensureCartLocked(ctx context.Context) {
	if s.cart != nil {
		return
	}
	s.mu.Unlock()
	key := s.ResolveIdentityKey(ctx)
	s.mu.Lock()
	if s.cart == nil {
		s.cart = domain.NewCart(key)
	}
}

// persistLocked 把当前购物车快照交给写入器。调用方持有 s.mu，以保证入队顺序与变更顺序一致
func (s *CartStore) persistLocked(ctx context.Context) {
	s.mutations++
	key := s.cart.IdentityKey
	data, err := domain.MarshalLines(s.cart.Lines)
	if err != nil {
		logger.Error(ctx, "failed to encode cart", "key", key, "error", err)
		return
	}
	if err := s.writer.Save(key, data); err != nil {
		logger.Warn(ctx, "cart snapshot dropped", "key", key, "error", err)
	}
}

func (s *CartStore) snapshotLocked() *domain.Cart {
	if s.cart == nil {
		return domain.NewCart("")
	}
	return s.cart.Clone()
}

// publishLocked 事件按变更顺序入队。调用方持有 s.mu
func (s *CartStore) publishLocked(eventType, key string, event any) {
	s.events.enqueue(eventType, key, event)
}
