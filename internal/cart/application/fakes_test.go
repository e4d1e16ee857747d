package application

import (
	"context"
	"errors"
	"sync"

	"github.com/wyfcoding/jewelrycart/internal/cart/domain"
	"github.com/wyfcoding/jewelrycart/internal/cart/infrastructure/persistence/memory"
)

type fakeIdentity struct {
	mu        sync.Mutex
	userID    string
	err       error
	observers []func(domain.IdentityChange)
}

func (f *fakeIdentity) CurrentUserID(ctx context.Context) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", false, f.err
	}
	return f.userID, f.userID != "", nil
}

func (f *fakeIdentity) Subscribe(fn func(domain.IdentityChange)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observers = append(f.observers, fn)
	idx := len(f.observers) - 1
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.observers[idx] = nil
	}
}

func (f *fakeIdentity) switchTo(userID string, reason domain.ChangeReason) {
	f.mu.Lock()
	prev := f.userID
	f.userID = userID
	observers := append([]func(domain.IdentityChange){}, f.observers...)
	f.mu.Unlock()

	for _, fn := range observers {
		if fn != nil {
			fn(domain.IdentityChange{PreviousUserID: prev, UserID: userID, Reason: reason})
		}
	}
}

// recordingStore 包装内存存储，可注入错误并阻塞写入
type recordingStore struct {
	*memory.KVStore

	mu      sync.Mutex
	sets    map[string]int
	getErr  error
	setErr  error
	gate    chan struct{}
	entered chan struct{}

	getGate    chan struct{}
	getEntered chan struct{}
}

func newRecordingStore() *recordingStore {
	return &recordingStore{KVStore: memory.NewKVStore(), sets: make(map[string]int)}
}

func (s *recordingStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	err, gate, entered := s.getErr, s.getGate, s.getEntered
	s.mu.Unlock()
	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return s.KVStore.Get(ctx, key)
}

func (s *recordingStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	gate, entered, err := s.gate, s.entered, s.setErr
	s.sets[key]++
	s.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}
	return s.KVStore.Set(ctx, key, value)
}

func (s *recordingStore) setCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets[key]
}

// block 让后续写入阻塞，直到返回的函数被调用
func (s *recordingStore) block() (entered <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	s.entered = make(chan struct{}, 1)
	gate := s.gate
	return s.entered, func() {
		s.mu.Lock()
		s.gate = nil
		s.mu.Unlock()
		close(gate)
	}
}

// blockGet 让后续读取阻塞，直到返回的函数被调用
func (s *recordingStore) blockGet() (entered <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getGate = make(chan struct{})
	s.getEntered = make(chan struct{}, 1)
	gate := s.getGate
	return s.getEntered, func() {
		s.mu.Lock()
		s.getGate = nil
		s.mu.Unlock()
		close(gate)
	}
}

var errStoreDown = errors.New("store unavailable")

type fakeGateway struct {
	mu       sync.Mutex
	requests []domain.OrderRequest
	err      error
	gate     chan struct{}
	entered  chan struct{}
}

func (g *fakeGateway) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderReceipt, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	gate, entered, err := g.gate, g.entered, g.err
	g.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &domain.OrderReceipt{OrderID: "o-1", Status: "created"}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	// 每条 cart.item.added 事件携带的数量，按发布顺序
	added []int
}

func (p *recordingPublisher) Publish(ctx context.Context, eventType, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType+"@"+key)
	if ev, ok := event.(domain.CartItemAddedEvent); ok {
		p.added = append(p.added, ev.Quantity)
	}
	return nil
}

func (p *recordingPublisher) has(entry string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.events {
		if e == entry {
			return true
		}
	}
	return false
}
