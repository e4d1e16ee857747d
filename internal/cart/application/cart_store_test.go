package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/jewelrycart/internal/cart/domain"
)

func item(id, price string) domain.Item {
	return domain.Item{ProductID: id, UnitPrice: decimal.RequireFromString(price), Name: "item " + id}
}

func newTestStore(t *testing.T, identity *fakeIdentity, store domain.DurableStore, opts ...Option) *CartStore {
	t.Helper()
	s := NewCartStore(identity, store, opts...)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Close(ctx)
	})
	return s
}

func quantities(lines []domain.CartLine) map[string]int {
	out := make(map[string]int, len(lines))
	for _, l := range lines {
		out[l.ItemID] = l.Quantity
	}
	return out
}

func TestResolveIdentityKey(t *testing.T) {
	identity := &fakeIdentity{}
	s := NewCartStore(identity, newRecordingStore(), WithKeyPrefix("cart_"))
	defer s.Close(context.Background())
	ctx := context.Background()

	if got := s.ResolveIdentityKey(ctx); got != "cart_guest" {
		t.Errorf("guest key = %q", got)
	}
	identity.userID = "u42"
	if got := s.ResolveIdentityKey(ctx); got != "cart_u42" {
		t.Errorf("user key = %q", got)
	}
	identity.err = errors.New("token store locked")
	if got := s.ResolveIdentityKey(ctx); got != "cart_guest" {
		t.Errorf("key on identity error = %q, want guest", got)
	}
}

func TestStartLoadsPersistedCart(t *testing.T) {
	store := newRecordingStore()
	store.KVStore.Set(context.Background(), "cart_u1", []byte(`[{"itemId":"p1","unitPrice":"100","quantity":2}]`))

	s := newTestStore(t, &fakeIdentity{userID: "u1"}, store)

	if !s.Loaded() {
		t.Fatal("Loaded() = false after Start")
	}
	if s.IdentityKey() != "cart_u1" {
		t.Errorf("IdentityKey() = %q", s.IdentityKey())
	}
	if got := s.GetTotalPrice(); !got.Equal(decimal.NewFromInt(200)) {
		t.Errorf("total = %s, want 200", got)
	}
}

func TestLoadFailsSoft(t *testing.T) {
	tests := []struct {
		name   string
		stored string
		getErr error
	}{
		{name: "corrupt payload", stored: `{not json`},
		{name: "negative price", stored: `[{"itemId":"a","unitPrice":"-5","quantity":1}]`},
		{name: "read error", getErr: errStoreDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newRecordingStore()
			if tt.stored != "" {
				store.KVStore.Set(context.Background(), "cart_guest", []byte(tt.stored))
			}
			store.getErr = tt.getErr

			s := newTestStore(t, &fakeIdentity{}, store)
			cart := s.Load(context.Background())
			if !cart.IsEmpty() {
				t.Errorf("Load() = %+v, want empty", cart.Lines)
			}
			if !s.Loaded() {
				t.Error("store not marked loaded after soft failure")
			}
		})
	}
}

func TestClearThenLoadIsEmpty(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	s := newTestStore(t, &fakeIdentity{userID: "u1"}, store)

	s.AddToCart(ctx, item("p1", "10"))
	s.AddToCart(ctx, item("p2", "20"))
	flush(t, s)

	s.Clear(ctx)
	if len(s.Lines()) != 0 {
		t.Fatalf("Lines() after Clear = %+v", s.Lines())
	}
	if cart := s.Load(ctx); !cart.IsEmpty() {
		t.Errorf("Load() after Clear = %+v", cart.Lines)
	}

	flush(t, s)
	if _, err := store.Get(ctx, "cart_u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("record still present after Clear: %v", err)
	}
}

func TestIdentitySwitchIsolatesCarts(t *testing.T) {
	ctx := context.Background()
	identity := &fakeIdentity{}
	store := newRecordingStore()
	s := newTestStore(t, identity, store)

	s.AddToCart(ctx, item("A", "100"))

	identity.switchTo("u1", domain.ReasonLogin)
	if s.IdentityKey() != "cart_u1" {
		t.Fatalf("IdentityKey() after login = %q", s.IdentityKey())
	}
	if q := quantities(s.Lines()); q["A"] != 0 {
		t.Fatalf("guest line A visible to u1: %v", q)
	}

	s.AddToCart(ctx, item("B", "50"))

	identity.switchTo("", domain.ReasonLogout)
	q := quantities(s.Lines())
	if q["A"] != 1 || q["B"] != 0 {
		t.Fatalf("guest cart after logout = %v, want only A", q)
	}

	identity.switchTo("u1", domain.ReasonLogin)
	q = quantities(s.Lines())
	if q["B"] != 1 || q["A"] != 0 {
		t.Fatalf("u1 cart after re-login = %v, want only B", q)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	identity := &fakeIdentity{userID: "u9"}
	s := newTestStore(t, identity, store)

	cart := domain.NewCart("cart_u9")
	cart.Add(item("p1", "12.5"))
	cart.Add(item("p1", "12.5"))
	cart.Add(item("p2", "3"))
	s.Save(ctx, cart)

	loaded := s.Load(ctx)
	if !loaded.Total().Equal(cart.Total()) {
		t.Errorf("total = %s, want %s", loaded.Total(), cart.Total())
	}
	want := quantities(cart.Lines)
	got := quantities(loaded.Lines)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("lines = %v, want %v", got, want)
	}

	// 新进程从持久化存储恢复
	flush(t, s)
	restarted := newTestStore(t, identity, store)
	if got := quantities(restarted.Lines()); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("after restart lines = %v, want %v", got, want)
	}
}

func TestLoadSeesQueuedSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	s := newTestStore(t, &fakeIdentity{}, store)

	entered, release := store.block()
	defer release()
	s.AddToCart(ctx, item("p1", "1"))
	<-entered
	s.AddToCart(ctx, item("p2", "1"))

	cart := s.Load(ctx)
	if q := quantities(cart.Lines); q["p1"] != 1 || q["p2"] != 1 {
		t.Errorf("Load() during pending writes = %v", q)
	}
}

func TestRapidMutationsConverge(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	s := newTestStore(t, &fakeIdentity{userID: "u1"}, store)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				s.AddToCart(ctx, item(fmt.Sprintf("p%d", i%5), "1"))
				if i%3 == 0 {
					s.DecreaseQuantity(ctx, fmt.Sprintf("p%d", (i+g)%5))
				}
			}
		}(g)
	}
	wg.Wait()
	flush(t, s)

	data, err := store.Get(ctx, "cart_u1")
	if err != nil {
		t.Fatal(err)
	}
	persisted, err := domain.UnmarshalLines(data)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := quantities(persisted), quantities(s.Lines()); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("persisted = %v, in memory = %v", got, want)
	}
}

func TestMutationBeforeLoadBindsResolvedKey(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	s := NewCartStore(&fakeIdentity{userID: "u5"}, store)
	defer s.Close(ctx)

	if _, err := s.AddToCart(ctx, item("p1", "5")); err != nil {
		t.Fatal(err)
	}
	if s.Loaded() {
		t.Error("Loaded() = true without a load")
	}
	if s.IdentityKey() != "cart_u5" {
		t.Errorf("IdentityKey() = %q", s.IdentityKey())
	}
	flush(t, s)
	if _, err := store.Get(ctx, "cart_u5"); err != nil {
		t.Errorf("mutation not persisted under cart_u5: %v", err)
	}
}

func TestDecreaseAbsentIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	s := newTestStore(t, &fakeIdentity{}, store)

	s.DecreaseQuantity(ctx, "missing")
	flush(t, s)
	if n := store.setCount("cart_guest"); n != 0 {
		t.Errorf("no-op decrease wrote %d snapshots", n)
	}
}

func TestWriteFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	store.setErr = errStoreDown
	s := newTestStore(t, &fakeIdentity{}, store)

	if _, err := s.AddToCart(ctx, item("p1", "7")); err != nil {
		t.Fatalf("AddToCart error = %v", err)
	}
	flush(t, s)
	if s.ItemCount() != 1 {
		t.Errorf("ItemCount() = %d, want 1", s.ItemCount())
	}
}

func TestAddToCartRejectsInvalidItem(t *testing.T) {
	s := newTestStore(t, &fakeIdentity{}, newRecordingStore())
	if _, err := s.AddToCart(context.Background(), domain.Item{UnitPrice: decimal.NewFromInt(1)}); !errors.Is(err, domain.ErrMissingItemID) {
		t.Errorf("error = %v, want ErrMissingItemID", err)
	}
}

func TestClearOnLogout(t *testing.T) {
	ctx := context.Background()
	identity := &fakeIdentity{userID: "u1"}
	store := newRecordingStore()
	s := newTestStore(t, identity, store, WithClearOnLogout(true))

	s.AddToCart(ctx, item("p1", "1"))
	identity.switchTo("", domain.ReasonLogout)
	flush(t, s)

	if _, err := store.Get(ctx, "cart_u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("u1 cart kept after logout: %v", err)
	}
}

func TestEventsPublished(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	s := NewCartStore(&fakeIdentity{}, newRecordingStore(), WithPublisher(pub))
	s.Start(ctx)

	s.AddToCart(ctx, item("p1", "1"))
	s.AddToCart(ctx, item("p1", "1"))
	s.DecreaseQuantity(ctx, "p1")
	s.DecreaseQuantity(ctx, "p1")
	s.Clear(ctx)
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		domain.EventCartLoaded + "@cart_guest",
		domain.EventCartItemAdded + "@cart_guest",
		domain.EventCartItemDecrease + "@cart_guest",
		domain.EventCartItemRemoved + "@cart_guest",
		domain.EventCartCleared + "@cart_guest",
	} {
		if !pub.has(want) {
			t.Errorf("missing event %s", want)
		}
	}
}

func TestLoadKeepsMutationMadeDuringRead(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	s := newTestStore(t, &fakeIdentity{userID: "u1"}, store)

	entered, release := store.blockGet()
	loaded := make(chan *domain.Cart, 1)
	go func() { loaded <- s.Load(ctx) }()
	<-entered

	s.AddToCart(ctx, item("A", "10"))
	release()
	if q := quantities((<-loaded).Lines); q["A"] != 1 {
		t.Errorf("Load() result = %v, want A kept", q)
	}

	s.AddToCart(ctx, item("B", "5"))
	flush(t, s)

	if q := quantities(s.Lines()); q["A"] != 1 || q["B"] != 1 {
		t.Errorf("in memory = %v, want A and B", q)
	}
	data, err := store.Get(ctx, "cart_u1")
	if err != nil {
		t.Fatal(err)
	}
	persisted, err := domain.UnmarshalLines(data)
	if err != nil {
		t.Fatal(err)
	}
	if q := quantities(persisted); q["A"] != 1 || q["B"] != 1 {
		t.Errorf("persisted = %v, want A and B", q)
	}
}

func TestLoadForNewKeyReplacesOldKeyMutation(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	store.KVStore.Set(ctx, "cart_u2", []byte(`[{"itemId":"saved","unitPrice":"1","quantity":3}]`))
	identity := &fakeIdentity{userID: "u1"}
	s := newTestStore(t, identity, store)

	identity.mu.Lock()
	identity.userID = "u2"
	identity.mu.Unlock()

	entered, release := store.blockGet()
	loaded := make(chan *domain.Cart, 1)
	go func() { loaded <- s.Load(ctx) }()
	<-entered

	// 仍绑定在 cart_u1 上的内存购物车
	s.AddToCart(ctx, item("A", "10"))
	release()

	cart := <-loaded
	if cart.IdentityKey != "cart_u2" {
		t.Fatalf("IdentityKey = %q", cart.IdentityKey)
	}
	if q := quantities(cart.Lines); q["saved"] != 3 || q["A"] != 0 {
		t.Errorf("u2 cart = %v", q)
	}
	flush(t, s)
	if _, err := store.Get(ctx, "cart_u1"); err != nil {
		t.Errorf("u1 mutation not persisted: %v", err)
	}
}

func TestEventsPublishedInMutationOrder(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	s := NewCartStore(&fakeIdentity{}, newRecordingStore(), WithPublisher(pub))
	s.Start(ctx)

	for i := 0; i < 20; i++ {
		s.AddToCart(ctx, item("p1", "1"))
	}
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.added) != 20 {
		t.Fatalf("published %d add events, want 20", len(pub.added))
	}
	for i, q := range pub.added {
		if q != i+1 {
			t.Fatalf("add events out of order: %v", pub.added)
		}
	}
}
