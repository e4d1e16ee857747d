package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wyfcoding/jewelrycart/internal/cart/domain"
	"github.com/wyfcoding/jewelrycart/pkg/metrics"
)

func flush(t *testing.T, c interface{ Flush(context.Context) error }) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush error = %v", err)
	}
}

func TestCoalescerLatestSnapshotWins(t *testing.T) {
	store := newRecordingStore()
	c := NewSaveCoalescer(store, metrics.NopCollector{}, time.Second)
	defer c.Close(context.Background())

	entered, release := store.block()
	c.Save("cart_u1", []byte("v1"))
	<-entered

	// v1 正在写入，v2 被 v3 替换
	c.Save("cart_u1", []byte("v2"))
	c.Save("cart_u1", []byte("v3"))
	release()
	flush(t, c)

	got, err := store.Get(context.Background(), "cart_u1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v3" {
		t.Errorf("stored = %q, want v3", got)
	}
	if n := store.setCount("cart_u1"); n != 2 {
		t.Errorf("set count = %d, want 2", n)
	}
}

func TestCoalescerDeleteIsNotResurrected(t *testing.T) {
	store := newRecordingStore()
	c := NewSaveCoalescer(store, nil, time.Second)
	defer c.Close(context.Background())

	entered, release := store.block()
	c.Save("cart_u1", []byte("a"))
	<-entered
	c.Save("cart_u1", []byte("b"))
	c.Delete("cart_u1")
	release()
	flush(t, c)

	if _, err := store.Get(context.Background(), "cart_u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get after delete error = %v, want ErrNotFound", err)
	}
}

func TestCoalescerPeek(t *testing.T) {
	store := newRecordingStore()
	c := NewSaveCoalescer(store, nil, time.Second)
	defer c.Close(context.Background())

	entered, release := store.block()
	c.Save("cart_a", []byte("inflight"))
	<-entered
	c.Delete("cart_b")

	if data, deleted, ok := c.Peek("cart_a"); !ok || deleted || string(data) != "inflight" {
		t.Errorf("Peek(cart_a) = %q, %v, %v", data, deleted, ok)
	}
	if _, deleted, ok := c.Peek("cart_b"); !ok || !deleted {
		t.Errorf("Peek(cart_b) deleted=%v ok=%v", deleted, ok)
	}
	if _, _, ok := c.Peek("cart_c"); ok {
		t.Error("Peek(cart_c) found an op")
	}

	release()
	flush(t, c)
	if _, _, ok := c.Peek("cart_a"); ok {
		t.Error("Peek after flush still reports a pending op")
	}
}

func TestCoalescerFlushHonorsContext(t *testing.T) {
	store := newRecordingStore()
	c := NewSaveCoalescer(store, nil, time.Second)

	entered, release := store.block()
	c.Save("cart_u1", []byte("x"))
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Flush error = %v, want deadline exceeded", err)
	}

	release()
	if err := c.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestCoalescerCloseDrainsAndRejects(t *testing.T) {
	store := newRecordingStore()
	c := NewSaveCoalescer(store, nil, time.Second)

	for i := 0; i < 10; i++ {
		c.Save("cart_guest", []byte{byte('0' + i)})
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(context.Background(), "cart_guest")
	if err != nil || string(got) != "9" {
		t.Errorf("stored = %q, %v, want 9", got, err)
	}
	if err := c.Save("cart_guest", []byte("late")); !errors.Is(err, ErrCoalescerClosed) {
		t.Errorf("Save after Close error = %v", err)
	}
}

func TestCoalescerWriteFailureIsLogged(t *testing.T) {
	store := newRecordingStore()
	store.setErr = errStoreDown
	c := NewSaveCoalescer(store, nil, time.Second)
	defer c.Close(context.Background())

	c.Save("cart_u1", []byte("x"))
	flush(t, c)

	if _, err := store.Get(context.Background(), "cart_u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("failed write left data behind: %v", err)
	}
}
