package identity

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/wyfcoding/jewelrycart/internal/cart/domain"
	"github.com/wyfcoding/jewelrycart/internal/cart/infrastructure/persistence/memory"
)

func TestSessionLoginLogoutNotifies(t *testing.T) {
	ctx := context.Background()
	store := memory.NewKVStore()
	s := NewSession(store, nil)

	var changes []domain.IdentityChange
	unsubscribe := s.Subscribe(func(c domain.IdentityChange) {
		changes = append(changes, c)
	})

	id, err := s.Login(ctx, LoginData{Token: "opaque", RefreshToken: "r", User: &UserProfile{MongoID: "u42", ID: "ignored"}})
	if err != nil {
		t.Fatalf("Login error = %v", err)
	}
	if id != "u42" {
		t.Errorf("Login user id = %q, want u42", id)
	}
	if got, ok, _ := s.CurrentUserID(ctx); !ok || got != "u42" {
		t.Errorf("CurrentUserID = %q, %v", got, ok)
	}
	if !s.IsAuthenticated() {
		t.Error("IsAuthenticated = false after login")
	}

	if err := s.Logout(ctx); err != nil {
		t.Fatalf("Logout error = %v", err)
	}
	if _, ok, _ := s.CurrentUserID(ctx); ok {
		t.Error("still identified after logout")
	}
	if len(store.Keys()) != 0 {
		t.Errorf("auth data left after logout: %v", store.Keys())
	}

	if len(changes) != 2 {
		t.Fatalf("got %d notifications, want 2", len(changes))
	}
	if changes[0].Reason != domain.ReasonLogin || changes[0].UserID != "u42" {
		t.Errorf("login change = %+v", changes[0])
	}
	if changes[1].Reason != domain.ReasonLogout || changes[1].PreviousUserID != "u42" || changes[1].UserID != "" {
		t.Errorf("logout change = %+v", changes[1])
	}

	unsubscribe()
	if _, err := s.Login(ctx, LoginData{Token: "opaque", User: &UserProfile{ID: "u7"}}); err != nil {
		t.Fatal(err)
	}
	if len(changes) != 2 {
		t.Errorf("observer called after unsubscribe")
	}
}

func TestSessionLoginFallsBackToTokenSubject(t *testing.T) {
	s := NewSession(memory.NewKVStore(), NewTokenParser(""))
	raw := signToken(t, "server-secret", jwt.MapClaims{"sub": "from-token"})

	id, err := s.Login(context.Background(), LoginData{Token: raw})
	if err != nil {
		t.Fatal(err)
	}
	if id != "from-token" {
		t.Errorf("user id = %q, want from-token", id)
	}
}

func TestSessionLoginWithoutUserID(t *testing.T) {
	s := NewSession(memory.NewKVStore(), nil)
	if _, err := s.Login(context.Background(), LoginData{Token: "opaque"}); err == nil {
		t.Fatal("login without any user id accepted")
	}
	if _, err := s.Login(context.Background(), LoginData{}); err == nil {
		t.Fatal("login without token accepted")
	}
}

func TestSessionRestore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewKVStore()

	first := NewSession(store, nil)
	if _, err := first.Login(ctx, LoginData{Token: "opaque", User: &UserProfile{ID: "u1", Name: "Ana"}}); err != nil {
		t.Fatal(err)
	}

	restored := NewSession(store, nil)
	var notified int
	restored.Subscribe(func(c domain.IdentityChange) {
		if c.Reason == domain.ReasonRestore {
			notified++
		}
	})
	if err := restored.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	if id, ok, _ := restored.CurrentUserID(ctx); !ok || id != "u1" {
		t.Errorf("restored user = %q, %v", id, ok)
	}
	if p := restored.Profile(); p == nil || p.Name != "Ana" {
		t.Errorf("restored profile = %+v", p)
	}
	if notified != 1 {
		t.Errorf("restore notifications = %d, want 1", notified)
	}
}

func TestSessionRestoreUserWithoutToken(t *testing.T) {
	ctx := context.Background()
	store := memory.NewKVStore()
	store.Set(ctx, UserKey, []byte(`{"id":"u1"}`))

	s := NewSession(store, nil)
	if err := s.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.CurrentUserID(ctx); ok {
		t.Error("profile without token restored as logged in")
	}
}
