package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/wyfcoding/jewelrycart/internal/cart/domain"
	"github.com/wyfcoding/jewelrycart/pkg/logger"
)

// 认证数据在持久化存储中的键
const (
	TokenKey        = "token"
	RefreshTokenKey = "refresh_token"
	UserKey         = "user"
)

// UserProfile 登录返回的用户资料
type UserProfile struct {
	ID      string `json:"id,omitempty"`
	MongoID string `json:"_id,omitempty"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Role    string `json:"role,omitempty"`
}

// UserID 优先使用 _id，其次 id
func (u *UserProfile) UserID() string {
	if u == nil {
		return ""
	}
	if u.MongoID != "" {
		return u.MongoID
	}
	return u.ID
}

// LoginData 登录成功后保存的认证数据
type LoginData struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refreshToken,omitempty"`
	User         *UserProfile `json:"user,omitempty"`
}

// Session 会话管理：保存令牌与用户资料，并在身份变化时通知订阅者
type Session struct {
	store  domain.DurableStore
	parser *TokenParser

	mu      sync.RWMutex
	userID  string
	token   string
	profile *UserProfile

	subMu     sync.Mutex
	nextSubID int
	observers map[int]func(domain.IdentityChange)
}

// NewSession 创建会话
func NewSession(store domain.DurableStore, parser *TokenParser) *Session {
	if parser == nil {
		parser = NewTokenParser("")
	}
	return &Session{
		store:     store,
		parser:    parser,
		observers: make(map[int]func(domain.IdentityChange)),
	}
}

// CurrentUserID 返回当前用户 ID，未登录时 ok 为 false
func (s *Session) CurrentUserID(ctx context.Context) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != "", nil
}

// IsAuthenticated 是否持有访问令牌
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != ""
}

// Profile 当前用户资料副本
func (s *Session) Profile() *UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return nil
	}
	p := *s.profile
	return &p
}

// Token 当前访问令牌
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Subscribe 注册身份变化回调
func (s *Session) Subscribe(fn func(domain.IdentityChange)) func() {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.observers[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.observers, id)
			s.subMu.Unlock()
		})
	}
}

// Login 保存认证数据并切换身份
func (s *Session) Login(ctx context.Context, data LoginData) (string, error) {
	if data.Token == "" {
		return "", fmt.Errorf("%w: empty token", domain.ErrNoUserID)
	}

	userID := data.User.UserID()
	if userID == "" {
		id, err := s.parser.UserID(data.Token)
		if err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrNoUserID, err)
		}
		userID = id
	}

	if err := s.store.Set(ctx, TokenKey, []byte(data.Token)); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	if data.RefreshToken != "" {
		if err := s.store.Set(ctx, RefreshTokenKey, []byte(data.RefreshToken)); err != nil {
			return "", fmt.Errorf("store refresh token: %w", err)
		}
	}
	profile := data.User
	if profile == nil {
		profile = &UserProfile{ID: userID}
	}
	raw, err := json.Marshal(profile)
	if err != nil {
		return "", fmt.Errorf("encode user: %w", err)
	}
	if err := s.store.Set(ctx, UserKey, raw); err != nil {
		return "", fmt.Errorf("store user: %w", err)
	}

	s.switchTo(ctx, userID, data.Token, profile, domain.ReasonLogin)
	logger.Info(ctx, "user logged in", "user_id", userID)
	return userID, nil
}

// Logout 清除全部认证数据并切换为游客
func (s *Session) Logout(ctx context.Context) error {
	var errs []error
	for _, key := range []string{TokenKey, RefreshTokenKey, UserKey} {
		if err := s.store.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}

	// 即使存储失败，内存身份也必须切换，避免上一个用户的购物车继续可见
	s.switchTo(ctx, "", "", nil, domain.ReasonLogout)
	logger.Info(ctx, "user logged out")
	return errors.Join(errs...)
}

// Restore 启动时从持久化的认证数据恢复身份。只有用户资料而没有令牌视为未登录
func (s *Session) Restore(ctx context.Context) error {
	token, err := s.store.Get(ctx, TokenKey)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}

	var profile *UserProfile
	raw, err := s.store.Get(ctx, UserKey)
	switch {
	case err == nil:
		profile = &UserProfile{}
		if err := json.Unmarshal(raw, profile); err != nil {
			logger.Warn(ctx, "stored user profile is corrupt", "error", err)
			profile = nil
		}
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("read user: %w", err)
	}

	userID := profile.UserID()
	if userID == "" {
		userID, err = s.parser.UserID(string(token))
		if err != nil {
			logger.Warn(ctx, "stored token has no usable user id", "error", err)
			return nil
		}
	}

	s.switchTo(ctx, userID, string(token), profile, domain.ReasonRestore)
	logger.Info(ctx, "session restored", "user_id", userID)
	return nil
}

// switchTo 更新身份后在锁外同步通知订阅者；身份未变化时不通知
func (s *Session) switchTo(ctx context.Context, userID, token string, profile *UserProfile, reason domain.ChangeReason) {
	s.mu.Lock()
	prev := s.userID
	s.userID = userID
	s.token = token
	s.profile = profile
	s.mu.Unlock()

	if prev == userID {
		return
	}

	s.subMu.Lock()
	observers := make([]func(domain.IdentityChange), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.subMu.Unlock()

	change := domain.IdentityChange{PreviousUserID: prev, UserID: userID, Reason: reason}
	for _, fn := range observers {
		fn(change)
	}
	logger.Debug(ctx, "identity observers notified", "observers", len(observers), "reason", string(reason))
}
