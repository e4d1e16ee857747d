package domain

import "context"

const (
	// DefaultKeyPrefix 身份键前缀
	DefaultKeyPrefix = "cart_"
	// GuestIdentity 未登录时的身份
	GuestIdentity = "guest"
)

// IdentityKey 派生持久化分区键：有用户 ID 时为 prefix+userID，否则为 prefix+"guest"
func IdentityKey(prefix, userID string) string {
	if userID == "" {
		return prefix + GuestIdentity
	}
	return prefix + userID
}

// ChangeReason 身份变化原因
type ChangeReason string

const (
	ReasonLogin   ChangeReason = "login"
	ReasonLogout  ChangeReason = "logout"
	ReasonRestore ChangeReason = "restore"
)

// IdentityChange 身份变化通知
type IdentityChange struct {
	PreviousUserID string
	UserID         string
	Reason         ChangeReason
}

// IdentityProvider 提供当前用户身份，并在身份变化时通知订阅者
type IdentityProvider interface {
	// CurrentUserID 返回当前用户 ID；ok 为 false 表示游客
	CurrentUserID(ctx context.Context) (userID string, ok bool, err error)
	// Subscribe 注册身份变化回调，返回取消订阅函数；回调在变化完成后同步调用
	Subscribe(fn func(IdentityChange)) (unsubscribe func())
}
