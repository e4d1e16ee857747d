package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// 购物车事件类型
const (
	EventCartLoaded       = "cart.loaded"
	EventCartItemAdded    = "cart.item.added"
	EventCartItemDecrease = "cart.item.decreased"
	EventCartItemRemoved  = "cart.item.removed"
	EventCartCleared      = "cart.cleared"
)

// EventPublisher 事件发布者接口，key 为身份键
type EventPublisher interface {
	Publish(ctx context.Context, eventType, key string, event any) error
}

// CartLoadedEvent 购物车加载事件
type CartLoadedEvent struct {
	IdentityKey string    `json:"identity_key"`
	Lines       int       `json:"lines"`
	Timestamp   time.Time `json:"timestamp"`
}

// CartItemAddedEvent 购物车添加商品事件
type CartItemAddedEvent struct {
	IdentityKey string          `json:"identity_key"`
	ItemID      string          `json:"item_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Timestamp   time.Time       `json:"timestamp"`
}

// CartItemDecreasedEvent 购物车商品数量减少事件
type CartItemDecreasedEvent struct {
	IdentityKey string    `json:"identity_key"`
	ItemID      string    `json:"item_id"`
	Quantity    int       `json:"quantity"`
	Timestamp   time.Time `json:"timestamp"`
}

// CartItemRemovedEvent 购物车移除商品事件
type CartItemRemovedEvent struct {
	IdentityKey string    `json:"identity_key"`
	ItemID      string    `json:"item_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// CartClearedEvent 购物车清空事件
type CartClearedEvent struct {
	IdentityKey string    `json:"identity_key"`
	Timestamp   time.Time `json:"timestamp"`
}
