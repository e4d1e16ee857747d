package application

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/jewelrycart/internal/cart/domain"
	"github.com/wyfcoding/jewelrycart/pkg/logger"
)

// AddItemCommand 添加商品到购物车命令
type AddItemCommand struct {
	ProductID  string
	LocalID    string
	UnitPrice  decimal.Decimal
	Name       string
	Image      string
	Variant    string
	Attributes map[string]string
}

// Item 转换为领域商品投影
func (c AddItemCommand) Item() domain.Item {
	return domain.Item{
		ProductID:  c.ProductID,
		LocalID:    c.LocalID,
		UnitPrice:  c.UnitPrice,
		Name:       c.Name,
		Image:      c.Image,
		Variant:    c.Variant,
		Attributes: c.Attributes,
	}
}

// AddToCart 加入一件商品。相同商品数量加一，否则追加新行；随后异步持久化
func (s *CartStore) AddToCart(ctx context.Context, item domain.Item) (domain.CartLine, error) {
	s.mu.Lock()
	s.ensureCartLocked(ctx)
	line, err := s.cart.Add(item)
	if err != nil {
		s.mu.Unlock()
		return domain.CartLine{}, err
	}
	key := s.cart.IdentityKey
	s.persistLocked(ctx)
	s.metrics.SetCartLines(len(s.cart.Lines))
	s.publishLocked(domain.EventCartItemAdded, key, domain.CartItemAddedEvent{
		IdentityKey: key,
		ItemID:      line.ItemID,
		Quantity:    line.Quantity,
		UnitPrice:   line.UnitPrice,
		Timestamp:   time.Now(),
	})
	s.mu.Unlock()

	s.metrics.RecordMutation("add")
	logger.Debug(ctx, "item added to cart", "key", key, "item_id", line.ItemID, "quantity", line.Quantity)
	return line, nil
}

// AddItem 处理添加商品命令
func (s *CartStore) AddItem(ctx context.Context, cmd AddItemCommand) (domain.CartLine, error) {
	return s.AddToCart(ctx, cmd.Item())
}

// DecreaseQuantity 数量减一，减到 0 时移除该行；商品不存在时什么也不做
func (s *CartStore) DecreaseQuantity(ctx context.Context, itemID string) {
	s.mu.Lock()
	s.ensureCartLocked(ctx)
	line, removed, found := s.cart.Decrease(itemID)
	if !found {
		s.mu.Unlock()
		return
	}
	key := s.cart.IdentityKey
	s.persistLocked(ctx)
	s.metrics.SetCartLines(len(s.cart.Lines))
	if removed {
		s.publishLocked(domain.EventCartItemRemoved, key, domain.CartItemRemovedEvent{
			IdentityKey: key,
			ItemID:      itemID,
			Timestamp:   time.Now(),
		})
	} else {
		s.publishLocked(domain.EventCartItemDecrease, key, domain.CartItemDecreasedEvent{
			IdentityKey: key,
			ItemID:      itemID,
			Quantity:    line.Quantity,
			Timestamp:   time.Now(),
		})
	}
	s.mu.Unlock()

	s.metrics.RecordMutation("decrease")
}

// Save 以当前身份键整体覆盖写入给定购物车
func (s *CartStore) Save(ctx context.Context, cart *domain.Cart) {
	key := s.ResolveIdentityKey(ctx)
	var lines []domain.CartLine
	if cart != nil {
		lines = cart.Lines
	}
	data, err := domain.MarshalLines(lines)
	if err != nil {
		logger.Error(ctx, "failed to encode cart", "key", key, "error", err)
		return
	}
	if err := s.writer.Save(key, data); err != nil {
		logger.Warn(ctx, "cart snapshot dropped", "key", key, "error", err)
	}
}

// Clear 删除当前身份键的持久化记录并清空内存购物车
func (s *CartStore) Clear(ctx context.Context) {
	key := s.ResolveIdentityKey(ctx)

	s.mu.Lock()
	s.mutations++
	s.cart = domain.NewCart(key)
	s.loaded = true
	// 在锁内入队，排在之前所有快照之后
	if err := s.writer.Delete(key); err != nil {
		logger.Warn(ctx, "cart delete dropped", "key", key, "error", err)
	}
	s.metrics.SetCartLines(0)
	s.publishLocked(domain.EventCartCleared, key, domain.CartClearedEvent{
		IdentityKey: key,
		Timestamp:   time.Now(),
	})
	s.mu.Unlock()

	s.metrics.RecordMutation("clear")
	logger.Info(ctx, "cart cleared", "key", key)
}
