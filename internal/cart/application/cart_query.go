package application

import (
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/jewelrycart/internal/cart/domain"
)

// GetTotalPrice 所有行单价乘数量之和，空购物车为 0
func (s *CartStore) GetTotalPrice() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cart == nil {
		return decimal.Zero
	}
	return s.cart.Total()
}

// Lines 返回购物车行的副本，保持插入顺序
func (s *CartStore) Lines() []domain.CartLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked().Lines
}

// Snapshot 返回整个购物车的副本
func (s *CartStore) Snapshot() *domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// ItemCount 商品总件数
func (s *CartStore) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cart == nil {
		return 0
	}
	return s.cart.ItemCount()
}

// IdentityKey 内存购物车绑定的身份键，尚未创建时为空
func (s *CartStore) IdentityKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cart == nil {
		return ""
	}
	return s.cart.IdentityKey
}

// Loaded 当前身份的购物车是否已加载
func (s *CartStore) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}
