package domain

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/shopspring/decimal"
)

// CartLine 购物车中的一行商品，ItemID 在同一购物车内唯一
type CartLine struct {
	ItemID    string          `json:"itemId"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
	// 以下展示字段原样保存，购物车逻辑不做解释
	Name       string            `json:"name,omitempty"`
	Image      string            `json:"image,omitempty"`
	Variant    string            `json:"variant,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Subtotal 单价乘以数量
func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l CartLine) clone() CartLine {
	l.Attributes = maps.Clone(l.Attributes)
	return l
}

// Item 商品详情页传入的商品投影
type Item struct {
	// 远端商品 ID
	ProductID string
	// 本地 ID，ProductID 为空时使用
	LocalID    string
	UnitPrice  decimal.Decimal
	Name       string
	Image      string
	Variant    string
	Attributes map[string]string
}

// ItemID 返回稳定的商品标识
func (i Item) ItemID() string {
	if i.ProductID != "" {
		return i.ProductID
	}
	return i.LocalID
}

// Validate 校验商品投影
func (i Item) Validate() error {
	if i.ItemID() == "" {
		return ErrMissingItemID
	}
	if i.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativePrice, i.UnitPrice)
	}
	return nil
}

// Cart 归属于某个身份键的有序购物车
type Cart struct {
	IdentityKey string
	Lines       []CartLine
}

// NewCart 创建空购物车
func NewCart(identityKey string) *Cart {
	return &Cart{IdentityKey: identityKey, Lines: []CartLine{}}
}

// Add 加入一件商品：已存在则数量加一且保留首次的展示字段，否则追加数量为 1 的新行
func (c *Cart) Add(item Item) (CartLine, error) {
	if err := item.Validate(); err != nil {
		return CartLine{}, err
	}

	id := item.ItemID()
	if i := c.indexOf(id); i >= 0 {
		c.Lines[i].Quantity++
		return c.Lines[i].clone(), nil
	}

	line := CartLine{
		ItemID:     id,
		UnitPrice:  item.UnitPrice,
		Quantity:   1,
		Name:       item.Name,
		Image:      item.Image,
		Variant:    item.Variant,
		Attributes: maps.Clone(item.Attributes),
	}
	c.Lines = append(c.Lines, line)
	return line.clone(), nil
}

// Decrease 数量减一，减到 0 时移除该行；found 为 false 表示不存在该商品
func (c *Cart) Decrease(itemID string) (line CartLine, removed, found bool) {
	i := c.indexOf(itemID)
	if i < 0 {
		return CartLine{}, false, false
	}

	c.Lines[i].Quantity--
	line = c.Lines[i].clone()
	if line.Quantity <= 0 {
		c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
		return line, true, true
	}
	return line, false, true
}

// Total 所有行小计之和，空购物车为 0
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// ItemCount 商品总件数
func (c *Cart) ItemCount() int {
	n := 0
	for _, l := range c.Lines {
		n += l.Quantity
	}
	return n
}

// IsEmpty 是否为空
func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Clone 深拷贝
func (c *Cart) Clone() *Cart {
	out := &Cart{IdentityKey: c.IdentityKey, Lines: make([]CartLine, len(c.Lines))}
	for i, l := range c.Lines {
		out.Lines[i] = l.clone()
	}
	return out
}

func (c *Cart) indexOf(itemID string) int {
	for i := range c.Lines {
		if c.Lines[i].ItemID == itemID {
			return i
		}
	}
	return -1
}

// MarshalLines 将购物车行序列化为持久化格式（JSON 数组）
func MarshalLines(lines []CartLine) ([]byte, error) {
	if lines == nil {
		lines = []CartLine{}
	}
	return json.Marshal(lines)
}

// UnmarshalLines 解析持久化格式；重复的 ItemID 合并数量，数量不为正的行被丢弃
func UnmarshalLines(data []byte) ([]CartLine, error) {
	var raw []CartLine
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCart, err)
	}

	lines := make([]CartLine, 0, len(raw))
	index := make(map[string]int, len(raw))
	for _, l := range raw {
		if l.ItemID == "" {
			return nil, fmt.Errorf("%w: line without itemId", ErrCorruptCart)
		}
		if l.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: negative price for %s", ErrCorruptCart, l.ItemID)
		}
		if l.Quantity <= 0 {
			continue
		}
		if i, ok := index[l.ItemID]; ok {
			lines[i].Quantity += l.Quantity
			continue
		}
		index[l.ItemID] = len(lines)
		lines = append(lines, l)
	}
	return lines, nil
}
