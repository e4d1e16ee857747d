package domain

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultPaymentMode 货到付款
const DefaultPaymentMode = "COD"

// Quote 结算报价
type Quote struct {
	ItemsPrice    decimal.Decimal `json:"itemsPrice"`
	TaxPrice      decimal.Decimal `json:"taxPrice"`
	ShippingPrice decimal.Decimal `json:"shippingPrice"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
}

// NewQuote 按税率与运费计算报价
func NewQuote(itemsPrice, taxRate, shippingFee decimal.Decimal) Quote {
	tax := itemsPrice.Mul(taxRate)
	return Quote{
		ItemsPrice:    itemsPrice,
		TaxPrice:      tax,
		ShippingPrice: shippingFee,
		TotalPrice:    itemsPrice.Add(tax).Add(shippingFee),
	}
}

// ShippingInfo 收货信息
type ShippingInfo struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PhoneNo    string `json:"phoneNo"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Complete 所有字段均非空
func (s ShippingInfo) Complete() bool {
	for _, v := range []string{s.Address, s.City, s.PhoneNo, s.PostalCode, s.Country} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// OrderItem 订单中的商品
type OrderItem struct {
	Product  string          `json:"product"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Image    string          `json:"image,omitempty"`
	Price    decimal.Decimal `json:"price"`
}

// OrderRequest 发往订单服务的下单请求
type OrderRequest struct {
	UserID        string          `json:"userId"`
	OrderItems    []OrderItem     `json:"orderItems"`
	ShippingInfo  ShippingInfo    `json:"shippingInfo"`
	ItemsPrice    decimal.Decimal `json:"itemsPrice"`
	TaxPrice      decimal.Decimal `json:"taxPrice"`
	ShippingPrice decimal.Decimal `json:"shippingPrice"`
	TotalPrice    decimal.Decimal `json:"totalPrice"`
	ModeOfPayment string          `json:"modeOfPayment"`
}

// OrderReceipt 订单服务的确认
type OrderReceipt struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

// OrderGateway 远端订单服务
type OrderGateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderReceipt, error)
}
