package application

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"github.com/wyfcoding/jewelrycart/internal/cart/domain"
	"github.com/wyfcoding/jewelrycart/pkg/logger"
	"github.com/wyfcoding/jewelrycart/pkg/metrics"
)

// 下单结果
const (
	CheckoutSuccess  = "success"
	CheckoutRejected = "rejected"
	CheckoutInvalid  = "invalid"
	CheckoutBusy     = "busy"
)

// PlaceOrderCommand 下单命令
type PlaceOrderCommand struct {
	Shipping    domain.ShippingInfo
	PaymentMode string
}

// CheckoutService 结算服务：报价、下单，成功后清空购物车
type CheckoutService struct {
	cart     *CartStore
	identity domain.IdentityProvider
	gateway  domain.OrderGateway
	metrics  metrics.Collector

	taxRate     decimal.Decimal
	shippingFee decimal.Decimal

	inFlight atomic.Bool
}

// NewCheckoutService 创建结算服务
func NewCheckoutService(
	cart *CartStore,
	identity domain.IdentityProvider,
	gateway domain.OrderGateway,
	taxRate, shippingFee decimal.Decimal,
	collector metrics.Collector,
) *CheckoutService {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &CheckoutService{
		cart:        cart,
		identity:    identity,
		gateway:     gateway,
		metrics:     collector,
		taxRate:     taxRate,
		shippingFee: shippingFee,
	}
}

// Quote 按当前购物车计算报价
func (s *CheckoutService) Quote() domain.Quote {
	return domain.NewQuote(s.cart.GetTotalPrice(), s.taxRate, s.shippingFee)
}

// PlaceOrder 提交订单；只有订单服务确认成功后才清空购物车
func (s *CheckoutService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (*domain.OrderReceipt, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.metrics.RecordCheckout(CheckoutBusy)
		return nil, domain.ErrCheckoutInProgress
	}
	defer s.inFlight.Store(false)

	req, err := s.buildRequest(ctx, cmd)
	if err != nil {
		s.metrics.RecordCheckout(CheckoutInvalid)
		return nil, err
	}

	receipt, err := s.gateway.CreateOrder(ctx, req)
	if err == nil && receipt == nil {
		err = domain.ErrOrderRejected
	}
	if err != nil {
		s.metrics.RecordCheckout(CheckoutRejected)
		logger.Error(ctx, "order placement failed", "user_id", req.UserID, "error", err)
		return nil, fmt.Errorf("place order: %w", err)
	}

	s.cart.Clear(ctx)
	s.metrics.RecordCheckout(CheckoutSuccess)
	logger.Info(ctx, "order placed", "user_id", req.UserID, "order_id", receipt.OrderID, "total", req.TotalPrice.String())
	return receipt, nil
}

func (s *CheckoutService) buildRequest(ctx context.Context, cmd PlaceOrderCommand) (domain.OrderRequest, error) {
	userID, ok, err := s.identity.CurrentUserID(ctx)
	if err != nil || !ok || userID == "" {
		return domain.OrderRequest{}, domain.ErrUserNotFound
	}
	if !cmd.Shipping.Complete() {
		return domain.OrderRequest{}, domain.ErrIncompleteShipping
	}

	lines := s.cart.Lines()
	if len(lines) == 0 {
		return domain.OrderRequest{}, domain.ErrEmptyCart
	}

	items := make([]domain.OrderItem, 0, len(lines))
	itemsPrice := decimal.Zero
	for _, l := range lines {
		items = append(items, domain.OrderItem{
			Product:  l.ItemID,
			Name:     l.Name,
			Quantity: l.Quantity,
			Image:    l.Image,
			Price:    l.UnitPrice,
		})
		itemsPrice = itemsPrice.Add(l.Subtotal())
	}
	quote := domain.NewQuote(itemsPrice, s.taxRate, s.shippingFee)

	mode := cmd.PaymentMode
	if mode == "" {
		mode = domain.DefaultPaymentMode
	}
	return domain.OrderRequest{
		UserID:        userID,
		OrderItems:    items,
		ShippingInfo:  cmd.Shipping,
		ItemsPrice:    quote.ItemsPrice,
		TaxPrice:      quote.TaxPrice,
		ShippingPrice: quote.ShippingPrice,
		TotalPrice:    quote.TotalPrice,
		ModeOfPayment: mode,
	}, nil
}
