package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"github.com/wyfcoding/jewelrycart/internal/cart/domain"
	"github.com/wyfcoding/jewelrycart/pkg/logger"
)

// BreakerGateway 为订单服务调用加熔断：连续不可用达到阈值后直接失败，避免结算请求堆积
type BreakerGateway struct {
	next domain.OrderGateway
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerGateway 创建带熔断的订单网关。业务拒绝（4xx、success=false）不计入失败
func NewBreakerGateway(next domain.OrderGateway, maxFailures int, openFor time.Duration) *BreakerGateway {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	settings := gobreaker.Settings{
		Name:        "order-api",
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(maxFailures)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerGateway{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// CreateOrder 经熔断器提交订单
func (g *BreakerGateway) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderReceipt, error) {
	out, err := g.cb.Execute(func() (any, error) {
		return g.next.CreateOrder(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.Join(domain.ErrOrderRejected, ErrUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return out.(*domain.OrderReceipt), nil
}

// State 熔断器当前状态
func (g *BreakerGateway) State() string {
	return g.cb.State().String()
}
