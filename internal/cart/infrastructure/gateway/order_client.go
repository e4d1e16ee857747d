package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/wyfcoding/jewelrycart/internal/cart/domain"
)

const createOrderPath = "/api/v1/orders"

// ErrUnavailable 订单服务不可达或返回 5xx
var ErrUnavailable = errors.New("order api unavailable")

// TokenSource 提供调用订单服务所需的访问令牌
type TokenSource interface {
	Token() string
}

type createOrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Order   struct {
		ID          string `json:"_id"`
		OrderID     string `json:"id"`
		OrderStatus string `json:"orderStatus"`
	} `json:"order"`
}

// OrderClient 远端订单服务的 HTTP 客户端
type OrderClient struct {
	client *resty.Client
	tokens TokenSource
}

// NewOrderClient 创建订单服务客户端
func NewOrderClient(baseURL string, timeout time.Duration, tokens TokenSource) *OrderClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &OrderClient{client: client, tokens: tokens}
}

// CreateOrder 提交订单
func (c *OrderClient) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderReceipt, error) {
	var out createOrderResponse
	r := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&out)
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			r.SetAuthToken(tok)
		}
	}

	resp, err := r.Post(createOrderPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", domain.ErrOrderRejected, ErrUnavailable, err)
	}
	if resp.StatusCode() >= 500 {
		return nil, fmt.Errorf("%w: %w: status %d", domain.ErrOrderRejected, ErrUnavailable, resp.StatusCode())
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrOrderRejected, resp.StatusCode(), out.Message)
	}
	if !out.Success {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderRejected, out.Message)
	}

	id := out.Order.ID
	if id == "" {
		id = out.Order.OrderID
	}
	return &domain.OrderReceipt{OrderID: id, Status: out.Order.OrderStatus}, nil
}
