package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/jewelrycart/internal/cart/application"
	"github.com/wyfcoding/jewelrycart/internal/cart/domain"
	"github.com/wyfcoding/jewelrycart/internal/cart/infrastructure/identity"
	"github.com/wyfcoding/jewelrycart/pkg/logger"
)

// CartHandler 购物车 HTTP 处理器
type CartHandler struct {
	cart     *application.CartStore
	checkout *application.CheckoutService
	session  *identity.Session
}

// NewCartHandler 创建 HTTP 处理器
func NewCartHandler(cart *application.CartStore, checkout *application.CheckoutService, session *identity.Session) *CartHandler {
	return &CartHandler{
		cart:     cart,
		checkout: checkout,
		session:  session,
	}
}

// RegisterRoutes 注册路由
func (h *CartHandler) RegisterRoutes(router gin.IRouter) {
	api := router.Group("/api/v1")
	{
		api.GET("/cart", h.GetCart)
		api.POST("/cart/items", h.AddItem)
		api.POST("/cart/items/:id/decrease", h.DecreaseItem)
		api.DELETE("/cart", h.ClearCart)
		api.GET("/cart/total", h.GetTotal)

		api.POST("/session/login", h.Login)
		api.POST("/session/logout", h.Logout)
		api.GET("/session", h.GetSession)

		api.GET("/checkout/quote", h.GetQuote)
		api.POST("/checkout", h.PlaceOrder)
	}
}

// CartResponse 购物车视图
type CartResponse struct {
	IdentityKey string            `json:"identityKey"`
	Loaded      bool              `json:"loaded"`
	Items       []domain.CartLine `json:"items"`
	ItemCount   int               `json:"itemCount"`
	Total       decimal.Decimal   `json:"total"`
}

func (h *CartHandler) cartResponse() CartResponse {
	snapshot := h.cart.Snapshot()
	return CartResponse{
		IdentityKey: snapshot.IdentityKey,
		Loaded:      h.cart.Loaded(),
		Items:       snapshot.Lines,
		ItemCount:   snapshot.ItemCount(),
		Total:       snapshot.Total(),
	}
}

// GetCart 获取当前身份的购物车
func (h *CartHandler) GetCart(c *gin.Context) {
	c.JSON(http.StatusOK, h.cartResponse())
}

// AddItemRequest 加入购物车请求，_id 为远端商品 ID，id 为本地 ID
type AddItemRequest struct {
	ProductID  string            `json:"_id"`
	LocalID    string            `json:"id"`
	Price      decimal.Decimal   `json:"price"`
	Name       string            `json:"name"`
	Image      string            `json:"image"`
	Variant    string            `json:"variant"`
	Attributes map[string]string `json:"attributes"`
}

// AddItem 加入商品
func (h *CartHandler) AddItem(c *gin.Context) {
	var req AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	line, err := h.cart.AddItem(c.Request.Context(), application.AddItemCommand{
		ProductID:  req.ProductID,
		LocalID:    req.LocalID,
		UnitPrice:  req.Price,
		Name:       req.Name,
		Image:      req.Image,
		Variant:    req.Variant,
		Attributes: req.Attributes,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"item": line, "cart": h.cartResponse()})
}

// DecreaseItem 商品数量减一
func (h *CartHandler) DecreaseItem(c *gin.Context) {
	itemID := c.Param("id")
	if itemID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item id is required"})
		return
	}

	h.cart.DecreaseQuantity(c.Request.Context(), itemID)
	c.JSON(http.StatusOK, h.cartResponse())
}

// ClearCart 清空购物车
func (h *CartHandler) ClearCart(c *gin.Context) {
	h.cart.Clear(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// GetTotal 购物车总价
func (h *CartHandler) GetTotal(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"total":     h.cart.GetTotalPrice(),
		"itemCount": h.cart.ItemCount(),
	})
}

// Login 保存登录结果并切换身份，随后购物车按新身份重新加载
func (h *CartHandler) Login(c *gin.Context) {
	var req identity.LoginData
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID, err := h.session.Login(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"userId": userID, "cart": h.cartResponse()})
}

// Logout 退出登录
func (h *CartHandler) Logout(c *gin.Context) {
	if err := h.session.Logout(c.Request.Context()); err != nil {
		// 身份已切换，存储失败只记录日志
		logger.Warn(c.Request.Context(), "failed to clear auth data", "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"cart": h.cartResponse()})
}

// GetSession 当前会话
func (h *CartHandler) GetSession(c *gin.Context) {
	userID, ok, _ := h.session.CurrentUserID(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"authenticated": ok && h.session.IsAuthenticated(),
		"userId":        userID,
		"user":          h.session.Profile(),
	})
}

// GetQuote 结算报价
func (h *CartHandler) GetQuote(c *gin.Context) {
	c.JSON(http.StatusOK, h.checkout.Quote())
}

// PlaceOrderRequest 下单请求
type PlaceOrderRequest struct {
	ShippingInfo  domain.ShippingInfo `json:"shippingInfo"`
	ModeOfPayment string              `json:"modeOfPayment"`
}

// PlaceOrder 下单
func (h *CartHandler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receipt, err := h.checkout.PlaceOrder(c.Request.Context(), application.PlaceOrderCommand{
		Shipping:    req.ShippingInfo,
		PaymentMode: req.ModeOfPayment,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, receipt)
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrMissingItemID),
		errors.Is(err, domain.ErrNegativePrice),
		errors.Is(err, domain.ErrIncompleteShipping),
		errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrNoUserID):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUserNotFound):
		status = http.StatusUnauthorized
	case errors.Is(err, domain.ErrCheckoutInProgress):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrOrderRejected):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		logger.Error(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
