package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"shea-order-service/internal/apperr"
	"shea-order-service/internal/paystack"
	"shea-order-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Services groups what the handlers call into
type Services struct {
	Carts         *service.CartService
	Checkout      *service.CheckoutService
	Sales         *service.SaleService
	Payments      *service.PaymentReconciler
	Cancellations *service.CancellationService
	// Ready reports whether dependencies are reachable; nil means always ready
	Ready func(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	svc       Services
	jwtSecret string
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, jwtSecret string) *Handler {
	return &Handler{svc: svc, jwtSecret: jwtSecret}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	// the webhook authenticates by signature, not by token
	v1.POST("/checkout/webhook", h.paystackWebhook)

	authed := v1.Group("", authenticate(h.jwtSecret))
	{
		authed.POST("/cart", h.addToCart)
		authed.GET("/cart", h.listCart)
		authed.POST("/cart/sync", h.syncCart)

		authed.POST("/checkout/place-order", h.placeOrder)
		authed.POST("/checkout/initialize", h.initializeTransaction)
		authed.GET("/checkout/verify/:reference", h.verifyPayment)

		authed.GET("/orders/:id", h.getOrder)
		authed.POST("/orders/:id/cancel", h.cancelOrder)

		authed.GET("/guest/orders/:id", h.getGuestOrder)
		authed.POST("/guest/orders/:id/pay", h.payGuestOrder)
	}

	admin := authed.Group("/admin", requireAdmin())
	{
		admin.POST("/sales", h.createSale)
		admin.PUT("/sales/:id/line-items", h.updateLineItems)
		admin.PATCH("/sales/:id/status", h.updateStatus)
		admin.PATCH("/sales/:id/delivery-cost", h.updateDeliveryCost)
		admin.POST("/sales/:id/cancel", h.adminCancel)
		admin.POST("/sales/:id/mark-paid", h.markPaid)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.svc.Ready != nil {
		if err := h.svc.Ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"details": err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		abortWithError(c, apperr.ErrValidation.Withf("invalid request body: %v", err))
		return false
	}
	return true
}

func (h *Handler) addToCart(c *gin.Context) {
	var req service.CartItemInput
	if !bindJSON(c, &req) {
		return
	}

	cart, err := h.svc.Carts.AddToCart(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cart)
}

func (h *Handler) listCart(c *gin.Context) {
	lines, err := h.svc.Carts.ListCart(c.Request.Context(), actorFrom(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": lines})
}

type syncCartRequest struct {
	Items []service.CartItemInput `json:"items" binding:"required"`
}

func (h *Handler) syncCart(c *gin.Context) {
	var req syncCartRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.svc.Carts.SyncCart(c.Request.Context(), actorFrom(c), req.Items)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) checkoutRequest(c *gin.Context) (*service.CheckoutRequest, bool) {
	var req service.CheckoutRequest
	if !bindJSON(c, &req) {
		return nil, false
	}
	req.IdempotencyKey = strings.TrimSpace(c.GetHeader(idempotencyHdr))
	return &req, true
}

func (h *Handler) placeOrder(c *gin.Context) {
	req, ok := h.checkoutRequest(c)
	if !ok {
		return
	}

	result, err := h.svc.Checkout.PlaceOrder(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) initializeTransaction(c *gin.Context) {
	req, ok := h.checkoutRequest(c)
	if !ok {
		return
	}

	result, err := h.svc.Checkout.InitializeTransaction(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// maxWebhookBody bounds webhook payloads; Paystack events are a few KB
const maxWebhookBody = 1 << 20

// paystackWebhook reads the raw body so the signature covers exactly what was sent
func (h *Handler) paystackWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		abortWithError(c, apperr.ErrValidation.Withf("unreadable or oversized body"))
		return
	}

	if err := h.svc.Payments.HandleWebhook(c.Request.Context(), body, c.GetHeader(paystack.SignatureHeader)); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) verifyPayment(c *gin.Context) {
	result, err := h.svc.Payments.MarkPaid(c.Request.Context(), c.Param("reference"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) getOrder(c *gin.Context) {
	sale, err := h.svc.Sales.GetSale(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	result, err := h.svc.Cancellations.Cancel(c.Request.Context(), actorFrom(c), c.Param("id"), false)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) getGuestOrder(c *gin.Context) {
	sale, err := h.svc.Sales.GetGuestOrder(c.Request.Context(), c.Param("id"), c.Query("email"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

type guestPayRequest struct {
	Email string `json:"email" binding:"required"`
}

func (h *Handler) payGuestOrder(c *gin.Context) {
	var req guestPayRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.svc.Checkout.InitializeGuestPayment(c.Request.Context(), c.Param("id"), req.Email)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) createSale(c *gin.Context) {
	var req service.CreateSaleRequest
	if !bindJSON(c, &req) {
		return
	}

	sale, err := h.svc.Sales.CreateSale(c.Request.Context(), &req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sale)
}

type lineItemsRequest struct {
	Items []service.LineItemInput `json:"items" binding:"required,min=1,dive"`
}

func (h *Handler) updateLineItems(c *gin.Context) {
	var req lineItemsRequest
	if !bindJSON(c, &req) {
		return
	}

	sale, err := h.svc.Sales.UpdateLineItems(c.Request.Context(), c.Param("id"), req.Items)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (h *Handler) updateStatus(c *gin.Context) {
	var req service.StatusUpdate
	if !bindJSON(c, &req) {
		return
	}

	sale, err := h.svc.Sales.UpdateStatus(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

type deliveryCostRequest struct {
	DeliveryFee *decimal.Decimal `json:"delivery_fee"`
}

func (h *Handler) updateDeliveryCost(c *gin.Context) {
	var req deliveryCostRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.DeliveryFee == nil {
		abortWithError(c, apperr.ErrValidation.Withf("delivery_fee is required"))
		return
	}

	sale, err := h.svc.Sales.UpdateDeliveryCost(c.Request.Context(), c.Param("id"), *req.DeliveryFee)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

type adminCancelRequest struct {
	WaivePenalty bool `json:"waive_penalty"`
}

func (h *Handler) adminCancel(c *gin.Context) {
	var req adminCancelRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	result, err := h.svc.Cancellations.Cancel(c.Request.Context(), actorFrom(c), c.Param("id"), req.WaivePenalty)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) markPaid(c *gin.Context) {
	result, err := h.svc.Payments.ConfirmSale(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
