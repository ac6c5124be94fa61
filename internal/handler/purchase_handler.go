package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/internal/dto"
	"github.com/prohmpiriya/ticket-engine/internal/purchase"
	"github.com/prohmpiriya/ticket-engine/internal/voucher"
	"github.com/prohmpiriya/ticket-engine/pkg/middleware"
	"github.com/prohmpiriya/ticket-engine/pkg/response"
	"github.com/prohmpiriya/ticket-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// OrderIDHeader names the order a failed purchase was recorded under
const OrderIDHeader = "X-Order-ID"

// PurchaseHandler handles purchase HTTP requests
type PurchaseHandler struct {
	orchestrator purchase.Orchestrator
	vouchers     voucher.Evaluator
}

// NewPurchaseHandler creates a new purchase handler
func NewPurchaseHandler(orchestrator purchase.Orchestrator, vouchers voucher.Evaluator) *PurchaseHandler {
	return &PurchaseHandler{orchestrator: orchestrator, vouchers: vouchers}
}

// CreatePurchase handles POST /purchases
func (h *PurchaseHandler) CreatePurchase(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.purchase.create")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := middleware.GetUserID(c)
	if !ok {
		span.SetStatus(codes.Error, "unauthorized")
		response.Unauthorized(c, "unauthorized")
		return
	}
	key, ok := middleware.GetIdempotencyKey(c)
	if !ok {
		span.SetStatus(codes.Error, "missing idempotency key")
		response.Error(c, http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "X-Idempotency-Key header is required", "")
		return
	}

	var req dto.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid request")
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("lines", len(req.Lines)),
		attribute.Bool("voucher", req.VoucherCode != ""),
	)

	result, err := h.orchestrator.Purchase(ctx, req.ToRequest(userID, key))
	if result != nil && result.Order != nil {
		c.Header(OrderIDHeader, result.Order.ID)
		span.SetAttributes(attribute.String("order_id", result.Order.ID))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, domain.ErrReconciliationRequired) && result != nil && result.Order != nil {
			response.Accepted(c, dto.FromResult(result))
			return
		}
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	if result.Replayed {
		response.Success(c, dto.FromResult(result))
		return
	}
	response.Created(c, dto.FromResult(result))
}

// GetPurchase handles GET /purchases/:id
func (h *PurchaseHandler) GetPurchase(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.purchase.get")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}
	orderID := c.Param("id")
	span.SetAttributes(attribute.String("order_id", orderID), attribute.String("user_id", userID))

	result, err := h.orchestrator.GetOrder(ctx, orderID, userID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	span.SetStatus(codes.Ok, "")
	response.Success(c, dto.FromResult(result))
}

// ListPurchases handles GET /purchases
func (h *PurchaseHandler) ListPurchases(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.purchase.list")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	limit, offset := pagination(c)
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("limit", limit),
		attribute.Int("offset", offset),
	)

	orders, err := h.orchestrator.ListOrders(ctx, userID, limit, offset)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	span.SetStatus(codes.Ok, "")
	response.List(c, dto.FromOrders(orders), limit, offset, len(orders))
}

// CancelPurchase handles POST /purchases/:id/cancel
func (h *PurchaseHandler) CancelPurchase(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.purchase.cancel")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}
	orderID := c.Param("id")
	span.SetAttributes(attribute.String("order_id", orderID), attribute.String("user_id", userID))

	order, err := h.orchestrator.Abandon(ctx, orderID, userID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	span.SetStatus(codes.Ok, "")
	response.Success(c, dto.FromOrder(order))
}

// RefundPurchase handles POST /admin/orders/:id/refund
func (h *PurchaseHandler) RefundPurchase(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.purchase.refund")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	orderID := c.Param("id")
	span.SetAttributes(attribute.String("order_id", orderID))

	order, err := h.orchestrator.Refund(ctx, orderID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	span.SetStatus(codes.Ok, "")
	response.Success(c, dto.FromOrder(order))
}

// ValidateDiscount handles POST /discounts/validate
func (h *PurchaseHandler) ValidateDiscount(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.discount.validate")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	var req dto.DiscountQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}
	if req.Subtotal.IsNegative() {
		handleError(c, domain.ErrInvalidPrice)
		return
	}

	quote, err := h.vouchers.Price(ctx, req.Code, req.Subtotal)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	span.SetStatus(codes.Ok, "")
	response.Success(c, &dto.DiscountQuoteResponse{
		Code:     quote.Code,
		Kind:     string(quote.Kind),
		Subtotal: quote.Subtotal.StringFixed(2),
		Discount: quote.Discount.StringFixed(2),
		Total:    quote.Total.StringFixed(2),
	})
}

// pagination reads limit/offset query parameters; limit is capped at 100
func pagination(c *gin.Context) (int, int) {
	limit := 20
	offset := 0
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if o := c.Query("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
