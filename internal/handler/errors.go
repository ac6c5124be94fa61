package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/internal/metrics"
	"github.com/prohmpiriya/ticket-engine/pkg/logger"
	"github.com/prohmpiriya/ticket-engine/pkg/response"
)

// contentionRetryAfter is the Retry-After hint sent with CONCURRENCY_EXCEEDED
const contentionRetryAfter = time.Second

// handleError converts domain errors to HTTP responses
func handleError(c *gin.Context, err error) {
	_ = c.Error(err)

	var declined *domain.PaymentDeclinedError
	switch {
	case domain.IsValidationError(err):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), "")
	case errors.Is(err, domain.ErrOutOfStock):
		response.Error(c, http.StatusConflict, "OUT_OF_STOCK", err.Error(), "")
	case errors.Is(err, domain.ErrInvalidDiscount):
		response.Error(c, http.StatusUnprocessableEntity, "INVALID_DISCOUNT", err.Error(), "")
	case errors.As(err, &declined):
		response.Error(c, http.StatusPaymentRequired, "PAYMENT_DECLINED", err.Error(), declined.Code)
	case errors.Is(err, domain.ErrPaymentDeclined):
		response.Error(c, http.StatusPaymentRequired, "PAYMENT_DECLINED", err.Error(), "")
	case errors.Is(err, domain.ErrConcurrencyExceeded):
		response.Unavailable(c, "CONCURRENCY_EXCEEDED", err.Error(), contentionRetryAfter)
	case errors.Is(err, domain.ErrAlreadyRedeemed):
		response.Error(c, http.StatusConflict, "ALREADY_REDEEMED", err.Error(), "")
	case errors.Is(err, domain.ErrReconciliationRequired):
		response.Error(c, http.StatusAccepted, "RECONCILIATION_REQUIRED", "payment received; the order is being reconciled", "")
	case domain.IsNotFoundError(err):
		response.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrIdempotencyConflict):
		response.Error(c, http.StatusUnprocessableEntity, "IDEMPOTENCY_CONFLICT", err.Error(), "")
	case errors.Is(err, domain.ErrRequestInProgress):
		c.Header("Retry-After", "1")
		response.Error(c, http.StatusConflict, "REQUEST_IN_PROGRESS", err.Error(), "")
	case errors.Is(err, domain.ErrOrderNotPending):
		response.Error(c, http.StatusConflict, "ORDER_NOT_PENDING", err.Error(), "")
	case errors.Is(err, domain.ErrOrderNotRefundable):
		response.Error(c, http.StatusConflict, "ORDER_NOT_REFUNDABLE", err.Error(), "")
	case errors.Is(err, domain.ErrOrderRefunded):
		response.Error(c, http.StatusConflict, "ORDER_REFUNDED", err.Error(), "")
	case domain.IsConflictError(err):
		response.Error(c, http.StatusConflict, "CONFLICT", err.Error(), "")
	default:
		logger.Get().Error("Unhandled error: " + err.Error())
		metrics.RecordError(c.Request.Context(), "internal", c.FullPath())
		response.InternalError(c)
	}
}
