package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticket-engine/pkg/response"
)

const (
	// IdempotencyKeyHeader is the header name for idempotency key
	IdempotencyKeyHeader = "X-Idempotency-Key"
	// ContextKeyIdempotencyKey is the context key for idempotency key
	ContextKeyIdempotencyKey = "idempotency_key"

	maxIdempotencyKeyLength = 128
)

// RequireIdempotencyKey rejects mutating requests that carry no usable
// idempotency key. Replay detection itself belongs to the service that owns
// the operation.
func RequireIdempotencyKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			response.Abort(c, http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "X-Idempotency-Key header is required")
			return
		}
		if len(key) > maxIdempotencyKeyLength {
			response.Abort(c, http.StatusBadRequest, "INVALID_IDEMPOTENCY_KEY", "X-Idempotency-Key header is too long")
			return
		}
		c.Set(ContextKeyIdempotencyKey, key)
		c.Next()
	}
}

// GetIdempotencyKey extracts idempotency key from gin context
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	key, exists := c.Get(ContextKeyIdempotencyKey)
	if !exists {
		return "", false
	}
	k, ok := key.(string)
	return k, ok && k != ""
}
