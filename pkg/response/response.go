package response

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Response is the envelope for every JSON body the API writes
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorData  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorData describes a failed request
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Meta carries list pagination
type Meta struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

// Accepted is used when the work happened but still needs follow-up
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{Success: true, Data: data})
}

// List writes a page of results
func List(c *gin.Context, data interface{}, limit, offset, count int) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
		Meta:    &Meta{Limit: limit, Offset: offset, Count: count},
	})
}

// Body builds an error envelope for AbortWithStatusJSON
func Body(code, message string) Response {
	return Response{Error: &ErrorData{Code: code, Message: message}}
}

func Error(c *gin.Context, status int, code, message string, details string) {
	c.JSON(status, Response{
		Success: false,
		Error: &ErrorData{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// Abort writes an error envelope and stops the handler chain
func Abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Body(code, message))
}

// Unavailable answers 503 with a Retry-After hint
func Unavailable(c *gin.Context, code, message string, retryAfter time.Duration) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
	Error(c, http.StatusServiceUnavailable, code, message, "")
}

func InternalError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", "")
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, "BAD_REQUEST", message, "")
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, "NOT_FOUND", message, "")
}

func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, "UNAUTHORIZED", message, "")
}

func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, "FORBIDDEN", message, "")
}
