package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, http.StatusConflict, "OUT_OF_STOCK", "sold out", "")

	assert.Equal(t, http.StatusConflict, w.Code)
	var body Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.Success)
	require.NotNil(t, body.Error)
	assert.Equal(t, "OUT_OF_STOCK", body.Error.Code)
	assert.Equal(t, "sold out", body.Error.Message)
}

func TestUnavailable_SetsRetryAfter(t *testing.T) {
	tests := []struct {
		name  string
		after time.Duration
		want  string
	}{
		{"sub-second rounds up", 50 * time.Millisecond, "1"},
		{"whole seconds", 3 * time.Second, "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			Unavailable(c, "CONCURRENCY_EXCEEDED", "busy", tt.after)

			assert.Equal(t, http.StatusServiceUnavailable, w.Code)
			assert.Equal(t, tt.want, w.Header().Get("Retry-After"))
		})
	}
}

func TestList(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	List(c, []string{"a", "b"}, 20, 0, 2)

	var body struct {
		Success bool     `json:"success"`
		Data    []string `json:"data"`
		Meta    Meta     `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, []string{"a", "b"}, body.Data)
	assert.Equal(t, 2, body.Meta.Count)
	assert.Equal(t, 20, body.Meta.Limit)
}
