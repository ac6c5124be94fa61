package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware records the duration of every routed request
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			return
		}
		RecordRequestDuration(c.Request.Context(), c.Request.Method+" "+route, time.Since(start).Seconds())
	}
}
