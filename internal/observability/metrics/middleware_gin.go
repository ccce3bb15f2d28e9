package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
)

// GinMiddleware records one HTTP metric sample per finished request.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.Record(c.Request.Context(), route, c.Writer.Status(), time.Since(start))
	}
}
