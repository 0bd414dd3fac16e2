package middleware

import (
	"strconv"

	"newsrank/internal/metrics"

	"github.com/gin-gonic/gin"
)

// Metrics 按路由模板和状态码计数
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
