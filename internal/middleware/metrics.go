package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mdraihan27/maildoor/internal/service"
)

// Metrics captures per-request counters and latency for the metrics service.
func Metrics(metricsSvc *service.MetricsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metricsSvc.ObserveRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
