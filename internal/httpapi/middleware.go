package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Rajchodisetti/marketfeed/internal/observ"
)

const RequestIDHeader = "X-Request-ID"

// RequestID propagates the caller's request id or assigns a new one
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// AccessLog writes one structured line per request and records latency
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		observ.RecordDuration("http_request", elapsed, map[string]string{"route": route})
		observ.Log("http_request", map[string]any{
			"request_id": c.GetString("request_id"),
			"method":     c.Request.Method,
			"route":      route,
			"status":     c.Writer.Status(),
			"latency_ms": elapsed.Milliseconds(),
		})
	}
}
