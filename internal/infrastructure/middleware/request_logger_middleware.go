package middleware

import (
	"time"

	"streampulse/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLoggerMiddleware logs every request with trace correlation fields.
// Mount it after TracingMiddleware so the active span is on the context.
func RequestLoggerMiddleware(log *zap.Logger) gin.HandlerFunc {
	cl := logger.NewContextLogger(log)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		cl.LogRequest(
			c.Request.Context(),
			c.Request.Method,
			c.FullPath(),
			c.Writer.Status(),
			time.Since(start).Milliseconds(),
		)
	}
}
