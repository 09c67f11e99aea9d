package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/plan-takeoff/pkg/logger"
)

// RequestLogger 记录每个请求
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("Request handled",
			logger.String("method", c.Request.Method),
			logger.String("path", c.FullPath()),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
		)
	}
}
