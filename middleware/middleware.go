package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"chatgate/logger"
)

// RequestLog logs one line per HTTP request. WebSocket upgrades log on exit,
// so a long-lived session shows up when it ends, with its full duration.
func RequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Infof("[http] %s %s status=%d took=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// Recovery converts a handler panic into a 500 instead of killing the process.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[http] panic %s %s: %v", c.Request.Method, c.Request.URL.Path, r)
				c.AbortWithStatus(500)
			}
		}()
		c.Next()
	}
}
