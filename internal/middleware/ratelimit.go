package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/storage"
)

// IPRateLimit 基于 Redis 计数器的按 IP 限流中间件。
//
// 计数器不可用时放行：限流是保护手段，Redis 故障不应拖垮读接口。
func IPRateLimit(rateLimits storage.RateLimitRepository, maxRequests int64, window time.Duration, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("ip:%s", c.ClientIP())

		count, err := rateLimits.IncrementRateLimit(key, window)
		if err != nil {
			log.Warn("rate limit counter unavailable, allowing request",
				zap.String("ip", c.ClientIP()), zap.Error(err))
			c.Next()
			return
		}

		if count > maxRequests {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "too many requests",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
