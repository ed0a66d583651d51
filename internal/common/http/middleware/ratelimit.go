package middleware

import (
	"judgebox/internal/common/ratelimit"
	"judgebox/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// RateLimitMiddleware limits requests per client IP and route. A nil limiter disables it.
func RateLimitMiddleware(limiter ratelimit.Limiter, routeKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		key := "judge:rate:ip:" + c.ClientIP() + ":" + routeKey
		if err := limiter.Allow(c.Request.Context(), key); err != nil {
			response.AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
