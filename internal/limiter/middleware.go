package limiter

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/middleware"
	"github.com/MorseWayne/ev_dealer/internal/resp"
)

const (
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderRetryAfter = "Retry-After"
)

// UserKey 已认证请求按用户限流，否则按客户端 IP
func UserKey(c *gin.Context) string {
	if id := c.GetInt64(middleware.GinKeyUserID); id > 0 {
		return "user:" + strconv.FormatInt(id, 10)
	}
	return "ip:" + c.ClientIP()
}

// RateLimit 限流中间件；限流器出错时放行
func RateLimit(l Limiter, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		key := UserKey(c)
		result, err := Allow(ctx, l, key)
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request",
				zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		c.Header(HeaderRemaining, strconv.FormatInt(result.Remaining, 10))
		if !result.Allowed {
			secs := int64(result.RetryAfter.Round(time.Second) / time.Second)
			c.Header(HeaderRetryAfter, strconv.FormatInt(max(secs, 1), 10))
			resp.Error(c.Writer, http.StatusTooManyRequests, resp.CodeTooManyRequests,
				"too many requests", middleware.RequestIDFromContext(c.Request.Context()), "")
			c.Abort()
			return
		}
		c.Next()
	}
}
