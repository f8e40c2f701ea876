package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/cache"
	"github.com/MorseWayne/ev_dealer/internal/resp"
)

// HeaderIdempotencyKey 客户端为写请求提供的幂等键
const HeaderIdempotencyKey = "X-Idempotency-Key"

// Idempotency 对带幂等键的写请求去重；重复请求返回 409。
// 幂等键按 方法+路径+操作人 划分作用域，处理失败（状态码 >= 400）时释放以便重试。
// 缓存不可用时放行请求。
func Idempotency(store *cache.IdempotencyStore, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		var userID int64
		if user := UserFromContext(ctx); user != nil {
			userID = user.ID
		}
		scope := fmt.Sprintf("%s:%s:%d", c.Request.Method, c.Request.URL.Path, userID)

		first, err := store.Acquire(ctx, scope, key)
		if err != nil {
			logger.Warn("idempotency store unavailable", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}
		if !first {
			abort(c, http.StatusConflict, resp.CodeConflict, "duplicate request")
			return
		}

		c.Next()

		if c.Writer.Status() >= http.StatusBadRequest {
			// 超时后请求上下文已取消，释放不能随之失败
			if err := store.Release(context.WithoutCancel(ctx), scope, key); err != nil {
				logger.Warn("failed to release idempotency key", zap.String("scope", scope), zap.Error(err))
			}
		}
	}
}
