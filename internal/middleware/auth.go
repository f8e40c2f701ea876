package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/resp"
	"github.com/MorseWayne/ev_dealer/internal/service"
)

// gin 上下文中的认证信息键
const (
	GinKeyUserID   = "user_id"
	GinKeyUserRole = "user_role"
	GinKeyDealerID = "dealer_id"
)

const bearerPrefix = "Bearer "

// Auth JWT 认证中间件
// 校验 Authorization 头中的访问令牌，把操作人写入 gin 上下文与请求上下文
func Auth(jwtService service.JWTService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := RequestIDFromContext(c.Request.Context())

		header := c.GetHeader("Authorization")
		if header == "" {
			logger.Warn("missing authorization header", zap.String("request_id", reqID))
			abort(c, http.StatusUnauthorized, resp.CodeUnauthorized, "authorization header required")
			return
		}
		if !strings.HasPrefix(header, bearerPrefix) {
			logger.Warn("invalid authorization header format", zap.String("request_id", reqID))
			abort(c, http.StatusUnauthorized, resp.CodeUnauthorized, "invalid authorization header format")
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
		if token == "" {
			abort(c, http.StatusUnauthorized, resp.CodeUnauthorized, "token required")
			return
		}

		claims, err := jwtService.ValidateAccessToken(token)
		if err != nil {
			logger.Warn("token validation failed", zap.String("request_id", reqID), zap.Error(err))
			switch {
			case errors.Is(err, service.ErrTokenExpired):
				abort(c, http.StatusUnauthorized, resp.CodeUnauthorized, "token expired")
			case errors.Is(err, service.ErrTokenNotReady):
				abort(c, http.StatusUnauthorized, resp.CodeUnauthorized, "token not ready")
			default:
				abort(c, http.StatusUnauthorized, resp.CodeUnauthorized, "invalid token")
			}
			return
		}

		user := claims.User()
		c.Set(GinKeyUserID, user.ID)
		c.Set(GinKeyUserRole, string(user.Role))
		c.Set(GinKeyDealerID, user.DealerID)
		c.Request = c.Request.WithContext(WithUser(c.Request.Context(), user))
		c.Next()
	}
}

// RequireRoles 要求操作人具有任一给定角色
func RequireRoles(logger *zap.Logger, roles ...domain.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := UserFromContext(c.Request.Context())
		if user == nil {
			abort(c, http.StatusUnauthorized, resp.CodeUnauthorized, "authentication required")
			return
		}
		for _, role := range roles {
			if user.Role == role {
				c.Next()
				return
			}
		}
		logger.Warn("insufficient permissions",
			zap.String("request_id", RequestIDFromContext(c.Request.Context())),
			zap.Int64("user_id", user.ID),
			zap.String("user_role", string(user.Role)),
			zap.String("path", c.FullPath()))
		abort(c, http.StatusForbidden, resp.CodeForbidden, "insufficient permissions")
	}
}

// RequireManufacturer 厂商侧接口：admin 或 evm_staff
func RequireManufacturer(logger *zap.Logger) gin.HandlerFunc {
	return RequireRoles(logger, domain.UserRoleAdmin, domain.UserRoleEVMStaff)
}

func abort(c *gin.Context, status, code int, msg string) {
	resp.Error(c.Writer, status, code, msg, RequestIDFromContext(c.Request.Context()), "")
	c.Abort()
}
