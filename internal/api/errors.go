// Package api 提供经销商分销平台的 gin HTTP 处理器
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/middleware"
	"github.com/MorseWayne/ev_dealer/internal/resp"
)

var validatorOnce sync.Once

// registerFieldNames 校验错误使用 json/form 字段名而不是 Go 字段名
func registerFieldNames() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
}

// errorCode 领域错误到业务码的映射
func errorCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return resp.CodeInvalidParam
	case errors.Is(err, domain.ErrNotFound):
		return resp.CodeNotFound
	case errors.Is(err, domain.ErrForbidden):
		return resp.CodeForbidden
	case errors.Is(err, domain.ErrInsufficientStock):
		return resp.CodeInsufficientStock
	case errors.Is(err, domain.ErrDuplicateVin):
		return resp.CodeDuplicateVin
	case errors.Is(err, domain.ErrInvalidTransition):
		return resp.CodeInvalidTransition
	case errors.Is(err, domain.ErrConflict):
		return resp.CodeConflict
	case errors.Is(err, context.DeadlineExceeded):
		return resp.CodeTimeout
	default:
		return resp.CodeInternalError
	}
}

// writeError 写出错误响应；内部错误只记录日志，不把细节返回给客户端
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	code := errorCode(err)
	msg := err.Error()
	switch code {
	case resp.CodeInternalError:
		logger.Error("request failed",
			zap.String("request_id", requestID(c)),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		msg = "internal server error"
	case resp.CodeTimeout:
		msg = "request timeout"
	}
	resp.Error(c.Writer, resp.HTTPStatusFromCode(code), code, msg, requestID(c), "")
}

func writeInvalid(c *gin.Context, msg string) {
	resp.Error(c.Writer, http.StatusBadRequest, resp.CodeInvalidParam, msg, requestID(c), "")
}

func writeOK[T any](c *gin.Context, data *T) {
	resp.OK(c.Writer, data, requestID(c), "")
}

func writeCreated[T any](c *gin.Context, data *T) {
	resp.WriteJSON(c.Writer, http.StatusCreated, resp.CodeOK, "success", data, requestID(c), "")
}

func writeNoContent(c *gin.Context) {
	resp.WriteJSON[any](c.Writer, http.StatusOK, resp.CodeOK, "success", nil, requestID(c), "")
}

// bindJSON 绑定并校验请求体，失败时直接写出 400
func bindJSON(c *gin.Context, dst any) bool {
	validatorOnce.Do(registerFieldNames)
	if err := c.ShouldBindJSON(dst); err != nil {
		writeInvalid(c, bindingMessage(err))
		return false
	}
	return true
}

// bindQuery 绑定并校验查询参数
func bindQuery(c *gin.Context, dst any) bool {
	validatorOnce.Do(registerFieldNames)
	if err := c.ShouldBindQuery(dst); err != nil {
		writeInvalid(c, bindingMessage(err))
		return false
	}
	return true
}

// bindingMessage 把校验错误翻译成 "field: rule" 形式
func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fieldMessage(fe))
	}
	return strings.Join(parts, "; ")
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gt", "min":
		return fmt.Sprintf("%s must be at least %s", field, minValue(fe))
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "email":
		return field + " must be a valid email"
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// minValue gt=N 等价于 min=N+1（仅整数）
func minValue(fe validator.FieldError) string {
	if fe.Tag() != "gt" {
		return fe.Param()
	}
	n, err := strconv.Atoi(fe.Param())
	if err != nil {
		return fe.Param()
	}
	return strconv.Itoa(n + 1)
}

// pathID 解析正整数路径参数
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		writeInvalid(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// pathIndex 解析非负整数路径参数（变体下标、VIN 位置）
func pathIndex(c *gin.Context, name string) (int, bool) {
	n, err := strconv.Atoi(c.Param(name))
	if err != nil || n < 0 {
		writeInvalid(c, "invalid "+name)
		return 0, false
	}
	return n, true
}

func requestID(c *gin.Context) string {
	return middleware.RequestIDFromContext(c.Request.Context())
}

// actor 认证中间件写入的操作人
func actor(c *gin.Context) *domain.User {
	return middleware.UserFromContext(c.Request.Context())
}

// bindOptionalJSON 请求体可省略
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bindJSON(c, dst)
}
