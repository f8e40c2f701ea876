// Package resp 定义统一的 JSON 响应结构与业务错误码。
package resp

import (
	"encoding/json"
	"net/http"
)

// 业务错误码。0 表示成功，其余按类别分段。
const (
	CodeOK = 0

	CodeInvalidParam      = 10001
	CodeUnauthorized      = 10002
	CodeForbidden         = 10003
	CodeNotFound          = 10004
	CodeConflict          = 10009
	CodeTooManyRequests   = 10029
	CodeInsufficientStock = 20001
	CodeDuplicateVin      = 20002
	CodeInvalidTransition = 20003
	CodeTimeout           = 50004
	CodeInternalError     = 50000
)

// Response 统一响应体。Success 与 Code == CodeOK 等价，便于客户端直接判断。
type Response[T any] struct {
	Success   bool   `json:"success"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      *T     `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// WriteJSON 写出统一格式的 JSON 响应
func WriteJSON[T any](w http.ResponseWriter, status int, code int, msg string, data *T, reqID, traceID string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response[T]{
		Success:   code == CodeOK,
		Code:      code,
		Message:   msg,
		Data:      data,
		RequestID: reqID,
		TraceID:   traceID,
	})
}

// OK 写出成功响应
func OK[T any](w http.ResponseWriter, data *T, reqID, traceID string) {
	WriteJSON(w, http.StatusOK, CodeOK, "success", data, reqID, traceID)
}

// Error 写出失败响应
func Error(w http.ResponseWriter, status int, code int, msg string, reqID, traceID string) {
	WriteJSON[any](w, status, code, msg, nil, reqID, traceID)
}

// HTTPStatusFromCode 业务码到 HTTP 状态码的默认映射
func HTTPStatusFromCode(code int) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeDuplicateVin:
		return http.StatusConflict
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeInsufficientStock, CodeInvalidTransition:
		return http.StatusUnprocessableEntity
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
