package domain

import "errors"

// 业务错误分类。各层通过 fmt.Errorf("%w: ...") 追加上下文，
// API 层使用 errors.Is 映射到业务错误码。
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation error")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicateVin      = errors.New("duplicate vin")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
)
