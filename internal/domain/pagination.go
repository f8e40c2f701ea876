package domain

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NormalizePage 统一分页参数：页码从 1 开始，默认每页 20 条，上限 100
func NormalizePage(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// Offset 返回分页偏移量
func Offset(page, pageSize int) int {
	return (page - 1) * pageSize
}
