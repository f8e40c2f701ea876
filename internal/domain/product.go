// Package domain 定义经销分配系统的业务领域模型和核心业务规则。
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ProductStatus 定义车型状态类型
type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"   // 正常供货
	ProductStatusInactive ProductStatus = "inactive" // 暂停供货
)

// AttributeValue 车型变体的一个属性取值，例如 颜色=白色
type AttributeValue struct {
	Attribute string `json:"attribute"`
	Option    string `json:"option"`
}

// Product 表示车型，变体按 variant_index 排列
type Product struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name"`
	Model       string           `json:"model"`
	Description string           `json:"description"`
	Status      ProductStatus    `json:"status"`
	Variants    []ProductVariant `json:"variants"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// IsAvailable 判断车型是否可供货
func (p *Product) IsAvailable() bool {
	return p.Status == ProductStatusActive
}

// ProductVariant 车型变体；Stock 为厂商侧可分配数量
type ProductVariant struct {
	ID             int64            `json:"id"`
	ProductID      int64            `json:"product_id"`
	VariantIndex   int              `json:"variant_index"`
	VariantHash    string           `json:"variant_hash"`
	AttributeValue []AttributeValue `json:"attribute_value"`
	Price          int64            `json:"price"`
	Stock          int              `json:"stock"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// VariantHash 计算变体的内容哈希。
// 属性对先规范化（去空白、小写）再排序，因此与属性顺序及数组下标无关。
func VariantHash(attrs []AttributeValue) string {
	pairs := make([]string, 0, len(attrs))
	for _, a := range attrs {
		pairs = append(pairs, fmt.Sprintf("%s=%s",
			strings.ToLower(strings.TrimSpace(a.Attribute)),
			strings.ToLower(strings.TrimSpace(a.Option))))
	}
	sort.Strings(pairs)

	sum := sha256.Sum256([]byte(strings.Join(pairs, "|")))
	return hex.EncodeToString(sum[:])
}

// VariantKey 唯一定位一个变体
type VariantKey struct {
	ProductID   int64
	VariantHash string
}

func (k VariantKey) String() string {
	return fmt.Sprintf("%d:%s", k.ProductID, k.VariantHash)
}

// CreateProductRequest 创建车型请求
type CreateProductRequest struct {
	Name        string                 `json:"name" binding:"required,min=1,max=255"`
	Model       string                 `json:"model" binding:"required,min=1,max=100"`
	Description string                 `json:"description"`
	Variants    []CreateVariantRequest `json:"variants" binding:"required,min=1,dive"`
}

// CreateVariantRequest 创建变体请求
type CreateVariantRequest struct {
	AttributeValue []AttributeValue `json:"attribute_value" binding:"required,min=1"`
	Price          int64            `json:"price" binding:"min=0"`
	Stock          int              `json:"stock" binding:"min=0"`
}

// AdjustVariantStockRequest 厂商补货或盘点修正
type AdjustVariantStockRequest struct {
	Delta  int    `json:"delta" binding:"required"`
	Reason string `json:"reason" binding:"required,min=1"`
}

// ProductListRequest 车型列表查询
type ProductListRequest struct {
	Page     int            `form:"page"`
	PageSize int            `form:"page_size"`
	Status   *ProductStatus `form:"status"`
	Keyword  *string        `form:"keyword"`
}

// ProductListResponse 车型列表
type ProductListResponse struct {
	Products []*Product `json:"products"`
	Total    int64      `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

// VariantStockSummary 厂商侧库存概览：Initial = Stock + Committed
type VariantStockSummary struct {
	ProductID    int64  `json:"product_id"`
	VariantIndex int    `json:"variant_index"`
	VariantHash  string `json:"variant_hash"`
	Stock        int    `json:"stock"`
	Committed    int    `json:"committed"`
	Initial      int    `json:"initial"`
}
