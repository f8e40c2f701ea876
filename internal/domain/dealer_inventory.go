package domain

import "time"

// DealerInventory 经销商门店库存，每个 (经销商, 车型, 变体) 唯一一行
type DealerInventory struct {
	ID            int64     `json:"id"`
	DealerID      int64     `json:"dealer_id"`
	ProductID     int64     `json:"product_id"`
	VariantIndex  int       `json:"variant_index"`
	VariantHash   string    `json:"variant_hash"`
	Stock         int       `json:"stock"`          // 门店实车数量
	ReservedStock int       `json:"reserved_stock"` // 被未完结客户订单占用的数量
	Version       int       `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AvailableStock 返回可售数量
func (i *DealerInventory) AvailableStock() int {
	return i.Stock - i.ReservedStock
}

// CanReserve 判断是否可以预留指定数量
func (i *DealerInventory) CanReserve(quantity int) bool {
	return quantity > 0 && i.AvailableStock() >= quantity
}

// DealerStockRequest 经销商实车出库请求
type DealerStockRequest struct {
	DealerID     int64 `json:"dealer_id" binding:"required,gt=0"`
	ProductID    int64 `json:"product_id" binding:"required,gt=0"`
	VariantIndex int   `json:"variant_index" binding:"min=0"`
	Quantity     int   `json:"quantity" binding:"required,gt=0"`
}

// DealerInventoryListRequest 经销商库存列表查询
type DealerInventoryListRequest struct {
	Page      int    `form:"page"`
	PageSize  int    `form:"page_size"`
	DealerID  *int64 `form:"dealer_id"`
	ProductID *int64 `form:"product_id"`
}

// DealerInventoryListResponse 经销商库存列表
type DealerInventoryListResponse struct {
	Inventories []*DealerInventory `json:"inventories"`
	Total       int64              `json:"total"`
	Page        int                `json:"page"`
	PageSize    int                `json:"page_size"`
}

// AvailabilityResponse 可售数量查询结果
type AvailabilityResponse struct {
	DealerID     int64 `json:"dealer_id"`
	ProductID    int64 `json:"product_id"`
	VariantIndex int   `json:"variant_index"`
	Stock        int   `json:"stock"`
	Reserved     int   `json:"reserved"`
	Available    int   `json:"available"`
}
