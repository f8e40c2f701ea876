package domain

import (
	"fmt"
	"strings"
	"time"
)

// AllocationStatus 分配单状态
type AllocationStatus string

const (
	AllocationStatusPending   AllocationStatus = "pending"   // 已扣减厂商库存，等待 VIN
	AllocationStatusAllocated AllocationStatus = "allocated" // VIN 已录入
	AllocationStatusShipped   AllocationStatus = "shipped"   // 已发运
	AllocationStatusDelivered AllocationStatus = "delivered" // 已到店，计入经销商库存
	AllocationStatusCancelled AllocationStatus = "cancelled" // 已取消，厂商库存已返还
)

// allocationTransitions 合法状态边。同状态重复设置不在表中，由调用方按无操作处理。
var allocationTransitions = map[AllocationStatus][]AllocationStatus{
	AllocationStatusPending:   {AllocationStatusAllocated, AllocationStatusCancelled},
	AllocationStatusAllocated: {AllocationStatusPending, AllocationStatusShipped, AllocationStatusDelivered, AllocationStatusCancelled},
	AllocationStatusShipped:   {AllocationStatusAllocated, AllocationStatusDelivered, AllocationStatusCancelled},
	AllocationStatusDelivered: {AllocationStatusAllocated, AllocationStatusShipped, AllocationStatusCancelled},
	AllocationStatusCancelled: {AllocationStatusPending, AllocationStatusAllocated},
}

// IsValid 判断状态取值是否合法
func (s AllocationStatus) IsValid() bool {
	_, ok := allocationTransitions[s]
	return ok
}

// CanTransitionTo 判断是否允许从当前状态迁移到目标状态
func (s AllocationStatus) CanTransitionTo(to AllocationStatus) bool {
	for _, next := range allocationTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// HoldsManufacturerStock 该状态下分配数量是否仍占用厂商库存
func (s AllocationStatus) HoldsManufacturerStock() bool {
	return s != AllocationStatusCancelled
}

// IsActive 处于 pending/allocated/shipped，即尚未到店也未取消
func (s AllocationStatus) IsActive() bool {
	switch s {
	case AllocationStatusPending, AllocationStatusAllocated, AllocationStatusShipped:
		return true
	}
	return false
}

// AllocationVIN 分配单上的一台车
type AllocationVIN struct {
	Position  int       `json:"position"`
	VIN       string    `json:"vin"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy int64     `json:"created_by"`
}

// DealerAllocation 从厂商库存向某经销商调拨 Quantity 台同一变体车辆
type DealerAllocation struct {
	ID                int64            `json:"id"`
	DealerID          int64            `json:"dealer_id"`
	ProductID         int64            `json:"product_id"`
	VariantIndex      int              `json:"variant_index"`
	VariantHash       string           `json:"variant_hash"`
	Quantity          int              `json:"quantity"`
	AllocatedQuantity int              `json:"allocated_quantity"`
	Status            AllocationStatus `json:"status"`
	Notes             string           `json:"notes"`
	VINs              []AllocationVIN  `json:"vins"`
	AllocatedAt       *time.Time       `json:"allocated_at,omitempty"`
	ShippedAt         *time.Time       `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time       `json:"delivered_at,omitempty"`
	CreatedBy         int64            `json:"created_by"`
	Version           int              `json:"version"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// Key 返回分配单所属变体
func (a *DealerAllocation) Key() VariantKey {
	return VariantKey{ProductID: a.ProductID, VariantHash: a.VariantHash}
}

// DeliveredQuantity 到店时计入经销商库存的数量
func (a *DealerAllocation) DeliveredQuantity() int {
	if a.AllocatedQuantity > 0 {
		return a.AllocatedQuantity
	}
	return a.Quantity
}

// StampStatusTime 首次到达某状态时记录时间，已记录的不再覆盖
func (a *DealerAllocation) StampStatusTime(status AllocationStatus, now time.Time) {
	switch status {
	case AllocationStatusAllocated:
		if a.AllocatedAt == nil {
			a.AllocatedAt = &now
		}
	case AllocationStatusShipped:
		if a.ShippedAt == nil {
			a.ShippedAt = &now
		}
	case AllocationStatusDelivered:
		if a.DeliveredAt == nil {
			a.DeliveredAt = &now
		}
	}
}

// StockEffect 描述一次分配单变更对两个计数器的影响
type StockEffect struct {
	// ManufacturerDelta 加到 variant.stock 上的值，负数表示扣减
	ManufacturerDelta int
	// DealerDelta 加到经销商库存 stock 上的值
	DealerDelta int
}

// PlanAllocationChange 计算分配单从 (from, oldQty) 变为 (to, newQty) 时的库存影响。
// 除 cancelled 以外的状态都占用厂商库存；只有 delivered 计入经销商库存。
func PlanAllocationChange(a *DealerAllocation, to AllocationStatus, newQty int) (StockEffect, error) {
	from := a.Status
	if !to.IsValid() {
		return StockEffect{}, fmt.Errorf("%w: unknown allocation status %q", ErrValidation, to)
	}
	if newQty <= 0 {
		return StockEffect{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if from != to && !from.CanTransitionTo(to) {
		return StockEffect{}, fmt.Errorf("%w: allocation cannot move from %s to %s", ErrInvalidTransition, from, to)
	}

	qtyChanged := newQty != a.Quantity
	if qtyChanged {
		if len(a.VINs) > 0 {
			return StockEffect{}, fmt.Errorf("%w: quantity cannot change after VINs are assigned", ErrInvalidTransition)
		}
		if from == AllocationStatusDelivered || to == AllocationStatusDelivered {
			return StockEffect{}, fmt.Errorf("%w: quantity cannot change on a delivered allocation", ErrInvalidTransition)
		}
	}

	var effect StockEffect
	held := func(s AllocationStatus, q int) int {
		if s.HoldsManufacturerStock() {
			return q
		}
		return 0
	}
	effect.ManufacturerDelta = held(from, a.Quantity) - held(to, newQty)

	switch {
	case from != AllocationStatusDelivered && to == AllocationStatusDelivered:
		effect.DealerDelta = newQty
	case from == AllocationStatusDelivered && to != AllocationStatusDelivered:
		effect.DealerDelta = -a.DeliveredQuantity()
	}
	return effect, nil
}

// NormalizeVIN 去除首尾空白并转大写
func NormalizeVIN(vin string) string {
	return strings.ToUpper(strings.TrimSpace(vin))
}

// MaxVINLength VIN 存储列宽
const MaxVINLength = 32

// NormalizeVINBatch 规范化一批 VIN，并检查空值与批内重复
func NormalizeVINBatch(vins []string) ([]string, error) {
	if len(vins) == 0 {
		return nil, fmt.Errorf("%w: vin list must not be empty", ErrValidation)
	}
	out := make([]string, 0, len(vins))
	seen := make(map[string]struct{}, len(vins))
	for _, raw := range vins {
		v := NormalizeVIN(raw)
		if v == "" {
			return nil, fmt.Errorf("%w: vin must not be blank", ErrValidation)
		}
		if len(v) > MaxVINLength {
			return nil, fmt.Errorf("%w: vin %s exceeds %d characters", ErrValidation, v, MaxVINLength)
		}
		if _, dup := seen[v]; dup {
			return nil, fmt.Errorf("%w: %s appears more than once in the batch", ErrDuplicateVin, v)
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

// CreateAllocationRequest 创建分配单
type CreateAllocationRequest struct {
	DealerID     int64  `json:"dealer_id" binding:"required,gt=0"`
	ProductID    int64  `json:"product_id" binding:"required,gt=0"`
	VariantIndex int    `json:"variant_index" binding:"min=0"`
	Quantity     int    `json:"quantity" binding:"required,gt=0"`
	Notes        string `json:"notes" binding:"max=1000"`
}

// TransitionAllocationRequest 状态变更，可同时修改数量
type TransitionAllocationRequest struct {
	Status   AllocationStatus `json:"status" binding:"required,oneof=pending allocated shipped delivered cancelled"`
	Quantity *int             `json:"quantity" binding:"omitempty,gt=0"`
}

// AssignVinsRequest 一次性录入全部 VIN
type AssignVinsRequest struct {
	VINs []string `json:"vins" binding:"required,min=1"`
}

// EditVinRequest 修正某个位置上的 VIN
type EditVinRequest struct {
	VIN string `json:"vin" binding:"required"`
}

// AllocationListRequest 分配单列表查询
type AllocationListRequest struct {
	Page      int               `form:"page"`
	PageSize  int               `form:"page_size"`
	DealerID  *int64            `form:"dealer_id"`
	ProductID *int64            `form:"product_id"`
	Status    *AllocationStatus `form:"status"`
}

// AllocationListResponse 分配单列表
type AllocationListResponse struct {
	Allocations []*DealerAllocation `json:"allocations"`
	Total       int64               `json:"total"`
	Page        int                 `json:"page"`
	PageSize    int                 `json:"page_size"`
}
