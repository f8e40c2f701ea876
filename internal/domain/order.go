package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// OrderStatus 客户订单状态
type OrderStatus string

const (
	OrderStatusDraft      OrderStatus = "draft"
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusDelivering OrderStatus = "delivering"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusDraft:      {OrderStatusPending, OrderStatusCancelled},
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusDelivering, OrderStatusCancelled},
	OrderStatusDelivering: {OrderStatusCompleted},
	OrderStatusCompleted:  {OrderStatusRefunded},
	OrderStatusCancelled:  {},
	OrderStatusRefunded:   {},
}

// IsValid 判断状态取值是否合法
func (s OrderStatus) IsValid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransitionTo 判断是否允许迁移
func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// HoldsReservation 该状态下订单占用经销商预留库存
func (s OrderStatus) HoldsReservation() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing:
		return true
	}
	return false
}

// CheckOrderTransition 校验迁移并返回带上下文的错误
func CheckOrderTransition(from, to OrderStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: order cannot move from %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// OrderItem 订单明细，下单时快照价格与车型信息
type OrderItem struct {
	ID              int64           `json:"id"`
	ProductID       int64           `json:"product_id"`
	VariantIndex    int             `json:"variant_index"`
	VariantHash     string          `json:"variant_hash"`
	Quantity        int             `json:"quantity"`
	UnitPrice       int64           `json:"unit_price"`
	Discount        int64           `json:"discount"`
	TotalPrice      int64           `json:"total_price"`
	ProductSnapshot json.RawMessage `json:"product_snapshot,omitempty"`
}

// ProductSnapshot 下单时刻的车型快照，仅用于审计
type ProductSnapshot struct {
	ProductID      int64            `json:"product_id"`
	Name           string           `json:"name"`
	Model          string           `json:"model"`
	VariantIndex   int              `json:"variant_index"`
	AttributeValue []AttributeValue `json:"attribute_value"`
	ListPrice      int64            `json:"list_price"`
	CapturedAt     time.Time        `json:"captured_at"`
}

// OrderStatusHistory 订单状态流水
type OrderStatusHistory struct {
	Status    OrderStatus `json:"status"`
	Actor     int64       `json:"actor"`
	Notes     string      `json:"notes,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Order 经销商对终端客户的销售订单
type Order struct {
	ID            int64                `json:"id"`
	Code          string               `json:"code"`
	DealerID      int64                `json:"dealer_id"`
	CustomerName  string               `json:"customer_name"`
	CustomerPhone string               `json:"customer_phone"`
	CustomerEmail string               `json:"customer_email"`
	Items         []OrderItem          `json:"items"`
	Subtotal      int64                `json:"subtotal"`
	DiscountTotal int64                `json:"discount_total"`
	TotalAmount   int64                `json:"total_amount"`
	Status        OrderStatus          `json:"status"`
	StatusHistory []OrderStatusHistory `json:"status_history"`
	Notes         string               `json:"notes"`
	CreatedBy     int64                `json:"created_by"`
	Version       int                  `json:"version"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// IsEditable 只有草稿允许修改或删除
func (o *Order) IsEditable() bool {
	return o.Status == OrderStatusDraft
}

// RecalculateTotals 根据明细重算金额
func (o *Order) RecalculateTotals() {
	var subtotal, discount int64
	for _, it := range o.Items {
		subtotal += it.UnitPrice * int64(it.Quantity)
		discount += it.Discount
	}
	o.Subtotal = subtotal
	o.DiscountTotal = discount
	o.TotalAmount = subtotal - discount
}

// ReservationLines 按变体汇总数量，同一变体多行只预留一次
func (o *Order) ReservationLines() []ReservationLine {
	index := make(map[VariantKey]int)
	var lines []ReservationLine
	for _, it := range o.Items {
		key := VariantKey{ProductID: it.ProductID, VariantHash: it.VariantHash}
		if i, ok := index[key]; ok {
			lines[i].Quantity += it.Quantity
			continue
		}
		index[key] = len(lines)
		lines = append(lines, ReservationLine{Key: key, VariantIndex: it.VariantIndex, Quantity: it.Quantity})
	}
	return lines
}

// ReservationLine 一个变体上的预留数量
type ReservationLine struct {
	Key          VariantKey
	VariantIndex int
	Quantity     int
}

// OrderItemInput 订单明细输入
type OrderItemInput struct {
	ProductID    int64 `json:"product_id" binding:"required,gt=0"`
	VariantIndex int   `json:"variant_index" binding:"min=0"`
	Quantity     int   `json:"quantity" binding:"required,gt=0"`
}

// CreateOrderRequest 创建草稿订单
type CreateOrderRequest struct {
	DealerID      int64            `json:"dealer_id" binding:"required,gt=0"`
	CustomerName  string           `json:"customer_name" binding:"required,min=1,max=255"`
	CustomerPhone string           `json:"customer_phone" binding:"max=32"`
	CustomerEmail string           `json:"customer_email" binding:"omitempty,email"`
	Items         []OrderItemInput `json:"items" binding:"required,min=1,dive"`
	Notes         string           `json:"notes" binding:"max=1000"`
}

// UpdateOrderRequest 修改草稿订单
type UpdateOrderRequest struct {
	CustomerName  *string          `json:"customer_name" binding:"omitempty,min=1,max=255"`
	CustomerPhone *string          `json:"customer_phone" binding:"omitempty,max=32"`
	CustomerEmail *string          `json:"customer_email" binding:"omitempty,email"`
	Items         []OrderItemInput `json:"items" binding:"omitempty,min=1,dive"`
	Notes         *string          `json:"notes"`
}

// OrderTransitionRequest 订单状态操作附带备注
type OrderTransitionRequest struct {
	Notes string `json:"notes" binding:"max=1000"`
}

// OrderListRequest 订单列表查询
type OrderListRequest struct {
	Page     int          `form:"page"`
	PageSize int          `form:"page_size"`
	DealerID *int64       `form:"dealer_id"`
	Status   *OrderStatus `form:"status"`
}

// OrderListResponse 订单列表
type OrderListResponse struct {
	Orders   []*Order `json:"orders"`
	Total    int64    `json:"total"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
}
