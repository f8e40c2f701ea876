package domain

import "time"

// EventType 账本事件类型，同时作为消息路由键
type EventType string

const (
	EventAllocationCreated       EventType = "allocation.created"
	EventAllocationStatusChanged EventType = "allocation.status_changed"
	EventAllocationVinsAssigned  EventType = "allocation.vins_assigned"
	EventAllocationVinEdited     EventType = "allocation.vin_edited"
	EventVariantStockAdjusted    EventType = "variant.stock_adjusted"
	EventOrderSubmitted          EventType = "order.submitted"
	EventOrderCancelled          EventType = "order.cancelled"
	EventRequestApproved         EventType = "request.approved"
)

// LedgerEvent 提交成功后对外发布的账本变更
type LedgerEvent struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	OccurredAt   time.Time `json:"occurred_at"`
	Actor        int64     `json:"actor"`
	DealerID     int64     `json:"dealer_id,omitempty"`
	ProductID    int64     `json:"product_id,omitempty"`
	VariantHash  string    `json:"variant_hash,omitempty"`
	AllocationID int64     `json:"allocation_id,omitempty"`
	OrderID      int64     `json:"order_id,omitempty"`
	RequestID    int64     `json:"request_id,omitempty"`
	FromStatus   string    `json:"from_status,omitempty"`
	ToStatus     string    `json:"to_status,omitempty"`
	Quantity     int       `json:"quantity,omitempty"`
}
