package domain

import (
	"fmt"
	"time"
)

// RequestStatus 经销商要货申请状态
type RequestStatus string

const (
	RequestStatusDraft      RequestStatus = "draft"
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusApproved   RequestStatus = "approved"
	RequestStatusRejected   RequestStatus = "rejected"
	RequestStatusProcessing RequestStatus = "processing"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusCancelled  RequestStatus = "cancelled"
)

var requestTransitions = map[RequestStatus][]RequestStatus{
	RequestStatusDraft:      {RequestStatusPending, RequestStatusCancelled},
	RequestStatusPending:    {RequestStatusApproved, RequestStatusRejected, RequestStatusCancelled},
	RequestStatusApproved:   {RequestStatusProcessing},
	RequestStatusProcessing: {RequestStatusCompleted},
	RequestStatusRejected:   {},
	RequestStatusCompleted:  {},
	RequestStatusCancelled:  {},
}

// IsValid 判断状态取值是否合法
func (s RequestStatus) IsValid() bool {
	_, ok := requestTransitions[s]
	return ok
}

// CanTransitionTo 判断是否允许迁移
func (s RequestStatus) CanTransitionTo(to RequestStatus) bool {
	for _, next := range requestTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckRequestTransition 校验迁移并返回带上下文的错误
func CheckRequestTransition(from, to RequestStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: request cannot move from %s to %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// AllocationRequestItem 申请明细
type AllocationRequestItem struct {
	ID           int64  `json:"id"`
	ProductID    int64  `json:"product_id"`
	VariantIndex int    `json:"variant_index"`
	VariantHash  string `json:"variant_hash"`
	Quantity     int    `json:"quantity"`
}

// AllocationRequest 经销商要货申请；审批通过后生成分配单
type AllocationRequest struct {
	ID            int64                   `json:"id"`
	Code          string                  `json:"code"`
	DealerID      int64                   `json:"dealer_id"`
	Items         []AllocationRequestItem `json:"items"`
	TotalQuantity int                     `json:"total_quantity"`
	Status        RequestStatus           `json:"status"`
	Notes         string                  `json:"notes"`
	RejectReason  string                  `json:"reject_reason,omitempty"`
	AllocationIDs []int64                 `json:"allocation_ids"`
	CreatedBy     int64                   `json:"created_by"`
	Version       int                     `json:"version"`
	SubmittedAt   *time.Time              `json:"submitted_at,omitempty"`
	DecidedAt     *time.Time              `json:"decided_at,omitempty"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// IsEditable 只有草稿允许修改或删除
func (r *AllocationRequest) IsEditable() bool {
	return r.Status == RequestStatusDraft
}

// RecalculateTotal 根据明细重算总数量
func (r *AllocationRequest) RecalculateTotal() {
	total := 0
	for _, it := range r.Items {
		total += it.Quantity
	}
	r.TotalQuantity = total
}

// RequestItemInput 申请明细输入
type RequestItemInput struct {
	ProductID    int64 `json:"product_id" binding:"required,gt=0"`
	VariantIndex int   `json:"variant_index" binding:"min=0"`
	Quantity     int   `json:"quantity" binding:"required,gt=0"`
}

// CreateAllocationRequestRequest 创建申请（草稿）
type CreateAllocationRequestRequest struct {
	DealerID int64              `json:"dealer_id" binding:"required,gt=0"`
	Items    []RequestItemInput `json:"items" binding:"required,min=1,dive"`
	Notes    string             `json:"notes" binding:"max=1000"`
}

// UpdateAllocationRequestRequest 修改草稿
type UpdateAllocationRequestRequest struct {
	Items []RequestItemInput `json:"items" binding:"required,min=1,dive"`
	Notes *string            `json:"notes"`
}

// RejectAllocationRequestRequest 驳回申请
type RejectAllocationRequestRequest struct {
	Reason string `json:"reason" binding:"required,min=1,max=1000"`
}

// AllocationRequestListRequest 申请列表查询
type AllocationRequestListRequest struct {
	Page     int            `form:"page"`
	PageSize int            `form:"page_size"`
	DealerID *int64         `form:"dealer_id"`
	Status   *RequestStatus `form:"status"`
}

// AllocationRequestListResponse 申请列表
type AllocationRequestListResponse struct {
	Requests []*AllocationRequest `json:"requests"`
	Total    int64                `json:"total"`
	Page     int                  `json:"page"`
	PageSize int                  `json:"page_size"`
}
