package domain

import "time"

// DealerStatus 经销商状态
type DealerStatus string

const (
	DealerStatusActive     DealerStatus = "active"
	DealerStatusSuspended  DealerStatus = "suspended"
	DealerStatusTerminated DealerStatus = "terminated"
)

// IsValid 判断状态取值是否合法
func (s DealerStatus) IsValid() bool {
	switch s {
	case DealerStatusActive, DealerStatusSuspended, DealerStatusTerminated:
		return true
	}
	return false
}

// Dealer 经销商档案，包含合同与授信信息
type Dealer struct {
	ID             int64        `json:"id"`
	Code           string       `json:"code"`
	Name           string       `json:"name"`
	Address        string       `json:"address"`
	Phone          string       `json:"phone"`
	Email          string       `json:"email"`
	ContractNumber string       `json:"contract_number"`
	ContractStart  *time.Time   `json:"contract_start,omitempty"`
	ContractEnd    *time.Time   `json:"contract_end,omitempty"`
	CreditLimit    int64        `json:"credit_limit"`
	CurrentDebt    int64        `json:"current_debt"`
	Status         DealerStatus `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// IsActive 判断经销商是否处于可交易状态
func (d *Dealer) IsActive() bool {
	return d.Status == DealerStatusActive
}

// CreateDealerRequest 创建经销商请求
type CreateDealerRequest struct {
	Code           string     `json:"code" binding:"required,min=2,max=32"`
	Name           string     `json:"name" binding:"required,min=1,max=255"`
	Address        string     `json:"address"`
	Phone          string     `json:"phone"`
	Email          string     `json:"email" binding:"omitempty,email"`
	ContractNumber string     `json:"contract_number"`
	ContractStart  *time.Time `json:"contract_start"`
	ContractEnd    *time.Time `json:"contract_end"`
	CreditLimit    int64      `json:"credit_limit" binding:"min=0"`
}

// UpdateDealerStatusRequest 更新经销商状态
type UpdateDealerStatusRequest struct {
	Status DealerStatus `json:"status" binding:"required,oneof=active suspended terminated"`
}

// UpdateCreditLimitRequest 调整授信额度
type UpdateCreditLimitRequest struct {
	CreditLimit int64 `json:"credit_limit" binding:"min=0"`
}

// DealerListRequest 经销商列表查询
type DealerListRequest struct {
	Page     int           `form:"page"`
	PageSize int           `form:"page_size"`
	Status   *DealerStatus `form:"status"`
}

// DealerListResponse 经销商列表
type DealerListResponse struct {
	Dealers  []*Dealer `json:"dealers"`
	Total    int64     `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}
