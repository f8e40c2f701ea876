package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType 优惠计算方式
type DiscountType string

const (
	DiscountTypePercent DiscountType = "percent" // Value 为百分比，如 7.5
	DiscountTypeFixed   DiscountType = "fixed"   // Value 为每台减免金额
)

// PromotionStatus 促销状态；expired 在读取时按结束时间惰性判定
type PromotionStatus string

const (
	PromotionStatusActive   PromotionStatus = "active"
	PromotionStatusInactive PromotionStatus = "inactive"
	PromotionStatusExpired  PromotionStatus = "expired"
)

var hundred = decimal.NewFromInt(100)

// DealerPrice 经销商专属变体价格
type DealerPrice struct {
	ID          int64     `json:"id"`
	DealerID    int64     `json:"dealer_id"`
	ProductID   int64     `json:"product_id"`
	VariantHash string    `json:"variant_hash"`
	Price       int64     `json:"price"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Discount 经销商折扣
type Discount struct {
	ID        int64           `json:"id"`
	DealerID  int64           `json:"dealer_id"`
	Name      string          `json:"name"`
	Type      DiscountType    `json:"type"`
	Value     decimal.Decimal `json:"value"`
	StartAt   *time.Time      `json:"start_at,omitempty"`
	EndAt     *time.Time      `json:"end_at,omitempty"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
}

// IsEffective 判断折扣在 at 时刻是否生效
func (d *Discount) IsEffective(at time.Time) bool {
	return d.Active && withinWindow(d.StartAt, d.EndAt, at)
}

// PerUnit 计算每台减免金额
func (d *Discount) PerUnit(unitPrice int64) int64 {
	return reduction(d.Type, d.Value, unitPrice)
}

// Promotion 车型促销；ProductID 为空表示全车型
type Promotion struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	ProductID *int64          `json:"product_id,omitempty"`
	Type      DiscountType    `json:"type"`
	Value     decimal.Decimal `json:"value"`
	StartAt   *time.Time      `json:"start_at,omitempty"`
	EndAt     *time.Time      `json:"end_at,omitempty"`
	Status    PromotionStatus `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// EffectiveStatus 结束时间已过的 active 促销视为 expired
func (p *Promotion) EffectiveStatus(at time.Time) PromotionStatus {
	if p.Status == PromotionStatusActive && p.EndAt != nil && at.After(*p.EndAt) {
		return PromotionStatusExpired
	}
	return p.Status
}

// Applies 判断促销在 at 时刻是否适用于该车型
func (p *Promotion) Applies(productID int64, at time.Time) bool {
	if p.EffectiveStatus(at) != PromotionStatusActive {
		return false
	}
	if p.ProductID != nil && *p.ProductID != productID {
		return false
	}
	return withinWindow(p.StartAt, p.EndAt, at)
}

// PerUnit 计算每台减免金额
func (p *Promotion) PerUnit(unitPrice int64) int64 {
	return reduction(p.Type, p.Value, unitPrice)
}

// reduction 百分比按四舍五入取整，减免额不超过单价
func reduction(t DiscountType, value decimal.Decimal, unitPrice int64) int64 {
	if value.IsNegative() || unitPrice <= 0 {
		return 0
	}
	var amount int64
	switch t {
	case DiscountTypePercent:
		amount = decimal.NewFromInt(unitPrice).Mul(value).Div(hundred).Round(0).IntPart()
	case DiscountTypeFixed:
		amount = value.Round(0).IntPart()
	}
	if amount > unitPrice {
		amount = unitPrice
	}
	if amount < 0 {
		amount = 0
	}
	return amount
}

func withinWindow(start, end *time.Time, at time.Time) bool {
	if start != nil && at.Before(*start) {
		return false
	}
	if end != nil && at.After(*end) {
		return false
	}
	return true
}

// PriceQuote 报价结果，金额均为整数最小货币单位
type PriceQuote struct {
	ProductID          int64  `json:"product_id"`
	VariantIndex       int    `json:"variant_index"`
	VariantHash        string `json:"variant_hash"`
	Quantity           int    `json:"quantity"`
	ListPrice          int64  `json:"list_price"`
	UnitPrice          int64  `json:"unit_price"`
	Discount           int64  `json:"discount"`
	TotalPrice         int64  `json:"total_price"`
	AppliedDiscountID  *int64 `json:"applied_discount_id,omitempty"`
	AppliedPromotionID *int64 `json:"applied_promotion_id,omitempty"`
}

// BuildQuote 选取单台减免最大的一项优惠（折扣与促销不叠加）
func BuildQuote(variant *ProductVariant, quantity int, dealerPrice *DealerPrice, discounts []*Discount, promotions []*Promotion, at time.Time) *PriceQuote {
	q := &PriceQuote{
		ProductID:    variant.ProductID,
		VariantIndex: variant.VariantIndex,
		VariantHash:  variant.VariantHash,
		Quantity:     quantity,
		ListPrice:    variant.Price,
		UnitPrice:    variant.Price,
	}
	if dealerPrice != nil {
		q.UnitPrice = dealerPrice.Price
	}

	var best int64
	for _, d := range discounts {
		if !d.IsEffective(at) {
			continue
		}
		if amt := d.PerUnit(q.UnitPrice); amt > best {
			best = amt
			id := d.ID
			q.AppliedDiscountID, q.AppliedPromotionID = &id, nil
		}
	}
	for _, p := range promotions {
		if !p.Applies(variant.ProductID, at) {
			continue
		}
		if amt := p.PerUnit(q.UnitPrice); amt > best {
			best = amt
			id := p.ID
			q.AppliedDiscountID, q.AppliedPromotionID = nil, &id
		}
	}

	q.Discount = best * int64(quantity)
	q.TotalPrice = q.UnitPrice*int64(quantity) - q.Discount
	return q
}

// UpsertDealerPriceRequest 设置经销商专属价
type UpsertDealerPriceRequest struct {
	DealerID     int64 `json:"dealer_id" binding:"required,gt=0"`
	ProductID    int64 `json:"product_id" binding:"required,gt=0"`
	VariantIndex int   `json:"variant_index" binding:"min=0"`
	Price        int64 `json:"price" binding:"min=0"`
}

// CreateDiscountRequest 创建经销商折扣
type CreateDiscountRequest struct {
	DealerID int64           `json:"dealer_id" binding:"required,gt=0"`
	Name     string          `json:"name" binding:"required,min=1,max=255"`
	Type     DiscountType    `json:"type" binding:"required,oneof=percent fixed"`
	Value    decimal.Decimal `json:"value"`
	StartAt  *time.Time      `json:"start_at"`
	EndAt    *time.Time      `json:"end_at"`
}

// CreatePromotionRequest 创建促销
type CreatePromotionRequest struct {
	Name      string          `json:"name" binding:"required,min=1,max=255"`
	ProductID *int64          `json:"product_id" binding:"omitempty,gt=0"`
	Type      DiscountType    `json:"type" binding:"required,oneof=percent fixed"`
	Value     decimal.Decimal `json:"value"`
	StartAt   *time.Time      `json:"start_at"`
	EndAt     *time.Time      `json:"end_at"`
}

// QuoteRequest 报价查询
type QuoteRequest struct {
	DealerID     int64 `form:"dealer_id" binding:"required,gt=0"`
	ProductID    int64 `form:"product_id" binding:"required,gt=0"`
	VariantIndex int   `form:"variant_index" binding:"min=0"`
	Quantity     int   `form:"quantity" binding:"required,gt=0"`
}
