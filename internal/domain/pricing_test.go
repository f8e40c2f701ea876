package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestBuildQuote(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	productID := int64(7)
	variant := &ProductVariant{ProductID: productID, VariantIndex: 0, VariantHash: "h", Price: 1_000_000}

	t.Run("list price without offers", func(t *testing.T) {
		q := BuildQuote(variant, 2, nil, nil, nil, now)
		if q.UnitPrice != 1_000_000 || q.TotalPrice != 2_000_000 || q.Discount != 0 {
			t.Errorf("unexpected quote: %+v", q)
		}
	})

	t.Run("dealer price overrides list price", func(t *testing.T) {
		q := BuildQuote(variant, 1, &DealerPrice{Price: 900_000}, nil, nil, now)
		if q.UnitPrice != 900_000 || q.ListPrice != 1_000_000 {
			t.Errorf("unexpected quote: %+v", q)
		}
	})

	t.Run("best single offer wins", func(t *testing.T) {
		discounts := []*Discount{
			{ID: 1, Type: DiscountTypePercent, Value: decimal.RequireFromString("7.5"), Active: true},
			{ID: 2, Type: DiscountTypeFixed, Value: decimal.NewFromInt(500_000), Active: false},
		}
		promotions := []*Promotion{
			{ID: 3, ProductID: &productID, Type: DiscountTypeFixed, Value: decimal.NewFromInt(50_000), Status: PromotionStatusActive},
			{ID: 4, Type: DiscountTypePercent, Value: decimal.NewFromInt(50), Status: PromotionStatusActive, EndAt: &past},
		}
		q := BuildQuote(variant, 2, nil, discounts, promotions, now)

		if q.Discount != 150_000 {
			t.Errorf("expected 7.5%% x 2 = 150000, got %d", q.Discount)
		}
		if q.AppliedDiscountID == nil || *q.AppliedDiscountID != 1 || q.AppliedPromotionID != nil {
			t.Errorf("expected discount 1 applied, got %+v", q)
		}
		if q.TotalPrice != 1_850_000 {
			t.Errorf("total = %d", q.TotalPrice)
		}
	})

	t.Run("reduction capped at unit price", func(t *testing.T) {
		discounts := []*Discount{{ID: 1, Type: DiscountTypeFixed, Value: decimal.NewFromInt(5_000_000), Active: true}}
		q := BuildQuote(variant, 1, nil, discounts, nil, now)
		if q.TotalPrice != 0 {
			t.Errorf("total should bottom out at 0, got %d", q.TotalPrice)
		}
	})
}

func TestPromotion_EffectiveStatus(t *testing.T) {
	now := time.Now()
	end := now.Add(-time.Minute)
	p := &Promotion{Status: PromotionStatusActive, EndAt: &end}
	if p.EffectiveStatus(now) != PromotionStatusExpired {
		t.Error("past end date should read as expired")
	}
	p.Status = PromotionStatusInactive
	if p.EffectiveStatus(now) != PromotionStatusInactive {
		t.Error("inactive stays inactive")
	}
}
