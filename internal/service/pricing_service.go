package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/repo"
)

// PricingService 经销商价格、折扣、促销与报价
type PricingService interface {
	Quote(ctx context.Context, actor *domain.User, req *domain.QuoteRequest) (*domain.PriceQuote, error)
	// QuoteVariant 为已解析的变体报价，供下单时快照价格
	QuoteVariant(ctx context.Context, dealerID int64, variant *domain.ProductVariant, quantity int) (*domain.PriceQuote, error)

	UpsertDealerPrice(ctx context.Context, req *domain.UpsertDealerPriceRequest) (*domain.DealerPrice, error)
	CreateDiscount(ctx context.Context, req *domain.CreateDiscountRequest) (*domain.Discount, error)
	ListDiscounts(ctx context.Context, actor *domain.User, dealerID int64) ([]*domain.Discount, error)
	SetDiscountActive(ctx context.Context, id int64, active bool) error
	CreatePromotion(ctx context.Context, req *domain.CreatePromotionRequest) (*domain.Promotion, error)
	ListPromotions(ctx context.Context, productID int64) ([]*domain.Promotion, error)
	UpdatePromotionStatus(ctx context.Context, id int64, status domain.PromotionStatus) error
}

type pricingService struct {
	productRepo repo.ProductRepository
	pricingRepo repo.PricingRepository
	logger      *zap.Logger
	now         func() time.Time
}

// NewPricingService 创建定价服务
func NewPricingService(productRepo repo.ProductRepository, pricingRepo repo.PricingRepository, logger *zap.Logger) PricingService {
	return &pricingService{
		productRepo: productRepo,
		pricingRepo: pricingRepo,
		logger:      logger,
		now:         time.Now,
	}
}

// Quote 报价：专属价优先于目录价，折扣与促销取单台减免最大的一项
func (s *pricingService) Quote(ctx context.Context, actor *domain.User, req *domain.QuoteRequest) (*domain.PriceQuote, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	}
	if err := checkDealerScope(actor, req.DealerID); err != nil {
		return nil, err
	}
	variant, err := lookupVariant(ctx, s.productRepo, req.ProductID, req.VariantIndex)
	if err != nil {
		return nil, err
	}
	return s.QuoteVariant(ctx, req.DealerID, variant, req.Quantity)
}

func (s *pricingService) QuoteVariant(ctx context.Context, dealerID int64, variant *domain.ProductVariant, quantity int) (*domain.PriceQuote, error) {
	key := domain.VariantKey{ProductID: variant.ProductID, VariantHash: variant.VariantHash}
	dealerPrice, err := s.pricingRepo.GetDealerPrice(ctx, dealerID, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get dealer price: %w", err)
	}
	discounts, err := s.pricingRepo.ListDiscounts(ctx, dealerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list discounts: %w", err)
	}
	promotions, err := s.pricingRepo.ListPromotions(ctx, variant.ProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to list promotions: %w", err)
	}
	return domain.BuildQuote(variant, quantity, dealerPrice, discounts, promotions, s.now().UTC()), nil
}

func (s *pricingService) UpsertDealerPrice(ctx context.Context, req *domain.UpsertDealerPriceRequest) (*domain.DealerPrice, error) {
	if req.Price < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", domain.ErrValidation)
	}
	variant, err := lookupVariant(ctx, s.productRepo, req.ProductID, req.VariantIndex)
	if err != nil {
		return nil, err
	}
	p := &domain.DealerPrice{
		DealerID:    req.DealerID,
		ProductID:   req.ProductID,
		VariantHash: variant.VariantHash,
		Price:       req.Price,
	}
	if err := s.pricingRepo.UpsertDealerPrice(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("dealer price set",
		zap.Int64("dealer_id", p.DealerID),
		zap.Int64("product_id", p.ProductID),
		zap.Int("variant_index", req.VariantIndex),
		zap.Int64("price", p.Price),
	)
	return p, nil
}

func (s *pricingService) CreateDiscount(ctx context.Context, req *domain.CreateDiscountRequest) (*domain.Discount, error) {
	if err := validateReduction(req.Name, req.Type, req.Value.IsNegative(), req.StartAt, req.EndAt); err != nil {
		return nil, err
	}
	d := &domain.Discount{
		DealerID: req.DealerID,
		Name:     strings.TrimSpace(req.Name),
		Type:     req.Type,
		Value:    req.Value,
		StartAt:  req.StartAt,
		EndAt:    req.EndAt,
		Active:   true,
	}
	if err := s.pricingRepo.CreateDiscount(ctx, d); err != nil {
		return nil, err
	}
	s.logger.Info("discount created", zap.Int64("discount_id", d.ID), zap.Int64("dealer_id", d.DealerID))
	return d, nil
}

func (s *pricingService) ListDiscounts(ctx context.Context, actor *domain.User, dealerID int64) ([]*domain.Discount, error) {
	if err := checkDealerScope(actor, dealerID); err != nil {
		return nil, err
	}
	list, err := s.pricingRepo.ListDiscounts(ctx, dealerID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*domain.Discount{}
	}
	return list, nil
}

func (s *pricingService) SetDiscountActive(ctx context.Context, id int64, active bool) error {
	return s.pricingRepo.SetDiscountActive(ctx, id, active)
}

func (s *pricingService) CreatePromotion(ctx context.Context, req *domain.CreatePromotionRequest) (*domain.Promotion, error) {
	if err := validateReduction(req.Name, req.Type, req.Value.IsNegative(), req.StartAt, req.EndAt); err != nil {
		return nil, err
	}
	p := &domain.Promotion{
		Name:      strings.TrimSpace(req.Name),
		ProductID: req.ProductID,
		Type:      req.Type,
		Value:     req.Value,
		StartAt:   req.StartAt,
		EndAt:     req.EndAt,
		Status:    domain.PromotionStatusActive,
	}
	if err := s.pricingRepo.CreatePromotion(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("promotion created", zap.Int64("promotion_id", p.ID))
	return p, nil
}

// ListPromotions 返回时按当前时间换算 expired 状态
func (s *pricingService) ListPromotions(ctx context.Context, productID int64) ([]*domain.Promotion, error) {
	list, err := s.pricingRepo.ListPromotions(ctx, productID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	for _, p := range list {
		p.Status = p.EffectiveStatus(now)
	}
	if list == nil {
		list = []*domain.Promotion{}
	}
	return list, nil
}

func (s *pricingService) UpdatePromotionStatus(ctx context.Context, id int64, status domain.PromotionStatus) error {
	if status != domain.PromotionStatusActive && status != domain.PromotionStatusInactive {
		return fmt.Errorf("%w: promotion status must be active or inactive", domain.ErrValidation)
	}
	return s.pricingRepo.UpdatePromotionStatus(ctx, id, status)
}

func validateReduction(name string, t domain.DiscountType, negative bool, start, end *time.Time) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if t != domain.DiscountTypePercent && t != domain.DiscountTypeFixed {
		return fmt.Errorf("%w: unknown discount type %q", domain.ErrValidation, t)
	}
	if negative {
		return fmt.Errorf("%w: value must not be negative", domain.ErrValidation)
	}
	if start != nil && end != nil && end.Before(*start) {
		return fmt.Errorf("%w: end is before start", domain.ErrValidation)
	}
	return nil
}
