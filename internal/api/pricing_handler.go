package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/service"
)

// PricingHandler 价格、折扣与促销接口
type PricingHandler struct {
	pricing service.PricingService
	logger  *zap.Logger
}

// NewPricingHandler 创建价格处理器
func NewPricingHandler(pricing service.PricingService, logger *zap.Logger) *PricingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PricingHandler{pricing: pricing, logger: logger}
}

type discountListQuery struct {
	DealerID int64 `form:"dealer_id" binding:"required,gt=0"`
}

type promotionListQuery struct {
	ProductID int64 `form:"product_id" binding:"min=0"`
}

type setActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

type promotionStatusRequest struct {
	Status domain.PromotionStatus `json:"status" binding:"required,oneof=active inactive"`
}

// Quote GET /api/v1/pricing/quote
func (h *PricingHandler) Quote(c *gin.Context) {
	var req domain.QuoteRequest
	if !bindQuery(c, &req) {
		return
	}
	q, err := h.pricing.Quote(c.Request.Context(), actor(c), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, q)
}

// UpsertDealerPrice PUT /api/v1/pricing/dealer-prices
func (h *PricingHandler) UpsertDealerPrice(c *gin.Context) {
	var req domain.UpsertDealerPriceRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.pricing.UpsertDealerPrice(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, p)
}

// CreateDiscount POST /api/v1/pricing/discounts
func (h *PricingHandler) CreateDiscount(c *gin.Context) {
	var req domain.CreateDiscountRequest
	if !bindJSON(c, &req) {
		return
	}
	d, err := h.pricing.CreateDiscount(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeCreated(c, d)
}

// ListDiscounts GET /api/v1/pricing/discounts?dealer_id=
func (h *PricingHandler) ListDiscounts(c *gin.Context) {
	var q discountListQuery
	if !bindQuery(c, &q) {
		return
	}
	list, err := h.pricing.ListDiscounts(c.Request.Context(), actor(c), q.DealerID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, &list)
}

// SetDiscountActive PUT /api/v1/pricing/discounts/:id/active
func (h *PricingHandler) SetDiscountActive(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req setActiveRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.pricing.SetDiscountActive(c.Request.Context(), id, *req.Active); err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeNoContent(c)
}

// CreatePromotion POST /api/v1/pricing/promotions
func (h *PricingHandler) CreatePromotion(c *gin.Context) {
	var req domain.CreatePromotionRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.pricing.CreatePromotion(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeCreated(c, p)
}

// ListPromotions GET /api/v1/pricing/promotions?product_id=
func (h *PricingHandler) ListPromotions(c *gin.Context) {
	var q promotionListQuery
	if !bindQuery(c, &q) {
		return
	}
	list, err := h.pricing.ListPromotions(c.Request.Context(), q.ProductID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, &list)
}

// UpdatePromotionStatus PUT /api/v1/pricing/promotions/:id/status
func (h *PricingHandler) UpdatePromotionStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req promotionStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.pricing.UpdatePromotionStatus(c.Request.Context(), id, req.Status); err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeNoContent(c)
}
