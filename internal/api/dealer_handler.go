package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/service"
)

// DealerHandler 经销商档案接口
type DealerHandler struct {
	dealers service.DealerService
	logger  *zap.Logger
}

// NewDealerHandler 创建经销商处理器
func NewDealerHandler(dealers service.DealerService, logger *zap.Logger) *DealerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DealerHandler{dealers: dealers, logger: logger}
}

// Create POST /api/v1/dealers
func (h *DealerHandler) Create(c *gin.Context) {
	var req domain.CreateDealerRequest
	if !bindJSON(c, &req) {
		return
	}
	d, err := h.dealers.CreateDealer(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.logger.Info("dealer created", zap.Int64("dealer_id", d.ID), zap.String("code", d.Code))
	writeCreated(c, d)
}

// Get GET /api/v1/dealers/:id
func (h *DealerHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	d, err := h.dealers.GetDealer(c.Request.Context(), actor(c), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, d)
}

// List GET /api/v1/dealers
func (h *DealerHandler) List(c *gin.Context) {
	var req domain.DealerListRequest
	if !bindQuery(c, &req) {
		return
	}
	list, err := h.dealers.ListDealers(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, list)
}

// UpdateStatus PUT /api/v1/dealers/:id/status
func (h *DealerHandler) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req domain.UpdateDealerStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	d, err := h.dealers.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, d)
}

// UpdateCreditLimit PUT /api/v1/dealers/:id/credit-limit
func (h *DealerHandler) UpdateCreditLimit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req domain.UpdateCreditLimitRequest
	if !bindJSON(c, &req) {
		return
	}
	d, err := h.dealers.UpdateCreditLimit(c.Request.Context(), id, req.CreditLimit)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, d)
}
