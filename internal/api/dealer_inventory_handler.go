package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/service"
)

// DealerInventoryHandler 门店库存接口
type DealerInventoryHandler struct {
	inventory service.DealerInventoryService
	logger    *zap.Logger
}

// NewDealerInventoryHandler 创建门店库存处理器
func NewDealerInventoryHandler(inventory service.DealerInventoryService, logger *zap.Logger) *DealerInventoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DealerInventoryHandler{inventory: inventory, logger: logger}
}

type availabilityQuery struct {
	DealerID     int64 `form:"dealer_id" binding:"required,gt=0"`
	ProductID    int64 `form:"product_id" binding:"required,gt=0"`
	VariantIndex int   `form:"variant_index" binding:"min=0"`
}

// Availability 可售数量 = stock - reserved
// GET /api/v1/dealer-inventory/availability
func (h *DealerInventoryHandler) Availability(c *gin.Context) {
	var q availabilityQuery
	if !bindQuery(c, &q) {
		return
	}
	a, err := h.inventory.GetAvailable(c.Request.Context(), actor(c), q.DealerID, q.ProductID, q.VariantIndex)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, a)
}

// List GET /api/v1/dealer-inventory
func (h *DealerInventoryHandler) List(c *gin.Context) {
	var req domain.DealerInventoryListRequest
	if !bindQuery(c, &req) {
		return
	}
	list, err := h.inventory.List(c.Request.Context(), actor(c), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, list)
}

// Consume 实车交付出库，返回出库后的可售数量。
// 预留与释放只随订单提交/取消发生，没有单独的接口。
// POST /api/v1/dealer-inventory/consume
func (h *DealerInventoryHandler) Consume(c *gin.Context) {
	var req domain.DealerStockRequest
	if !bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	if err := h.inventory.Consume(ctx, actor(c), &req); err != nil {
		writeError(c, h.logger, err)
		return
	}
	a, err := h.inventory.GetAvailable(ctx, actor(c), req.DealerID, req.ProductID, req.VariantIndex)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, a)
}
