package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/service"
)

// AllocationHandler 分配账本接口
type AllocationHandler struct {
	ledger service.LedgerService
	logger *zap.Logger
}

// NewAllocationHandler 创建分配账本处理器
func NewAllocationHandler(ledger service.LedgerService, logger *zap.Logger) *AllocationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocationHandler{ledger: ledger, logger: logger}
}

// Create 创建分配单，立即扣减厂商库存
// POST /api/v1/allocations
func (h *AllocationHandler) Create(c *gin.Context) {
	var req domain.CreateAllocationRequest
	if !bindJSON(c, &req) {
		return
	}
	a, err := h.ledger.CreateAllocation(c.Request.Context(), actor(c), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeCreated(c, a)
}

// Get 分配单详情
// GET /api/v1/allocations/:id
func (h *AllocationHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	a, err := h.ledger.GetAllocation(c.Request.Context(), actor(c), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, a)
}

// List 分配单列表，经销商用户只能看到本店
// GET /api/v1/allocations
func (h *AllocationHandler) List(c *gin.Context) {
	var req domain.AllocationListRequest
	if !bindQuery(c, &req) {
		return
	}
	list, err := h.ledger.ListAllocations(c.Request.Context(), actor(c), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, list)
}

// Transition 变更状态，可同时修改数量
// POST /api/v1/allocations/:id/status
func (h *AllocationHandler) Transition(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req domain.TransitionAllocationRequest
	if !bindJSON(c, &req) {
		return
	}
	a, err := h.ledger.TransitionStatus(c.Request.Context(), actor(c), id, &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, a)
}

// Cancel 取消分配单
// POST /api/v1/allocations/:id/cancel
func (h *AllocationHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	a, err := h.ledger.CancelAllocation(c.Request.Context(), actor(c), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, a)
}

// Delete 删除已取消的分配单并释放 VIN
// DELETE /api/v1/allocations/:id
func (h *AllocationHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.ledger.DeleteAllocation(c.Request.Context(), actor(c), id); err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeNoContent(c)
}

// AssignVins 录入全部 VIN
// PUT /api/v1/allocations/:id/vins
func (h *AllocationHandler) AssignVins(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req domain.AssignVinsRequest
	if !bindJSON(c, &req) {
		return
	}
	a, err := h.ledger.AssignVins(c.Request.Context(), actor(c), id, &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, a)
}

// EditVin 修正指定位置的 VIN
// PUT /api/v1/allocations/:id/vins/:position
func (h *AllocationHandler) EditVin(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	position, ok := pathIndex(c, "position")
	if !ok {
		return
	}
	var req domain.EditVinRequest
	if !bindJSON(c, &req) {
		return
	}
	a, err := h.ledger.EditVin(c.Request.Context(), actor(c), id, position, &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, a)
}
