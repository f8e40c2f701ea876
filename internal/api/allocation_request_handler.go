package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/service"
)

// AllocationRequestHandler 经销商调拨申请接口
type AllocationRequestHandler struct {
	requests service.AllocationRequestService
	logger   *zap.Logger
}

// NewAllocationRequestHandler 创建调拨申请处理器
func NewAllocationRequestHandler(requests service.AllocationRequestService, logger *zap.Logger) *AllocationRequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AllocationRequestHandler{requests: requests, logger: logger}
}

type requestAction func(ctx context.Context, actor *domain.User, id int64) (*domain.AllocationRequest, error)

// act 无请求体的状态操作
func (h *AllocationRequestHandler) act(fn requestAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		r, err := fn(c.Request.Context(), actor(c), id)
		if err != nil {
			writeError(c, h.logger, err)
			return
		}
		writeOK(c, r)
	}
}

// Create POST /api/v1/allocation-requests
func (h *AllocationRequestHandler) Create(c *gin.Context) {
	var req domain.CreateAllocationRequestRequest
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.requests.CreateDraft(c.Request.Context(), actor(c), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeCreated(c, r)
}

// Update PUT /api/v1/allocation-requests/:id
func (h *AllocationRequestHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req domain.UpdateAllocationRequestRequest
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.requests.UpdateDraft(c.Request.Context(), actor(c), id, &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, r)
}

// Delete DELETE /api/v1/allocation-requests/:id
func (h *AllocationRequestHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.requests.DeleteDraft(c.Request.Context(), actor(c), id); err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeNoContent(c)
}

// Reject POST /api/v1/allocation-requests/:id/reject
func (h *AllocationRequestHandler) Reject(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req domain.RejectAllocationRequestRequest
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.requests.Reject(c.Request.Context(), actor(c), id, req.Reason)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, r)
}

// List GET /api/v1/allocation-requests
func (h *AllocationRequestHandler) List(c *gin.Context) {
	var req domain.AllocationRequestListRequest
	if !bindQuery(c, &req) {
		return
	}
	list, err := h.requests.ListRequests(c.Request.Context(), actor(c), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, list)
}

// Get GET /api/v1/allocation-requests/:id
func (h *AllocationRequestHandler) Get(c *gin.Context) { h.act(h.requests.GetRequest)(c) }

// Submit POST /api/v1/allocation-requests/:id/submit
func (h *AllocationRequestHandler) Submit(c *gin.Context) { h.act(h.requests.Submit)(c) }

// Approve POST /api/v1/allocation-requests/:id/approve
func (h *AllocationRequestHandler) Approve(c *gin.Context) { h.act(h.requests.Approve)(c) }

// StartProcessing POST /api/v1/allocation-requests/:id/process
func (h *AllocationRequestHandler) StartProcessing(c *gin.Context) {
	h.act(h.requests.StartProcessing)(c)
}

// Complete POST /api/v1/allocation-requests/:id/complete
func (h *AllocationRequestHandler) Complete(c *gin.Context) { h.act(h.requests.Complete)(c) }

// Cancel POST /api/v1/allocation-requests/:id/cancel
func (h *AllocationRequestHandler) Cancel(c *gin.Context) { h.act(h.requests.Cancel)(c) }
