package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/service"
)

// OrderHandler 客户订单接口
type OrderHandler struct {
	orders service.OrderService
	logger *zap.Logger
}

// NewOrderHandler 创建订单处理器
func NewOrderHandler(orders service.OrderService, logger *zap.Logger) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{orders: orders, logger: logger}
}

type orderAction func(ctx context.Context, actor *domain.User, id int64, notes string) (*domain.Order, error)

// transition 订单状态操作，请求体中的 notes 写入状态历史
func (h *OrderHandler) transition(fn orderAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req domain.OrderTransitionRequest
		if !bindOptionalJSON(c, &req) {
			return
		}
		o, err := fn(c.Request.Context(), actor(c), id, req.Notes)
		if err != nil {
			writeError(c, h.logger, err)
			return
		}
		writeOK(c, o)
	}
}

// Create 创建草稿订单，按当前价格生成报价快照
// POST /api/v1/orders
func (h *OrderHandler) Create(c *gin.Context) {
	var req domain.CreateOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	o, err := h.orders.CreateDraft(c.Request.Context(), actor(c), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeCreated(c, o)
}

// Update PUT /api/v1/orders/:id
func (h *OrderHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req domain.UpdateOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	o, err := h.orders.UpdateDraft(c.Request.Context(), actor(c), id, &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, o)
}

// Delete DELETE /api/v1/orders/:id
func (h *OrderHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.orders.DeleteDraft(c.Request.Context(), actor(c), id); err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeNoContent(c)
}

// Get GET /api/v1/orders/:id
func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	o, err := h.orders.GetOrder(c.Request.Context(), actor(c), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, o)
}

// List GET /api/v1/orders
func (h *OrderHandler) List(c *gin.Context) {
	var req domain.OrderListRequest
	if !bindQuery(c, &req) {
		return
	}
	list, err := h.orders.ListOrders(c.Request.Context(), actor(c), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, list)
}

// Submit 提交订单并预留门店库存
// POST /api/v1/orders/:id/submit
func (h *OrderHandler) Submit(c *gin.Context) { h.transition(h.orders.Submit)(c) }

// Confirm POST /api/v1/orders/:id/confirm
func (h *OrderHandler) Confirm(c *gin.Context) { h.transition(h.orders.Confirm)(c) }

// StartProcessing POST /api/v1/orders/:id/process
func (h *OrderHandler) StartProcessing(c *gin.Context) { h.transition(h.orders.StartProcessing)(c) }

// StartDelivering POST /api/v1/orders/:id/deliver
func (h *OrderHandler) StartDelivering(c *gin.Context) { h.transition(h.orders.StartDelivering)(c) }

// Complete POST /api/v1/orders/:id/complete
func (h *OrderHandler) Complete(c *gin.Context) { h.transition(h.orders.Complete)(c) }

// Cancel 取消订单，释放已预留的库存
// POST /api/v1/orders/:id/cancel
func (h *OrderHandler) Cancel(c *gin.Context) { h.transition(h.orders.Cancel)(c) }

// Refund POST /api/v1/orders/:id/refund
func (h *OrderHandler) Refund(c *gin.Context) { h.transition(h.orders.Refund)(c) }
