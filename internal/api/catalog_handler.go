package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/service"
)

// CatalogHandler 车型目录接口
type CatalogHandler struct {
	catalog service.CatalogService
	logger  *zap.Logger
}

// NewCatalogHandler 创建车型目录处理器
func NewCatalogHandler(catalog service.CatalogService, logger *zap.Logger) *CatalogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogHandler{catalog: catalog, logger: logger}
}

// CreateProduct POST /api/v1/products
func (h *CatalogHandler) CreateProduct(c *gin.Context) {
	var req domain.CreateProductRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.catalog.CreateProduct(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeCreated(c, p)
}

// GetProduct GET /api/v1/products/:id
func (h *CatalogHandler) GetProduct(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	p, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, p)
}

// ListProducts GET /api/v1/products
func (h *CatalogHandler) ListProducts(c *gin.Context) {
	var req domain.ProductListRequest
	if !bindQuery(c, &req) {
		return
	}
	list, err := h.catalog.ListProducts(c.Request.Context(), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, list)
}

// GetVariant GET /api/v1/products/:id/variants/:index
func (h *CatalogHandler) GetVariant(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	idx, ok := pathIndex(c, "index")
	if !ok {
		return
	}
	v, err := h.catalog.GetVariant(c.Request.Context(), id, idx)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, v)
}

// AdjustStock 厂商补货或盘点修正
// POST /api/v1/products/:id/variants/:index/adjust
func (h *CatalogHandler) AdjustStock(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	idx, ok := pathIndex(c, "index")
	if !ok {
		return
	}
	var req domain.AdjustVariantStockRequest
	if !bindJSON(c, &req) {
		return
	}
	v, err := h.catalog.AdjustVariantStock(c.Request.Context(), actor(c), id, idx, &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, v)
}

// StockSummary 当前库存、已分配数量与初始库存
// GET /api/v1/products/:id/variants/:index/summary
func (h *CatalogHandler) StockSummary(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	idx, ok := pathIndex(c, "index")
	if !ok {
		return
	}
	s, err := h.catalog.VariantStockSummary(c.Request.Context(), id, idx)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, s)
}
