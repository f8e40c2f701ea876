// Package router 注册 gin 路由与分组中间件
package router

import (
	"net/http"
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/api"
	"github.com/MorseWayne/ev_dealer/internal/cache"
	"github.com/MorseWayne/ev_dealer/internal/config"
	"github.com/MorseWayne/ev_dealer/internal/limiter"
	"github.com/MorseWayne/ev_dealer/internal/middleware"
	"github.com/MorseWayne/ev_dealer/internal/service"
)

// Dependencies 路由所需的处理器与中间件依赖
type Dependencies struct {
	Catalog          *api.CatalogHandler
	Dealers          *api.DealerHandler
	Allocations      *api.AllocationHandler
	Requests         *api.AllocationRequestHandler
	DealerInventory  *api.DealerInventoryHandler
	Orders           *api.OrderHandler
	Pricing          *api.PricingHandler
	JWTService       service.JWTService
	IdempotencyStore *cache.IdempotencyStore // nil 表示关闭幂等校验
	Limiter          limiter.Limiter         // nil 表示关闭限流
}

// Router 路由器接口
type Router interface {
	Setup(cfg *config.Config, deps *Dependencies, lg *zap.Logger) http.Handler
}

// GinRouter gin 路由器实现
type GinRouter struct {
	engine *gin.Engine
	deps   *Dependencies
	logger *zap.Logger
}

// New 创建路由器
func New() Router {
	return &GinRouter{}
}

// Setup 构建 gin 引擎。访问日志、panic 恢复与超时由外层 net/http 中间件链负责
func (r *GinRouter) Setup(cfg *config.Config, deps *Dependencies, lg *zap.Logger) http.Handler {
	switch cfg.App.Env {
	case "prod":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r.engine = gin.New()
	r.deps = deps
	r.logger = lg

	r.engine.Use(cors.New(corsConfig(cfg.CORS)))
	r.engine.GET("/healthz", r.healthCheck(cfg.App.Version))
	r.setupRoutes()

	return r.engine
}

// corsConfig 允许来源包含 "*" 时放开所有来源
func corsConfig(c config.CORSConfig) cors.Config {
	cc := cors.DefaultConfig()
	if len(c.AllowedOrigins) == 0 || slices.Contains(c.AllowedOrigins, "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = c.AllowedOrigins
	}
	if len(c.AllowedMethods) > 0 {
		cc.AllowMethods = c.AllowedMethods
	}
	if len(c.AllowedHeaders) > 0 {
		cc.AllowHeaders = c.AllowedHeaders
	}
	cc.ExposeHeaders = []string{middleware.HeaderRequestID, limiter.HeaderRemaining, limiter.HeaderRetryAfter}
	return cc
}

func (r *GinRouter) setupRoutes() {
	d := r.deps
	manufacturer := middleware.RequireManufacturer(r.logger)

	v1 := r.engine.Group("/api/v1")
	v1.Use(middleware.Auth(d.JWTService, r.logger))
	if d.Limiter != nil {
		v1.Use(limiter.RateLimit(d.Limiter, r.logger))
	}
	if d.IdempotencyStore != nil {
		v1.Use(middleware.Idempotency(d.IdempotencyStore, r.logger))
	}

	products := v1.Group("/products")
	{
		products.GET("", d.Catalog.ListProducts)
		products.GET("/:id", d.Catalog.GetProduct)
		products.GET("/:id/variants/:index", d.Catalog.GetVariant)
		products.POST("", manufacturer, d.Catalog.CreateProduct)
		products.POST("/:id/variants/:index/adjust", manufacturer, d.Catalog.AdjustStock)
		products.GET("/:id/variants/:index/summary", manufacturer, d.Catalog.StockSummary)
	}

	dealers := v1.Group("/dealers")
	{
		dealers.GET("/:id", d.Dealers.Get)
		dealers.GET("", manufacturer, d.Dealers.List)
		dealers.POST("", manufacturer, d.Dealers.Create)
		dealers.PUT("/:id/status", manufacturer, d.Dealers.UpdateStatus)
		dealers.PUT("/:id/credit-limit", manufacturer, d.Dealers.UpdateCreditLimit)
	}

	allocations := v1.Group("/allocations")
	{
		allocations.GET("", d.Allocations.List)
		allocations.GET("/:id", d.Allocations.Get)
		allocations.POST("", manufacturer, d.Allocations.Create)
		allocations.POST("/:id/status", manufacturer, d.Allocations.Transition)
		allocations.POST("/:id/cancel", manufacturer, d.Allocations.Cancel)
		allocations.DELETE("/:id", manufacturer, d.Allocations.Delete)
		allocations.PUT("/:id/vins", manufacturer, d.Allocations.AssignVins)
		allocations.PUT("/:id/vins/:position", manufacturer, d.Allocations.EditVin)
	}

	requests := v1.Group("/allocation-requests")
	{
		requests.GET("", d.Requests.List)
		requests.GET("/:id", d.Requests.Get)
		requests.POST("", d.Requests.Create)
		requests.PUT("/:id", d.Requests.Update)
		requests.DELETE("/:id", d.Requests.Delete)
		requests.POST("/:id/submit", d.Requests.Submit)
		requests.POST("/:id/cancel", d.Requests.Cancel)
		requests.POST("/:id/approve", manufacturer, d.Requests.Approve)
		requests.POST("/:id/reject", manufacturer, d.Requests.Reject)
		requests.POST("/:id/process", manufacturer, d.Requests.StartProcessing)
		requests.POST("/:id/complete", manufacturer, d.Requests.Complete)
	}

	inventory := v1.Group("/dealer-inventory")
	{
		inventory.GET("", d.DealerInventory.List)
		inventory.GET("/availability", d.DealerInventory.Availability)
		inventory.POST("/consume", d.DealerInventory.Consume)
	}

	orders := v1.Group("/orders")
	{
		orders.GET("", d.Orders.List)
		orders.GET("/:id", d.Orders.Get)
		orders.POST("", d.Orders.Create)
		orders.PUT("/:id", d.Orders.Update)
		orders.DELETE("/:id", d.Orders.Delete)
		orders.POST("/:id/submit", d.Orders.Submit)
		orders.POST("/:id/confirm", d.Orders.Confirm)
		orders.POST("/:id/process", d.Orders.StartProcessing)
		orders.POST("/:id/deliver", d.Orders.StartDelivering)
		orders.POST("/:id/complete", d.Orders.Complete)
		orders.POST("/:id/cancel", d.Orders.Cancel)
		orders.POST("/:id/refund", d.Orders.Refund)
	}

	pricing := v1.Group("/pricing")
	{
		pricing.GET("/quote", d.Pricing.Quote)
		pricing.GET("/discounts", d.Pricing.ListDiscounts)
		pricing.GET("/promotions", d.Pricing.ListPromotions)
		pricing.PUT("/dealer-prices", manufacturer, d.Pricing.UpsertDealerPrice)
		pricing.POST("/discounts", manufacturer, d.Pricing.CreateDiscount)
		pricing.PUT("/discounts/:id/active", manufacturer, d.Pricing.SetDiscountActive)
		pricing.POST("/promotions", manufacturer, d.Pricing.CreatePromotion)
		pricing.PUT("/promotions/:id/status", manufacturer, d.Pricing.UpdatePromotionStatus)
	}
}

// healthCheck 存活探针
func (r *GinRouter) healthCheck(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": version,
		})
	}
}
