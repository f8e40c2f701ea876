package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/api"
	"github.com/MorseWayne/ev_dealer/internal/cache"
	"github.com/MorseWayne/ev_dealer/internal/config"
	"github.com/MorseWayne/ev_dealer/internal/database"
	"github.com/MorseWayne/ev_dealer/internal/limiter"
	"github.com/MorseWayne/ev_dealer/internal/logger"
	mw "github.com/MorseWayne/ev_dealer/internal/middleware"
	"github.com/MorseWayne/ev_dealer/internal/mq"
	"github.com/MorseWayne/ev_dealer/internal/repo"
	"github.com/MorseWayne/ev_dealer/internal/router"
	"github.com/MorseWayne/ev_dealer/internal/service"
)

// initConfigAndLogger 加载配置并初始化日志
func initConfigAndLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	lg, err := logger.New(cfg.App.Env, cfg.Log.Level, cfg.Log.Encoding, cfg.App.Name, cfg.App.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, lg, nil
}

// initDatabase 连接数据库并在接收请求前完成迁移
func initDatabase(cfg *config.Config, lg *zap.Logger) (*database.DB, error) {
	db, err := database.New(cfg, lg)
	if err != nil {
		return nil, err
	}
	lg.Sugar().Infow("using migrations directory", "path", cfg.Migrations.Dir)
	if err := db.RunMigrations(cfg.Migrations.Dir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// needsRedis Redis 缓存、分布式锁与限流共用一个连接池
func needsRedis(cfg *config.Config) bool {
	return (cfg.Cache.Enabled && cfg.Cache.Type == "redis") || cfg.Ledger.LockEnabled || cfg.RateLimit.Enabled
}

// initRedis 连接失败时返回 nil，各组件退化为进程内实现
func initRedis(cfg *config.Config, lg *zap.Logger) *cache.RedisCache {
	if !needsRedis(cfg) {
		return nil
	}
	rc, err := cache.NewRedisCache(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		lg.Sugar().Warnw("redis unavailable, falling back to in-process implementations", "addr", cfg.Redis.Addr(), "error", err)
		return nil
	}
	lg.Sugar().Infow("redis connected", "addr", cfg.Redis.Addr())
	return rc
}

// initCache 商品缓存
func initCache(cfg *config.Config, rc *cache.RedisCache, lg *zap.Logger) cache.Cache {
	if !cfg.Cache.Enabled {
		lg.Sugar().Infow("cache disabled")
		return cache.NewNullCache()
	}
	if cfg.Cache.Type == "redis" && rc != nil {
		lg.Sugar().Infow("cache enabled", "type", "redis", "ttl", cfg.Cache.TTL)
		return rc
	}
	lg.Sugar().Infow("cache enabled", "type", "memory", "ttl", cfg.Cache.TTL)
	return cache.NewMemoryCache()
}

// initIdempotency 幂等键需要真实存储，商品缓存关闭时也不能用 NullCache
func initIdempotency(cfg *config.Config, rc *cache.RedisCache, lg *zap.Logger) *cache.IdempotencyStore {
	if !cfg.Idempotency.Enabled {
		return nil
	}
	var backing cache.Cache = cache.NewMemoryCache()
	if rc != nil {
		backing = rc
	}
	lg.Sugar().Infow("idempotency enabled", "shared", rc != nil, "ttl", cfg.Idempotency.TTL)
	return cache.NewIdempotencyStore(backing, cfg.Idempotency.TTL)
}

func initLocker(cfg *config.Config, rc *cache.RedisCache, lg *zap.Logger) service.VariantLocker {
	if cfg.Ledger.LockEnabled && rc != nil {
		lg.Sugar().Infow("variant lock", "type", "redis", "ttl", cfg.Ledger.LockTTL, "wait", cfg.Ledger.LockWait)
		return service.NewRedisVariantLocker(rc.Client(), cfg.Ledger.LockTTL, cfg.Ledger.LockWait, lg)
	}
	lg.Sugar().Infow("variant lock", "type", "local")
	return service.NewLocalVariantLocker()
}

func initLimiter(cfg *config.Config, rc *cache.RedisCache, lg *zap.Logger) (limiter.Limiter, error) {
	if !cfg.RateLimit.Enabled {
		return nil, nil
	}
	lcfg := limiter.Config{Rate: cfg.RateLimit.Rate, Window: cfg.RateLimit.Window, Burst: cfg.RateLimit.Burst}
	lg.Sugar().Infow("rate limit enabled", "rate", lcfg.Rate, "window", lcfg.Window, "burst", lcfg.Burst, "shared", rc != nil)
	if rc != nil {
		return limiter.NewRedisTokenBucket(rc.Client(), lcfg)
	}
	return limiter.NewLocalTokenBucket(lcfg)
}

// initEvents 启用 RabbitMQ 时发布账本事件，否则丢弃。返回的函数负责关闭连接
func initEvents(ctx context.Context, cfg *config.Config, lg *zap.Logger) (service.EventPublisher, func()) {
	if !cfg.RabbitMQ.Enabled {
		lg.Sugar().Infow("ledger events disabled")
		return service.NewNoopEventPublisher(), func() {}
	}

	mqCfg := mq.FromAppConfig(cfg.RabbitMQ)
	if err := mqCfg.Validate(); err != nil {
		lg.Sugar().Warnw("invalid rabbitmq config, ledger events disabled", "error", err)
		return service.NewNoopEventPublisher(), func() {}
	}

	cm := mq.NewConnectionManager(mqCfg, lg)
	declare := func(ch *amqp.Channel) error { return mq.DeclareLedgerTopology(ch, mqCfg) }
	cm.OnReconnect(declare)

	dialCtx, cancel := context.WithTimeout(ctx, mqCfg.ConnectionTimeout)
	defer cancel()
	if err := cm.Connect(dialCtx); err != nil {
		lg.Sugar().Warnw("rabbitmq unavailable, ledger events disabled", "error", err)
		_ = cm.Close()
		return service.NewNoopEventPublisher(), func() {}
	}
	if err := cm.WithChannel(declare); err != nil {
		lg.Sugar().Warnw("declare ledger topology failed, ledger events disabled", "error", err)
		_ = cm.Close()
		return service.NewNoopEventPublisher(), func() {}
	}

	producer := mq.NewProducer(cm, mqCfg.Producer, lg)
	lg.Sugar().Infow("ledger events enabled", "exchange", mqCfg.Exchange)
	return mq.NewLedgerEventPublisher(producer, mqCfg.Exchange), func() {
		_ = producer.Close()
		_ = cm.Close()
	}
}

type infra struct {
	cache       cache.Cache
	idempotency *cache.IdempotencyStore
	locker      service.VariantLocker
	limiter     limiter.Limiter
	events      service.EventPublisher
}

// initDependencies 仓储 -> 服务 -> 处理器
func initDependencies(cfg *config.Config, db *database.DB, in infra, lg *zap.Logger) *router.Dependencies {
	txm := database.NewTxManager(db.DB)

	var productRepo repo.ProductRepository = repo.NewProductRepository(db.DB)
	if cfg.Cache.Enabled {
		productRepo = repo.NewCachedProductRepository(productRepo, in.cache, cfg.Cache.TTL)
	}
	dealerRepo := repo.NewDealerRepository(db.DB)
	allocRepo := repo.NewAllocationRepository(db.DB)
	requestRepo := repo.NewAllocationRequestRepository(db.DB)
	inventoryRepo := repo.NewDealerInventoryRepository(db.DB)
	orderRepo := repo.NewOrderRepository(db.DB)
	pricingRepo := repo.NewPricingRepository(db.DB)

	catalog := service.NewCatalogService(txm, productRepo, in.locker, in.events, lg)
	dealers := service.NewDealerService(dealerRepo, lg)
	ledger := service.NewLedgerService(txm, productRepo, dealerRepo, allocRepo, inventoryRepo, in.locker, in.events, lg)
	requests := service.NewAllocationRequestService(txm, requestRepo, productRepo, dealerRepo, ledger, in.events, lg)
	inventory := service.NewDealerInventoryService(txm, productRepo, inventoryRepo, lg)
	pricing := service.NewPricingService(productRepo, pricingRepo, lg)
	orders := service.NewOrderService(txm, orderRepo, productRepo, dealerRepo, inventory, pricing, in.events, lg)

	return &router.Dependencies{
		Catalog:          api.NewCatalogHandler(catalog, lg),
		Dealers:          api.NewDealerHandler(dealers, lg),
		Allocations:      api.NewAllocationHandler(ledger, lg),
		Requests:         api.NewAllocationRequestHandler(requests, lg),
		DealerInventory:  api.NewDealerInventoryHandler(inventory, lg),
		Orders:           api.NewOrderHandler(orders, lg),
		Pricing:          api.NewPricingHandler(pricing, lg),
		JWTService:       service.NewJWTService(cfg, lg),
		IdempotencyStore: in.idempotency,
		Limiter:          in.limiter,
	}
}

// wrapHTTP 外层 net/http 中间件链。
// 请求进入顺序：request ID → recovery → timeout → access log → gin
func wrapHTTP(cfg *config.Config, h http.Handler, lg *zap.Logger) http.Handler {
	h = mw.AccessLog(lg)(h)
	h = mw.Timeout(cfg.App.RequestTimeout)(h)
	h = mw.Recovery(lg)(h)
	return mw.RequestID(h)
}

// startServer 启动 HTTP 服务，收到 SIGINT/SIGTERM 后优雅关闭
func startServer(ctx context.Context, cfg *config.Config, handler http.Handler, lg *zap.Logger) {
	addr := fmt.Sprintf(":%d", cfg.App.Port)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	serverErrCh := make(chan error, 1)
	go func() {
		lg.Sugar().Infow("server starting", "addr", addr)
		serverErrCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Sugar().Errorw("server error", "err", err)
		}
		return
	case <-ctx.Done():
		lg.Sugar().Infow("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Sugar().Errorw("server shutdown error", "err", err)
	}
	lg.Sugar().Infow("server exited")
}

func main() {
	cfg, lg, err := initConfigAndLogger()
	if err != nil {
		log.Fatalf("failed to initialize config and logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(cfg, lg)
	if err != nil {
		lg.Sugar().Fatalw("failed to initialize database", "err", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			lg.Sugar().Errorw("failed to close database connection", "err", err)
		}
	}()

	rc := initRedis(cfg, lg)
	if rc != nil {
		defer func() { _ = rc.Close() }()
	}

	rateLimiter, err := initLimiter(cfg, rc, lg)
	if err != nil {
		lg.Sugar().Fatalw("failed to initialize rate limiter", "err", err)
	}
	events, closeEvents := initEvents(ctx, cfg, lg)
	defer closeEvents()

	deps := initDependencies(cfg, db, infra{
		cache:       initCache(cfg, rc, lg),
		idempotency: initIdempotency(cfg, rc, lg),
		locker:      initLocker(cfg, rc, lg),
		limiter:     rateLimiter,
		events:      events,
	}, lg)

	handler := router.New().Setup(cfg, deps, lg)
	startServer(ctx, cfg, wrapHTTP(cfg, handler, lg), lg)
}
