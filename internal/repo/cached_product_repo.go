package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/MorseWayne/ev_dealer/internal/cache"
	"github.com/MorseWayne/ev_dealer/internal/database"
	"github.com/MorseWayne/ev_dealer/internal/domain"
)

// CachedProductRepository 带缓存的车型仓储。
// 只缓存车型详情；变体与库存读取直接走数据库，保证账本看到的是最新计数。
type CachedProductRepository struct {
	repo  ProductRepository
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedProductRepository 创建带缓存的车型仓储
func NewCachedProductRepository(repo ProductRepository, c cache.Cache, ttl time.Duration) *CachedProductRepository {
	return &CachedProductRepository{
		repo:  repo,
		cache: c,
		ttl:   ttl,
	}
}

// ProductCacheKey 车型详情缓存键
func ProductCacheKey(id int64) string {
	return fmt.Sprintf("ev:product:%d", id)
}

// Create 创建车型
func (r *CachedProductRepository) Create(ctx context.Context, product *domain.Product) error {
	if err := r.repo.Create(ctx, product); err != nil {
		return err
	}
	r.invalidate(ctx, product.ID)
	return nil
}

// GetByID 根据ID获取车型（带缓存）
func (r *CachedProductRepository) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	// 事务内读取绕过缓存
	if database.InTx(ctx) {
		return r.repo.GetByID(ctx, id)
	}

	var product domain.Product
	if err := r.cache.Get(ctx, ProductCacheKey(id), &product); err == nil {
		return &product, nil
	}

	result, err := r.repo.GetByID(ctx, id)
	if err != nil || result == nil {
		return result, err
	}

	_ = r.cache.Set(ctx, ProductCacheKey(id), result, r.ttl)
	return result, nil
}

// List 获取车型列表（不缓存，参数组合太多）
func (r *CachedProductRepository) List(ctx context.Context, req *domain.ProductListRequest) ([]*domain.Product, int64, error) {
	return r.repo.List(ctx, req)
}

func (r *CachedProductRepository) GetVariant(ctx context.Context, productID int64, variantIndex int) (*domain.ProductVariant, error) {
	return r.repo.GetVariant(ctx, productID, variantIndex)
}

func (r *CachedProductRepository) GetVariantByHash(ctx context.Context, productID int64, variantHash string) (*domain.ProductVariant, error) {
	return r.repo.GetVariantByHash(ctx, productID, variantHash)
}

// DebitVariantStock 扣减库存（提交后清除缓存）
func (r *CachedProductRepository) DebitVariantStock(ctx context.Context, key domain.VariantKey, quantity int) error {
	if err := r.repo.DebitVariantStock(ctx, key, quantity); err != nil {
		return err
	}
	r.invalidate(ctx, key.ProductID)
	return nil
}

// CreditVariantStock 返还库存（提交后清除缓存）
func (r *CachedProductRepository) CreditVariantStock(ctx context.Context, key domain.VariantKey, quantity int) error {
	if err := r.repo.CreditVariantStock(ctx, key, quantity); err != nil {
		return err
	}
	r.invalidate(ctx, key.ProductID)
	return nil
}

// AdjustVariantStock 调整库存（提交后清除缓存）
func (r *CachedProductRepository) AdjustVariantStock(ctx context.Context, key domain.VariantKey, delta int) (int, error) {
	stock, err := r.repo.AdjustVariantStock(ctx, key, delta)
	if err != nil {
		return 0, err
	}
	r.invalidate(ctx, key.ProductID)
	return stock, nil
}

func (r *CachedProductRepository) CommittedQuantity(ctx context.Context, key domain.VariantKey) (int, error) {
	return r.repo.CommittedQuantity(ctx, key)
}

// invalidate 在事务提交后删除缓存，回滚时缓存保持不变
func (r *CachedProductRepository) invalidate(ctx context.Context, productID int64) {
	database.AfterCommit(ctx, func() {
		_ = r.cache.Del(context.Background(), ProductCacheKey(productID))
	})
}
