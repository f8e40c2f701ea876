package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/database"
	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/repo"
)

// CatalogService 车型目录与厂商库存
type CatalogService interface {
	CreateProduct(ctx context.Context, req *domain.CreateProductRequest) (*domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context, req *domain.ProductListRequest) (*domain.ProductListResponse, error)
	GetVariant(ctx context.Context, productID int64, variantIndex int) (*domain.ProductVariant, error)

	// AdjustVariantStock 补货或盘点修正，扣减时最低到 0
	AdjustVariantStock(ctx context.Context, actor *domain.User, productID int64, variantIndex int, req *domain.AdjustVariantStockRequest) (*domain.ProductVariant, error)
	VariantStockSummary(ctx context.Context, productID int64, variantIndex int) (*domain.VariantStockSummary, error)
}

type catalogService struct {
	txm         *database.TxManager
	productRepo repo.ProductRepository
	locker      VariantLocker
	events      EventPublisher
	logger      *zap.Logger
}

// NewCatalogService 创建车型目录服务
func NewCatalogService(txm *database.TxManager, productRepo repo.ProductRepository, locker VariantLocker, events EventPublisher, logger *zap.Logger) CatalogService {
	return &catalogService{
		txm:         txm,
		productRepo: productRepo,
		locker:      locker,
		events:      events,
		logger:      logger,
	}
}

// CreateProduct 创建车型，变体下标按请求顺序分配，同一车型内属性组合不得重复
func (s *catalogService) CreateProduct(ctx context.Context, req *domain.CreateProductRequest) (*domain.Product, error) {
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("%w: name and model are required", domain.ErrValidation)
	}
	if len(req.Variants) == 0 {
		return nil, fmt.Errorf("%w: at least one variant is required", domain.ErrValidation)
	}

	product := &domain.Product{
		Name:        strings.TrimSpace(req.Name),
		Model:       strings.TrimSpace(req.Model),
		Description: req.Description,
		Status:      domain.ProductStatusActive,
	}

	seen := make(map[string]int, len(req.Variants))
	for i, v := range req.Variants {
		if len(v.AttributeValue) == 0 {
			return nil, fmt.Errorf("%w: variant %d has no attributes", domain.ErrValidation, i)
		}
		if v.Price < 0 || v.Stock < 0 {
			return nil, fmt.Errorf("%w: variant %d price and stock must not be negative", domain.ErrValidation, i)
		}
		hash := domain.VariantHash(v.AttributeValue)
		if prev, dup := seen[hash]; dup {
			return nil, fmt.Errorf("%w: variant %d repeats the attributes of variant %d", domain.ErrConflict, i, prev)
		}
		seen[hash] = i
		product.Variants = append(product.Variants, domain.ProductVariant{
			VariantIndex:   i,
			VariantHash:    hash,
			AttributeValue: v.AttributeValue,
			Price:          v.Price,
			Stock:          v.Stock,
		})
	}

	if err := s.productRepo.Create(ctx, product); err != nil {
		if repo.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: duplicate variant", domain.ErrConflict)
		}
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("product created",
		zap.Int64("product_id", product.ID),
		zap.String("model", product.Model),
		zap.Int("variants", len(product.Variants)),
	)
	return product, nil
}

// GetProduct 获取车型详情（含变体）
func (s *catalogService) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	product, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	if product == nil {
		return nil, fmt.Errorf("%w: product %d", domain.ErrNotFound, id)
	}
	return product, nil
}

// ListProducts 分页查询车型
func (s *catalogService) ListProducts(ctx context.Context, req *domain.ProductListRequest) (*domain.ProductListResponse, error) {
	products, total, err := s.productRepo.List(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	if products == nil {
		products = []*domain.Product{}
	}
	page, pageSize := domain.NormalizePage(req.Page, req.PageSize)
	return &domain.ProductListResponse{Products: products, Total: total, Page: page, PageSize: pageSize}, nil
}

// GetVariant 按下标获取变体
func (s *catalogService) GetVariant(ctx context.Context, productID int64, variantIndex int) (*domain.ProductVariant, error) {
	return lookupVariant(ctx, s.productRepo, productID, variantIndex)
}

func (s *catalogService) AdjustVariantStock(ctx context.Context, actor *domain.User, productID int64, variantIndex int, req *domain.AdjustVariantStockRequest) (*domain.ProductVariant, error) {
	if req.Delta == 0 {
		return nil, fmt.Errorf("%w: delta must not be zero", domain.ErrValidation)
	}
	variant, err := lookupVariant(ctx, s.productRepo, productID, variantIndex)
	if err != nil {
		return nil, err
	}
	key := domain.VariantKey{ProductID: productID, VariantHash: variant.VariantHash}

	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	err = s.txm.WithinTx(ctx, func(ctx context.Context) error {
		stock, err := s.productRepo.AdjustVariantStock(ctx, key, req.Delta)
		if err != nil {
			return err
		}
		variant.Stock = stock

		evt := newLedgerEvent(domain.EventVariantStockAdjusted, actor)
		evt.ProductID, evt.VariantHash, evt.Quantity = productID, variant.VariantHash, req.Delta
		publishAfterCommit(ctx, s.events, s.logger, evt)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("variant stock adjusted",
		zap.String("variant", key.String()),
		zap.Int("delta", req.Delta),
		zap.Int("stock", variant.Stock),
		zap.String("reason", req.Reason),
		zap.Int64("actor", actorID(actor)),
	)
	return variant, nil
}

// VariantStockSummary 计数器与在途分配合计
func (s *catalogService) VariantStockSummary(ctx context.Context, productID int64, variantIndex int) (*domain.VariantStockSummary, error) {
	variant, err := lookupVariant(ctx, s.productRepo, productID, variantIndex)
	if err != nil {
		return nil, err
	}
	committed, err := s.productRepo.CommittedQuantity(ctx, domain.VariantKey{ProductID: productID, VariantHash: variant.VariantHash})
	if err != nil {
		return nil, fmt.Errorf("failed to sum committed quantity: %w", err)
	}
	return &domain.VariantStockSummary{
		ProductID:    productID,
		VariantIndex: variant.VariantIndex,
		VariantHash:  variant.VariantHash,
		Stock:        variant.Stock,
		Committed:    committed,
		Initial:      variant.Stock + committed,
	}, nil
}

func lookupVariant(ctx context.Context, productRepo repo.ProductRepository, productID int64, variantIndex int) (*domain.ProductVariant, error) {
	variant, err := productRepo.GetVariant(ctx, productID, variantIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to get variant: %w", err)
	}
	if variant == nil {
		return nil, fmt.Errorf("%w: product %d variant %d", domain.ErrNotFound, productID, variantIndex)
	}
	return variant, nil
}
