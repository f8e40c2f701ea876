package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/database"
	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/repo"
)

// DealerInventoryService 经销商门店库存：查询、预留、释放与实车交付。
// reserved_stock 只随订单提交与取消变化，预留/释放以订单为单位，不对外暴露。
type DealerInventoryService interface {
	GetAvailable(ctx context.Context, actor *domain.User, dealerID, productID int64, variantIndex int) (*domain.AvailabilityResponse, error)
	// ReserveForOrder 草稿提交时按变体汇总预留，须在订单事务内调用
	ReserveForOrder(ctx context.Context, order *domain.Order) error
	// ReleaseForOrder 取消占用预留的订单时释放
	ReleaseForOrder(ctx context.Context, order *domain.Order) error
	// Consume 实车交付，同时扣减 stock 与 reserved_stock
	Consume(ctx context.Context, actor *domain.User, req *domain.DealerStockRequest) error
	List(ctx context.Context, actor *domain.User, req *domain.DealerInventoryListRequest) (*domain.DealerInventoryListResponse, error)
}

type dealerInventoryService struct {
	txm           *database.TxManager
	productRepo   repo.ProductRepository
	inventoryRepo repo.DealerInventoryRepository
	logger        *zap.Logger
}

// NewDealerInventoryService 创建经销商库存服务
func NewDealerInventoryService(txm *database.TxManager, productRepo repo.ProductRepository, inventoryRepo repo.DealerInventoryRepository, logger *zap.Logger) DealerInventoryService {
	return &dealerInventoryService{
		txm:           txm,
		productRepo:   productRepo,
		inventoryRepo: inventoryRepo,
		logger:        logger,
	}
}

// GetAvailable 没有库存行时返回全 0
func (s *dealerInventoryService) GetAvailable(ctx context.Context, actor *domain.User, dealerID, productID int64, variantIndex int) (*domain.AvailabilityResponse, error) {
	if err := checkDealerScope(actor, dealerID); err != nil {
		return nil, err
	}
	variant, err := lookupVariant(ctx, s.productRepo, productID, variantIndex)
	if err != nil {
		return nil, err
	}
	inv, err := s.inventoryRepo.Get(ctx, dealerID, domain.VariantKey{ProductID: productID, VariantHash: variant.VariantHash})
	if err != nil {
		return nil, fmt.Errorf("failed to get dealer inventory: %w", err)
	}

	out := &domain.AvailabilityResponse{DealerID: dealerID, ProductID: productID, VariantIndex: variant.VariantIndex}
	if inv != nil {
		out.Stock, out.Reserved, out.Available = inv.Stock, inv.ReservedStock, inv.AvailableStock()
	}
	return out, nil
}

type stockMutation func(ctx context.Context, dealerID int64, key domain.VariantKey, quantity int) error

func (s *dealerInventoryService) ReserveForOrder(ctx context.Context, order *domain.Order) error {
	if order.Status != domain.OrderStatusDraft {
		return fmt.Errorf("%w: order %d is %s, only drafts reserve stock", domain.ErrInvalidTransition, order.ID, order.Status)
	}
	return s.forOrder(ctx, order, "reserved", s.inventoryRepo.ReserveStock)
}

func (s *dealerInventoryService) ReleaseForOrder(ctx context.Context, order *domain.Order) error {
	if !order.Status.HoldsReservation() {
		return fmt.Errorf("%w: order %d is %s and holds no reservation", domain.ErrInvalidTransition, order.ID, order.Status)
	}
	return s.forOrder(ctx, order, "released", s.inventoryRepo.ReleaseStock)
}

func (s *dealerInventoryService) forOrder(ctx context.Context, order *domain.Order, action string, apply stockMutation) error {
	lines := order.ReservationLines()
	if len(lines) == 0 {
		return fmt.Errorf("%w: order has no items", domain.ErrValidation)
	}
	return s.txm.WithinTx(ctx, func(ctx context.Context) error {
		for _, line := range lines {
			if err := apply(ctx, order.DealerID, line.Key, line.Quantity); err != nil {
				return err
			}
		}
		s.logger.Debug("dealer stock "+action+" for order",
			zap.Int64("order_id", order.ID),
			zap.Int64("dealer_id", order.DealerID),
			zap.Int("lines", len(lines)),
		)
		return nil
	})
}

func (s *dealerInventoryService) Consume(ctx context.Context, actor *domain.User, req *domain.DealerStockRequest) error {
	return s.mutate(ctx, actor, req, "consumed", s.inventoryRepo.ConsumeStock)
}

func (s *dealerInventoryService) mutate(ctx context.Context, actor *domain.User, req *domain.DealerStockRequest, action string, apply stockMutation) error {
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	}
	if err := checkDealerScope(actor, req.DealerID); err != nil {
		return err
	}
	variant, err := lookupVariant(ctx, s.productRepo, req.ProductID, req.VariantIndex)
	if err != nil {
		return err
	}
	key := domain.VariantKey{ProductID: req.ProductID, VariantHash: variant.VariantHash}

	if err := s.txm.WithinTx(ctx, func(ctx context.Context) error {
		return apply(ctx, req.DealerID, key, req.Quantity)
	}); err != nil {
		return err
	}

	s.logger.Info("dealer stock "+action,
		zap.Int64("dealer_id", req.DealerID),
		zap.String("variant", key.String()),
		zap.Int("quantity", req.Quantity),
	)
	return nil
}

func (s *dealerInventoryService) List(ctx context.Context, actor *domain.User, req *domain.DealerInventoryListRequest) (*domain.DealerInventoryListResponse, error) {
	if actor != nil && !actor.IsManufacturer() {
		dealerID := actor.DealerID
		req.DealerID = &dealerID
	}
	list, total, err := s.inventoryRepo.List(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to list dealer inventories: %w", err)
	}
	if list == nil {
		list = []*domain.DealerInventory{}
	}
	page, pageSize := domain.NormalizePage(req.Page, req.PageSize)
	return &domain.DealerInventoryListResponse{Inventories: list, Total: total, Page: page, PageSize: pageSize}, nil
}

// checkDealerScope 经销商账号越权访问按 Forbidden 处理
func checkDealerScope(actor *domain.User, dealerID int64) error {
	if actor != nil && !actor.CanActForDealer(dealerID) {
		return fmt.Errorf("%w: cannot act for dealer %d", domain.ErrForbidden, dealerID)
	}
	return nil
}
