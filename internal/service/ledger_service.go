// Package service 实现经销分配系统的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/database"
	"github.com/MorseWayne/ev_dealer/internal/domain"
	"github.com/MorseWayne/ev_dealer/internal/repo"
)

// LedgerService 分配账本：厂商库存、分配单、VIN 与经销商到店入库
type LedgerService interface {
	CreateAllocation(ctx context.Context, actor *domain.User, req *domain.CreateAllocationRequest) (*domain.DealerAllocation, error)
	TransitionStatus(ctx context.Context, actor *domain.User, id int64, req *domain.TransitionAllocationRequest) (*domain.DealerAllocation, error)
	CancelAllocation(ctx context.Context, actor *domain.User, id int64) (*domain.DealerAllocation, error)
	DeleteAllocation(ctx context.Context, actor *domain.User, id int64) error

	AssignVins(ctx context.Context, actor *domain.User, id int64, req *domain.AssignVinsRequest) (*domain.DealerAllocation, error)
	EditVin(ctx context.Context, actor *domain.User, id int64, position int, req *domain.EditVinRequest) (*domain.DealerAllocation, error)

	GetAllocation(ctx context.Context, actor *domain.User, id int64) (*domain.DealerAllocation, error)
	ListAllocations(ctx context.Context, actor *domain.User, req *domain.AllocationListRequest) (*domain.AllocationListResponse, error)
}

type ledgerService struct {
	txm           *database.TxManager
	productRepo   repo.ProductRepository
	dealerRepo    repo.DealerRepository
	allocRepo     repo.AllocationRepository
	inventoryRepo repo.DealerInventoryRepository
	locker        VariantLocker
	events        EventPublisher
	logger        *zap.Logger
}

// NewLedgerService 创建账本服务
func NewLedgerService(
	txm *database.TxManager,
	productRepo repo.ProductRepository,
	dealerRepo repo.DealerRepository,
	allocRepo repo.AllocationRepository,
	inventoryRepo repo.DealerInventoryRepository,
	locker VariantLocker,
	events EventPublisher,
	logger *zap.Logger,
) LedgerService {
	return &ledgerService{
		txm:           txm,
		productRepo:   productRepo,
		dealerRepo:    dealerRepo,
		allocRepo:     allocRepo,
		inventoryRepo: inventoryRepo,
		locker:        locker,
		events:        events,
		logger:        logger,
	}
}

// withVariantLock 顶层调用时加变体锁；已处于外层事务时直接执行，
// 避免持有连接后再等锁造成互相等待
func (s *ledgerService) withVariantLock(ctx context.Context, key domain.VariantKey, fn func(ctx context.Context) error) error {
	if database.InTx(ctx) {
		return fn(ctx)
	}
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return s.txm.WithinTx(ctx, fn)
}

// CreateAllocation 创建分配单，并在同一事务内扣减厂商库存
func (s *ledgerService) CreateAllocation(ctx context.Context, actor *domain.User, req *domain.CreateAllocationRequest) (*domain.DealerAllocation, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	}

	variant, err := s.productRepo.GetVariant(ctx, req.ProductID, req.VariantIndex)
	if err != nil {
		return nil, err
	}
	if variant == nil {
		return nil, fmt.Errorf("%w: product %d variant %d", domain.ErrNotFound, req.ProductID, req.VariantIndex)
	}
	key := domain.VariantKey{ProductID: variant.ProductID, VariantHash: variant.VariantHash}

	var created *domain.DealerAllocation
	err = s.withVariantLock(ctx, key, func(ctx context.Context) error {
		if _, err := s.activeDealer(ctx, req.DealerID); err != nil {
			return err
		}

		// 锁内重新读取，计数器即为可分配数量
		current, err := s.productRepo.GetVariantByHash(ctx, key.ProductID, key.VariantHash)
		if err != nil {
			return err
		}
		if current == nil {
			return fmt.Errorf("%w: variant %s", domain.ErrNotFound, key)
		}
		if req.Quantity > current.Stock {
			return fmt.Errorf("%w: requested %d, available %d", domain.ErrInsufficientStock, req.Quantity, current.Stock)
		}

		if err := s.productRepo.DebitVariantStock(ctx, key, req.Quantity); err != nil {
			return err
		}

		a := &domain.DealerAllocation{
			DealerID:     req.DealerID,
			ProductID:    key.ProductID,
			VariantIndex: current.VariantIndex,
			VariantHash:  key.VariantHash,
			Quantity:     req.Quantity,
			Status:       domain.AllocationStatusPending,
			Notes:        req.Notes,
			CreatedBy:    actorID(actor),
		}
		if err := s.allocRepo.Create(ctx, a); err != nil {
			return err
		}
		created = a

		evt := newLedgerEvent(domain.EventAllocationCreated, actor)
		evt.AllocationID, evt.DealerID, evt.ProductID, evt.VariantHash = a.ID, a.DealerID, a.ProductID, a.VariantHash
		evt.ToStatus, evt.Quantity = string(a.Status), a.Quantity
		publishAfterCommit(ctx, s.events, s.logger, evt)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("allocation created",
		zap.Int64("allocation_id", created.ID),
		zap.Int64("dealer_id", created.DealerID),
		zap.String("variant", key.String()),
		zap.Int("quantity", created.Quantity),
	)
	return created, nil
}

// TransitionStatus 状态迁移（可同时修改数量），按迁移表调整两侧库存
func (s *ledgerService) TransitionStatus(ctx context.Context, actor *domain.User, id int64, req *domain.TransitionAllocationRequest) (*domain.DealerAllocation, error) {
	key, err := s.allocationKey(ctx, id)
	if err != nil {
		return nil, err
	}

	var result *domain.DealerAllocation
	err = s.withVariantLock(ctx, key, func(ctx context.Context) error {
		a, err := s.loadAllocation(ctx, id)
		if err != nil {
			return err
		}
		result, err = s.applyTransition(ctx, actor, a, req.Status, req.Quantity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CancelAllocation 取消分配单；已取消的直接返回
func (s *ledgerService) CancelAllocation(ctx context.Context, actor *domain.User, id int64) (*domain.DealerAllocation, error) {
	key, err := s.allocationKey(ctx, id)
	if err != nil {
		return nil, err
	}

	var result *domain.DealerAllocation
	err = s.withVariantLock(ctx, key, func(ctx context.Context) error {
		a, err := s.loadAllocation(ctx, id)
		if err != nil {
			return err
		}
		if a.Status == domain.AllocationStatusCancelled {
			result = a
			return nil
		}
		result, err = s.applyTransition(ctx, actor, a, domain.AllocationStatusCancelled, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyTransition 在事务内执行一次状态/数量变更
func (s *ledgerService) applyTransition(ctx context.Context, actor *domain.User, a *domain.DealerAllocation, to domain.AllocationStatus, quantity *int) (*domain.DealerAllocation, error) {
	newQty := a.Quantity
	if quantity != nil {
		newQty = *quantity
	}
	if to == a.Status && newQty == a.Quantity {
		return a, nil
	}

	effect, err := domain.PlanAllocationChange(a, to, newQty)
	if err != nil {
		return nil, err
	}

	key := a.Key()
	switch {
	case effect.ManufacturerDelta < 0:
		// 重新占用厂商库存按创建规则校验
		if _, err := s.activeDealer(ctx, a.DealerID); err != nil {
			return nil, err
		}
		if err := s.productRepo.DebitVariantStock(ctx, key, -effect.ManufacturerDelta); err != nil {
			return nil, err
		}
	case effect.ManufacturerDelta > 0:
		if err := s.productRepo.CreditVariantStock(ctx, key, effect.ManufacturerDelta); err != nil {
			return nil, err
		}
	}

	switch {
	case effect.DealerDelta > 0:
		if err := s.inventoryRepo.CreditDelivered(ctx, a.DealerID, key, a.VariantIndex, effect.DealerDelta); err != nil {
			return nil, err
		}
	case effect.DealerDelta < 0:
		if err := s.inventoryRepo.DebitDelivered(ctx, a.DealerID, key, -effect.DealerDelta); err != nil {
			return nil, err
		}
	}

	from := a.Status
	a.Quantity = newQty
	a.Status = to
	a.StampStatusTime(to, time.Now().UTC())
	if to == domain.AllocationStatusDelivered {
		a.AllocatedQuantity = a.Quantity
	}
	if err := s.allocRepo.Update(ctx, a); err != nil {
		return nil, err
	}

	evt := newLedgerEvent(domain.EventAllocationStatusChanged, actor)
	evt.AllocationID, evt.DealerID, evt.ProductID, evt.VariantHash = a.ID, a.DealerID, a.ProductID, a.VariantHash
	evt.FromStatus, evt.ToStatus, evt.Quantity = string(from), string(to), a.Quantity
	publishAfterCommit(ctx, s.events, s.logger, evt)

	s.logger.Info("allocation transitioned",
		zap.Int64("allocation_id", a.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("quantity", a.Quantity),
		zap.Int("manufacturer_delta", effect.ManufacturerDelta),
		zap.Int("dealer_delta", effect.DealerDelta),
	)
	return a, nil
}

// DeleteAllocation 软删除已取消的分配单，释放其 VIN
func (s *ledgerService) DeleteAllocation(ctx context.Context, actor *domain.User, id int64) error {
	return s.txm.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.loadAllocation(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != domain.AllocationStatusCancelled {
			return fmt.Errorf("%w: only cancelled allocations can be deleted", domain.ErrInvalidTransition)
		}
		if err := s.allocRepo.SoftDelete(ctx, a); err != nil {
			return err
		}
		s.logger.Info("allocation deleted", zap.Int64("allocation_id", id), zap.Int64("actor", actorID(actor)))
		return nil
	})
}

// AssignVins 一次性录入与数量相等的 VIN
func (s *ledgerService) AssignVins(ctx context.Context, actor *domain.User, id int64, req *domain.AssignVinsRequest) (*domain.DealerAllocation, error) {
	var result *domain.DealerAllocation
	err := s.txm.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.loadAllocation(ctx, id)
		if err != nil {
			return err
		}
		if a.Status == domain.AllocationStatusCancelled {
			return fmt.Errorf("%w: allocation %d is cancelled", domain.ErrInvalidTransition, id)
		}
		if len(a.VINs) > 0 {
			return fmt.Errorf("%w: allocation %d already has VINs assigned", domain.ErrInvalidTransition, id)
		}

		vins, err := domain.NormalizeVINBatch(req.VINs)
		if err != nil {
			return err
		}
		if len(vins) != a.Quantity {
			return fmt.Errorf("%w: allocation %d requires exactly %d VINs, got %d", domain.ErrConflict, id, a.Quantity, len(vins))
		}

		owners, err := s.allocRepo.FindVINOwners(ctx, vins)
		if err != nil {
			return err
		}
		for _, v := range vins {
			if owner, taken := owners[v]; taken {
				return fmt.Errorf("%w: %s is already assigned to allocation %d", domain.ErrDuplicateVin, v, owner)
			}
		}

		from := a.Status
		now := time.Now().UTC()
		if a.Status == domain.AllocationStatusPending {
			a.Status = domain.AllocationStatusAllocated
			a.StampStatusTime(a.Status, now)
		}
		a.AllocatedQuantity = a.Quantity

		// 先按版本更新表头，并发录入时后到者在这里得到 Conflict
		if err := s.allocRepo.Update(ctx, a); err != nil {
			return err
		}

		records := make([]domain.AllocationVIN, len(vins))
		for i, v := range vins {
			records[i] = domain.AllocationVIN{Position: i, VIN: v, CreatedAt: now, CreatedBy: actorID(actor)}
		}
		if err := s.allocRepo.InsertVINs(ctx, a.ID, records); err != nil {
			return err
		}
		a.VINs = records
		result = a

		evt := newLedgerEvent(domain.EventAllocationVinsAssigned, actor)
		evt.AllocationID, evt.DealerID, evt.ProductID, evt.VariantHash = a.ID, a.DealerID, a.ProductID, a.VariantHash
		evt.FromStatus, evt.ToStatus, evt.Quantity = string(from), string(a.Status), len(vins)
		publishAfterCommit(ctx, s.events, s.logger, evt)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("vins assigned", zap.Int64("allocation_id", id), zap.Int("count", len(result.VINs)))
	return result, nil
}

// EditVin 修正某个位置上的 VIN，不改变状态
func (s *ledgerService) EditVin(ctx context.Context, actor *domain.User, id int64, position int, req *domain.EditVinRequest) (*domain.DealerAllocation, error) {
	vin := domain.NormalizeVIN(req.VIN)
	if vin == "" {
		return nil, fmt.Errorf("%w: vin must not be blank", domain.ErrValidation)
	}
	if len(vin) > domain.MaxVINLength {
		return nil, fmt.Errorf("%w: vin %s exceeds %d characters", domain.ErrValidation, vin, domain.MaxVINLength)
	}

	var result *domain.DealerAllocation
	err := s.txm.WithinTx(ctx, func(ctx context.Context) error {
		a, err := s.loadAllocation(ctx, id)
		if err != nil {
			return err
		}
		if a.Status == domain.AllocationStatusCancelled {
			return fmt.Errorf("%w: allocation %d is cancelled", domain.ErrInvalidTransition, id)
		}
		if position < 0 || position >= len(a.VINs) {
			return fmt.Errorf("%w: vin index %d out of range", domain.ErrValidation, position)
		}
		if a.VINs[position].VIN == vin {
			result = a
			return nil
		}

		for i, existing := range a.VINs {
			if i != position && existing.VIN == vin {
				return fmt.Errorf("%w: %s already appears at index %d", domain.ErrDuplicateVin, vin, i)
			}
		}
		owners, err := s.allocRepo.FindVINOwners(ctx, []string{vin})
		if err != nil {
			return err
		}
		if owner, taken := owners[vin]; taken {
			return fmt.Errorf("%w: %s is already assigned to allocation %d", domain.ErrDuplicateVin, vin, owner)
		}

		if err := s.allocRepo.Update(ctx, a); err != nil {
			return err
		}
		if err := s.allocRepo.UpdateVIN(ctx, a.ID, position, vin); err != nil {
			return err
		}
		a.VINs[position].VIN = vin
		result = a

		evt := newLedgerEvent(domain.EventAllocationVinEdited, actor)
		evt.AllocationID, evt.DealerID, evt.ProductID, evt.VariantHash = a.ID, a.DealerID, a.ProductID, a.VariantHash
		publishAfterCommit(ctx, s.events, s.logger, evt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetAllocation 获取分配单，经销商账号只能查看本经销商的
func (s *ledgerService) GetAllocation(ctx context.Context, actor *domain.User, id int64) (*domain.DealerAllocation, error) {
	a, err := s.loadAllocation(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor != nil && !actor.CanActForDealer(a.DealerID) {
		return nil, fmt.Errorf("%w: allocation %d", domain.ErrNotFound, id)
	}
	return a, nil
}

// ListAllocations 分页查询，经销商账号强制按本经销商过滤
func (s *ledgerService) ListAllocations(ctx context.Context, actor *domain.User, req *domain.AllocationListRequest) (*domain.AllocationListResponse, error) {
	if req.Status != nil && !req.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown allocation status %q", domain.ErrValidation, *req.Status)
	}
	if actor != nil && !actor.IsManufacturer() {
		dealerID := actor.DealerID
		req.DealerID = &dealerID
	}

	list, total, err := s.allocRepo.List(ctx, req)
	if err != nil {
		return nil, err
	}
	page, pageSize := domain.NormalizePage(req.Page, req.PageSize)
	if list == nil {
		list = []*domain.DealerAllocation{}
	}
	return &domain.AllocationListResponse{Allocations: list, Total: total, Page: page, PageSize: pageSize}, nil
}

func (s *ledgerService) loadAllocation(ctx context.Context, id int64) (*domain.DealerAllocation, error) {
	a, err := s.allocRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: allocation %d", domain.ErrNotFound, id)
	}
	return a, nil
}

// allocationKey 变体键不可变，可在加锁前读取
func (s *ledgerService) allocationKey(ctx context.Context, id int64) (domain.VariantKey, error) {
	a, err := s.loadAllocation(ctx, id)
	if err != nil {
		return domain.VariantKey{}, err
	}
	return a.Key(), nil
}

func (s *ledgerService) activeDealer(ctx context.Context, dealerID int64) (*domain.Dealer, error) {
	return getActiveDealer(ctx, s.dealerRepo, dealerID)
}

// getActiveDealer 经销商不存在返回 NotFound，非 active 返回 ValidationError
func getActiveDealer(ctx context.Context, dealerRepo repo.DealerRepository, dealerID int64) (*domain.Dealer, error) {
	d, err := dealerRepo.GetByID(ctx, dealerID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: dealer %d", domain.ErrNotFound, dealerID)
	}
	if !d.IsActive() {
		return nil, fmt.Errorf("%w: dealer is not active", domain.ErrValidation)
	}
	return d, nil
}

func actorID(actor *domain.User) int64 {
	if actor == nil {
		return 0
	}
	return actor.ID
}
